package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"RegimeFolio/internal/handler/api"
	"RegimeFolio/internal/usecase"
	pkgch "RegimeFolio/pkg/clickhouse"
	"RegimeFolio/pkg/config"
	xhttp "RegimeFolio/pkg/http"
	pkgkafka "RegimeFolio/pkg/kafka"
	applogger "RegimeFolio/pkg/logger"
)

// App encapsulates the entire application lifecycle: one analysis run
// at startup, the HTTP API over the stored results, and an optional
// Kafka consumer that re-runs the pipeline on demand.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	pipeline   *usecase.AnalysisPipeline
	handler    *api.AnalysisEchoHandler
	consumer   *pkgkafka.Consumer
	recompute  *usecase.RecomputeHandler
	chClient   *pkgch.Client
	producer   *pkgkafka.Producer
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	pipeline *usecase.AnalysisPipeline,
	handler *api.AnalysisEchoHandler,
	consumer *pkgkafka.Consumer,
	recompute *usecase.RecomputeHandler,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		pipeline:  pipeline,
		handler:   handler,
		consumer:  consumer,
		recompute: recompute,
		chClient:  chClient,
		producer:  producer,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithRateLimit(50, 25),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithRequestMetrics(a.log, time.Second))
	}
	a.httpServer = xhttp.NewServer(a.handler, opts...)
	a.httpServer.Echo().GET("/healthz", a.health)

	// Recompute the full analysis once at startup so the API serves
	// fresh results. The HTTP server starts first so health checks
	// respond while the run is in flight.
	go func() {
		summary, err := a.pipeline.Run(ctx)
		if err != nil {
			a.log.Error("startup analysis failed", applogger.Error(err))
			return
		}
		a.log.Info("startup analysis complete",
			applogger.String("run_id", summary.RunID),
			applogger.Int("regimes", summary.Regimes),
			applogger.Int("allocations", summary.Allocations),
			applogger.Int("failed_cells", summary.FailedCells),
			applogger.Duration("took", summary.Took))
	}()

	if a.consumer != nil && a.recompute != nil {
		a.consumer.RegisterHandler(a.recompute)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.recompute.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}

// health reports readiness of the infrastructure dependencies.
func (a *App) health(c echo.Context) error {
	if a.chClient != nil {
		if err := a.chClient.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
