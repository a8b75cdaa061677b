package api

import (
	"database/sql"
	"errors"
	"time"

	models "RegimeFolio/internal/domain/models"
	"RegimeFolio/internal/usecase"
	xhttp "RegimeFolio/pkg/http"
	xlogger "RegimeFolio/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AnalysisEchoHandler serves the stored pipeline results over HTTP.
type AnalysisEchoHandler struct {
	logger *xlogger.Logger
	views  *usecase.AnalysisViews
}

func NewAnalysisEchoHandler(logger *xlogger.Logger, views *usecase.AnalysisViews) *AnalysisEchoHandler {
	return &AnalysisEchoHandler{logger: logger, views: views}
}

func (h *AnalysisEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/regimes", h.Regimes)
	g.GET("/allocations", h.Allocations)
	g.GET("/asset-classes", h.AssetClasses)
	g.GET("/equity-curves", h.EquityCurves)
	g.GET("/performance", h.Performance)
	g.GET("/monthly-data", h.MonthlyData)
}

func (h *AnalysisEchoHandler) Regimes(c echo.Context) error {
	res, err := h.views.GetRegimes(c.Request().Context())
	if err != nil {
		return h.fail(c, "regimes", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisEchoHandler) Allocations(c echo.Context) error {
	req := &models.AllocationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	regime := -1
	if req.Regime != nil {
		regime = *req.Regime
	}
	res, err := h.views.GetAllocations(c.Request().Context(),
		regime, models.RiskAppetite(req.Appetite), req.Horizon)
	if err != nil {
		return h.fail(c, "allocations", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisEchoHandler) AssetClasses(c echo.Context) error {
	res, err := h.views.GetAssetClasses(c.Request().Context())
	if err != nil {
		return h.fail(c, "asset classes", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisEchoHandler) EquityCurves(c echo.Context) error {
	req := &models.EquityCurvesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from := xhttp.ParseTimeDefault(c.QueryParam("from"), time.Time{})
	to := xhttp.ParseTimeDefault(c.QueryParam("to"), time.Time{})

	rebased := req.Rebased == nil || *req.Rebased
	res, err := h.views.GetEquityCurves(c.Request().Context(), rebased, from, to)
	if err != nil {
		return h.fail(c, "equity curves", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisEchoHandler) Performance(c echo.Context) error {
	res, err := h.views.GetPerformance(c.Request().Context())
	if err != nil {
		return h.fail(c, "performance", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisEchoHandler) MonthlyData(c echo.Context) error {
	req := &models.MonthlyDataRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.views.GetMonthlyData(c.Request().Context(), req.RiskLevel)
	if err != nil {
		return h.fail(c, "monthly data", err)
	}
	return xhttp.SuccessResponse(c, res)
}

// fail maps domain errors onto HTTP responses: no results yet is 404,
// bad selectors are 400, anything else is 500.
func (h *AnalysisEchoHandler) fail(c echo.Context, what string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no %s yet, pipeline has not run", what))
	case errors.Is(err, models.ErrUnknownRiskAppetite), errors.Is(err, models.ErrMissingWeights):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	h.logger.Error(what+" view error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}
