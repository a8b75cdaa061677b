package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		EventsTopic  string   `yaml:"events_topic"`
		TriggerTopic string   `yaml:"trigger_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Cache struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      struct {
			Allocations time.Duration `yaml:"allocations"`
			Curves      time.Duration `yaml:"curves"`
			Monthly     time.Duration `yaml:"monthly"`
		} `yaml:"ttl"`
	} `yaml:"cache"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Backtest BacktestConfig `yaml:"backtest"`
}

// AnalysisConfig carries every tunable of the regime and optimization
// pipeline. It is built once at startup and treated as immutable.
type AnalysisConfig struct {
	Seed                int64   `yaml:"seed"`
	KMin                int     `yaml:"k_min"`
	KMax                int     `yaml:"k_max"`
	ExplainedVariance   float64 `yaml:"explained_variance"`
	KMeansMaxIterations int     `yaml:"kmeans_max_iterations"`

	SmoothingWindow int `yaml:"smoothing_window"`
	SmoothingPasses int `yaml:"smoothing_passes"`
	ForwardWindow   int `yaml:"forward_window"`

	Horizons        []int   `yaml:"horizons"`
	MinObservations int     `yaml:"min_observations"`
	RiskAverseMult  float64 `yaml:"risk_averse_multiplier"`
	RiskLovingMult  float64 `yaml:"risk_loving_multiplier"`
	RidgeEpsilon    float64 `yaml:"ridge_epsilon"`
	OutlierZScore   float64 `yaml:"outlier_zscore"`

	Workers      int           `yaml:"workers"`
	SolverBudget time.Duration `yaml:"solver_budget"`
}

// BacktestConfig selects the simulated strategy variants and benchmark.
type BacktestConfig struct {
	Horizon       int                `yaml:"horizon"`
	Benchmark     string             `yaml:"benchmark"`
	FixedMix      map[string]float64 `yaml:"fixed_mix"`
	FixedMixLabel string             `yaml:"fixed_mix_label"`
	RebaseValue   float64            `yaml:"rebase_value"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides infrastructure
// endpoints with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	a := &c.Analysis
	if a.KMin == 0 {
		a.KMin = 2
	}
	if a.KMax == 0 {
		a.KMax = 10
	}
	if a.ExplainedVariance == 0 {
		a.ExplainedVariance = 0.90
	}
	if a.KMeansMaxIterations == 0 {
		a.KMeansMaxIterations = 300
	}
	if a.SmoothingWindow == 0 {
		a.SmoothingWindow = 21
	}
	if a.SmoothingPasses == 0 {
		a.SmoothingPasses = 3
	}
	if a.ForwardWindow == 0 {
		a.ForwardWindow = 20
	}
	if len(a.Horizons) == 0 {
		a.Horizons = []int{63, 126, 252}
	}
	if a.MinObservations == 0 {
		a.MinObservations = 30
	}
	if a.RiskAverseMult == 0 {
		a.RiskAverseMult = 1.2
	}
	if a.RiskLovingMult == 0 {
		a.RiskLovingMult = 3.0
	}
	if a.RidgeEpsilon == 0 {
		a.RidgeEpsilon = 1e-8
	}
	if a.OutlierZScore == 0 {
		a.OutlierZScore = 4.0
	}
	if a.Workers == 0 {
		a.Workers = 4
	}
	if a.SolverBudget == 0 {
		a.SolverBudget = 30 * time.Second
	}

	b := &c.Backtest
	if b.Horizon == 0 {
		b.Horizon = 252
	}
	if b.RebaseValue == 0 {
		b.RebaseValue = 100
	}
	if b.FixedMixLabel == "" {
		b.FixedMixLabel = "Fixed Mix"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}

	a := c.Analysis
	if a.KMin < 2 {
		return fmt.Errorf("analysis.k_min must be >= 2, got %d", a.KMin)
	}
	if a.KMax < a.KMin {
		return fmt.Errorf("analysis.k_max must be >= k_min, got %d < %d", a.KMax, a.KMin)
	}
	if a.ExplainedVariance <= 0 || a.ExplainedVariance > 1 {
		return fmt.Errorf("analysis.explained_variance must be in (0,1], got %v", a.ExplainedVariance)
	}
	if a.SmoothingWindow < 1 {
		return fmt.Errorf("analysis.smoothing_window must be >= 1, got %d", a.SmoothingWindow)
	}
	if a.RiskAverseMult < 1 || a.RiskLovingMult < a.RiskAverseMult {
		return fmt.Errorf("risk multipliers must satisfy 1 <= averse <= loving, got %v / %v",
			a.RiskAverseMult, a.RiskLovingMult)
	}
	for _, h := range a.Horizons {
		if h <= 0 {
			return fmt.Errorf("analysis.horizons entries must be positive, got %d", h)
		}
	}
	if c.Backtest.Benchmark == "" {
		return fmt.Errorf("backtest.benchmark is required")
	}

	found := false
	for _, h := range a.Horizons {
		if h == c.Backtest.Horizon {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("backtest.horizon %d is not in analysis.horizons", c.Backtest.Horizon)
	}

	return nil
}
