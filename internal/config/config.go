package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine. Every recognized option is
// an explicit field with a default; Validate runs once at pipeline start.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Analysis     AnalysisConfig     `yaml:"analysis"`
	Fit          FitConfig          `yaml:"fit"`
	Uncertainty  UncertaintyConfig  `yaml:"uncertainty"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Response     ResponseConfig     `yaml:"response"`
	Optimizer    OptimizerConfig    `yaml:"optimizer"`
	Drift        DriftConfig        `yaml:"drift"`
	Registry     RegistryConfig     `yaml:"registry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, listening on all interfaces in containers.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings for durable storage.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis settings used for the registry pointer lock.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the lock TTL as a duration.
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// AnalysisConfig bounds the aggregator's analysis window and history rules.
type AnalysisConfig struct {
	MinHistoryMonths int  `yaml:"min_history_months"`
	DailyGranularity bool `yaml:"daily_granularity"` // count purchase occasions, not line items
	HorizonDays      int  `yaml:"horizon_days"`
	// LookbackDays bounds the analysis window below the cutoff. Zero means
	// unbounded: every transaction up to the cutoff is in scope.
	LookbackDays int `yaml:"lookback_days"`
}

// FitConfig controls the maximum-likelihood fits.
type FitConfig struct {
	PenalizerCoef      float64 `yaml:"penalizer_coef"`
	MinRepeatCustomers int     `yaml:"min_repeat_customers"`
	MaxIterations      int     `yaml:"max_iterations"`
	// |r| above which the frequency/monetary independence assumption is
	// considered violated and predictions carry a warning annotation.
	CorrelationWarnThreshold float64 `yaml:"correlation_warn_threshold"`
}

// UncertaintyConfig controls the bootstrap interval engine.
type UncertaintyConfig struct {
	ConfidenceLevel float64 `yaml:"confidence_level"`
	MCIterations    int     `yaml:"mc_iterations"`
}

// SegmentationConfig holds the classifier thresholds. Thresholds are
// configuration, never hard-coded in the classifier.
type SegmentationConfig struct {
	AtRiskProbAlive   float64 `yaml:"at_risk_prob_alive"`
	LostProbAlive     float64 `yaml:"lost_prob_alive"`
	LoyalProbAlive    float64 `yaml:"loyal_prob_alive"`
	LoyalMinPurchases float64 `yaml:"loyal_min_purchases"`
	HighValueFloor    float64 `yaml:"high_value_floor"`
	WhaleValueFloor   float64 `yaml:"whale_value_floor"`
}

// ResponseConfig selects the per-channel transform family. Parameters are
// fit per tenant per channel; only the family is configured globally.
type ResponseConfig struct {
	AdstockKernel      string `yaml:"adstock_kernel"`      // geometric | weibull
	SaturationFunction string `yaml:"saturation_function"` // hill | michaelis_menten
	MaxLag             int    `yaml:"max_lag"`             // weibull kernel support
}

// OptimizerConfig controls the budget allocator.
type OptimizerConfig struct {
	// ObjectiveWeight blends revenue (1.0) and long-term value (0.0).
	ObjectiveWeight  float64 `yaml:"objective_weight"`
	MCIterations     int     `yaml:"mc_iterations"`
	ParamUncertainty float64 `yaml:"param_uncertainty"`
	MaxIterations    int     `yaml:"max_iterations"`
}

// DriftConfig controls the drift detector.
type DriftConfig struct {
	Threshold           float64 `yaml:"drift_threshold"`
	RetrainCooldownDays int     `yaml:"retrain_cooldown_days"`
}

// Cooldown returns the retrain cooldown as a duration.
func (c DriftConfig) Cooldown() time.Duration {
	return time.Duration(c.RetrainCooldownDays) * 24 * time.Hour
}

// RegistryConfig controls snapshot staleness and pruning.
type RegistryConfig struct {
	StaleAfterDays int `yaml:"stale_after_days"`
	KeepVersions   int `yaml:"keep_versions"`
}

// StaleAfter returns the staleness threshold as a duration.
func (c RegistryConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterDays) * 24 * time.Hour
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every option at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 60
	}
	if cfg.Analysis.MinHistoryMonths == 0 {
		cfg.Analysis.MinHistoryMonths = 3
	}
	if cfg.Analysis.HorizonDays == 0 {
		cfg.Analysis.HorizonDays = 90
	}
	if cfg.Fit.PenalizerCoef == 0 {
		cfg.Fit.PenalizerCoef = 0.01
	}
	if cfg.Fit.MinRepeatCustomers == 0 {
		cfg.Fit.MinRepeatCustomers = 30
	}
	if cfg.Fit.MaxIterations == 0 {
		cfg.Fit.MaxIterations = 2000
	}
	if cfg.Fit.CorrelationWarnThreshold == 0 {
		cfg.Fit.CorrelationWarnThreshold = 0.3
	}
	if cfg.Uncertainty.ConfidenceLevel == 0 {
		cfg.Uncertainty.ConfidenceLevel = 0.90
	}
	if cfg.Uncertainty.MCIterations == 0 {
		cfg.Uncertainty.MCIterations = 30
	}
	if cfg.Segmentation.AtRiskProbAlive == 0 {
		cfg.Segmentation.AtRiskProbAlive = 0.4
	}
	if cfg.Segmentation.LostProbAlive == 0 {
		cfg.Segmentation.LostProbAlive = 0.2
	}
	if cfg.Segmentation.LoyalProbAlive == 0 {
		cfg.Segmentation.LoyalProbAlive = 0.8
	}
	if cfg.Segmentation.LoyalMinPurchases == 0 {
		cfg.Segmentation.LoyalMinPurchases = 1.0
	}
	if cfg.Segmentation.HighValueFloor == 0 {
		cfg.Segmentation.HighValueFloor = 500
	}
	if cfg.Segmentation.WhaleValueFloor == 0 {
		cfg.Segmentation.WhaleValueFloor = 2000
	}
	if cfg.Response.AdstockKernel == "" {
		cfg.Response.AdstockKernel = "geometric"
	}
	if cfg.Response.SaturationFunction == "" {
		cfg.Response.SaturationFunction = "hill"
	}
	if cfg.Response.MaxLag == 0 {
		cfg.Response.MaxLag = 8
	}
	if cfg.Optimizer.ObjectiveWeight == 0 {
		cfg.Optimizer.ObjectiveWeight = 1.0
	}
	if cfg.Optimizer.MCIterations == 0 {
		cfg.Optimizer.MCIterations = 30
	}
	if cfg.Optimizer.ParamUncertainty == 0 {
		cfg.Optimizer.ParamUncertainty = 0.1
	}
	if cfg.Optimizer.MaxIterations == 0 {
		cfg.Optimizer.MaxIterations = 1000
	}
	if cfg.Drift.Threshold == 0 {
		cfg.Drift.Threshold = 0.25
	}
	if cfg.Drift.RetrainCooldownDays == 0 {
		cfg.Drift.RetrainCooldownDays = 7
	}
	if cfg.Registry.StaleAfterDays == 0 {
		cfg.Registry.StaleAfterDays = 30
	}
	if cfg.Registry.KeepVersions == 0 {
		cfg.Registry.KeepVersions = 10
	}
}

// Validate rejects unrecognized enum values and out-of-range dials. It is
// called once at pipeline start; stages may assume a validated config.
func (cfg *Config) Validate() error {
	if cl := cfg.Uncertainty.ConfidenceLevel; cl <= 0 || cl >= 1 {
		return fmt.Errorf("confidence_level %.2f out of (0,1)", cl)
	}
	if cfg.Uncertainty.MCIterations < 1 {
		return fmt.Errorf("mc_iterations must be >= 1, got %d", cfg.Uncertainty.MCIterations)
	}
	if w := cfg.Optimizer.ObjectiveWeight; w < 0 || w > 1 {
		return fmt.Errorf("objective_weight %.2f out of [0,1]", w)
	}
	switch cfg.Response.AdstockKernel {
	case "geometric", "weibull":
	default:
		return fmt.Errorf("unknown adstock_kernel %q", cfg.Response.AdstockKernel)
	}
	switch cfg.Response.SaturationFunction {
	case "hill", "michaelis_menten":
	default:
		return fmt.Errorf("unknown saturation_function %q", cfg.Response.SaturationFunction)
	}
	if cfg.Analysis.MinHistoryMonths < 1 {
		return fmt.Errorf("min_history_months must be >= 1, got %d", cfg.Analysis.MinHistoryMonths)
	}
	if cfg.Analysis.LookbackDays < 0 {
		return fmt.Errorf("lookback_days must be non-negative, got %d", cfg.Analysis.LookbackDays)
	}
	if cfg.Drift.Threshold <= 0 {
		return fmt.Errorf("drift_threshold must be positive, got %.3f", cfg.Drift.Threshold)
	}
	if cfg.Fit.PenalizerCoef < 0 {
		return fmt.Errorf("penalizer_coef must be non-negative, got %.4f", cfg.Fit.PenalizerCoef)
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars on the deployment host.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if v := os.Getenv("CONFIDENCE_LEVEL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Uncertainty.ConfidenceLevel = f
		}
	}
	if v := os.Getenv("MC_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Uncertainty.MCIterations = n
		}
	}
	if v := os.Getenv("OBJECTIVE_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Optimizer.ObjectiveWeight = f
		}
	}

	return cfg, nil
}
