package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

analysis:
  min_history_months: 6
  daily_granularity: true
  horizon_days: 30

fit:
  penalizer_coef: 0.05
  min_repeat_customers: 50

uncertainty:
  confidence_level: 0.95
  mc_iterations: 100

response:
  adstock_kernel: "weibull"
  saturation_function: "michaelis_menten"

optimizer:
  objective_weight: 0.7

drift:
  drift_threshold: 0.3
  retrain_cooldown_days: 14
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, 6, cfg.Analysis.MinHistoryMonths)
	assert.True(t, cfg.Analysis.DailyGranularity)
	assert.Equal(t, 30, cfg.Analysis.HorizonDays)

	assert.Equal(t, 0.05, cfg.Fit.PenalizerCoef)
	assert.Equal(t, 50, cfg.Fit.MinRepeatCustomers)

	assert.Equal(t, 0.95, cfg.Uncertainty.ConfidenceLevel)
	assert.Equal(t, 100, cfg.Uncertainty.MCIterations)

	assert.Equal(t, "weibull", cfg.Response.AdstockKernel)
	assert.Equal(t, "michaelis_menten", cfg.Response.SaturationFunction)

	assert.Equal(t, 0.7, cfg.Optimizer.ObjectiveWeight)

	assert.Equal(t, 0.3, cfg.Drift.Threshold)
	assert.Equal(t, 14, cfg.Drift.RetrainCooldownDays)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8081
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 3, cfg.Analysis.MinHistoryMonths)
	assert.Equal(t, 90, cfg.Analysis.HorizonDays)
	assert.Equal(t, 0.01, cfg.Fit.PenalizerCoef)
	assert.Equal(t, 30, cfg.Fit.MinRepeatCustomers)
	assert.Equal(t, 0.3, cfg.Fit.CorrelationWarnThreshold)
	assert.Equal(t, 0.90, cfg.Uncertainty.ConfidenceLevel)
	assert.Equal(t, 30, cfg.Uncertainty.MCIterations)
	assert.Equal(t, "geometric", cfg.Response.AdstockKernel)
	assert.Equal(t, "hill", cfg.Response.SaturationFunction)
	assert.Equal(t, 8, cfg.Response.MaxLag)
	assert.Equal(t, 1.0, cfg.Optimizer.ObjectiveWeight)
	assert.Equal(t, 0.25, cfg.Drift.Threshold)
	assert.Equal(t, 7, cfg.Drift.RetrainCooldownDays)
	assert.Equal(t, 30, cfg.Registry.StaleAfterDays)
	assert.Equal(t, 10, cfg.Registry.KeepVersions)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.Uncertainty.ConfidenceLevel = 1.5
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Optimizer.ObjectiveWeight = -0.1
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Response.AdstockKernel = "exponential"
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Response.SaturationFunction = "logit"
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Analysis.LookbackDays = -30
	assert.Error(t, bad.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  url: "postgres://file-url/tactics"
uncertainty:
  confidence_level: 0.8
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	os.Setenv("DATABASE_URL", "postgres://env-url/tactics")
	os.Setenv("CONFIDENCE_LEVEL", "0.99")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("CONFIDENCE_LEVEL")
	}()

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-url/tactics", cfg.Database.URL)
	assert.Equal(t, 0.99, cfg.Uncertainty.ConfidenceLevel)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 7*24, int(cfg.Drift.Cooldown().Hours()))
	assert.Equal(t, 30*24, int(cfg.Registry.StaleAfter().Hours()))
	assert.Equal(t, 60, int(cfg.Redis.LockTTL().Seconds()))
}
