package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDefaultEngineConfig tests that the defaults are internally consistent
// and carry the documented conservative values.
func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 0.25, cfg.Sizing.KellyFraction)
	assert.Equal(t, 0.002, cfg.Sizing.MinPositionPercent)
	assert.Equal(t, 0.05, cfg.Sizing.MaxPositionPercent)
	assert.Equal(t, 0.03, cfg.Loss.MaxDailyLossPercent)
	assert.Equal(t, 3, cfg.Loss.MaxConsecutiveLosses)
	assert.Equal(t, 0.505, cfg.Defaults.WinRate)
	assert.Equal(t, 5000, cfg.RL.BufferCapacity)
}

// TestValidate_RejectsBadBounds tests a representative set of bound violations.
func TestValidate_RejectsBadBounds(t *testing.T) {
	cases := map[string]func(c *EngineConfig){
		"full kelly":           func(c *EngineConfig) { c.Sizing.KellyFraction = 1.5 },
		"zero min percent":     func(c *EngineConfig) { c.Sizing.MinPositionPercent = 0 },
		"inverted clamp":       func(c *EngineConfig) { c.Sizing.MaxPositionPercent = 0.001 },
		"zero atr window":      func(c *EngineConfig) { c.Sizing.ATRWindow = 0 },
		"drawdown over 100%":   func(c *EngineConfig) { c.Risk.MaxPortfolioDrawdown = 1.2 },
		"daily loss zero":      func(c *EngineConfig) { c.Loss.MaxDailyLossPercent = 0 },
		"soft above hard stop": func(c *EngineConfig) { c.Loss.SoftStopPercent = 0.08 },
		"inverted hold bounds": func(c *EngineConfig) { c.Amplifier.MaxHoldHours = 12 },
		"batch beyond buffer":  func(c *EngineConfig) { c.RL.BufferCapacity = 10 },
		"learning rate one":    func(c *EngineConfig) { c.RL.LearningRate = 1 },
		"threshold over one":   func(c *EngineConfig) { c.Correlation.Threshold = 1.5 },
		"certain-win default":  func(c *EngineConfig) { c.Defaults.WinRate = 1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestLoadFromFile_LayersOverDefaults tests that a partial config file only
// overrides the fields it names.
func TestLoadFromFile_LayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.json")
	assert.NoError(t, os.WriteFile(path, []byte(`{
		"sizing": {"kelly_fraction": 0.5},
		"risk": {"max_daily_loss_percent": 0.02}
	}`), 0o644))

	cfg, err := LoadFromFile(path)

	assert.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Sizing.KellyFraction)
	assert.Equal(t, 0.02, cfg.Risk.MaxDailyLossPercent)
	// untouched fields keep their defaults
	assert.Equal(t, DefaultMaxPositionPercent, cfg.Sizing.MaxPositionPercent)
	assert.Equal(t, DefaultMaxConsecutiveLosses, cfg.Loss.MaxConsecutiveLosses)
}

// TestLoadFromFile_EmptyPathUsesDefaults tests the no-file path.
func TestLoadFromFile_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile("")

	assert.NoError(t, err)
	assert.Equal(t, DefaultKellyFraction, cfg.Sizing.KellyFraction)
}

// TestLoadFromFile_RejectsInvalidFile tests that validation runs on the loaded
// result.
func TestLoadFromFile_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.json")
	assert.NoError(t, os.WriteFile(path, []byte(`{"sizing": {"kelly_fraction": 2.0}}`), 0o644))

	_, err := LoadFromFile(path)

	assert.Error(t, err)
}

// TestLoadFromFile_EnvOverride tests that environment variables override both
// the defaults and the file.
func TestLoadFromFile_EnvOverride(t *testing.T) {
	t.Setenv("RISK_MAX_DAILY_LOSS", "0.015")
	t.Setenv("PROMETHEUS_PORT", "9999")

	cfg, err := LoadFromFile("")

	assert.NoError(t, err)
	assert.Equal(t, 0.015, cfg.Risk.MaxDailyLossPercent)
	assert.Equal(t, 0.015, cfg.Loss.MaxDailyLossPercent)
	assert.Equal(t, 9999, cfg.Monitoring.PrometheusPort)
}

// TestLimitStore_UpdateAndSnapshot tests that valid updates take effect and
// invalid ones leave the previous limits in force.
func TestLimitStore_UpdateAndSnapshot(t *testing.T) {
	store := NewLimitStore(DefaultEngineConfig().Risk)

	updated := store.Get()
	updated.MaxDailyLossPercent = 0.02
	assert.NoError(t, store.Update(updated))
	assert.Equal(t, 0.02, store.Get().MaxDailyLossPercent)

	bad := store.Get()
	bad.MaxTotalExposure = -1
	assert.Error(t, store.Update(bad))
	assert.Equal(t, 0.02, store.Get().MaxDailyLossPercent)
	assert.Equal(t, DefaultMaxTotalExposure, store.Get().MaxTotalExposure)
}
