package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/quantforge/risk-engine/pkg/types"
)

// Default sizing constants
const (
	DefaultKellyFraction      = 0.25  // fractional Kelly, never full Kelly
	DefaultMinPositionPercent = 0.002 // 0.2% floor
	DefaultMaxPositionPercent = 0.05  // 5% ceiling
	DefaultATRWindow          = 7     // rolling ATR average window, days
)

// Default risk limit constants
const (
	DefaultMaxPortfolioDrawdown  = 0.20
	DefaultMaxSinglePosition     = 0.05
	DefaultMaxCorrelatedExposure = 0.15
	DefaultMaxTotalExposure      = 0.50
	DefaultMaxDailyLoss          = 0.03
)

// Default loss limiter constants
const (
	DefaultMaxConsecutiveLosses = 3
	DefaultCooldownMinutes      = 60
	DefaultHardStopPercent      = 0.05
	DefaultSoftStopPercent      = 0.03
	DefaultPreemptThreshold     = 0.70 // fraction of the daily cap that triggers pre-emption
)

// Default RL agent constants
const (
	DefaultBufferCapacity = 5000
	DefaultMinReplaySize  = 50
	DefaultReplayBatch    = 32
	DefaultLearningRate   = 0.01
	DefaultEpsilon        = 0.10
)

// SizingConfig bounds the dynamic position sizer
type SizingConfig struct {
	KellyFraction      float64 `json:"kelly_fraction"`
	MinPositionPercent float64 `json:"min_position_percent"`
	MaxPositionPercent float64 `json:"max_position_percent"`
	ATRWindow          int     `json:"atr_window"`
}

// RiskLimits is the operator-tunable portfolio limit set. Components never read
// these fields directly; they take a snapshot from a LimitStore so one decision
// always sees one consistent set of limits.
type RiskLimits struct {
	MaxPortfolioDrawdown     float64 `json:"max_portfolio_drawdown"`
	MaxSinglePositionPercent float64 `json:"max_single_position_percent"`
	MaxCorrelatedExposure    float64 `json:"max_correlated_exposure"`
	MaxTotalExposure         float64 `json:"max_total_exposure"`
	MaxDailyLossPercent      float64 `json:"max_daily_loss_percent"`
}

// LossLimits configures the loss circuit breaker
type LossLimits struct {
	MaxDailyLossPercent  float64 `json:"max_daily_loss_percent"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
	HardStopPercent      float64 `json:"hard_stop_percent"`
	SoftStopPercent      float64 `json:"soft_stop_percent"`
	PreemptThreshold     float64 `json:"preempt_threshold"`
}

// AmplifierConfig configures win amplification and hold extension
type AmplifierConfig struct {
	BaseHoldHours      int     `json:"base_hold_hours"`
	MaxHoldHours       int     `json:"max_hold_hours"`
	WinnerTrailPercent float64 `json:"winner_trail_percent"`
	LoserTrailPercent  float64 `json:"loser_trail_percent"`
	MinScale           float64 `json:"min_scale"`
	MaxScale           float64 `json:"max_scale"`
}

// RLConfig configures the position agent
type RLConfig struct {
	BufferCapacity int     `json:"buffer_capacity"`
	MinReplaySize  int     `json:"min_replay_size"`
	ReplayBatch    int     `json:"replay_batch"`
	LearningRate   float64 `json:"learning_rate"`
	Epsilon        float64 `json:"epsilon"`
	Seed           int64   `json:"seed"`
}

// CorrelationPair declares one symmetric correlation coefficient between two symbols
type CorrelationPair struct {
	A           string  `json:"a"`
	B           string  `json:"b"`
	Coefficient float64 `json:"coefficient"`
}

// CorrelationConfig backs the matrix correlation analyzer
type CorrelationConfig struct {
	Pairs     []CorrelationPair `json:"pairs"`
	Threshold float64           `json:"threshold"`
}

// MonitoringConfig configures the metrics and health endpoints
type MonitoringConfig struct {
	PrometheusPort int `json:"prometheus_port"`
	HealthPort     int `json:"health_port"`
}

// ConservativeDefaults consolidates every fallback constant the engine uses
// when a collaborator cannot supply data. Keeping them in one struct keeps
// degraded-input behavior auditable and testable.
type ConservativeDefaults struct {
	WinRate      float64      `json:"win_rate"`      // slight-edge fallback for unknown patterns
	AvgWin       float64      `json:"avg_win"`       // fraction
	AvgLoss      float64      `json:"avg_loss"`      // fraction
	Regime       types.Regime `json:"regime"`        // regime assumed when the classifier is silent
	RLMultiplier float64      `json:"rl_multiplier"` // neutral multiplier when the agent is cold
	RSI          float64      `json:"rsi"`
	VolumeRatio  float64      `json:"volume_ratio"`
}

// EngineConfig is the full configuration of the risk engine
type EngineConfig struct {
	Sizing      SizingConfig         `json:"sizing"`
	Risk        RiskLimits           `json:"risk"`
	Loss        LossLimits           `json:"loss"`
	Amplifier   AmplifierConfig      `json:"amplifier"`
	RL          RLConfig             `json:"rl"`
	Correlation CorrelationConfig    `json:"correlation"`
	Monitoring  MonitoringConfig     `json:"monitoring"`
	Defaults    ConservativeDefaults `json:"defaults"`
	StateFile   string               `json:"state_file"`
}

// DefaultEngineConfig returns the conservative default configuration
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Sizing: SizingConfig{
			KellyFraction:      DefaultKellyFraction,
			MinPositionPercent: DefaultMinPositionPercent,
			MaxPositionPercent: DefaultMaxPositionPercent,
			ATRWindow:          DefaultATRWindow,
		},
		Risk: RiskLimits{
			MaxPortfolioDrawdown:     DefaultMaxPortfolioDrawdown,
			MaxSinglePositionPercent: DefaultMaxSinglePosition,
			MaxCorrelatedExposure:    DefaultMaxCorrelatedExposure,
			MaxTotalExposure:         DefaultMaxTotalExposure,
			MaxDailyLossPercent:      DefaultMaxDailyLoss,
		},
		Loss: LossLimits{
			MaxDailyLossPercent:  DefaultMaxDailyLoss,
			MaxConsecutiveLosses: DefaultMaxConsecutiveLosses,
			CooldownMinutes:      DefaultCooldownMinutes,
			HardStopPercent:      DefaultHardStopPercent,
			SoftStopPercent:      DefaultSoftStopPercent,
			PreemptThreshold:     DefaultPreemptThreshold,
		},
		Amplifier: AmplifierConfig{
			BaseHoldHours:      24,
			MaxHoldHours:       72,
			WinnerTrailPercent: 0.05,
			LoserTrailPercent:  0.02,
			MinScale:           0.3,
			MaxScale:           2.5,
		},
		RL: RLConfig{
			BufferCapacity: DefaultBufferCapacity,
			MinReplaySize:  DefaultMinReplaySize,
			ReplayBatch:    DefaultReplayBatch,
			LearningRate:   DefaultLearningRate,
			Epsilon:        DefaultEpsilon,
		},
		Correlation: CorrelationConfig{
			Threshold: 0.7,
		},
		Monitoring: MonitoringConfig{
			PrometheusPort: 9090,
			HealthPort:     8080,
		},
		Defaults: ConservativeDefaults{
			WinRate:      0.505,
			AvgWin:       0.02,
			AvgLoss:      0.01,
			Regime:       types.RegimeSideways,
			RLMultiplier: 1.0,
			RSI:          50,
			VolumeRatio:  1.0,
		},
		StateFile: "state/engine_state.json",
	}
}

// LoadFromFile loads an engine config from a JSON file layered over the
// defaults, then applies environment overrides and validates the result.
func LoadFromFile(path string) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployments override the risk caps without editing files
func (c *EngineConfig) applyEnvOverrides() {
	c.Risk.MaxDailyLossPercent = getEnvFloat("RISK_MAX_DAILY_LOSS", c.Risk.MaxDailyLossPercent)
	c.Risk.MaxPortfolioDrawdown = getEnvFloat("RISK_MAX_DRAWDOWN", c.Risk.MaxPortfolioDrawdown)
	c.Risk.MaxSinglePositionPercent = getEnvFloat("RISK_MAX_SINGLE_POSITION", c.Risk.MaxSinglePositionPercent)
	c.Loss.MaxDailyLossPercent = getEnvFloat("RISK_MAX_DAILY_LOSS", c.Loss.MaxDailyLossPercent)
	c.Monitoring.PrometheusPort = getEnvInt("PROMETHEUS_PORT", c.Monitoring.PrometheusPort)
	c.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", c.Monitoring.HealthPort)
	c.StateFile = getEnv("ENGINE_STATE_FILE", c.StateFile)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
