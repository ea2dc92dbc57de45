package sizing

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	engerr "github.com/quantforge/risk-engine/internal/errors"
	"github.com/quantforge/risk-engine/pkg/config"
	"github.com/quantforge/risk-engine/pkg/types"
)

// ActionSelector is the slice of the RL agent the sizer depends on
type ActionSelector interface {
	SelectAction(state types.RLState, explore bool) types.RLAction
}

// Request carries one sizing query. Momentum, VolumeRatio and RSI are optional
// state features for the RL query; zero values fall back to the configured
// conservative defaults.
type Request struct {
	Symbol          string
	Confidence      float64
	Direction       types.Side
	Balance         float64
	Price           float64
	ATR             float64
	Regime          types.Regime
	Pattern         string
	Momentum        float64
	VolumeRatio     float64
	RSI             float64
	CurrentDrawdown float64
}

// Result is the sizer's decision with a full audit trail. Percent is the
// fraction of the account balance committed, always within the configured
// [min, max] band for valid inputs.
type Result struct {
	Size                 float64
	Percent              float64
	KellyFraction        float64
	ConfidenceMultiplier float64
	VolatilityAdjustment float64
	RLMultiplier         float64
	Reasoning            []string
}

// Sizer combines a fractional-Kelly baseline, confidence scaling, volatility
// scaling and the RL agent's learned multiplier into one bounded position
// size. Pattern statistics are supplied by the caller; per-symbol ATR history
// is the sizer's only internal state.
type Sizer struct {
	cfg      config.SizingConfig
	defaults config.ConservativeDefaults
	agent    ActionSelector
	logger   *zap.Logger

	mu         sync.Mutex
	atrHistory map[string][]float64
}

// NewSizer creates a dynamic position sizer
func NewSizer(cfg config.SizingConfig, defaults config.ConservativeDefaults, agent ActionSelector, logger *zap.Logger) *Sizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sizer{
		cfg:        cfg,
		defaults:   defaults,
		agent:      agent,
		logger:     logger,
		atrHistory: make(map[string][]float64),
	}
}

// Calculate produces a bounded position size for a signal. stats may be nil
// for unknown patterns; the sizer then falls back to the slight-edge defaults
// and notes the fallback in the reasoning trace.
func (s *Sizer) Calculate(req Request, stats *types.PatternStats) (Result, error) {
	if err := s.validate(req); err != nil {
		return Result{}, err
	}

	result := Result{Reasoning: make([]string, 0, 6)}

	// Step 1: pattern statistics, with conservative fallback
	winRate, avgWin, avgLoss := s.resolveStats(req.Pattern, stats, &result)

	// Step 2: fractional Kelly
	kelly := (winRate*avgWin - (1-winRate)*avgLoss) / avgWin
	if kelly < 0 {
		kelly = 0
	}
	kelly *= s.cfg.KellyFraction
	result.KellyFraction = kelly
	result.Reasoning = append(result.Reasoning,
		fmt.Sprintf("Kelly base %.4f (win rate %.1f%%, avg win %.2f%%, avg loss %.2f%%, fractional %.2f)",
			kelly, winRate*100, avgWin*100, avgLoss*100, s.cfg.KellyFraction))

	// Step 3: confidence tier
	confMult := confidenceMultiplier(req.Confidence)
	result.ConfidenceMultiplier = confMult
	result.Reasoning = append(result.Reasoning,
		fmt.Sprintf("Confidence %.2f -> %.1fx multiplier", req.Confidence, confMult))

	// Step 4: volatility adjustment against the rolling ATR average
	volRatio := s.recordATR(req.Symbol, req.ATR)
	volAdj := volatilityAdjustment(volRatio)
	result.VolatilityAdjustment = volAdj
	result.Reasoning = append(result.Reasoning,
		fmt.Sprintf("ATR ratio %.2f vs %d-day average -> %.2fx volatility adjustment",
			volRatio, s.cfg.ATRWindow, volAdj))

	// Step 5: learned multiplier, exploration disabled in production
	action := s.agent.SelectAction(s.buildState(req, volRatio), false)
	result.RLMultiplier = action.SizeMultiplier
	result.Reasoning = append(result.Reasoning,
		fmt.Sprintf("RL agent size multiplier %.2fx (stop %.2fx, target %.2fx, R:R %.1f)",
			action.SizeMultiplier, action.StopLossMultiplier, action.TakeProfitMultiplier, action.RiskRewardRatio))

	// Step 6: combine and clamp
	percent := kelly * confMult * volAdj * action.SizeMultiplier
	clamped := clamp(percent, s.cfg.MinPositionPercent, s.cfg.MaxPositionPercent)
	if clamped != percent {
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("Raw percent %.4f clamped into [%.2f%%, %.2f%%]",
				percent, s.cfg.MinPositionPercent*100, s.cfg.MaxPositionPercent*100))
	}
	result.Percent = clamped
	result.Size = req.Balance * clamped
	result.Reasoning = append(result.Reasoning,
		fmt.Sprintf("Final position %.2f%% of balance = %.2f", clamped*100, result.Size))

	s.logger.Debug("position sized",
		zap.String("symbol", req.Symbol),
		zap.String("pattern", req.Pattern),
		zap.Float64("percent", clamped),
		zap.Float64("size", result.Size))

	return result, nil
}

func (s *Sizer) validate(req Request) error {
	if req.Symbol == "" {
		return engerr.NewValidationError("sizing", "calculate", "symbol is empty")
	}
	if !finite(req.Balance) || req.Balance <= 0 {
		return engerr.NewValidationError("sizing", "calculate",
			fmt.Sprintf("balance must be positive and finite, got %v", req.Balance))
	}
	if !finite(req.Price) || req.Price <= 0 {
		return engerr.NewValidationError("sizing", "calculate",
			fmt.Sprintf("price must be positive and finite, got %v", req.Price))
	}
	if !finite(req.ATR) || req.ATR < 0 {
		return engerr.NewValidationError("sizing", "calculate",
			fmt.Sprintf("atr must be non-negative and finite, got %v", req.ATR))
	}
	if !finite(req.Confidence) || req.Confidence < 0 || req.Confidence > 1 {
		return engerr.NewValidationError("sizing", "calculate",
			fmt.Sprintf("confidence must lie in [0,1], got %v", req.Confidence))
	}
	return nil
}

func (s *Sizer) resolveStats(pattern string, stats *types.PatternStats, result *Result) (winRate, avgWin, avgLoss float64) {
	if stats == nil || stats.SampleSize == 0 || stats.AvgWin <= 0 {
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("No history for pattern %q, using slight-edge defaults (win rate %.1f%%)",
				pattern, s.defaults.WinRate*100))
		return s.defaults.WinRate, s.defaults.AvgWin, s.defaults.AvgLoss
	}
	result.Reasoning = append(result.Reasoning,
		fmt.Sprintf("Pattern %q history: %d trades", pattern, stats.SampleSize))
	return stats.WinRate, stats.AvgWin, stats.AvgLoss
}

// recordATR appends the ATR observation to the symbol's rolling window and
// returns the ratio of the current ATR to the window average.
func (s *Sizer) recordATR(symbol string, atr float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.atrHistory[symbol]
	history = append(history, atr)
	if len(history) > s.cfg.ATRWindow {
		history = history[len(history)-s.cfg.ATRWindow:]
	}
	s.atrHistory[symbol] = history

	sum := 0.0
	for _, v := range history {
		sum += v
	}
	avg := sum / float64(len(history))
	if avg <= 0 {
		return 1.0
	}
	return atr / avg
}

func (s *Sizer) buildState(req Request, volRatio float64) types.RLState {
	volumeRatio := req.VolumeRatio
	if volumeRatio == 0 {
		volumeRatio = s.defaults.VolumeRatio
	}
	rsi := req.RSI
	if rsi == 0 {
		rsi = s.defaults.RSI
	}
	regime := req.Regime
	if regime == "" {
		regime = s.defaults.Regime
	}
	trend := types.RegimeFeature(regime)
	return types.RLState{
		Volatility:  clamp(volRatio/2, 0, 1),
		TrendSign:   trend,
		Momentum:    clamp(req.Momentum, -1, 1),
		VolumeRatio: clamp(volumeRatio/2, 0, 1),
		RSI:         clamp(rsi/100, 0, 1),
		Confidence:  req.Confidence,
		Regime:      trend,
		Drawdown:    clamp(req.CurrentDrawdown, 0, 1),
	}
}

// confidenceMultiplier is the tiered step function over signal confidence
func confidenceMultiplier(confidence float64) float64 {
	switch {
	case confidence >= 0.85:
		return 2.0
	case confidence >= 0.75:
		return 1.5
	case confidence >= 0.65:
		return 1.0
	default:
		return 0.5
	}
}

// volatilityAdjustment shrinks size when current ATR runs hot versus its average
func volatilityAdjustment(ratio float64) float64 {
	switch {
	case ratio > 1.5:
		return 0.7
	case ratio > 1.2:
		return 0.85
	default:
		return 1.0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
