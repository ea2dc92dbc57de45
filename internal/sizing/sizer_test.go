package sizing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	engerr "github.com/quantforge/risk-engine/internal/errors"
	"github.com/quantforge/risk-engine/pkg/config"
	"github.com/quantforge/risk-engine/pkg/types"
)

// neutralAgent always returns the neutral action, isolating the Kelly math
type neutralAgent struct {
	multiplier float64
}

func (a neutralAgent) SelectAction(types.RLState, bool) types.RLAction {
	return types.RLAction{
		SizeMultiplier:       a.multiplier,
		StopLossMultiplier:   1.0,
		TakeProfitMultiplier: 1.0,
		RiskRewardRatio:      2.0,
	}
}

func testSizer(multiplier float64) *Sizer {
	cfg := config.DefaultEngineConfig()
	return NewSizer(cfg.Sizing, cfg.Defaults, neutralAgent{multiplier: multiplier}, nil)
}

func baseRequest() Request {
	return Request{
		Symbol:     "BTCUSDT",
		Confidence: 0.70,
		Direction:  types.SideLong,
		Balance:    10000,
		Price:      50000,
		ATR:        500,
		Regime:     types.RegimeBull,
		Pattern:    "BREAKOUT",
	}
}

// TestCalculate_KellyFormula tests the fractional Kelly math against a worked example
func TestCalculate_KellyFormula(t *testing.T) {
	sizer := testSizer(1.0)

	stats := &types.PatternStats{
		WinRate:    0.55,
		AvgWin:     0.02,
		AvgLoss:    0.01,
		SampleSize: 100,
	}

	result, err := sizer.Calculate(baseRequest(), stats)
	assert.NoError(t, err)

	// kelly = (0.55*0.02 - 0.45*0.01)/0.02 = 0.325, quartered to 0.08125
	assert.InDelta(t, 0.08125, result.KellyFraction, 1e-9)
	assert.Equal(t, 1.0, result.ConfidenceMultiplier)
	assert.Equal(t, 1.0, result.VolatilityAdjustment)

	// 0.08125 exceeds the 5% cap, so the percent clamps
	assert.InDelta(t, 0.05, result.Percent, 1e-9)
	assert.InDelta(t, 500.0, result.Size, 1e-6)
}

// TestCalculate_NegativeEdgeFloorsAtZero tests that a losing pattern gets the minimum size
func TestCalculate_NegativeEdgeFloorsAtZero(t *testing.T) {
	sizer := testSizer(1.0)

	stats := &types.PatternStats{
		WinRate:    0.30,
		AvgWin:     0.01,
		AvgLoss:    0.02,
		SampleSize: 50,
	}

	result, err := sizer.Calculate(baseRequest(), stats)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, result.KellyFraction)

	// Zero raw percent clamps up to the configured floor
	assert.InDelta(t, config.DefaultMinPositionPercent, result.Percent, 1e-9)
}

// TestCalculate_NilStatsUsesDefaults tests the conservative fallback for unknown patterns
func TestCalculate_NilStatsUsesDefaults(t *testing.T) {
	sizer := testSizer(1.0)

	result, err := sizer.Calculate(baseRequest(), nil)
	assert.NoError(t, err)
	assert.Greater(t, result.KellyFraction, 0.0)
	assert.NotEmpty(t, result.Reasoning)
	assert.Contains(t, result.Reasoning[0], "slight-edge defaults")
}

// TestCalculate_PercentAlwaysBounded tests the [min, max] band over a range of inputs
func TestCalculate_PercentAlwaysBounded(t *testing.T) {
	sizer := testSizer(2.0)

	confidences := []float64{0.0, 0.5, 0.65, 0.75, 0.85, 1.0}
	for _, conf := range confidences {
		req := baseRequest()
		req.Confidence = conf

		stats := &types.PatternStats{WinRate: 0.70, AvgWin: 0.05, AvgLoss: 0.01, SampleSize: 200}
		result, err := sizer.Calculate(req, stats)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, result.Percent, config.DefaultMinPositionPercent)
		assert.LessOrEqual(t, result.Percent, config.DefaultMaxPositionPercent)
	}
}

// TestCalculate_ConfidenceTiers tests the stepped confidence multiplier
func TestCalculate_ConfidenceTiers(t *testing.T) {
	tiers := map[float64]float64{
		0.90: 2.0,
		0.85: 2.0,
		0.80: 1.5,
		0.75: 1.5,
		0.70: 1.0,
		0.65: 1.0,
		0.60: 0.5,
		0.30: 0.5,
	}

	for confidence, expected := range tiers {
		assert.Equal(t, expected, confidenceMultiplier(confidence),
			"confidence %.2f", confidence)
	}
}

// TestCalculate_HigherConfidenceSizesStrictlyLarger tests confidence
// monotonicity with a Kelly base small enough that the 5% cap never binds
func TestCalculate_HigherConfidenceSizesStrictlyLarger(t *testing.T) {
	sizer := testSizer(1.0)
	stats := &types.PatternStats{WinRate: 0.51, AvgWin: 0.02, AvgLoss: 0.018, SampleSize: 120}

	low := baseRequest()
	low.Confidence = 0.5
	high := baseRequest()
	high.Confidence = 0.9

	rLow, err := sizer.Calculate(low, stats)
	assert.NoError(t, err)
	rHigh, err := sizer.Calculate(high, stats)
	assert.NoError(t, err)

	// kelly = (0.51*0.02 - 0.49*0.018)/0.02 = 0.069, quartered to 0.01725;
	// the 0.5x and 2.0x confidence tiers land at 0.008625 and 0.0345
	assert.InDelta(t, 0.008625, rLow.Percent, 1e-9)
	assert.InDelta(t, 0.0345, rHigh.Percent, 1e-9)
	assert.Less(t, rHigh.Percent, config.DefaultMaxPositionPercent)
	assert.Greater(t, rHigh.Percent, rLow.Percent)
}

// TestCalculate_VolatilitySpikeShrinksSize tests the ATR-ratio shrink when volatility runs hot
func TestCalculate_VolatilitySpikeShrinksSize(t *testing.T) {
	sizer := testSizer(1.0)
	stats := &types.PatternStats{WinRate: 0.55, AvgWin: 0.02, AvgLoss: 0.01, SampleSize: 100}

	// Build a calm ATR history first
	for i := 0; i < 6; i++ {
		req := baseRequest()
		req.ATR = 100
		_, err := sizer.Calculate(req, stats)
		assert.NoError(t, err)
	}

	// A 3x ATR spike against the window average
	req := baseRequest()
	req.ATR = 300
	result, err := sizer.Calculate(req, stats)
	assert.NoError(t, err)
	assert.Equal(t, 0.7, result.VolatilityAdjustment)
}

// TestCalculate_RLMultiplierApplied tests that the agent's multiplier flows into the product
func TestCalculate_RLMultiplierApplied(t *testing.T) {
	half := testSizer(0.5)
	full := testSizer(1.0)

	stats := &types.PatternStats{WinRate: 0.52, AvgWin: 0.02, AvgLoss: 0.015, SampleSize: 80}

	rHalf, err := half.Calculate(baseRequest(), stats)
	assert.NoError(t, err)
	rFull, err := full.Calculate(baseRequest(), stats)
	assert.NoError(t, err)

	assert.Equal(t, 0.5, rHalf.RLMultiplier)
	assert.Less(t, rHalf.Percent, rFull.Percent)
}

// TestCalculate_RejectsInvalidInputs tests boundary validation of the sizing request
func TestCalculate_RejectsInvalidInputs(t *testing.T) {
	sizer := testSizer(1.0)

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty symbol", func(r *Request) { r.Symbol = "" }},
		{"zero balance", func(r *Request) { r.Balance = 0 }},
		{"negative balance", func(r *Request) { r.Balance = -100 }},
		{"nan balance", func(r *Request) { r.Balance = math.NaN() }},
		{"zero price", func(r *Request) { r.Price = 0 }},
		{"negative atr", func(r *Request) { r.ATR = -1 }},
		{"confidence above one", func(r *Request) { r.Confidence = 1.5 }},
		{"inf confidence", func(r *Request) { r.Confidence = math.Inf(1) }},
	}

	for _, tc := range cases {
		req := baseRequest()
		tc.mutate(&req)
		_, err := sizer.Calculate(req, nil)
		assert.Error(t, err, tc.name)
		assert.True(t, engerr.IsValidation(err), tc.name)
	}
}

// TestRecordATR_RollingWindow tests that the ATR window drops the oldest observations
func TestRecordATR_RollingWindow(t *testing.T) {
	sizer := testSizer(1.0)

	// Fill the window with high ATRs, then observe the same low value repeatedly:
	// once the window rolls over, the ratio returns to 1.0
	for i := 0; i < config.DefaultATRWindow; i++ {
		sizer.recordATR("ETHUSDT", 1000)
	}
	var ratio float64
	for i := 0; i < config.DefaultATRWindow; i++ {
		ratio = sizer.recordATR("ETHUSDT", 100)
	}
	assert.InDelta(t, 1.0, ratio, 1e-9)
}
