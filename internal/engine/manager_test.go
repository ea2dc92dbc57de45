package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantforge/risk-engine/internal/amplifier"
	engerr "github.com/quantforge/risk-engine/internal/errors"
	"github.com/quantforge/risk-engine/internal/portfolio"
	"github.com/quantforge/risk-engine/internal/risk"
	"github.com/quantforge/risk-engine/internal/sizing"
	"github.com/quantforge/risk-engine/pkg/config"
	"github.com/quantforge/risk-engine/pkg/types"
)

// steadyAgent returns the neutral action so consensus sizes are deterministic
type steadyAgent struct{}

func (steadyAgent) SelectAction(types.RLState, bool) types.RLAction {
	return types.RLAction{SizeMultiplier: 1, StopLossMultiplier: 1, TakeProfitMultiplier: 1, RiskRewardRatio: 2}
}

// recordingSink captures experiences handed to the learning sink
type recordingSink struct {
	experiences []types.Experience
}

func (r *recordingSink) AddExperience(exp types.Experience) {
	r.experiences = append(r.experiences, exp)
}

func testEngine(sink ExperienceSink) (*Manager, *risk.Monitor) {
	cfg := config.DefaultEngineConfig()
	monitor := risk.NewMonitor(nil)
	sizer := sizing.NewSizer(cfg.Sizing, cfg.Defaults, steadyAgent{}, nil)
	pm := portfolio.NewManager(config.NewLimitStore(cfg.Risk), sizer, monitor, portfolio.NewMatrixAnalyzer(cfg.Correlation), nil)
	limiter := risk.NewLimiter(cfg.Loss, nil)
	amp := amplifier.NewAmplifier(cfg.Amplifier, nil)
	return NewManager(limiter, monitor, amp, pm, sink, nil), monitor
}

func testSignal() *types.Signal {
	return &types.Signal{
		Symbol:         "BTCUSDT",
		Confidence:     0.70,
		Direction:      types.SideLong,
		Price:          50000,
		ATR:            500,
		Strength:       0.8,
		AgreementScore: 0.7,
		Pattern:        "BREAKOUT",
		Regime:         types.RegimeBull,
	}
}

func cleanSnapshot(totalValue float64) types.PortfolioSnapshot {
	return types.PortfolioSnapshot{
		TotalValue: totalValue,
		Cash:       totalValue,
		Timestamp:  time.Now(),
	}
}

// TestEvaluateCycle_HealthyEntry tests the normal path: healthy portfolio,
// valid signal, an approved amplified entry size.
func TestEvaluateCycle_HealthyEntry(t *testing.T) {
	m, _ := testEngine(nil)

	decision, err := m.EvaluateCycle(cleanSnapshot(10000), testSignal(), nil)

	assert.NoError(t, err)
	assert.Equal(t, StatusNormal, decision.OverallStatus)
	assert.True(t, decision.CanOpenNewPosition)
	assert.Greater(t, decision.PositionSize, 0.0)
	assert.Contains(t, decision.Summary, "status=NORMAL")
}

// TestEvaluateCycle_AmplifiedEntryRespectsSingleCap tests that signal-quality
// amplification cannot push the entry size past the single-position cap.
func TestEvaluateCycle_AmplifiedEntryRespectsSingleCap(t *testing.T) {
	m, _ := testEngine(nil)

	signal := testSignal()
	signal.Confidence = 0.9
	signal.Strength = 1.0
	signal.AgreementScore = 1.0
	stats := &types.PatternStats{WinRate: 0.60, AvgWin: 0.03, AvgLoss: 0.015, SampleSize: 100}

	decision, err := m.EvaluateCycle(cleanSnapshot(10000), signal, stats)

	assert.NoError(t, err)
	assert.True(t, decision.CanOpenNewPosition)
	assert.Greater(t, decision.PositionSize, 0.0)
	// 5% of the 10000 book is the ceiling no matter how strong the signal
	assert.LessOrEqual(t, decision.PositionSize, 500.0)
}

// TestEvaluateCycle_DailyCapBlocksEntry tests that breaching the daily loss
// cap forces a severe, no-entry decision rather than an error.
func TestEvaluateCycle_DailyCapBlocksEntry(t *testing.T) {
	m, _ := testEngine(nil)

	snapshot := cleanSnapshot(10000)
	// four realized losses of 1% of the book each, well past the 3% cap
	for i := 0; i < 4; i++ {
		snapshot.ClosedToday = append(snapshot.ClosedToday, types.TradeRecord{
			Symbol: "BTCUSDT", PnLPercent: -0.10, EntryPrice: 1000, Quantity: 1,
			ClosedAt: time.Now(),
		})
	}

	decision, err := m.EvaluateCycle(snapshot, testSignal(), nil)

	assert.NoError(t, err)
	assert.False(t, decision.CanOpenNewPosition)
	assert.Equal(t, 0.0, decision.PositionSize)
	assert.Equal(t, StatusSevere, decision.OverallStatus)
}

// TestEvaluateCycle_WarningDrawdownShrinksEntry tests that a warning-band
// drawdown still allows entries but at a reduced size.
func TestEvaluateCycle_WarningDrawdownShrinksEntry(t *testing.T) {
	m, monitor := testEngine(nil)

	baseline, err := m.EvaluateCycle(cleanSnapshot(10000), testSignal(), nil)
	assert.NoError(t, err)

	monitor.RestoreHighWaterMark(11500) // current 10000 is a ~13% drawdown

	reduced, err := m.EvaluateCycle(cleanSnapshot(10000), testSignal(), nil)
	assert.NoError(t, err)

	assert.Equal(t, StatusWarning, reduced.OverallStatus)
	assert.True(t, reduced.CanOpenNewPosition)
	assert.Greater(t, reduced.PositionSize, 0.0)
	assert.Less(t, reduced.PositionSize, baseline.PositionSize)
}

// TestEvaluateCycle_CriticalDrawdownBlocksEntries tests that a critical
// drawdown zeroes the entry and marks every open position for reduction.
func TestEvaluateCycle_CriticalDrawdownBlocksEntries(t *testing.T) {
	m, monitor := testEngine(nil)
	monitor.RestoreHighWaterMark(10000)

	snapshot := cleanSnapshot(7500) // 25% drawdown
	snapshot.OpenPositions = []types.Position{
		{Symbol: "BTCUSDT", Side: types.SideLong, Size: 500, EntryPrice: 50000, CurrentPrice: 50500, OpenedAt: time.Now().Add(-time.Hour)},
	}

	decision, err := m.EvaluateCycle(snapshot, testSignal(), nil)

	assert.NoError(t, err)
	assert.Equal(t, StatusCritical, decision.OverallStatus)
	assert.False(t, decision.CanOpenNewPosition)
	assert.Equal(t, 0.0, decision.PositionSize)
	assert.Len(t, decision.PositionActions, 1)
	assert.Equal(t, amplifier.ActionReduce, decision.PositionActions[0].Action)
}

// TestEvaluateCycle_LiquidationClosesEverything tests that a drawdown past the
// liquidation threshold closes every open position.
func TestEvaluateCycle_LiquidationClosesEverything(t *testing.T) {
	m, monitor := testEngine(nil)
	monitor.RestoreHighWaterMark(10000)

	snapshot := cleanSnapshot(6500) // 35% drawdown
	snapshot.OpenPositions = []types.Position{
		{Symbol: "BTCUSDT", Side: types.SideLong, Size: 300, EntryPrice: 50000, CurrentPrice: 50500, OpenedAt: time.Now().Add(-time.Hour)},
		{Symbol: "ETHUSDT", Side: types.SideLong, Size: 300, EntryPrice: 3000, CurrentPrice: 3010, OpenedAt: time.Now().Add(-time.Hour)},
	}

	decision, err := m.EvaluateCycle(snapshot, nil, nil)

	assert.NoError(t, err)
	assert.Len(t, decision.PositionActions, 2)
	for _, directive := range decision.PositionActions {
		assert.Equal(t, amplifier.ActionClose, directive.Action)
	}
}

// TestEvaluateCycle_HardStopForcesClose tests that a position past the hard
// stop is closed regardless of its amplifier ranking.
func TestEvaluateCycle_HardStopForcesClose(t *testing.T) {
	m, _ := testEngine(nil)

	snapshot := cleanSnapshot(10000)
	snapshot.OpenPositions = []types.Position{
		{Symbol: "BTCUSDT", Side: types.SideLong, Size: 500, EntryPrice: 100, CurrentPrice: 94, OpenedAt: time.Now().Add(-time.Hour)},
	}

	decision, err := m.EvaluateCycle(snapshot, nil, nil)

	assert.NoError(t, err)
	assert.Len(t, decision.PositionActions, 1)
	assert.Equal(t, amplifier.ActionClose, decision.PositionActions[0].Action)
}

// TestEvaluateCycle_SignalQualityGuidesRanking tests that the cycle's signal
// feeds its quality score into the position ranking for its own symbol.
func TestEvaluateCycle_SignalQualityGuidesRanking(t *testing.T) {
	m, _ := testEngine(nil)

	snapshot := cleanSnapshot(10000)
	snapshot.OpenPositions = []types.Position{
		{Symbol: "BTCUSDT", Side: types.SideLong, Size: 300, EntryPrice: 100, CurrentPrice: 99, OpenedAt: time.Now().Add(-time.Hour)},
	}

	// Quality 0.10: a small loss with a collapsing signal gets cut
	weak := testSignal()
	weak.Confidence, weak.Strength, weak.AgreementScore = 0.1, 0.1, 0.1

	decision, err := m.EvaluateCycle(snapshot, weak, nil)
	assert.NoError(t, err)
	assert.Len(t, decision.PositionActions, 1)
	assert.Equal(t, amplifier.ActionClose, decision.PositionActions[0].Action)

	// Quality 0.74: the same loss with the signal intact only trims
	decision, err = m.EvaluateCycle(snapshot, testSignal(), nil)
	assert.NoError(t, err)
	assert.Len(t, decision.PositionActions, 1)
	assert.Equal(t, amplifier.ActionReduce, decision.PositionActions[0].Action)
}

// TestEvaluateCycle_RejectsInvalidSnapshot tests that a malformed snapshot is
// the one condition reported as an error.
func TestEvaluateCycle_RejectsInvalidSnapshot(t *testing.T) {
	m, _ := testEngine(nil)

	_, err := m.EvaluateCycle(types.PortfolioSnapshot{TotalValue: 0}, nil, nil)

	assert.Error(t, err)
	assert.True(t, engerr.IsValidation(err))
}

// TestEvaluateCycle_RejectsInvalidSignal tests signal boundary validation.
func TestEvaluateCycle_RejectsInvalidSignal(t *testing.T) {
	m, _ := testEngine(nil)

	signal := testSignal()
	signal.Confidence = 1.5

	_, err := m.EvaluateCycle(cleanSnapshot(10000), signal, nil)

	assert.Error(t, err)
	assert.True(t, engerr.IsValidation(err))
}

// TestRecordTradeOutcome_FeedsTrackerAndSink tests that a closed trade updates
// the performance metrics and lands in the learning sink as a terminal
// experience.
func TestRecordTradeOutcome_FeedsTrackerAndSink(t *testing.T) {
	sink := &recordingSink{}
	m, _ := testEngine(sink)

	m.RecordTradeOutcome(types.TradeRecord{
		Symbol:          "BTCUSDT",
		PnLPercent:      0.03,
		Confidence:      0.8,
		Regime:          types.RegimeBull,
		VolatilityRatio: 1.0,
		VolumeRatio:     1.2,
		HoldingDuration: 2 * time.Hour,
	})

	metrics := m.GetMetrics()
	assert.Equal(t, 1, metrics.TotalTrades)
	assert.Equal(t, 1.0, metrics.WinRate)

	assert.Len(t, sink.experiences, 1)
	exp := sink.experiences[0]
	assert.True(t, exp.Terminal)
	assert.Greater(t, exp.Reward, 0.0)
	assert.Equal(t, 0.8, exp.State.Confidence)
}

// TestRecordTradeOutcome_NilSink tests that outcome recording works without a
// learning sink attached.
func TestRecordTradeOutcome_NilSink(t *testing.T) {
	m, _ := testEngine(nil)

	m.RecordTradeOutcome(types.TradeRecord{PnLPercent: -0.01})

	assert.Equal(t, 1, m.GetMetrics().TotalTrades)
}
