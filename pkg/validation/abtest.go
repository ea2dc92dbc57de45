package validation

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	engerr "github.com/quantforge/risk-engine/internal/errors"
	"github.com/quantforge/risk-engine/internal/sizing"
	"github.com/quantforge/risk-engine/pkg/types"
)

// DefaultBootstrapResamples is the resample count when the caller passes 0
const DefaultBootstrapResamples = 500

// SizingPolicy decides what fraction of equity a historical trade would have
// committed under the policy being tested.
type SizingPolicy interface {
	Name() string
	PercentFor(trade types.TradeRecord) float64
}

// FlatPolicy commits the same fraction on every trade
type FlatPolicy struct {
	Percent float64
}

// Name implements SizingPolicy
func (p FlatPolicy) Name() string { return "flat" }

// PercentFor implements SizingPolicy
func (p FlatPolicy) PercentFor(types.TradeRecord) float64 { return p.Percent }

// DynamicPolicy replays the dynamic position sizer over the corpus, using
// per-pattern statistics computed from the corpus itself.
type DynamicPolicy struct {
	sizer    *sizing.Sizer
	stats    map[string]*types.PatternStats
	fallback float64
}

// NewDynamicPolicy builds a dynamic policy around a sizer. stats maps pattern
// tags to their historical statistics; missing patterns use the sizer's own
// conservative fallback.
func NewDynamicPolicy(sizer *sizing.Sizer, stats map[string]*types.PatternStats, fallbackPercent float64) *DynamicPolicy {
	return &DynamicPolicy{sizer: sizer, stats: stats, fallback: fallbackPercent}
}

// Name implements SizingPolicy
func (p *DynamicPolicy) Name() string { return "dynamic" }

// PercentFor implements SizingPolicy. Sizing runs against a unit balance so
// the returned percent is balance-independent; malformed rows degrade to the
// conservative fallback percent instead of aborting the replay.
func (p *DynamicPolicy) PercentFor(trade types.TradeRecord) float64 {
	req := sizing.Request{
		Symbol:      trade.Symbol,
		Confidence:  trade.Confidence,
		Direction:   trade.Side,
		Balance:     1.0,
		Price:       trade.EntryPrice,
		ATR:         trade.EntryPrice * 0.01 * math.Max(trade.VolatilityRatio, 0.1),
		Regime:      trade.Regime,
		Pattern:     trade.Pattern,
		VolumeRatio: trade.VolumeRatio,
	}
	result, err := p.sizer.Calculate(req, p.stats[trade.Pattern])
	if err != nil {
		return p.fallback
	}
	return result.Percent
}

// PolicyPerformance summarizes one policy's replayed equity curve
type PolicyPerformance struct {
	Name         string
	FinalEquity  float64
	TotalReturn  float64
	MaxDrawdown  float64
	SharpeRatio  float64
	ProfitFactor float64
}

// ABResult compares two sizing policies over the same corpus
type ABResult struct {
	TotalTrades      int
	A                PolicyPerformance
	B                PolicyPerformance
	ReturnDifference float64
	Winner           string
}

// BootstrapResult reports the resampling significance test
type BootstrapResult struct {
	Resamples      int
	MeanDifference float64
	StdDev         float64
	PValue         float64
	Significant    bool
}

// ABTester replays a historical corpus under two sizing policies and compares
// the resulting equity curves. Replays and bootstrap runs are batch
// operations; both honor context cancellation.
type ABTester struct {
	minTrades int
	logger    *zap.Logger
	rng       *rand.Rand
}

// NewABTester creates an A/B tester. seed=0 derives a seed from the clock;
// fixed seeds make bootstrap runs reproducible in tests.
func NewABTester(logger *zap.Logger, seed int64) *ABTester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &ABTester{
		minTrades: MinValidationTrades,
		logger:    logger,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Compare replays the corpus under both policies. Corpora below the minimum
// size fail with an insufficient-data error, never a partial comparison.
func (t *ABTester) Compare(ctx context.Context, trades []types.TradeRecord, a, b SizingPolicy) (*ABResult, error) {
	if len(trades) < t.minTrades {
		return nil, engerr.NewInsufficientDataError("validation", "ab_compare", len(trades), t.minTrades)
	}

	perfA, _, err := t.replay(ctx, trades, a)
	if err != nil {
		return nil, err
	}
	perfB, _, err := t.replay(ctx, trades, b)
	if err != nil {
		return nil, err
	}

	result := &ABResult{
		TotalTrades:      len(trades),
		A:                perfA,
		B:                perfB,
		ReturnDifference: perfA.TotalReturn - perfB.TotalReturn,
	}
	if perfA.TotalReturn >= perfB.TotalReturn {
		result.Winner = perfA.Name
	} else {
		result.Winner = perfB.Name
	}

	t.logger.Info("a/b comparison complete",
		zap.String("winner", result.Winner),
		zap.Float64("return_difference", result.ReturnDifference))
	return result, nil
}

// Bootstrap runs a resampling significance test over the per-trade return
// differences of the two policies. resamples=0 uses the default of 500.
func (t *ABTester) Bootstrap(ctx context.Context, trades []types.TradeRecord, a, b SizingPolicy, resamples int) (*BootstrapResult, error) {
	if len(trades) < t.minTrades {
		return nil, engerr.NewInsufficientDataError("validation", "bootstrap", len(trades), t.minTrades)
	}
	if resamples <= 0 {
		resamples = DefaultBootstrapResamples
	}

	_, returnsA, err := t.replay(ctx, trades, a)
	if err != nil {
		return nil, err
	}
	_, returnsB, err := t.replay(ctx, trades, b)
	if err != nil {
		return nil, err
	}

	diffs := make([]float64, len(trades))
	for i := range diffs {
		diffs[i] = returnsA[i] - returnsB[i]
	}

	means := make([]float64, 0, resamples)
	for r := 0; r < resamples; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum := 0.0
		for range diffs {
			sum += diffs[t.rng.Intn(len(diffs))]
		}
		means = append(means, sum/float64(len(diffs)))
	}

	result := &BootstrapResult{Resamples: resamples}
	result.MeanDifference = mean(means)
	result.StdDev = stdDev(means)

	// Two-sided p-value: the fraction of resampled means on the far side of zero
	crossing := 0
	for _, m := range means {
		if (result.MeanDifference >= 0 && m <= 0) || (result.MeanDifference < 0 && m >= 0) {
			crossing++
		}
	}
	result.PValue = 2 * float64(crossing) / float64(resamples)
	if result.PValue > 1 {
		result.PValue = 1
	}
	result.Significant = result.PValue < 0.05

	return result, nil
}

// replay runs one policy over the corpus and returns its performance plus the
// per-trade equity returns.
func (t *ABTester) replay(ctx context.Context, trades []types.TradeRecord, policy SizingPolicy) (PolicyPerformance, []float64, error) {
	equity := 1.0
	peak := 1.0
	maxDD := 0.0
	grossProfit, grossLoss := 0.0, 0.0
	returns := make([]float64, 0, len(trades))

	for _, trade := range trades {
		if err := ctx.Err(); err != nil {
			return PolicyPerformance{}, nil, err
		}

		percent := policy.PercentFor(trade)
		ret := percent * trade.PnLPercent
		returns = append(returns, ret)

		equity *= 1 + ret
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
		if ret > 0 {
			grossProfit += ret
		} else {
			grossLoss += -ret
		}
	}

	perf := PolicyPerformance{
		Name:        policy.Name(),
		FinalEquity: equity,
		TotalReturn: equity - 1,
		MaxDrawdown: maxDD,
	}
	perf.SharpeRatio = sharpe(returns)
	if grossLoss > 0 {
		perf.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		perf.ProfitFactor = math.Inf(1)
	}
	return perf, returns, nil
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := stdDev(returns)
	if sd < 1e-10 {
		return 0
	}
	return mean(returns) / sd
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	avg := mean(values)
	sumSquares := 0.0
	for _, v := range values {
		diff := v - avg
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

// PatternStatsFromCorpus computes per-pattern statistics for the dynamic
// policy from the corpus being replayed.
func PatternStatsFromCorpus(trades []types.TradeRecord) map[string]*types.PatternStats {
	groups := make(map[string][]types.TradeRecord)
	for _, t := range trades {
		groups[t.Pattern] = append(groups[t.Pattern], t)
	}

	out := make(map[string]*types.PatternStats, len(groups))
	for pattern, group := range groups {
		wins := 0
		winSum, lossSum := 0.0, 0.0
		for _, t := range group {
			if t.IsWin() {
				wins++
				winSum += t.PnLPercent
			} else {
				lossSum += -t.PnLPercent
			}
		}
		stats := &types.PatternStats{SampleSize: len(group)}
		stats.WinRate = float64(wins) / float64(len(group))
		if wins > 0 {
			stats.AvgWin = winSum / float64(wins)
		}
		if losses := len(group) - wins; losses > 0 {
			stats.AvgLoss = lossSum / float64(losses)
		}
		out[pattern] = stats
	}
	return out
}
