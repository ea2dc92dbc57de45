package rl

import (
	"math"
	"sort"

	engerr "github.com/quantforge/risk-engine/internal/errors"
	"github.com/quantforge/risk-engine/pkg/types"
)

// MinCorpusSize is the smallest historical corpus the agent will train on
const MinCorpusSize = 30

// pnlClip bounds realized PnL fractions at +/-100% before they enter a feature
// vector, so a single outlier trade cannot dominate training.
const pnlClip = 1.0

// BuildExperiences converts a closed-trade corpus into normalized training
// experiences. Volatility and volume ratios are percentile-ranked across the
// corpus and PnL is clipped, so no raw feature scale dominates the update.
// Trades must be supplied in close order; the running equity drawdown of the
// corpus feeds the drawdown feature.
func BuildExperiences(trades []types.TradeRecord) ([]types.Experience, error) {
	if len(trades) < MinCorpusSize {
		return nil, engerr.NewInsufficientDataError("rl", "build_experiences", len(trades), MinCorpusSize)
	}

	volRank := percentileRanks(extract(trades, func(t types.TradeRecord) float64 { return t.VolatilityRatio }))
	volumeRank := percentileRanks(extract(trades, func(t types.TradeRecord) float64 { return t.VolumeRatio }))

	experiences := make([]types.Experience, 0, len(trades))

	equity := 1.0
	peak := 1.0
	prevPnL := 0.0

	states := make([]types.RLState, len(trades))
	for i, trade := range trades {
		pnl := clip(trade.PnLPercent, -pnlClip, pnlClip)

		equity *= 1 + pnl
		if equity > peak {
			peak = equity
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - equity) / peak
		}

		states[i] = types.RLState{
			Volatility:  volRank[i],
			TrendSign:   trendSign(trade),
			Momentum:    clip(prevPnL, -pnlClip, pnlClip),
			VolumeRatio: volumeRank[i],
			RSI:         0.5, // corpus rows carry no RSI; neutral midpoint
			Confidence:  trade.Confidence,
			Regime:      types.RegimeFeature(trade.Regime),
			Drawdown:    drawdown,
		}
		prevPnL = pnl
	}

	for i, trade := range trades {
		pnl := clip(trade.PnLPercent, -pnlClip, pnlClip)

		next := states[i]
		terminal := i == len(trades)-1
		if !terminal {
			next = states[i+1]
		}

		experiences = append(experiences, types.Experience{
			State:     states[i],
			Action:    historicalAction(trade),
			Reward:    ComputeReward(pnl, achievedRiskReward(trade), states[i].Drawdown, trade.HoldingDuration.Hours()),
			NextState: next,
			Terminal:  terminal,
		})
	}

	return experiences, nil
}

// historicalAction reconstructs the action taken for a historical trade. The
// corpus does not record multipliers, so replay trains against the neutral
// baseline adjusted by the outcome's realized risk/reward.
func historicalAction(trade types.TradeRecord) types.RLAction {
	return types.RLAction{
		SizeMultiplier:       1.0,
		StopLossMultiplier:   1.0,
		TakeProfitMultiplier: 1.0,
		RiskRewardRatio:      clamp(achievedRiskReward(trade), minRiskReward, maxRiskReward),
	}
}

// achievedRiskReward estimates the realized risk/reward of a closed trade from
// its PnL and volatility ratio; volatile entries are assumed to have risked more.
func achievedRiskReward(trade types.TradeRecord) float64 {
	risk := 0.01 * math.Max(trade.VolatilityRatio, 0.5)
	if risk <= 0 {
		return 0
	}
	rr := math.Abs(trade.PnLPercent) / risk
	if trade.PnLPercent < 0 {
		return 0
	}
	return rr
}

func trendSign(trade types.TradeRecord) float64 {
	switch trade.Regime {
	case types.RegimeBull:
		return 1
	case types.RegimeBear:
		return -1
	default:
		return 0
	}
}

// percentileRanks returns, for each value, its percentile rank in [0,1]
// across the whole slice. Ties share the rank of their first occurrence.
func percentileRanks(values []float64) []float64 {
	n := len(values)
	ranks := make([]float64, n)
	if n == 0 {
		return ranks
	}
	if n == 1 {
		ranks[0] = 0.5
		return ranks
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	for i, v := range values {
		idx := sort.SearchFloat64s(sorted, v)
		ranks[i] = float64(idx) / float64(n-1)
	}
	return ranks
}

func extract(trades []types.TradeRecord, field func(types.TradeRecord) float64) []float64 {
	out := make([]float64, len(trades))
	for i, t := range trades {
		out[i] = field(t)
	}
	return out
}

func clip(v, lo, hi float64) float64 {
	return clamp(v, lo, hi)
}
