package amplifier

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quantforge/risk-engine/pkg/config"
	"github.com/quantforge/risk-engine/pkg/types"
)

// Quality score weights
const (
	strengthWeight   = 0.4
	confidenceWeight = 0.3
	agreementWeight  = 0.3
)

// Win-rate boost tiers for traders with a proven edge
const (
	boostTier1WinRate = 0.60
	boostTier2WinRate = 0.65
	boostTier3WinRate = 0.70
)

// PositionAction is the amplifier's verdict for one ranked open position
type PositionAction string

const (
	ActionPyramid PositionAction = "PYRAMID"
	ActionHold    PositionAction = "HOLD"
	ActionReduce  PositionAction = "REDUCE"
	ActionClose   PositionAction = "CLOSE"
)

// HoldPlan extends or shortens the holding window for an open position
type HoldPlan struct {
	MaxHold             time.Duration
	TrailingStopPercent float64
	Reason              string
}

// PositionRank scores one open position and assigns its action
type PositionRank struct {
	Symbol string
	Score  float64
	Action PositionAction
	Reason string
}

// Amplifier computes pyramiding and extended-hold decisions for profitable
// positions: strong signals from traders with a real edge get scaled up and
// held longer, weak or losing positions get cut short.
type Amplifier struct {
	cfg    config.AmplifierConfig
	logger *zap.Logger
}

// NewAmplifier creates a win amplifier
func NewAmplifier(cfg config.AmplifierConfig, logger *zap.Logger) *Amplifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Amplifier{cfg: cfg, logger: logger}
}

// ScaleMultiplier maps signal quality and historical win rate onto a position
// scale factor, capped at the configured overall bounds.
func (a *Amplifier) ScaleMultiplier(sig types.Signal, winRate float64) (float64, []string) {
	reasons := make([]string, 0, 3)

	quality := qualityScore(sig)
	// Linear map of quality [0,1] into [0.5x, 2.0x]
	scale := 0.5 + quality*1.5
	reasons = append(reasons,
		fmt.Sprintf("signal quality %.2f -> base scale %.2fx", quality, scale))

	boost := winRateBoost(winRate)
	if boost > 1 {
		scale *= boost
		reasons = append(reasons,
			fmt.Sprintf("historical win rate %.1f%% -> %.1fx boost", winRate*100, boost))
	}

	capped := clamp(scale, a.cfg.MinScale, a.cfg.MaxScale)
	if capped != scale {
		reasons = append(reasons,
			fmt.Sprintf("scale capped into [%.1fx, %.1fx]", a.cfg.MinScale, a.cfg.MaxScale))
	}
	return capped, reasons
}

// Quality returns the weighted quality score for a signal in [0,1]
func (a *Amplifier) Quality(sig types.Signal) float64 {
	return qualityScore(sig)
}

// HoldDecision computes the holding plan for an open position. Winners get up
// to triple the base hold with a wide trailing stop; losers get their window
// halved and a tight stop.
func (a *Amplifier) HoldDecision(pos types.Position) HoldPlan {
	base := time.Duration(a.cfg.BaseHoldHours) * time.Hour
	maxHold := time.Duration(a.cfg.MaxHoldHours) * time.Hour

	pnl := pos.PnLPercent()
	if pnl > 0 {
		extended := 3 * base
		if extended > maxHold {
			extended = maxHold
		}
		return HoldPlan{
			MaxHold:             extended,
			TrailingStopPercent: a.cfg.WinnerTrailPercent,
			Reason: fmt.Sprintf("%s up %.2f%%, extending hold to %s with %.0f%% trail",
				pos.Symbol, pnl*100, extended, a.cfg.WinnerTrailPercent*100),
		}
	}
	return HoldPlan{
		MaxHold:             base / 2,
		TrailingStopPercent: a.cfg.LoserTrailPercent,
		Reason: fmt.Sprintf("%s down %.2f%%, shortening hold to %s with %.0f%% trail",
			pos.Symbol, -pnl*100, base/2, a.cfg.LoserTrailPercent*100),
	}
}

// RankPositions scores every open position by a weighted blend of signal
// quality, PnL and age, and assigns each one an action. quality maps symbol to
// the latest signal quality in [0,1]; missing symbols score neutral.
func (a *Amplifier) RankPositions(positions []types.Position, quality map[string]float64, now time.Time) []PositionRank {
	ranks := make([]PositionRank, 0, len(positions))
	maxHold := time.Duration(a.cfg.MaxHoldHours) * time.Hour

	for _, pos := range positions {
		q, ok := quality[pos.Symbol]
		if !ok {
			q = 0.5
		}

		pnl := pos.PnLPercent()
		pnlScore := clamp(0.5+pnl*10, 0, 1) // +/-5% maps to the full range

		age := pos.Age(now)
		ageScore := 1 - clamp(age.Hours()/maxHold.Hours(), 0, 1)

		score := 0.4*q + 0.4*pnlScore + 0.2*ageScore

		rank := PositionRank{Symbol: pos.Symbol, Score: score}
		switch {
		case pnl > 0.02 && q >= 0.7:
			rank.Action = ActionPyramid
			rank.Reason = fmt.Sprintf("up %.2f%% with quality %.2f, add to the winner", pnl*100, q)
		case pnl >= 0:
			rank.Action = ActionHold
			rank.Reason = fmt.Sprintf("flat-to-positive at %.2f%%, keep holding", pnl*100)
		case pnl > -0.02 && q >= 0.5:
			rank.Action = ActionReduce
			rank.Reason = fmt.Sprintf("down %.2f%% but quality %.2f intact, trim", -pnl*100, q)
		default:
			rank.Action = ActionClose
			rank.Reason = fmt.Sprintf("down %.2f%% with quality %.2f, exit", -pnl*100, q)
		}
		ranks = append(ranks, rank)
	}

	sort.Slice(ranks, func(i, j int) bool { return ranks[i].Score > ranks[j].Score })
	return ranks
}

// qualityScore is the weighted blend of signal strength, confidence and
// cross-signal agreement.
func qualityScore(sig types.Signal) float64 {
	score := strengthWeight*clamp(sig.Strength, 0, 1) +
		confidenceWeight*clamp(sig.Confidence, 0, 1) +
		agreementWeight*clamp(sig.AgreementScore, 0, 1)
	return clamp(score, 0, 1)
}

func winRateBoost(winRate float64) float64 {
	switch {
	case winRate > boostTier3WinRate:
		return 1.3
	case winRate > boostTier2WinRate:
		return 1.2
	case winRate > boostTier1WinRate:
		return 1.1
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
