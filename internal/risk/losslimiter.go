package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quantforge/risk-engine/pkg/config"
	"github.com/quantforge/risk-engine/pkg/types"
)

// LossAssessment is the limiter's verdict over one portfolio snapshot
type LossAssessment struct {
	CanTrade             bool
	DailyLossPercent     float64
	ConsecutiveLosses    int
	MinutesSinceLastLoss float64
	Reasons              []string
}

// PositionFlag marks one open position for forced closure
type PositionFlag struct {
	Symbol     string
	ForceClose bool
	SoftStop   bool
	Reason     string
}

// Limiter enforces per-trade, per-day and streak loss caps. It is a stateless
// evaluator: every check runs over the snapshot it is handed, so concurrent
// cycles cannot observe half-updated counters.
type Limiter struct {
	cfg    config.LossLimits
	logger *zap.Logger
}

// NewLimiter creates a loss limiter
func NewLimiter(cfg config.LossLimits, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{cfg: cfg, logger: logger}
}

// Check evaluates whether new trades may open given today's realized results.
// Trading is blocked when the daily loss cap is breached, when the losing
// streak reaches the configured maximum, or when a streak of at least two
// losses sits inside the cool-down window.
func (l *Limiter) Check(snapshot types.PortfolioSnapshot) LossAssessment {
	assessment := LossAssessment{
		CanTrade: true,
		Reasons:  make([]string, 0, 3),
	}

	assessment.DailyLossPercent = dailyLossPercent(snapshot)
	assessment.ConsecutiveLosses = consecutiveLosses(snapshot.ClosedToday)
	assessment.MinutesSinceLastLoss = minutesSinceLastLoss(snapshot.ClosedToday, snapshot.Timestamp)

	if assessment.DailyLossPercent >= l.cfg.MaxDailyLossPercent {
		assessment.CanTrade = false
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("daily loss %.2f%% breaches the %.2f%% cap",
				assessment.DailyLossPercent*100, l.cfg.MaxDailyLossPercent*100))
	}

	if assessment.ConsecutiveLosses >= l.cfg.MaxConsecutiveLosses {
		assessment.CanTrade = false
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("%d consecutive losses reached the limit of %d",
				assessment.ConsecutiveLosses, l.cfg.MaxConsecutiveLosses))
	}

	if assessment.ConsecutiveLosses >= 2 &&
		assessment.MinutesSinceLastLoss >= 0 &&
		assessment.MinutesSinceLastLoss < float64(l.cfg.CooldownMinutes) {
		assessment.CanTrade = false
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("loss streak %.0f minutes ago, inside the %d minute cool-down",
				assessment.MinutesSinceLastLoss, l.cfg.CooldownMinutes))
	}

	if !assessment.CanTrade {
		l.logger.Warn("loss limiter blocking new trades",
			zap.Float64("daily_loss_percent", assessment.DailyLossPercent*100),
			zap.Int("consecutive_losses", assessment.ConsecutiveLosses),
			zap.Strings("reasons", assessment.Reasons))
	}
	return assessment
}

// CheckPosition flags one open position against the hard and soft stop
// thresholds on unrealized loss.
func (l *Limiter) CheckPosition(pos types.Position) PositionFlag {
	loss := -pos.PnLPercent()
	if loss >= l.cfg.HardStopPercent {
		return PositionFlag{
			Symbol:     pos.Symbol,
			ForceClose: true,
			Reason: fmt.Sprintf("%s unrealized loss %.2f%% beyond hard stop %.2f%%",
				pos.Symbol, loss*100, l.cfg.HardStopPercent*100),
		}
	}
	if loss >= l.cfg.SoftStopPercent {
		return PositionFlag{
			Symbol:   pos.Symbol,
			SoftStop: true,
			Reason: fmt.Sprintf("%s unrealized loss %.2f%% beyond soft stop %.2f%%",
				pos.Symbol, loss*100, l.cfg.SoftStopPercent*100),
		}
	}
	return PositionFlag{Symbol: pos.Symbol}
}

// PreemptiveClose returns the worst-performing open position once today's
// realized loss has consumed the configured fraction of the daily cap, so the
// cap is defended before it is breached.
func (l *Limiter) PreemptiveClose(snapshot types.PortfolioSnapshot) (types.Position, bool) {
	if len(snapshot.OpenPositions) == 0 {
		return types.Position{}, false
	}
	if dailyLossPercent(snapshot) < l.cfg.MaxDailyLossPercent*l.cfg.PreemptThreshold {
		return types.Position{}, false
	}

	positions := make([]types.Position, len(snapshot.OpenPositions))
	copy(positions, snapshot.OpenPositions)
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].PnLPercent() < positions[j].PnLPercent()
	})

	worst := positions[0]
	if worst.PnLPercent() >= 0 {
		return types.Position{}, false
	}
	return worst, true
}

// dailyLossPercent returns today's realized loss as a positive fraction of
// portfolio value; profitable days return 0.
func dailyLossPercent(snapshot types.PortfolioSnapshot) float64 {
	realized := snapshot.RealizedTodayPercent()
	if realized >= 0 {
		return 0
	}
	return math.Abs(realized)
}

// consecutiveLosses scans closed trades from most recent backward until a win
// breaks the streak.
func consecutiveLosses(closed []types.TradeRecord) int {
	streak := 0
	for i := len(closed) - 1; i >= 0; i-- {
		if closed[i].IsWin() {
			break
		}
		streak++
	}
	return streak
}

// minutesSinceLastLoss returns minutes since the most recent losing close, or
// -1 if no loss has closed today.
func minutesSinceLastLoss(closed []types.TradeRecord, now time.Time) float64 {
	for i := len(closed) - 1; i >= 0; i-- {
		if !closed[i].IsWin() {
			if closed[i].ClosedAt.IsZero() || now.IsZero() {
				return 0
			}
			return now.Sub(closed[i].ClosedAt).Minutes()
		}
	}
	return -1
}
