package engine

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quantforge/risk-engine/internal/amplifier"
	"github.com/quantforge/risk-engine/internal/portfolio"
	"github.com/quantforge/risk-engine/internal/risk"
	"github.com/quantforge/risk-engine/internal/rl"
	"github.com/quantforge/risk-engine/internal/safety"
	"github.com/quantforge/risk-engine/internal/sizing"
	"github.com/quantforge/risk-engine/pkg/types"
)

// Status is the overall severity of one evaluation cycle
type Status string

const (
	StatusNormal   Status = "NORMAL"
	StatusWarning  Status = "WARNING"
	StatusSevere   Status = "SEVERE"
	StatusCritical Status = "CRITICAL"
)

var statusRank = map[Status]int{
	StatusNormal:   0,
	StatusWarning:  1,
	StatusSevere:   2,
	StatusCritical: 3,
}

// Size reductions applied on top of the consensus by overall status
const (
	warningSizeFactor = 0.75
	severeSizeFactor  = 0.50
)

// PositionDirective is one per-position instruction in a decision
type PositionDirective struct {
	Symbol string
	Action amplifier.PositionAction
	Reason string
}

// ExecutionDecision is the single output of one evaluation cycle. It is always
// produced, even under fatal risk conditions: blocked trading arrives as a
// zero size and CanOpenNewPosition=false, never as an error.
type ExecutionDecision struct {
	CanOpenNewPosition bool
	PositionActions    []PositionDirective
	PositionSize       float64
	OverallStatus      Status
	Summary            string
}

// ExperienceSink receives completed-trade experiences for learning
type ExperienceSink interface {
	AddExperience(exp types.Experience)
}

// Manager orchestrates one evaluation cycle: loss limits, drawdown state,
// amplified sizing and per-position actions all merge into one decision.
type Manager struct {
	limiter   *risk.Limiter
	monitor   *risk.Monitor
	amp       *amplifier.Amplifier
	portfolio *portfolio.Manager
	tracker   *Tracker
	validator *safety.Validator
	sink      ExperienceSink
	logger    *zap.Logger
}

// NewManager creates a trade execution manager. sink may be nil when no agent
// is learning from outcomes.
func NewManager(limiter *risk.Limiter, monitor *risk.Monitor, amp *amplifier.Amplifier, pm *portfolio.Manager, sink ExperienceSink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		limiter:   limiter,
		monitor:   monitor,
		amp:       amp,
		portfolio: pm,
		tracker:   NewTracker(),
		validator: safety.NewValidator(),
		sink:      sink,
		logger:    logger,
	}
}

// Tracker exposes the performance tracker for persistence
func (m *Manager) Tracker() *Tracker {
	return m.tracker
}

// EvaluateCycle produces one ExecutionDecision for the given snapshot. signal
// and stats may be nil when no new entry is proposed this cycle. Validation
// failures are the only errors; every risk condition becomes a decision value.
func (m *Manager) EvaluateCycle(snapshot types.PortfolioSnapshot, signal *types.Signal, stats *types.PatternStats) (ExecutionDecision, error) {
	if err := m.validator.ValidateSnapshot(snapshot); err != nil {
		return ExecutionDecision{}, err
	}
	if signal != nil {
		if err := m.validator.ValidateSignal(*signal); err != nil {
			return ExecutionDecision{}, err
		}
	}

	decision := ExecutionDecision{OverallStatus: StatusNormal}
	reasons := make([]string, 0, 8)

	// Loss circuit breaker over today's realized results
	loss := m.limiter.Check(snapshot)
	if !loss.CanTrade {
		decision.OverallStatus = worse(decision.OverallStatus, StatusSevere)
		reasons = append(reasons, loss.Reasons...)
	}

	// Drawdown state machine over current portfolio value
	state := m.monitor.Update(snapshot.TotalValue)
	ddAction := m.monitor.Action(state)
	decision.OverallStatus = worse(decision.OverallStatus, drawdownStatus(state.Level))
	if ddAction.ReduceFraction > 0 {
		reasons = append(reasons, ddAction.Reason)
	}

	decision.CanOpenNewPosition = loss.CanTrade && ddAction.CanOpenNewPosition &&
		decision.OverallStatus != StatusCritical

	// Proposed entry: consensus size amplified by signal quality
	if signal != nil && decision.CanOpenNewPosition {
		size, sizeReasons, err := m.sizeEntry(*signal, stats, snapshot, state)
		if err != nil {
			return ExecutionDecision{}, err
		}
		decision.PositionSize = m.applyStatusReduction(size, decision.OverallStatus, &reasons)
		reasons = append(reasons, sizeReasons...)
	}

	// Per-position actions
	decision.PositionActions = m.evaluatePositions(snapshot, signal, ddAction, &reasons)

	decision.Summary = summarize(decision, reasons)

	m.logger.Info("evaluation cycle complete",
		zap.String("status", string(decision.OverallStatus)),
		zap.Bool("can_open", decision.CanOpenNewPosition),
		zap.Float64("position_size", decision.PositionSize),
		zap.Int("position_actions", len(decision.PositionActions)))

	return decision, nil
}

// sizeEntry runs the consensus path for a proposed entry and amplifies the
// approved size by signal quality and historical win rate.
func (m *Manager) sizeEntry(signal types.Signal, stats *types.PatternStats, snapshot types.PortfolioSnapshot, state risk.DrawdownState) (float64, []string, error) {
	req := sizing.Request{
		Symbol:          signal.Symbol,
		Confidence:      signal.Confidence,
		Direction:       signal.Direction,
		Balance:         snapshot.TotalValue,
		Price:           signal.Price,
		ATR:             signal.ATR,
		Regime:          signal.Regime,
		Pattern:         signal.Pattern,
		CurrentDrawdown: state.DrawdownPercent,
	}

	consensus, err := m.portfolio.GetPositionSizingConsensus(req, stats, snapshot)
	if err != nil {
		return 0, nil, err
	}
	if !consensus.Approved {
		return 0, consensus.Reasoning, nil
	}

	scale, scaleReasons := m.amp.ScaleMultiplier(signal, m.tracker.Metrics().WinRate)
	size := consensus.FinalSize * scale

	reasons := append(consensus.Reasoning, scaleReasons...)
	reasons = append(reasons, fmt.Sprintf("Amplified consensus %.2f x %.2f = %.2f", consensus.FinalSize, scale, size))

	// Amplification never pierces the portfolio caps the consensus enforced
	hardCap := minSize(consensus.PortfolioLimitedSize, consensus.CorrelationLimitedSize, consensus.TotalLimitedSize)
	hardCap *= consensus.DrawdownMultiplier
	if size > hardCap {
		size = hardCap
		reasons = append(reasons, fmt.Sprintf("Amplified size clamped to the portfolio cap %.2f", hardCap))
	}
	return size, reasons, nil
}

// applyStatusReduction successively shrinks the entry size as overall health
// degrades: 25% off on warning, 50% off on severe, zeroed on critical.
func (m *Manager) applyStatusReduction(size float64, status Status, reasons *[]string) float64 {
	switch status {
	case StatusWarning:
		*reasons = append(*reasons, "warning status, entry size reduced 25%")
		return size * warningSizeFactor
	case StatusSevere:
		*reasons = append(*reasons, "severe status, entry size reduced 50%")
		return size * severeSizeFactor
	case StatusCritical:
		*reasons = append(*reasons, "critical status, no entry")
		return 0
	default:
		return size
	}
}

// evaluatePositions merges hard/soft stop flags, the pre-emptive close and
// the amplifier ranking into one directive per open position.
func (m *Manager) evaluatePositions(snapshot types.PortfolioSnapshot, signal *types.Signal, ddAction risk.DrawdownAction, reasons *[]string) []PositionDirective {
	if len(snapshot.OpenPositions) == 0 {
		return nil
	}

	directives := make(map[string]PositionDirective, len(snapshot.OpenPositions))

	// Amplifier ranking is the baseline action for everything. The cycle's
	// signal supplies the quality score for its own symbol; the rest rank
	// against the neutral default.
	quality := make(map[string]float64, len(snapshot.OpenPositions))
	if signal != nil {
		quality[signal.Symbol] = m.amp.Quality(*signal)
	}
	now := snapshot.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	for _, rank := range m.amp.RankPositions(snapshot.OpenPositions, quality, now) {
		directives[rank.Symbol] = PositionDirective{
			Symbol: rank.Symbol,
			Action: rank.Action,
			Reason: rank.Reason,
		}
	}

	// Liquidation overrides everything below
	if ddAction.ReduceFraction >= 1 {
		for sym := range directives {
			directives[sym] = PositionDirective{Symbol: sym, Action: amplifier.ActionClose, Reason: ddAction.Reason}
		}
	} else if ddAction.ReduceFraction > 0 {
		for sym, d := range directives {
			if d.Action == amplifier.ActionHold || d.Action == amplifier.ActionPyramid {
				directives[sym] = PositionDirective{Symbol: sym, Action: amplifier.ActionReduce, Reason: ddAction.Reason}
			}
		}
	}

	// Hard stops force closure regardless of ranking
	for _, pos := range snapshot.OpenPositions {
		flag := m.limiter.CheckPosition(pos)
		if flag.ForceClose {
			directives[pos.Symbol] = PositionDirective{Symbol: pos.Symbol, Action: amplifier.ActionClose, Reason: flag.Reason}
			*reasons = append(*reasons, flag.Reason)
		} else if flag.SoftStop {
			if d, ok := directives[pos.Symbol]; ok && d.Action != amplifier.ActionClose {
				directives[pos.Symbol] = PositionDirective{Symbol: pos.Symbol, Action: amplifier.ActionReduce, Reason: flag.Reason}
			}
		}
	}

	// Defend the daily cap before it breaches
	if worst, ok := m.limiter.PreemptiveClose(snapshot); ok {
		reason := fmt.Sprintf("closing worst performer %s to defend the daily loss cap", worst.Symbol)
		directives[worst.Symbol] = PositionDirective{Symbol: worst.Symbol, Action: amplifier.ActionClose, Reason: reason}
		*reasons = append(*reasons, reason)
	}

	out := make([]PositionDirective, 0, len(directives))
	for _, pos := range snapshot.OpenPositions {
		if d, ok := directives[pos.Symbol]; ok {
			out = append(out, d)
		}
	}
	return out
}

// RecordTradeOutcome feeds a closed trade into performance tracking and, when
// a learning sink is attached, into the replay buffer.
func (m *Manager) RecordTradeOutcome(trade types.TradeRecord) {
	m.tracker.Record(trade)

	if m.sink != nil {
		st := types.RLState{
			Volatility:  clamp01(trade.VolatilityRatio / 2),
			TrendSign:   types.RegimeFeature(trade.Regime),
			Momentum:    clampSym(trade.PnLPercent),
			VolumeRatio: clamp01(trade.VolumeRatio / 2),
			RSI:         0.5,
			Confidence:  trade.Confidence,
			Regime:      types.RegimeFeature(trade.Regime),
		}
		m.sink.AddExperience(types.Experience{
			State:     st,
			Action:    types.RLAction{SizeMultiplier: 1, StopLossMultiplier: 1, TakeProfitMultiplier: 1, RiskRewardRatio: 2},
			Reward:    rewardFor(trade),
			NextState: st,
			Terminal:  true,
		})
	}
}

// GetMetrics returns the aggregate performance metrics
func (m *Manager) GetMetrics() Metrics {
	return m.tracker.Metrics()
}

func drawdownStatus(level risk.DrawdownLevel) Status {
	switch level {
	case risk.DrawdownWarning:
		return StatusWarning
	case risk.DrawdownSevere:
		return StatusSevere
	case risk.DrawdownCritical:
		return StatusCritical
	default:
		return StatusNormal
	}
}

func worse(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

func summarize(decision ExecutionDecision, reasons []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "status=%s can_open=%t size=%.2f", decision.OverallStatus, decision.CanOpenNewPosition, decision.PositionSize)
	if len(decision.PositionActions) > 0 {
		parts := make([]string, 0, len(decision.PositionActions))
		for _, d := range decision.PositionActions {
			parts = append(parts, fmt.Sprintf("%s:%s", d.Symbol, d.Action))
		}
		fmt.Fprintf(&sb, " actions=[%s]", strings.Join(parts, " "))
	}
	if len(reasons) > 0 {
		fmt.Fprintf(&sb, " | %s", strings.Join(reasons, "; "))
	}
	return sb.String()
}

// rewardFor scores a finished trade for the learning sink. Risk/reward and
// intra-trade drawdown are not tracked on live outcomes, so only PnL and
// holding time contribute.
func rewardFor(trade types.TradeRecord) float64 {
	return rl.ComputeReward(trade.PnLPercent, 0, 0, trade.HoldingDuration.Hours())
}

func minSize(values ...float64) float64 {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSym(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
