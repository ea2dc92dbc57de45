package risk

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DrawdownLevel classifies portfolio health from the distance below the
// high-water mark
type DrawdownLevel string

const (
	DrawdownHealthy  DrawdownLevel = "HEALTHY"
	DrawdownWarning  DrawdownLevel = "WARNING"
	DrawdownSevere   DrawdownLevel = "SEVERE"
	DrawdownCritical DrawdownLevel = "CRITICAL"
)

// Classification thresholds
const (
	warningThreshold   = 0.10
	severeThreshold    = 0.15
	criticalThreshold  = 0.20
	liquidateThreshold = 0.30
)

// DrawdownState is the monitor's view of the portfolio after one update.
// Everything except the high-water mark is recomputed per call.
type DrawdownState struct {
	HighWaterMark   float64
	CurrentValue    float64
	DrawdownPercent float64
	Level           DrawdownLevel
}

// DrawdownAction maps a drawdown state to the position reduction it demands
type DrawdownAction struct {
	ReduceFraction     float64
	CanOpenNewPosition bool
	Reason             string
}

// Monitor tracks the portfolio high-water mark and classifies drawdown. The
// mark is monotonically non-decreasing: no call sequence can lower it. The
// update-then-read sequence runs under one lock so concurrent price ticks
// cannot lose an update.
type Monitor struct {
	logger *zap.Logger

	mu            sync.Mutex
	highWaterMark float64
}

// NewMonitor creates a drawdown monitor with no observed value yet
func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{logger: logger}
}

// RestoreHighWaterMark seeds the mark from persisted state. It still never
// lowers an already-observed mark.
func (m *Monitor) RestoreHighWaterMark(mark float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mark > m.highWaterMark {
		m.highWaterMark = mark
	}
}

// HighWaterMark returns the current mark
func (m *Monitor) HighWaterMark() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highWaterMark
}

// Update observes the current portfolio value, raises the high-water mark if
// needed, and returns the resulting drawdown state.
func (m *Monitor) Update(currentValue float64) DrawdownState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if currentValue > m.highWaterMark {
		m.highWaterMark = currentValue
	}

	state := DrawdownState{
		HighWaterMark: m.highWaterMark,
		CurrentValue:  currentValue,
	}
	if m.highWaterMark > 0 {
		state.DrawdownPercent = (m.highWaterMark - currentValue) / m.highWaterMark
	}
	state.Level = classify(state.DrawdownPercent)

	if state.Level != DrawdownHealthy {
		m.logger.Warn("portfolio below high-water mark",
			zap.Float64("drawdown_percent", state.DrawdownPercent*100),
			zap.String("level", string(state.Level)))
	}
	return state
}

// Action maps a drawdown state onto the required position reduction. Above the
// liquidation band every position must go; the circuit-break band halves the
// book and blocks new entries.
func (m *Monitor) Action(state DrawdownState) DrawdownAction {
	dd := state.DrawdownPercent
	switch {
	case dd > liquidateThreshold:
		return DrawdownAction{
			ReduceFraction:     1.0,
			CanOpenNewPosition: false,
			Reason:             fmt.Sprintf("drawdown %.1f%% beyond liquidation band, close everything", dd*100),
		}
	case dd > criticalThreshold:
		return DrawdownAction{
			ReduceFraction:     0.50,
			CanOpenNewPosition: false,
			Reason:             fmt.Sprintf("drawdown %.1f%% critical, circuit break and halve exposure", dd*100),
		}
	case dd > severeThreshold:
		return DrawdownAction{
			ReduceFraction:     0.33,
			CanOpenNewPosition: true,
			Reason:             fmt.Sprintf("drawdown %.1f%% severe, reduce exposure by a third", dd*100),
		}
	case dd > warningThreshold:
		return DrawdownAction{
			ReduceFraction:     0.25,
			CanOpenNewPosition: true,
			Reason:             fmt.Sprintf("drawdown %.1f%% elevated, trim a quarter", dd*100),
		}
	default:
		return DrawdownAction{
			ReduceFraction:     0,
			CanOpenNewPosition: true,
			Reason:             "drawdown within healthy range",
		}
	}
}

func classify(dd float64) DrawdownLevel {
	switch {
	case dd > criticalThreshold:
		return DrawdownCritical
	case dd > severeThreshold:
		return DrawdownSevere
	case dd > warningThreshold:
		return DrawdownWarning
	default:
		return DrawdownHealthy
	}
}
