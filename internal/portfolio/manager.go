package portfolio

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	engerr "github.com/quantforge/risk-engine/internal/errors"
	"github.com/quantforge/risk-engine/internal/risk"
	"github.com/quantforge/risk-engine/internal/sizing"
	"github.com/quantforge/risk-engine/pkg/config"
	"github.com/quantforge/risk-engine/pkg/types"
)

// drawdownReductionTrigger is the portfolio drawdown beyond which the final
// consensus size is halved
const drawdownReductionTrigger = 0.10

// Consensus is the per-decision sizing record: every constraint's size, the
// final minimum, and the reasoning trail. It is created fresh per request and
// never mutated after return.
type Consensus struct {
	KellySize              float64
	RLSize                 float64
	PortfolioLimitedSize   float64
	CorrelationLimitedSize float64
	TotalLimitedSize       float64
	FinalSize              float64
	DrawdownMultiplier     float64
	Approved               bool
	Reasoning              []string
}

// Manager owns the open-position arena and reconciles sizer output against
// portfolio-wide exposure, correlation and drawdown constraints.
type Manager struct {
	limits      *config.LimitStore
	sizer       *sizing.Sizer
	drawdown    *risk.Monitor
	correlation CorrelationAnalyzer
	logger      *zap.Logger

	mu        sync.RWMutex
	positions map[string]*types.Position
}

// NewManager creates a portfolio risk manager
func NewManager(limits *config.LimitStore, sizer *sizing.Sizer, drawdown *risk.Monitor, correlation CorrelationAnalyzer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		limits:      limits,
		sizer:       sizer,
		drawdown:    drawdown,
		correlation: correlation,
		logger:      logger,
		positions:   make(map[string]*types.Position),
	}
}

// OpenPosition registers a new position in the arena
func (m *Manager) OpenPosition(pos types.Position) error {
	if pos.Symbol == "" {
		return engerr.NewValidationError("portfolio", "open_position", "symbol is empty")
	}
	if pos.Size <= 0 || math.IsNaN(pos.Size) || math.IsInf(pos.Size, 0) {
		return engerr.NewValidationError("portfolio", "open_position",
			fmt.Sprintf("size must be positive and finite, got %v", pos.Size))
	}

	key := strings.ToUpper(pos.Symbol)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[key]; exists {
		return engerr.New(engerr.ErrorCategoryValidation, "portfolio", "open_position",
			fmt.Sprintf("position for %s already open", key))
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now()
	}
	m.positions[key] = &pos

	m.logger.Info("position opened",
		zap.String("symbol", key),
		zap.String("side", string(pos.Side)),
		zap.Float64("size", pos.Size))
	return nil
}

// UpdatePrice applies a price tick to an open position
func (m *Manager) UpdatePrice(symbol string, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[strings.ToUpper(symbol)]; ok {
		pos.CurrentPrice = price
	}
}

// ClosePosition removes a position from the arena and returns it
func (m *Manager) ClosePosition(symbol string) (types.Position, bool) {
	key := strings.ToUpper(symbol)

	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[key]
	if !ok {
		return types.Position{}, false
	}
	delete(m.positions, key)

	m.logger.Info("position closed",
		zap.String("symbol", key),
		zap.Float64("pnl_percent", pos.PnLPercent()*100))
	return *pos, true
}

// ReducePosition shrinks an open position to newSize, removing it from the
// arena when the new size is not positive.
func (m *Manager) ReducePosition(symbol string, newSize float64) bool {
	key := strings.ToUpper(symbol)

	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[key]
	if !ok {
		return false
	}
	if newSize <= 0 || math.IsNaN(newSize) {
		delete(m.positions, key)
		return true
	}
	pos.Size = newSize

	m.logger.Info("position reduced",
		zap.String("symbol", key),
		zap.Float64("size", newSize))
	return true
}

// Positions returns a copy of all open positions, sorted by symbol
func (m *Manager) Positions() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TotalExposure returns the summed size of all open positions
func (m *Manager) TotalExposure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0.0
	for _, pos := range m.positions {
		total += pos.Size
	}
	return total
}

// CorrelatedExposure sums the open exposure in symbols correlated with the
// target. Missing correlation data degrades to zero exposure; the caller notes
// the fallback in its reasoning trace.
func (m *Manager) CorrelatedExposure(symbol string) (float64, []string) {
	correlated := m.correlation.CorrelatedSymbols(symbol)
	if len(correlated) == 0 {
		return 0, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0.0
	held := make([]string, 0, len(correlated))
	for _, other := range correlated {
		if pos, ok := m.positions[strings.ToUpper(other)]; ok {
			total += pos.Size
			held = append(held, pos.Symbol)
		}
	}
	return total, held
}

// GetPositionSizingConsensus reconciles the dynamic sizer's output against the
// portfolio limits and produces the final approved size. A breached daily loss
// cap short-circuits to a zero size; a critical drawdown blocks approval. Both
// outcomes are decision values, not errors.
func (m *Manager) GetPositionSizingConsensus(req sizing.Request, stats *types.PatternStats, snapshot types.PortfolioSnapshot) (Consensus, error) {
	limits := m.limits.Get()

	consensus := Consensus{
		DrawdownMultiplier: 1.0,
		Reasoning:          make([]string, 0, 8),
	}

	// Fatal condition: the daily loss cap is already gone. No sizing happens.
	realized := snapshot.RealizedTodayPercent()
	if realized < 0 && -realized >= limits.MaxDailyLossPercent {
		consensus.Reasoning = append(consensus.Reasoning,
			fmt.Sprintf("daily loss %.2f%% breaches the %.2f%% cap, no new positions today",
				-realized*100, limits.MaxDailyLossPercent*100))
		return consensus, nil
	}

	result, err := m.sizer.Calculate(req, stats)
	if err != nil {
		return Consensus{}, err
	}
	consensus.Reasoning = append(consensus.Reasoning, result.Reasoning...)

	consensus.KellySize = req.Balance * result.KellyFraction
	consensus.RLSize = result.Size

	// Single-position cap
	consensus.PortfolioLimitedSize = req.Balance * limits.MaxSinglePositionPercent
	consensus.Reasoning = append(consensus.Reasoning,
		fmt.Sprintf("Single-position cap %.1f%% allows %.2f",
			limits.MaxSinglePositionPercent*100, consensus.PortfolioLimitedSize))

	// Correlated-exposure headroom
	correlatedExposure, held := m.CorrelatedExposure(req.Symbol)
	headroom := req.Balance*limits.MaxCorrelatedExposure - correlatedExposure
	if headroom < 0 {
		headroom = 0
	}
	consensus.CorrelationLimitedSize = headroom
	if len(held) > 0 {
		consensus.Reasoning = append(consensus.Reasoning,
			fmt.Sprintf("Correlated exposure %.2f in %s leaves %.2f headroom",
				correlatedExposure, strings.Join(held, ", "), headroom))
	} else {
		consensus.Reasoning = append(consensus.Reasoning,
			"No correlated exposure data, assuming zero correlated exposure")
	}

	// Total-exposure headroom
	totalHeadroom := req.Balance*limits.MaxTotalExposure - m.TotalExposure()
	if totalHeadroom < 0 {
		totalHeadroom = 0
	}
	consensus.TotalLimitedSize = totalHeadroom

	// Drawdown state gates the whole consensus
	state := m.drawdown.Update(snapshot.TotalValue)
	action := m.drawdown.Action(state)
	if state.DrawdownPercent > drawdownReductionTrigger {
		consensus.DrawdownMultiplier = 0.5
		consensus.Reasoning = append(consensus.Reasoning,
			fmt.Sprintf("Drawdown %.1f%% above %.0f%%, halving final size",
				state.DrawdownPercent*100, drawdownReductionTrigger*100))
	}

	final := minOf(consensus.KellySize, consensus.RLSize, consensus.PortfolioLimitedSize, consensus.CorrelationLimitedSize, consensus.TotalLimitedSize)
	final *= consensus.DrawdownMultiplier
	consensus.FinalSize = final

	consensus.Approved = final > 0 && action.CanOpenNewPosition
	if !action.CanOpenNewPosition {
		consensus.Reasoning = append(consensus.Reasoning, action.Reason)
	}
	consensus.Reasoning = append(consensus.Reasoning,
		fmt.Sprintf("Final consensus size %.2f (approved=%t)", final, consensus.Approved))

	m.logger.Debug("sizing consensus",
		zap.String("symbol", req.Symbol),
		zap.Float64("final_size", final),
		zap.Bool("approved", consensus.Approved))

	return consensus, nil
}

func minOf(values ...float64) float64 {
	min := math.Inf(1)
	for _, v := range values {
		if v < min {
			min = v
		}
	}
	return min
}
