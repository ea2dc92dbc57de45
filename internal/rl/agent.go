package rl

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	engerr "github.com/quantforge/risk-engine/internal/errors"
	"github.com/quantforge/risk-engine/pkg/config"
	"github.com/quantforge/risk-engine/pkg/types"
)

// Action bounds. The agent can scale a baseline position between half and
// double size; stops and targets move within the same conservative band.
const (
	minSizeMultiplier = 0.5
	maxSizeMultiplier = 2.0
	minStopMultiplier = 0.5
	maxStopMultiplier = 2.0
	minTPMultiplier   = 0.5
	maxTPMultiplier   = 3.0
	minRiskReward     = 1.0
	maxRiskReward     = 4.0
)

// actionDims indexes the four outputs of the approximator
const (
	dimSize = iota
	dimStop
	dimTakeProfit
	dimRiskReward
	actionDims
)

// Agent learns size/stop/target multipliers from past trade outcomes. It keeps
// a bounded experience replay buffer and a linear approximator mapping the
// 8-feature state vector to the four action multipliers.
//
// Shared state (buffer and weights) is guarded by mu; training runs are
// serialized by trainMu so concurrent replay calls queue instead of racing.
type Agent struct {
	cfg    config.RLConfig
	logger *zap.Logger

	mu      sync.RWMutex
	buffer  []types.Experience
	weights [actionDims][types.StateSize + 1]float64 // +1 bias term
	trained int

	trainMu sync.Mutex
	rng     *rand.Rand
}

// NewAgent creates a position agent with neutral initial behavior: before any
// training the agent returns 1.0x multipliers and a 2:1 risk/reward baseline.
func NewAgent(cfg config.RLConfig, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	a := &Agent{
		cfg:    cfg,
		logger: logger,
		buffer: make([]types.Experience, 0, cfg.BufferCapacity),
		rng:    rand.New(rand.NewSource(seed)),
	}

	// Neutral biases; weights start at zero
	a.weights[dimSize][types.StateSize] = 1.0
	a.weights[dimStop][types.StateSize] = 1.0
	a.weights[dimTakeProfit][types.StateSize] = 1.0
	a.weights[dimRiskReward][types.StateSize] = 2.0

	return a
}

// SelectAction returns the learned action for a state. With explore=false the
// result is fully deterministic; production sizing always runs with
// exploration disabled.
func (a *Agent) SelectAction(state types.RLState, explore bool) types.RLAction {
	a.mu.RLock()
	action := a.evaluate(state)
	a.mu.RUnlock()

	if explore {
		a.trainMu.Lock()
		action.SizeMultiplier += (a.rng.Float64() - 0.5) * a.cfg.Epsilon
		action.StopLossMultiplier += (a.rng.Float64() - 0.5) * a.cfg.Epsilon
		action.TakeProfitMultiplier += (a.rng.Float64() - 0.5) * a.cfg.Epsilon
		action.RiskRewardRatio += (a.rng.Float64() - 0.5) * a.cfg.Epsilon
		a.trainMu.Unlock()
		action = clampAction(action)
	}
	return action
}

// evaluate computes the clamped linear model output. Caller holds mu.
func (a *Agent) evaluate(state types.RLState) types.RLAction {
	features := state.Vector()
	var out [actionDims]float64
	for dim := 0; dim < actionDims; dim++ {
		sum := a.weights[dim][types.StateSize] // bias
		for i, f := range features {
			sum += a.weights[dim][i] * f
		}
		out[dim] = sum
	}
	return clampAction(types.RLAction{
		SizeMultiplier:       out[dimSize],
		StopLossMultiplier:   out[dimStop],
		TakeProfitMultiplier: out[dimTakeProfit],
		RiskRewardRatio:      out[dimRiskReward],
	})
}

// AddExperience appends a completed-trade experience to the replay buffer,
// evicting the oldest entry once capacity is reached.
func (a *Agent) AddExperience(exp types.Experience) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buffer) >= a.cfg.BufferCapacity {
		copy(a.buffer, a.buffer[1:])
		a.buffer = a.buffer[:len(a.buffer)-1]
	}
	a.buffer = append(a.buffer, exp)
}

// BufferLen returns the current replay buffer size
func (a *Agent) BufferLen() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.buffer)
}

// ReplayExperience performs one learning update over a sampled batch. It is a
// batch operation: callers run it from a background job, never inline on the
// decision path. Concurrent invocations are serialized.
func (a *Agent) ReplayExperience(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = a.cfg.ReplayBatch
	}

	a.trainMu.Lock()
	defer a.trainMu.Unlock()

	a.mu.RLock()
	available := len(a.buffer)
	a.mu.RUnlock()

	if available < a.cfg.MinReplaySize {
		return engerr.NewInsufficientDataError("rl", "replay_experience", available, a.cfg.MinReplaySize)
	}
	if batchSize > available {
		batchSize = available
	}

	for n := 0; n < batchSize; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		a.mu.Lock()
		exp := a.buffer[a.rng.Intn(len(a.buffer))]
		a.learn(exp)
		a.trained++
		a.mu.Unlock()
	}

	a.logger.Debug("replay update complete",
		zap.Int("batch_size", batchSize),
		zap.Int("buffer_len", available))
	return nil
}

// learn applies one bounded gradient step for a single experience. The target
// pulls each output toward the action actually taken, shifted by the reward:
// profitable outcomes reinforce the taken multipliers, losses push away from
// them. Caller holds mu.
func (a *Agent) learn(exp types.Experience) {
	features := exp.State.Vector()
	predicted := a.evaluate(exp.State)

	shift := clamp(exp.Reward*0.1, -0.5, 0.5)
	targets := [actionDims]float64{
		dimSize:       clamp(exp.Action.SizeMultiplier+shift, minSizeMultiplier, maxSizeMultiplier),
		dimStop:       clamp(exp.Action.StopLossMultiplier-shift*0.5, minStopMultiplier, maxStopMultiplier),
		dimTakeProfit: clamp(exp.Action.TakeProfitMultiplier+shift, minTPMultiplier, maxTPMultiplier),
		dimRiskReward: clamp(exp.Action.RiskRewardRatio+shift, minRiskReward, maxRiskReward),
	}
	outputs := [actionDims]float64{
		dimSize:       predicted.SizeMultiplier,
		dimStop:       predicted.StopLossMultiplier,
		dimTakeProfit: predicted.TakeProfitMultiplier,
		dimRiskReward: predicted.RiskRewardRatio,
	}

	for dim := 0; dim < actionDims; dim++ {
		errTerm := targets[dim] - outputs[dim]
		for i, f := range features {
			a.weights[dim][i] += a.cfg.LearningRate * errTerm * f
		}
		a.weights[dim][types.StateSize] += a.cfg.LearningRate * errTerm
	}
}

// Snapshot captures the agent's learned state for persistence. The buffer tail
// is capped so snapshots stay small.
func (a *Agent) Snapshot(maxBuffer int) AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	state := AgentState{
		Weights: a.weights,
		Trained: a.trained,
	}
	start := 0
	if maxBuffer > 0 && len(a.buffer) > maxBuffer {
		start = len(a.buffer) - maxBuffer
	}
	state.Buffer = append(state.Buffer, a.buffer[start:]...)
	return state
}

// Restore replaces the agent's learned state from a snapshot
func (a *Agent) Restore(state AgentState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.weights = state.Weights
	a.trained = state.Trained
	a.buffer = a.buffer[:0]
	for _, exp := range state.Buffer {
		if len(a.buffer) >= a.cfg.BufferCapacity {
			break
		}
		a.buffer = append(a.buffer, exp)
	}
}

// AgentState is the serializable learned state of the agent
type AgentState struct {
	Weights [actionDims][types.StateSize + 1]float64 `json:"weights"`
	Buffer  []types.Experience                       `json:"buffer"`
	Trained int                                      `json:"trained"`
}

func clampAction(action types.RLAction) types.RLAction {
	return types.RLAction{
		SizeMultiplier:       clamp(action.SizeMultiplier, minSizeMultiplier, maxSizeMultiplier),
		StopLossMultiplier:   clamp(action.StopLossMultiplier, minStopMultiplier, maxStopMultiplier),
		TakeProfitMultiplier: clamp(action.TakeProfitMultiplier, minTPMultiplier, maxTPMultiplier),
		RiskRewardRatio:      clamp(action.RiskRewardRatio, minRiskReward, maxRiskReward),
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
