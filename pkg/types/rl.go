package types

// StateSize is the width of the RL feature vector
const StateSize = 8

// RLState is the fixed-width market state observed by the position agent.
// All features are normalized before training so no single feature dominates.
type RLState struct {
	Volatility  float64 `json:"volatility"`
	TrendSign   float64 `json:"trend_sign"`
	Momentum    float64 `json:"momentum"`
	VolumeRatio float64 `json:"volume_ratio"`
	RSI         float64 `json:"rsi"`
	Confidence  float64 `json:"confidence"`
	Regime      float64 `json:"regime"`
	Drawdown    float64 `json:"drawdown"`
}

// Vector returns the state as a fixed-width feature vector
func (s RLState) Vector() [StateSize]float64 {
	return [StateSize]float64{
		s.Volatility,
		s.TrendSign,
		s.Momentum,
		s.VolumeRatio,
		s.RSI,
		s.Confidence,
		s.Regime,
		s.Drawdown,
	}
}

// RegimeFeature encodes a regime label as a numeric feature for the state vector
func RegimeFeature(r Regime) float64 {
	switch r {
	case RegimeBull:
		return 1.0
	case RegimeBear:
		return -1.0
	case RegimeVolatile:
		return 0.5
	default:
		return 0.0
	}
}

// RLAction is the set of multipliers the agent applies to a baseline position
type RLAction struct {
	SizeMultiplier       float64 `json:"size_multiplier"`
	StopLossMultiplier   float64 `json:"stop_loss_multiplier"`
	TakeProfitMultiplier float64 `json:"take_profit_multiplier"`
	RiskRewardRatio      float64 `json:"risk_reward_ratio"`
}

// Experience is one (state, action, reward, nextState, terminal) tuple in the
// replay buffer. Experiences are append-only; the buffer evicts oldest-first.
type Experience struct {
	State     RLState  `json:"state"`
	Action    RLAction `json:"action"`
	Reward    float64  `json:"reward"`
	NextState RLState  `json:"next_state"`
	Terminal  bool     `json:"terminal"`
}
