package rl

import "math"

// Reward weighting. The formula rewards high risk-adjusted, fast-realized
// gains and penalizes drawdown incurred while the position was open.
const (
	rewardPnLWeight      = 10.0 // pnl is a fraction, so 1% gain contributes 0.1
	rewardRRWeight       = 0.5
	rewardDrawdownWeight = 15.0
	rewardHoldingWeight  = 0.2 // per day held
	rewardFloor          = -5.0
	rewardCeil           = 5.0
)

// ComputeReward converts a realized trade outcome into a scalar training
// reward. pnlPercent and maxDrawdown are fractions; holdingHours is the time
// the position was open.
func ComputeReward(pnlPercent, achievedRR, maxDrawdown, holdingHours float64) float64 {
	if math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		return 0
	}
	if achievedRR < 0 {
		achievedRR = 0
	}
	if maxDrawdown < 0 {
		maxDrawdown = 0
	}
	if holdingHours < 0 {
		holdingHours = 0
	}

	reward := pnlPercent*rewardPnLWeight +
		achievedRR*rewardRRWeight -
		maxDrawdown*rewardDrawdownWeight -
		(holdingHours/24.0)*rewardHoldingWeight

	if reward < rewardFloor {
		return rewardFloor
	}
	if reward > rewardCeil {
		return rewardCeil
	}
	return reward
}
