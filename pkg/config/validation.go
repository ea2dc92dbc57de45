package config

import "fmt"

// Validate checks every configured bound for internal consistency
func (c *EngineConfig) Validate() error {
	if c.Sizing.KellyFraction <= 0 || c.Sizing.KellyFraction > 1 {
		return fmt.Errorf("config: kelly_fraction must lie in (0,1], got %.4f", c.Sizing.KellyFraction)
	}
	if c.Sizing.MinPositionPercent <= 0 {
		return fmt.Errorf("config: min_position_percent must be positive, got %.4f", c.Sizing.MinPositionPercent)
	}
	if c.Sizing.MaxPositionPercent <= c.Sizing.MinPositionPercent {
		return fmt.Errorf("config: max_position_percent %.4f must exceed min_position_percent %.4f",
			c.Sizing.MaxPositionPercent, c.Sizing.MinPositionPercent)
	}
	if c.Sizing.ATRWindow < 1 {
		return fmt.Errorf("config: atr_window must be at least 1, got %d", c.Sizing.ATRWindow)
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if c.Loss.MaxDailyLossPercent <= 0 || c.Loss.MaxDailyLossPercent >= 1 {
		return fmt.Errorf("config: loss max_daily_loss_percent must lie in (0,1), got %.4f", c.Loss.MaxDailyLossPercent)
	}
	if c.Loss.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("config: max_consecutive_losses must be at least 1, got %d", c.Loss.MaxConsecutiveLosses)
	}
	if c.Loss.SoftStopPercent >= c.Loss.HardStopPercent {
		return fmt.Errorf("config: soft_stop_percent %.4f must be below hard_stop_percent %.4f",
			c.Loss.SoftStopPercent, c.Loss.HardStopPercent)
	}
	if c.Loss.PreemptThreshold <= 0 || c.Loss.PreemptThreshold > 1 {
		return fmt.Errorf("config: preempt_threshold must lie in (0,1], got %.4f", c.Loss.PreemptThreshold)
	}
	if c.Amplifier.MinScale <= 0 || c.Amplifier.MaxScale <= c.Amplifier.MinScale {
		return fmt.Errorf("config: amplifier scale bounds invalid: min %.2f max %.2f",
			c.Amplifier.MinScale, c.Amplifier.MaxScale)
	}
	if c.Amplifier.MaxHoldHours < c.Amplifier.BaseHoldHours {
		return fmt.Errorf("config: max_hold_hours %d must be at least base_hold_hours %d",
			c.Amplifier.MaxHoldHours, c.Amplifier.BaseHoldHours)
	}
	if c.RL.BufferCapacity < 1 {
		return fmt.Errorf("config: rl buffer_capacity must be positive, got %d", c.RL.BufferCapacity)
	}
	if c.RL.ReplayBatch < 1 || c.RL.ReplayBatch > c.RL.BufferCapacity {
		return fmt.Errorf("config: rl replay_batch %d must lie in [1, buffer_capacity]", c.RL.ReplayBatch)
	}
	if c.RL.LearningRate <= 0 || c.RL.LearningRate >= 1 {
		return fmt.Errorf("config: rl learning_rate must lie in (0,1), got %.4f", c.RL.LearningRate)
	}
	if c.RL.Epsilon < 0 || c.RL.Epsilon > 1 {
		return fmt.Errorf("config: rl epsilon must lie in [0,1], got %.4f", c.RL.Epsilon)
	}
	if c.Correlation.Threshold <= 0 || c.Correlation.Threshold > 1 {
		return fmt.Errorf("config: correlation threshold must lie in (0,1], got %.4f", c.Correlation.Threshold)
	}
	if c.Defaults.WinRate <= 0 || c.Defaults.WinRate >= 1 {
		return fmt.Errorf("config: default win_rate must lie in (0,1), got %.4f", c.Defaults.WinRate)
	}
	if c.Defaults.AvgWin <= 0 || c.Defaults.AvgLoss <= 0 {
		return fmt.Errorf("config: default avg_win and avg_loss must be positive")
	}
	return nil
}

// Validate checks a risk limit set; used both at load time and on runtime updates
func (r RiskLimits) Validate() error {
	if r.MaxPortfolioDrawdown <= 0 || r.MaxPortfolioDrawdown >= 1 {
		return fmt.Errorf("config: max_portfolio_drawdown must lie in (0,1), got %.4f", r.MaxPortfolioDrawdown)
	}
	if r.MaxSinglePositionPercent <= 0 || r.MaxSinglePositionPercent > 1 {
		return fmt.Errorf("config: max_single_position_percent must lie in (0,1], got %.4f", r.MaxSinglePositionPercent)
	}
	if r.MaxCorrelatedExposure <= 0 || r.MaxCorrelatedExposure > 1 {
		return fmt.Errorf("config: max_correlated_exposure must lie in (0,1], got %.4f", r.MaxCorrelatedExposure)
	}
	if r.MaxTotalExposure <= 0 || r.MaxTotalExposure > 1 {
		return fmt.Errorf("config: max_total_exposure must lie in (0,1], got %.4f", r.MaxTotalExposure)
	}
	if r.MaxDailyLossPercent <= 0 || r.MaxDailyLossPercent >= 1 {
		return fmt.Errorf("config: max_daily_loss_percent must lie in (0,1), got %.4f", r.MaxDailyLossPercent)
	}
	return nil
}
