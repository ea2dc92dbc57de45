package safety

import (
	"fmt"
	"math"

	engerr "github.com/quantforge/risk-engine/internal/errors"
	"github.com/quantforge/risk-engine/pkg/types"
)

// Validator guards the engine boundary. Every numeric input from a collaborator
// passes through here before it can reach sizing or risk logic; non-finite or
// out-of-range values are rejected, never coerced.
type Validator struct{}

// NewValidator creates a new boundary validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateFinite rejects NaN and infinite values
func (v *Validator) ValidateFinite(value float64, field string) error {
	if math.IsNaN(value) {
		return engerr.NewValidationError("safety", "validate", fmt.Sprintf("%s is NaN", field))
	}
	if math.IsInf(value, 0) {
		return engerr.NewValidationError("safety", "validate", fmt.Sprintf("%s is infinite", field))
	}
	return nil
}

// ValidatePositive rejects non-finite and non-positive values
func (v *Validator) ValidatePositive(value float64, field string) error {
	if err := v.ValidateFinite(value, field); err != nil {
		return err
	}
	if value <= 0 {
		return engerr.NewValidationError("safety", "validate",
			fmt.Sprintf("%s must be positive, got %.8f", field, value))
	}
	return nil
}

// ValidateNonNegative rejects non-finite and negative values
func (v *Validator) ValidateNonNegative(value float64, field string) error {
	if err := v.ValidateFinite(value, field); err != nil {
		return err
	}
	if value < 0 {
		return engerr.NewValidationError("safety", "validate",
			fmt.Sprintf("%s must not be negative, got %.8f", field, value))
	}
	return nil
}

// ValidateConfidence rejects confidence values outside [0, 1]
func (v *Validator) ValidateConfidence(confidence float64) error {
	if err := v.ValidateFinite(confidence, "confidence"); err != nil {
		return err
	}
	if confidence < 0 || confidence > 1 {
		return engerr.NewValidationError("safety", "validate",
			fmt.Sprintf("confidence must lie in [0,1], got %.4f", confidence))
	}
	return nil
}

// ValidateSignal checks every numeric field of an inbound signal
func (v *Validator) ValidateSignal(sig types.Signal) error {
	if sig.Symbol == "" {
		return engerr.NewValidationError("safety", "validate_signal", "signal symbol is empty")
	}
	if sig.Direction != types.SideLong && sig.Direction != types.SideShort {
		return engerr.NewValidationError("safety", "validate_signal",
			fmt.Sprintf("unknown signal direction %q", sig.Direction))
	}
	if err := v.ValidateConfidence(sig.Confidence); err != nil {
		return err
	}
	if err := v.ValidatePositive(sig.Price, "price"); err != nil {
		return err
	}
	if err := v.ValidateNonNegative(sig.ATR, "atr"); err != nil {
		return err
	}
	if err := v.ValidateNonNegative(sig.Strength, "strength"); err != nil {
		return err
	}
	if err := v.ValidateNonNegative(sig.AgreementScore, "agreement_score"); err != nil {
		return err
	}
	// Stop loss and take profit are optional hints; zero means unset
	if err := v.ValidateNonNegative(sig.StopLoss, "stop_loss"); err != nil {
		return err
	}
	if err := v.ValidateNonNegative(sig.TakeProfit, "take_profit"); err != nil {
		return err
	}
	return nil
}

// ValidateSnapshot checks every numeric field of a portfolio snapshot
func (v *Validator) ValidateSnapshot(snap types.PortfolioSnapshot) error {
	if err := v.ValidatePositive(snap.TotalValue, "total_value"); err != nil {
		return err
	}
	if err := v.ValidateNonNegative(snap.Cash, "cash"); err != nil {
		return err
	}
	for i, pos := range snap.OpenPositions {
		if err := v.ValidatePositive(pos.EntryPrice, fmt.Sprintf("position[%d].entry_price", i)); err != nil {
			return err
		}
		if err := v.ValidatePositive(pos.CurrentPrice, fmt.Sprintf("position[%d].current_price", i)); err != nil {
			return err
		}
		if err := v.ValidateNonNegative(pos.Size, fmt.Sprintf("position[%d].size", i)); err != nil {
			return err
		}
	}
	for i, tr := range snap.ClosedToday {
		if err := v.ValidateFinite(tr.PnLPercent, fmt.Sprintf("closed[%d].pnl_percent", i)); err != nil {
			return err
		}
	}
	for sym, price := range snap.CurrentPrices {
		if err := v.ValidatePositive(price, fmt.Sprintf("price[%s]", sym)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateBalance rejects an account balance that cannot be sized against
func (v *Validator) ValidateBalance(balance float64) error {
	return v.ValidatePositive(balance, "balance")
}
