package cdp

import (
	"context"

	"stablevault/core/types"
	"stablevault/crypto"
)

var (
	thresholdRatio   = types.NewWad(LiquidationThreshold)
	thresholdDivisor = types.NewWad(LiquidationPrecision)
)

// CalculateHealthFactor derives the health factor from a debt and a
// collateral value. Zero debt yields the maximum representable value.
func CalculateHealthFactor(debt, collateralValue types.Wad) (types.Wad, error) {
	if debt.IsZero() {
		return types.MaxWad(), nil
	}
	adjusted, err := collateralValue.MulDiv(thresholdRatio, thresholdDivisor)
	if err != nil {
		return types.Wad{}, err
	}
	return adjusted.MulDiv(precision, debt)
}

// HealthFactor re-reads the ledger and the oracle for user.
func (e *Engine) HealthFactor(ctx context.Context, user crypto.Address) (types.Wad, error) {
	debt, value, err := e.AccountInformation(ctx, user)
	if err != nil {
		return types.Wad{}, err
	}
	return CalculateHealthFactor(debt, value)
}

// assertSafe fails when user's health factor is below the minimum. Equality
// passes.
func (e *Engine) assertSafe(ctx context.Context, user crypto.Address) error {
	factor, err := e.HealthFactor(ctx, user)
	if err != nil {
		return err
	}
	if factor.Lt(minHealthFactor) {
		return &BreaksHealthFactorError{Value: factor}
	}
	return nil
}
