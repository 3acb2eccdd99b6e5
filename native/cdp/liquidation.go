package cdp

import (
	"context"
	"fmt"
	"log/slog"

	"stablevault/core/types"
	"stablevault/crypto"
)

var (
	bonusRatio   = types.NewWad(LiquidationBonus)
	bonusDivisor = types.NewWad(LiquidationPrecision)
)

// LiquidationQuote is the collateral seized for covering a given debt.
type LiquidationQuote struct {
	Principal types.Wad `json:"principal"`
	Bonus     types.Wad `json:"bonus"`
	Total     types.Wad `json:"total"`
}

// QuoteLiquidation previews the seizure for debtToCover at the current price
// without touching state.
func (e *Engine) QuoteLiquidation(ctx context.Context, asset crypto.Address, debtToCover types.Wad) (LiquidationQuote, error) {
	if e == nil || e.registry == nil {
		return LiquidationQuote{}, errNilState
	}
	if debtToCover.IsZero() {
		return LiquidationQuote{}, ErrZeroAmount
	}
	principal, err := e.QuantityFromUSD(ctx, asset, debtToCover)
	if err != nil {
		return LiquidationQuote{}, err
	}
	bonus, err := principal.MulDiv(bonusRatio, bonusDivisor)
	if err != nil {
		return LiquidationQuote{}, err
	}
	total, err := principal.Add(bonus)
	if err != nil {
		return LiquidationQuote{}, err
	}
	return LiquidationQuote{Principal: principal, Bonus: bonus, Total: total}, nil
}

// IsLiquidatable reports whether user's health factor is below the minimum.
func (e *Engine) IsLiquidatable(ctx context.Context, user crypto.Address) (bool, error) {
	factor, err := e.HealthFactor(ctx, user)
	if err != nil {
		return false, err
	}
	return factor.Lt(minHealthFactor), nil
}

// Liquidate covers debtToCover of user's debt with the liquidator's
// stablecoin and pays the liquidator the equivalent collateral plus a bonus.
// The call fails unless user is unsafe beforehand and strictly healthier
// afterwards. The liquidator's own health factor is checked last.
func (e *Engine) Liquidate(ctx context.Context, liquidator, asset, user crypto.Address, debtToCover types.Wad) error {
	return e.execute(ctx, "liquidate", func(ctx context.Context) error {
		if debtToCover.IsZero() {
			return ErrZeroAmount
		}
		if !e.registry.Supported(asset) {
			return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
		}
		starting, err := e.HealthFactor(ctx, user)
		if err != nil {
			return err
		}
		if !starting.Lt(minHealthFactor) {
			return fmt.Errorf("%w: %s at %s", ErrHealthFactorOk, user, starting.Text())
		}
		quote, err := e.QuoteLiquidation(ctx, asset, debtToCover)
		if err != nil {
			return err
		}
		if err := e.redeem(asset, quote.Total, user, liquidator); err != nil {
			return err
		}
		if err := e.burn(debtToCover, user, liquidator); err != nil {
			return err
		}
		ending, err := e.HealthFactor(ctx, user)
		if err != nil {
			return err
		}
		if ending.Cmp(starting) <= 0 {
			return fmt.Errorf("%w: %s from %s to %s", ErrHealthFactorNotImproved, user, starting.Text(), ending.Text())
		}
		if err := e.assertSafe(ctx, liquidator); err != nil {
			return err
		}
		e.emit(positionLiquidatedEvent(liquidator, user, asset, quote, debtToCover, starting, ending))
		e.metrics.RecordLiquidation(asset.String())
		e.logger.Info("position liquidated",
			slog.String("liquidator", liquidator.String()),
			slog.String("user", user.String()),
			slog.String("asset", asset.String()),
			slog.String("debt_covered", debtToCover.String()),
			slog.String("collateral_seized", quote.Total.String()))
		return nil
	})
}
