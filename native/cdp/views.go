package cdp

import (
	"context"
	"time"

	"stablevault/core/types"
	"stablevault/crypto"
)

// AccountInformation returns user's debt and total collateral value.
func (e *Engine) AccountInformation(ctx context.Context, user crypto.Address) (types.Wad, types.Wad, error) {
	debt, err := e.Debt(user)
	if err != nil {
		return types.Wad{}, types.Wad{}, err
	}
	value, err := e.AccountValue(ctx, user)
	if err != nil {
		return types.Wad{}, types.Wad{}, err
	}
	return debt, value, nil
}

// CollateralBalance returns user's deposited quantity of asset.
func (e *Engine) CollateralBalance(user, asset crypto.Address) (types.Wad, error) {
	return e.Collateral(user, asset)
}

// CollateralTokens lists the supported assets in configuration order.
func (e *Engine) CollateralTokens() []crypto.Address {
	if e == nil {
		return nil
	}
	return e.registry.Assets()
}

func (e *Engine) PriceFeedOf(asset crypto.Address) (PriceFeed, error) {
	if e == nil {
		return nil, errNilState
	}
	return e.registry.Feed(asset)
}

// CollateralTokenPrice returns the validated feed price (8 decimals) and
// the time it was reported.
func (e *Engine) CollateralTokenPrice(ctx context.Context, asset crypto.Address) (types.Wad, time.Time, error) {
	if e == nil || e.registry == nil {
		return types.Wad{}, time.Time{}, errNilState
	}
	return e.latestPrice(ctx, asset)
}

func (e *Engine) Constants() Constants {
	if e == nil {
		return DefaultConstants()
	}
	return e.constants
}

func (e *Engine) Stablecoin() Stablecoin {
	if e == nil {
		return nil
	}
	return e.stablecoin
}

// Custody returns the address holding deposited collateral.
func (e *Engine) Custody() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.custody
}

func (e *Engine) Registry() *Registry {
	if e == nil {
		return nil
	}
	return e.registry
}
