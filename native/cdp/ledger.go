package cdp

import (
	"context"
	"errors"
	"fmt"

	"stablevault/core/types"
	"stablevault/crypto"
)

// Collateral returns the quantity of asset deposited by user.
func (e *Engine) Collateral(user, asset crypto.Address) (types.Wad, error) {
	if e == nil || e.state == nil {
		return types.Wad{}, errNilState
	}
	return e.state.Collateral(user, asset)
}

// Debt returns the stablecoin minted against user's collateral.
func (e *Engine) Debt(user crypto.Address) (types.Wad, error) {
	if e == nil || e.state == nil {
		return types.Wad{}, errNilState
	}
	return e.state.Debt(user)
}

// AccountValue sums the unit-of-account value of every registered asset for
// user. Every asset is priced, including those the user does not hold.
func (e *Engine) AccountValue(ctx context.Context, user crypto.Address) (types.Wad, error) {
	if e == nil || e.state == nil {
		return types.Wad{}, errNilState
	}
	var total types.Wad
	for _, asset := range e.registry.Assets() {
		quantity, err := e.state.Collateral(user, asset)
		if err != nil {
			return types.Wad{}, err
		}
		value, err := e.USDValue(ctx, asset, quantity)
		if err != nil {
			return types.Wad{}, err
		}
		if total, err = total.Add(value); err != nil {
			return types.Wad{}, err
		}
	}
	return total, nil
}

func (e *Engine) creditCollateral(user, asset crypto.Address, quantity types.Wad) error {
	current, err := e.state.Collateral(user, asset)
	if err != nil {
		return err
	}
	next, err := current.Add(quantity)
	if err != nil {
		return err
	}
	return e.state.SetCollateral(user, asset, next)
}

func (e *Engine) debitCollateral(user, asset crypto.Address, quantity types.Wad) error {
	current, err := e.state.Collateral(user, asset)
	if err != nil {
		return err
	}
	next, err := current.Sub(quantity)
	if errors.Is(err, types.ErrUnderflow) {
		return fmt.Errorf("%w: %s holds %s of %s, need %s", ErrInsufficientCollateral, user, current, asset, quantity)
	}
	if err != nil {
		return err
	}
	return e.state.SetCollateral(user, asset, next)
}

func (e *Engine) creditDebt(user crypto.Address, quantity types.Wad) error {
	current, err := e.state.Debt(user)
	if err != nil {
		return err
	}
	next, err := current.Add(quantity)
	if err != nil {
		return err
	}
	return e.state.SetDebt(user, next)
}

func (e *Engine) debitDebt(user crypto.Address, quantity types.Wad) error {
	current, err := e.state.Debt(user)
	if err != nil {
		return err
	}
	next, err := current.Sub(quantity)
	if errors.Is(err, types.ErrUnderflow) {
		return fmt.Errorf("%w: %s owes %s, need %s", ErrInsufficientDebt, user, current, quantity)
	}
	if err != nil {
		return err
	}
	return e.state.SetDebt(user, next)
}
