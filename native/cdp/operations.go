package cdp

import (
	"context"
	"fmt"

	"stablevault/core/types"
	"stablevault/crypto"
)

// Deposit pulls quantity of asset from caller into custody and credits the
// caller's collateral.
func (e *Engine) Deposit(ctx context.Context, caller, asset crypto.Address, quantity types.Wad) error {
	return e.execute(ctx, "deposit", func(ctx context.Context) error {
		return e.deposit(caller, asset, quantity)
	})
}

// Mint credits caller's debt, checks the health factor and only then asks
// the stablecoin ledger to mint.
func (e *Engine) Mint(ctx context.Context, caller crypto.Address, quantity types.Wad) error {
	return e.execute(ctx, "mint", func(ctx context.Context) error {
		return e.mint(ctx, caller, quantity)
	})
}

// DepositAndMint deposits collateral and mints against it in one call.
func (e *Engine) DepositAndMint(ctx context.Context, caller, asset crypto.Address, quantity, mintQuantity types.Wad) error {
	return e.execute(ctx, "deposit_and_mint", func(ctx context.Context) error {
		if err := e.deposit(caller, asset, quantity); err != nil {
			return err
		}
		return e.mint(ctx, caller, mintQuantity)
	})
}

// Redeem returns quantity of asset from custody to caller. The caller must
// remain safe afterwards.
func (e *Engine) Redeem(ctx context.Context, caller, asset crypto.Address, quantity types.Wad) error {
	return e.execute(ctx, "redeem", func(ctx context.Context) error {
		if err := e.redeem(asset, quantity, caller, caller); err != nil {
			return err
		}
		return e.assertSafe(ctx, caller)
	})
}

// Burn repays quantity of caller's debt with the caller's stablecoin.
func (e *Engine) Burn(ctx context.Context, caller crypto.Address, quantity types.Wad) error {
	return e.execute(ctx, "burn", func(ctx context.Context) error {
		if err := e.burn(quantity, caller, caller); err != nil {
			return err
		}
		return e.assertSafe(ctx, caller)
	})
}

// RedeemForPayment burns debt and then redeems collateral in one call.
func (e *Engine) RedeemForPayment(ctx context.Context, caller, asset crypto.Address, collateralQuantity, burnQuantity types.Wad) error {
	return e.execute(ctx, "redeem_for_payment", func(ctx context.Context) error {
		if collateralQuantity.IsZero() {
			return ErrZeroAmount
		}
		if _, err := e.registry.Token(asset); err != nil {
			return err
		}
		if err := e.burn(burnQuantity, caller, caller); err != nil {
			return err
		}
		if err := e.redeem(asset, collateralQuantity, caller, caller); err != nil {
			return err
		}
		return e.assertSafe(ctx, caller)
	})
}

func (e *Engine) deposit(user, asset crypto.Address, quantity types.Wad) error {
	if quantity.IsZero() {
		return ErrZeroAmount
	}
	token, err := e.registry.Token(asset)
	if err != nil {
		return err
	}
	if err := e.creditCollateral(user, asset, quantity); err != nil {
		return err
	}
	e.emit(collateralDepositedEvent(user, asset, quantity))
	if !token.TransferFrom(user, e.custody, quantity) {
		return fmt.Errorf("%w: pull %s of %s from %s", ErrTransferFailed, quantity, asset, user)
	}
	return nil
}

func (e *Engine) mint(ctx context.Context, user crypto.Address, quantity types.Wad) error {
	if quantity.IsZero() {
		return ErrZeroAmount
	}
	if err := e.creditDebt(user, quantity); err != nil {
		return err
	}
	if err := e.assertSafe(ctx, user); err != nil {
		return err
	}
	if e.stablecoin == nil || !e.stablecoin.Mint(user, quantity) {
		return fmt.Errorf("%w: %s to %s", ErrMintFailed, quantity, user)
	}
	e.emit(debtMintedEvent(user, quantity))
	return nil
}

// redeem moves collateral from one position to an external recipient. It
// performs no health check of its own.
func (e *Engine) redeem(asset crypto.Address, quantity types.Wad, from, to crypto.Address) error {
	if quantity.IsZero() {
		return ErrZeroAmount
	}
	token, err := e.registry.Token(asset)
	if err != nil {
		return err
	}
	if err := e.debitCollateral(from, asset, quantity); err != nil {
		return err
	}
	e.emit(collateralRedeemedEvent(from, to, asset, quantity))
	if !token.Transfer(to, quantity) {
		return fmt.Errorf("%w: push %s of %s to %s", ErrTransferFailed, quantity, asset, to)
	}
	return nil
}

// burn reduces onBehalfOf's debt using stablecoin supplied by payer.
func (e *Engine) burn(quantity types.Wad, onBehalfOf, payer crypto.Address) error {
	if quantity.IsZero() {
		return ErrZeroAmount
	}
	if e.stablecoin == nil {
		return fmt.Errorf("%w: stablecoin not configured", ErrTransferFailed)
	}
	if err := e.debitDebt(onBehalfOf, quantity); err != nil {
		return err
	}
	if !e.stablecoin.TransferFrom(payer, e.custody, quantity) {
		return fmt.Errorf("%w: pull %s stablecoin from %s", ErrTransferFailed, quantity, payer)
	}
	if err := e.stablecoin.Burn(quantity); err != nil {
		return fmt.Errorf("%w: %w", ErrBurnFailed, err)
	}
	e.emit(debtBurnedEvent(onBehalfOf, payer, quantity))
	return nil
}
