package bank

import (
	"errors"
	"fmt"

	"stablevault/core/types"
	"stablevault/crypto"
)

var (
	ErrNotOwner           = errors.New("bank: caller is not the owner")
	ErrBurnExceedsBalance = errors.New("bank: burn amount exceeds balance")
)

// Stablecoin is a token whose supply only its owner may change.
type Stablecoin struct {
	*Token
	owner crypto.Address
}

func (s *Stablecoin) Owner() crypto.Address { return s.owner }

// Mint creates amount for to. Only the owner may mint.
func (s *Stablecoin) Mint(caller, to crypto.Address, amount types.Wad) error {
	if caller != s.owner {
		return ErrNotOwner
	}
	return s.mint(to, amount)
}

// Burn destroys amount from the owner's own balance.
func (s *Stablecoin) Burn(caller crypto.Address, amount types.Wad) error {
	if caller != s.owner {
		return ErrNotOwner
	}
	if amount.IsZero() {
		return ErrInvalidAmount
	}
	balance, err := s.BalanceOf(s.owner)
	if err != nil {
		return err
	}
	remaining, err := balance.Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: owner holds %s, burn %s", ErrBurnExceedsBalance, balance, amount)
	}
	supply, err := s.TotalSupply()
	if err != nil {
		return err
	}
	if supply, err = supply.Sub(amount); err != nil {
		return err
	}
	if err := s.state.SetTokenBalance(s.address, s.owner, remaining); err != nil {
		return err
	}
	return s.state.SetTokenSupply(s.address, supply)
}

// As returns the view used by the engine when it acts as caller.
func (s *Stablecoin) As(caller crypto.Address) *StablecoinView {
	return &StablecoinView{coin: s, caller: caller}
}

type StablecoinView struct {
	coin   *Stablecoin
	caller crypto.Address
}

func (v *StablecoinView) Mint(to crypto.Address, amount types.Wad) bool {
	return v.coin.Mint(v.caller, to, amount) == nil
}

func (v *StablecoinView) Burn(amount types.Wad) error {
	return v.coin.Burn(v.caller, amount)
}

func (v *StablecoinView) TransferFrom(from, to crypto.Address, amount types.Wad) bool {
	return v.coin.TransferFrom(v.caller, from, to, amount) == nil
}
