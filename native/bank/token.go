package bank

import (
	"errors"
	"fmt"
	"strings"

	"stablevault/core/types"
	"stablevault/crypto"
)

var (
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrZeroAddress           = errors.New("bank: zero address")
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrUnknownToken          = errors.New("bank: unknown token")
	ErrTokenExists           = errors.New("bank: token already registered")
)

type ledgerState interface {
	TokenBalance(token, holder crypto.Address) (types.Wad, error)
	SetTokenBalance(token, holder crypto.Address, amount types.Wad) error
	TokenAllowance(token, owner, spender crypto.Address) (types.Wad, error)
	SetTokenAllowance(token, owner, spender crypto.Address, amount types.Wad) error
	TokenSupply(token crypto.Address) (types.Wad, error)
	SetTokenSupply(token crypto.Address, amount types.Wad) error
	Snapshot() int
	RevertToSnapshot(id int) error
	Commit() error
}

// Token is a fungible balance ledger with allowances, persisted through the
// shared state manager.
type Token struct {
	state   ledgerState
	symbol  string
	address crypto.Address
}

func newToken(state ledgerState, symbol string, address crypto.Address) *Token {
	return &Token{state: state, symbol: strings.ToUpper(strings.TrimSpace(symbol)), address: address}
}

func (t *Token) Symbol() string { return t.symbol }

func (t *Token) Address() crypto.Address { return t.address }

func (t *Token) BalanceOf(holder crypto.Address) (types.Wad, error) {
	return t.state.TokenBalance(t.address, holder)
}

func (t *Token) Allowance(owner, spender crypto.Address) (types.Wad, error) {
	return t.state.TokenAllowance(t.address, owner, spender)
}

func (t *Token) TotalSupply() (types.Wad, error) {
	return t.state.TokenSupply(t.address)
}

// Approve sets the quantity spender may move out of owner's balance.
func (t *Token) Approve(owner, spender crypto.Address, amount types.Wad) error {
	if owner.IsZero() || spender.IsZero() {
		return ErrZeroAddress
	}
	return t.state.SetTokenAllowance(t.address, owner, spender, amount)
}

// Transfer moves amount from one holder to another.
func (t *Token) Transfer(from, to crypto.Address, amount types.Wad) error {
	if from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	fromBalance, err := t.state.TokenBalance(t.address, from)
	if err != nil {
		return err
	}
	remaining, err := fromBalance.Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %s holds %s %s, need %s", ErrInsufficientBalance, from, fromBalance, t.symbol, amount)
	}
	if err := t.state.SetTokenBalance(t.address, from, remaining); err != nil {
		return err
	}
	toBalance, err := t.state.TokenBalance(t.address, to)
	if err != nil {
		return err
	}
	credited, err := toBalance.Add(amount)
	if err != nil {
		return err
	}
	return t.state.SetTokenBalance(t.address, to, credited)
}

// TransferFrom moves amount from one holder to another on behalf of spender,
// consuming the allowance.
func (t *Token) TransferFrom(spender, from, to crypto.Address, amount types.Wad) error {
	allowance, err := t.state.TokenAllowance(t.address, from, spender)
	if err != nil {
		return err
	}
	remaining, err := allowance.Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %s may spend %s %s of %s, need %s", ErrInsufficientAllowance, spender, allowance, t.symbol, from, amount)
	}
	if err := t.state.SetTokenAllowance(t.address, from, spender, remaining); err != nil {
		return err
	}
	return t.Transfer(from, to, amount)
}

// Genesis credits holder with newly created supply during boot.
func (t *Token) Genesis(holder crypto.Address, amount types.Wad) error {
	return t.mint(holder, amount)
}

func (t *Token) mint(to crypto.Address, amount types.Wad) error {
	if to.IsZero() {
		return ErrZeroAddress
	}
	if amount.IsZero() {
		return ErrInvalidAmount
	}
	supply, err := t.state.TokenSupply(t.address)
	if err != nil {
		return err
	}
	if supply, err = supply.Add(amount); err != nil {
		return err
	}
	balance, err := t.state.TokenBalance(t.address, to)
	if err != nil {
		return err
	}
	if balance, err = balance.Add(amount); err != nil {
		return err
	}
	if err := t.state.SetTokenSupply(t.address, supply); err != nil {
		return err
	}
	return t.state.SetTokenBalance(t.address, to, balance)
}

// As returns a view of the token acting as caller.
func (t *Token) As(caller crypto.Address) *TokenView {
	return &TokenView{token: t, caller: caller}
}

// TokenView exposes the boolean transfer contract consumed by the engine.
// Every failure is reported as false.
type TokenView struct {
	token  *Token
	caller crypto.Address
}

func (v *TokenView) TransferFrom(from, to crypto.Address, amount types.Wad) bool {
	return v.token.TransferFrom(v.caller, from, to, amount) == nil
}

func (v *TokenView) Transfer(to crypto.Address, amount types.Wad) bool {
	return v.token.Transfer(v.caller, to, amount) == nil
}
