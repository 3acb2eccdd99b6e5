package bank

import (
	"errors"
	"fmt"

	"stablevault/crypto"
)

// Ledger owns every token the daemon serves, all backed by one state manager.
type Ledger struct {
	state      ledgerState
	tokens     map[crypto.Address]*Token
	order      []crypto.Address
	stablecoin *Stablecoin
}

func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state, tokens: make(map[crypto.Address]*Token)}
}

// RegisterToken adds a collateral token ledger.
func (l *Ledger) RegisterToken(symbol string, address crypto.Address) (*Token, error) {
	if address.IsZero() {
		return nil, ErrZeroAddress
	}
	if _, exists := l.tokens[address]; exists {
		return nil, fmt.Errorf("%w: %s", ErrTokenExists, address)
	}
	token := newToken(l.state, symbol, address)
	l.tokens[address] = token
	l.order = append(l.order, address)
	return token, nil
}

// RegisterStablecoin adds the pegged token owned by owner.
func (l *Ledger) RegisterStablecoin(symbol string, address, owner crypto.Address) (*Stablecoin, error) {
	if owner.IsZero() {
		return nil, ErrZeroAddress
	}
	if l.stablecoin != nil {
		return nil, fmt.Errorf("%w: stablecoin %s", ErrTokenExists, l.stablecoin.Address())
	}
	token, err := l.RegisterToken(symbol, address)
	if err != nil {
		return nil, err
	}
	l.stablecoin = &Stablecoin{Token: token, owner: owner}
	return l.stablecoin, nil
}

func (l *Ledger) Token(address crypto.Address) (*Token, error) {
	token, ok := l.tokens[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, address)
	}
	return token, nil
}

// Tokens returns every registered token in registration order.
func (l *Ledger) Tokens() []*Token {
	out := make([]*Token, 0, len(l.order))
	for _, addr := range l.order {
		out = append(out, l.tokens[addr])
	}
	return out
}

func (l *Ledger) Stablecoin() *Stablecoin { return l.stablecoin }

// Apply runs fn against the state and commits its writes, or reverts all of
// them when fn fails.
func (l *Ledger) Apply(fn func() error) error {
	snapshot := l.state.Snapshot()
	if err := fn(); err != nil {
		if revertErr := l.state.RevertToSnapshot(snapshot); revertErr != nil {
			return errors.Join(err, revertErr)
		}
		return err
	}
	if err := l.state.Commit(); err != nil {
		if revertErr := l.state.RevertToSnapshot(snapshot); revertErr != nil {
			return errors.Join(err, revertErr)
		}
		return err
	}
	return nil
}
