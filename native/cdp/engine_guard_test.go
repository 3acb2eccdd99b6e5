package cdp

import (
	"context"
	"errors"
	"testing"
	"time"

	"stablevault/core/types"
	"stablevault/crypto"
)

// reentrantToken calls back into the engine from inside a transfer.
type reentrantToken struct {
	inner    CollateralToken
	engine   *Engine
	attacker crypto.Address
	asset    crypto.Address
	reentry  error
	attempts int
}

func (r *reentrantToken) TransferFrom(from, to crypto.Address, amount types.Wad) bool {
	r.attempts++
	r.reentry = r.engine.Deposit(context.Background(), r.attacker, r.asset, amount)
	return r.inner.TransferFrom(from, to, amount)
}

func (r *reentrantToken) Transfer(to crypto.Address, amount types.Wad) bool {
	r.attempts++
	r.reentry = r.engine.Redeem(context.Background(), r.attacker, r.asset, amount)
	return r.inner.Transfer(to, amount)
}

func TestReentrantCallRejected(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x10)
	h.fund(user, types.Whole(5))

	token := &reentrantToken{inner: h.token.As(h.custody), attacker: user, asset: h.asset}
	reg, err := NewRegistry([]crypto.Address{h.asset}, []PriceFeed{h.feed}, []CollateralToken{token})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	engine := NewEngine(h.custody, reg, h.coin.As(h.custody), WithEventSink(h.sink))
	engine.SetState(h.mgr)
	engine.clock = func() time.Time { return h.now }
	token.engine = engine

	if err := engine.Deposit(h.ctx, user, h.asset, types.Whole(5)); err != nil {
		t.Fatalf("outer deposit: %v", err)
	}
	if !errors.Is(token.reentry, ErrReentrantCall) {
		t.Fatalf("expected nested deposit to be rejected, got %v", token.reentry)
	}
	collateral, _ := engine.Collateral(user, h.asset)
	requireWad(t, "collateral credited once", collateral, types.Whole(5))

	if err := engine.Redeem(h.ctx, user, h.asset, types.Whole(5)); err != nil {
		t.Fatalf("outer redeem: %v", err)
	}
	if !errors.Is(token.reentry, ErrReentrantCall) {
		t.Fatalf("expected nested redeem to be rejected, got %v", token.reentry)
	}
	if engine.guard.Held() {
		t.Fatalf("guard must be released after the call")
	}
	if token.attempts != 2 {
		t.Fatalf("unexpected transfer attempts %d", token.attempts)
	}
}

func TestGuardReleasedAfterFailure(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x10)
	if err := h.engine.Deposit(h.ctx, user, h.asset, types.Whole(1)); err == nil {
		t.Fatalf("expected unfunded deposit to fail")
	}
	if h.engine.guard.Held() {
		t.Fatalf("guard must be released on error paths")
	}
	h.fund(user, types.Whole(1))
	if err := h.engine.Deposit(h.ctx, user, h.asset, types.Whole(1)); err != nil {
		t.Fatalf("deposit after failure: %v", err)
	}
}

type failingSink struct{ calls int }

func (s *failingSink) Publish(context.Context, []*types.Event) error {
	s.calls++
	return errors.New("sink offline")
}

func TestSinkFailureDoesNotRollBack(t *testing.T) {
	h := newHarness(t)
	sink := &failingSink{}
	h.engine.AddEventSink(sink)
	user := makeAddress(crypto.AccountPrefix, 0x10)
	h.fund(user, types.Whole(1))
	if err := h.engine.Deposit(h.ctx, user, h.asset, types.Whole(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("expected failing sink to be called once, got %d", sink.calls)
	}
	requireWad(t, "collateral", h.collateral(user), types.Whole(1))
	if got := h.sink.eventTypes(); len(got) != 1 || got[0] != EventCollateralDeposited {
		t.Fatalf("other sinks should still receive events, got %v", got)
	}
	if h.mgr.Pending() != 0 {
		t.Fatalf("expected committed state")
	}
}

func TestEventsCarryAttributes(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x10)
	h.fund(user, types.Whole(10))
	if err := h.engine.DepositAndMint(h.ctx, user, h.asset, types.Whole(10), types.Whole(10)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	if len(h.sink.events) != 2 {
		t.Fatalf("expected two events, got %d", len(h.sink.events))
	}
	deposited := h.sink.events[0]
	if deposited.Attributes["user"] != user.String() || deposited.Attributes["asset"] != h.asset.String() {
		t.Fatalf("unexpected deposit attributes %v", deposited.Attributes)
	}
	minted := h.sink.events[1]
	if minted.Type != EventDebtMinted || minted.Attributes["amount"] != types.Whole(10).String() {
		t.Fatalf("unexpected mint event %+v", minted)
	}
}

func TestReasonMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{err: ErrZeroAmount, want: "zero_amount"},
		{err: &BreaksHealthFactorError{Value: types.NewWad(1)}, want: "breaks_health_factor"},
		{err: ErrInsufficientDebt, want: "insufficient_debt"},
		{err: ErrReentrantCall, want: "reentrant_call"},
		{err: errors.New("other"), want: "internal"},
	}
	for _, tc := range cases {
		if got := Reason(tc.err); got != tc.want {
			t.Fatalf("reason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
