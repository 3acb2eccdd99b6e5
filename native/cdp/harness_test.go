package cdp

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"stablevault/core/state"
	"stablevault/core/types"
	"stablevault/crypto"
	"stablevault/native/bank"
	"stablevault/storage"
)

type fakeFeed struct {
	decimals  uint8
	answer    *big.Int
	updatedAt time.Time
	round     uint64
	err       error
}

func (f *fakeFeed) Decimals() uint8 { return f.decimals }

func (f *fakeFeed) LatestRoundData(context.Context) (RoundData, error) {
	if f.err != nil {
		return RoundData{}, f.err
	}
	return RoundData{
		RoundID:         f.round,
		Answer:          f.answer,
		StartedAt:       f.updatedAt,
		UpdatedAt:       f.updatedAt,
		AnsweredInRound: f.round,
	}, nil
}

// setPrice publishes a whole-dollar price with 8 decimals.
func (f *fakeFeed) setPrice(usd int64, at time.Time) {
	f.answer = new(big.Int).Mul(big.NewInt(usd), big.NewInt(100_000_000))
	f.updatedAt = at
	f.round++
}

type recordingSink struct {
	mu     sync.Mutex
	events []*types.Event
}

func (s *recordingSink) Publish(_ context.Context, events []*types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, evt := range s.events {
		out[i] = evt.Type
	}
	return out
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	now     time.Time
	mgr     *state.Manager
	ledger  *bank.Ledger
	coin    *bank.Stablecoin
	token   *bank.Token
	feed    *fakeFeed
	asset   crypto.Address
	custody crypto.Address
	sink    *recordingSink
	engine  *Engine
}

func makeAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = b
	return crypto.NewAddress(prefix, raw)
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	h := &harness{
		t:       t,
		ctx:     context.Background(),
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		mgr:     state.NewManager(db),
		asset:   makeAddress(crypto.AssetPrefix, 0x01),
		custody: crypto.ModuleAddress("cdp"),
		sink:    &recordingSink{},
	}
	h.ledger = bank.NewLedger(h.mgr)
	var err error
	h.token, err = h.ledger.RegisterToken("WETH", h.asset)
	if err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	h.coin, err = h.ledger.RegisterStablecoin("SVUSD", makeAddress(crypto.AssetPrefix, 0xee), h.custody)
	if err != nil {
		t.Fatalf("register stablecoin: %v", err)
	}
	h.feed = &fakeFeed{decimals: FeedDecimals}
	h.feed.setPrice(1000, h.now)

	registry, err := NewRegistry(
		[]crypto.Address{h.asset},
		[]PriceFeed{h.feed},
		[]CollateralToken{h.token.As(h.custody)},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	opts = append([]Option{
		WithClock(func() time.Time { return h.now }),
		WithEventSink(h.sink),
	}, opts...)
	h.engine = NewEngine(h.custody, registry, h.coin.As(h.custody), opts...)
	h.engine.SetState(h.mgr)
	return h
}

// fund gives user collateral tokens and approves custody to pull them and
// any stablecoin the user holds.
func (h *harness) fund(user crypto.Address, amount types.Wad) {
	h.t.Helper()
	err := h.ledger.Apply(func() error {
		if err := h.token.Genesis(user, amount); err != nil {
			return err
		}
		if err := h.token.Approve(user, h.custody, types.MaxWad()); err != nil {
			return err
		}
		return h.coin.Approve(user, h.custody, types.MaxWad())
	})
	if err != nil {
		h.t.Fatalf("fund %s: %v", user, err)
	}
}

func (h *harness) setPrice(usd int64) {
	h.feed.setPrice(usd, h.now)
}

func (h *harness) collateral(user crypto.Address) types.Wad {
	h.t.Helper()
	value, err := h.engine.CollateralBalance(user, h.asset)
	if err != nil {
		h.t.Fatalf("collateral: %v", err)
	}
	return value
}

func (h *harness) debt(user crypto.Address) types.Wad {
	h.t.Helper()
	value, err := h.engine.Debt(user)
	if err != nil {
		h.t.Fatalf("debt: %v", err)
	}
	return value
}

func (h *harness) tokenBalance(holder crypto.Address) types.Wad {
	h.t.Helper()
	value, err := h.token.BalanceOf(holder)
	if err != nil {
		h.t.Fatalf("token balance: %v", err)
	}
	return value
}

func (h *harness) stableBalance(holder crypto.Address) types.Wad {
	h.t.Helper()
	value, err := h.coin.BalanceOf(holder)
	if err != nil {
		h.t.Fatalf("stablecoin balance: %v", err)
	}
	return value
}

func (h *harness) healthFactor(user crypto.Address) types.Wad {
	h.t.Helper()
	value, err := h.engine.HealthFactor(h.ctx, user)
	if err != nil {
		h.t.Fatalf("health factor: %v", err)
	}
	return value
}

func requireWad(t *testing.T, label string, got, want types.Wad) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Fatalf("%s: got %s, want %s", label, got, want)
	}
}
