package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"stablevault/services/cdpd/storage"
)

type fakeSource struct {
	name  string
	quote Quote
	err   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, symbol string) (Quote, error) {
	_ = ctx
	if f.err != nil {
		return Quote{}, f.err
	}
	return f.quote, nil
}

type capturingPublisher struct {
	updates []Update
}

func (c *capturingPublisher) PublishRound(ctx context.Context, update Update) error {
	_ = ctx
	c.updates = append(c.updates, update)
	return nil
}

func openStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.Open(storage.MemoryDSN("oracle_" + t.Name()))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestManagerTickAggregatesMedian(t *testing.T) {
	store := openStore(t)
	now := time.Unix(1700000000, 0)
	srcA := &fakeSource{name: "alpha", quote: Quote{Price: mustRat("1000"), Timestamp: now}}
	srcB := &fakeSource{name: "beta", quote: Quote{Price: mustRat("1200.123456789"), Timestamp: now}}
	srcC := &fakeSource{name: "gamma", quote: Quote{Price: mustRat("1400"), Timestamp: now}}

	agg := NewAggregator("WETH / USD")
	publisher := &capturingPublisher{}
	mgr, err := New(store, []Source{srcA, srcB, srcC}, []Feed{{Symbol: "weth", Aggregator: agg}}, time.Second, time.Minute, 2,
		WithPublisher(publisher),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	round, err := agg.LatestRoundData(context.Background())
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.Answer.Cmp(big.NewInt(120012345678)) != 0 {
		t.Fatalf("unexpected answer %s", round.Answer)
	}
	snap, err := store.LatestSnapshot(context.Background(), "WETH")
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if snap.Median != "1200.12345678" || snap.RoundID != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(publisher.updates) != 1 || publisher.updates[0].Median != "1200.12345678" {
		t.Fatalf("unexpected published updates %+v", publisher.updates)
	}
}

func TestManagerSkipsBadQuotes(t *testing.T) {
	store := openStore(t)
	now := time.Unix(1700000000, 0)
	sources := []Source{
		&fakeSource{name: "down", err: errors.New("timeout")},
		&fakeSource{name: "negative", quote: Quote{Price: mustRat("-5"), Timestamp: now}},
		&fakeSource{name: "future", quote: Quote{Price: mustRat("10"), Timestamp: now.Add(time.Minute)}},
		&fakeSource{name: "expired", quote: Quote{Price: mustRat("10"), Timestamp: now.Add(-2 * time.Minute)}},
		&fakeSource{name: "good", quote: Quote{Price: mustRat("2000"), Timestamp: now}},
	}
	agg := NewAggregator("WETH / USD")
	mgr, err := New(store, sources, []Feed{{Symbol: "WETH", Aggregator: agg}}, time.Second, time.Minute, 2,
		WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err == nil {
		t.Fatalf("expected insufficient feeds error")
	}
	if _, err := agg.LatestRoundData(context.Background()); !errors.Is(err, ErrNoRounds) {
		t.Fatalf("no round should be pushed without quorum, got %v", err)
	}

	mgr.minFeeds = 1
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	round, err := agg.LatestRoundData(context.Background())
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.Answer.Cmp(big.NewInt(200000000000)) != 0 {
		t.Fatalf("unexpected answer %s", round.Answer)
	}
}

func TestManagerEvenMedian(t *testing.T) {
	quotes := []Quote{{Price: mustRat("3")}, {Price: mustRat("1")}, {Price: mustRat("2")}, {Price: mustRat("4")}}
	if got := computeMedian(quotes).FloatString(1); got != "2.5" {
		t.Fatalf("unexpected median %s", got)
	}
}

func TestNewValidatesConfiguration(t *testing.T) {
	store := openStore(t)
	src := []Source{&fakeSource{name: "a"}}
	if _, err := New(nil, src, []Feed{{Symbol: "X", Aggregator: NewAggregator("")}}, time.Second, 0, 0); err == nil {
		t.Fatalf("expected missing storage to fail")
	}
	if _, err := New(store, src, []Feed{{Symbol: "X"}}, time.Second, 0, 0); err == nil {
		t.Fatalf("expected missing aggregator to fail")
	}
	if _, err := New(store, src, []Feed{{Symbol: "X", Aggregator: NewAggregator("")}}, 0, 0, 0); err == nil {
		t.Fatalf("expected zero interval to fail")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := openStore(t)
	now := time.Now()
	src := &fakeSource{name: "a", quote: Quote{Price: mustRat("1"), Timestamp: now}}
	agg := NewAggregator("X / USD")
	mgr, err := New(store, []Source{src}, []Feed{{Symbol: "X", Aggregator: agg}}, 10*time.Millisecond, time.Minute, 1)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := mgr.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, err := agg.LatestRoundData(context.Background()); err != nil {
		t.Fatalf("expected at least one round: %v", err)
	}
}

func mustRat(value string) *big.Rat {
	rat, ok := new(big.Rat).SetString(value)
	if !ok {
		panic("invalid rat")
	}
	return rat
}

func TestProofIDCommitsToRound(t *testing.T) {
	at := time.Unix(1700000000, 0)
	first := proofID("WETH", "1000.00000000", []string{"beta", "alpha"}, at)
	if len(first) != 64 {
		t.Fatalf("expected 32-byte hex digest, got %d chars", len(first))
	}
	if again := proofID("WETH", "1000.00000000", []string{"alpha", "beta"}, at); again != first {
		t.Fatalf("feeder order must not change the proof")
	}
	if moved := proofID("WETH", "1000.00000001", []string{"alpha", "beta"}, at); moved == first {
		t.Fatalf("expected a different median to change the proof")
	}
	if later := proofID("WETH", "1000.00000000", []string{"alpha", "beta"}, at.Add(time.Second)); later == first {
		t.Fatalf("expected a different round time to change the proof")
	}
}

func TestManagerPushesRoundsThroughSequencer(t *testing.T) {
	store := openStore(t)
	now := time.Unix(1700000000, 0)
	src := &fakeSource{name: "alpha", quote: Quote{Price: mustRat("1000"), Timestamp: now}}
	agg := NewAggregator("WETH / USD")

	var calls int
	mgr, err := New(store, []Source{src}, []Feed{{Symbol: "weth", Aggregator: agg}}, time.Second, time.Minute, 1,
		WithClock(func() time.Time { return now }),
		WithSequencer(func(fn func() error) error {
			calls++
			if _, err := agg.LatestRoundData(context.Background()); !errors.Is(err, ErrNoRounds) {
				t.Fatalf("round visible before sequenced push: %v", err)
			}
			if err := fn(); err != nil {
				return err
			}
			if _, err := agg.LatestRoundData(context.Background()); err != nil {
				t.Fatalf("round missing after sequenced push: %v", err)
			}
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one sequenced push, got %d", calls)
	}
}

func TestManagerSequencerFailureSkipsSnapshot(t *testing.T) {
	store := openStore(t)
	now := time.Unix(1700000000, 0)
	src := &fakeSource{name: "alpha", quote: Quote{Price: mustRat("1000"), Timestamp: now}}
	agg := NewAggregator("WETH / USD")
	closed := errors.New("sequencer closed")
	mgr, err := New(store, []Source{src}, []Feed{{Symbol: "weth", Aggregator: agg}}, time.Second, time.Minute, 1,
		WithClock(func() time.Time { return now }),
		WithSequencer(func(func() error) error { return closed }),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); !errors.Is(err, closed) {
		t.Fatalf("expected sequencer error, got %v", err)
	}
	if _, err := agg.LatestRoundData(context.Background()); !errors.Is(err, ErrNoRounds) {
		t.Fatalf("round pushed despite sequencer failure: %v", err)
	}
	if _, err := store.LatestSnapshot(context.Background(), "WETH"); err == nil {
		t.Fatalf("snapshot recorded despite sequencer failure")
	}
}
