package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"stablevault/observability"
	"stablevault/services/cdpd/storage"
)

// maxFutureSkew bounds how far ahead of the local clock a quote may be.
const maxFutureSkew = 5 * time.Second

// Feed binds an asset symbol to the aggregator rounds are pushed into.
type Feed struct {
	Symbol     string
	Aggregator *Aggregator
}

// Publisher is notified after a round has been pushed and recorded.
type Publisher interface {
	PublishRound(ctx context.Context, update Update) error
}

// Update describes a pushed round.
type Update struct {
	Symbol  string
	RoundID uint64
	Answer  *big.Int
	Median  string
	Feeders []string
	ProofID string
	Time    time.Time
}

// Manager orchestrates periodic aggregation across configured sources.
type Manager struct {
	logger    *slog.Logger
	storage   *storage.Storage
	metrics   *observability.OracleMetrics
	sources   []Source
	feeds     []Feed
	minFeeds  int
	maxAge    time.Duration
	interval  time.Duration
	publisher Publisher
	clock     func() time.Time
	sequence  func(func() error) error
	once      sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPublisher overrides the default publisher.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

func WithMetrics(metrics *observability.OracleMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock overrides the clock used to judge quote freshness.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithSequencer orders round pushes against engine calls. seq must run fn
// while no engine call is in flight.
func WithSequencer(seq func(func() error) error) Option {
	return func(m *Manager) {
		if seq != nil {
			m.sequence = seq
		}
	}
}

// New constructs a manager instance.
func New(store *storage.Storage, sources []Source, feeds []Feed, interval, maxAge time.Duration, minFeeds int, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("at least one feed required")
	}
	for _, feed := range feeds {
		if strings.TrimSpace(feed.Symbol) == "" || feed.Aggregator == nil {
			return nil, fmt.Errorf("invalid feed configuration")
		}
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	if minFeeds <= 0 {
		minFeeds = 1
	}
	mgr := &Manager{
		logger:   slog.Default(),
		storage:  store,
		sources:  append([]Source{}, sources...),
		feeds:    append([]Feed{}, feeds...),
		interval: interval,
		maxAge:   maxAge,
		minFeeds: minFeeds,
		clock:    time.Now,
		sequence: func(fn func() error) error { return fn() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	if mgr.publisher == nil {
		mgr.publisher = PublisherFunc(func(context.Context, Update) error { return nil })
	}
	return mgr, nil
}

// Run blocks, periodically polling upstream sources until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("oracle manager started",
			slog.Int("sources", len(m.sources)),
			slog.Int("feeds", len(m.feeds)))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("oracle tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single aggregation cycle across all configured feeds. A
// failing feed does not prevent the others from updating.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	var errs []error
	for _, feed := range m.feeds {
		if err := m.processFeed(ctx, feed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) reject(symbol, source, reason string, attrs ...slog.Attr) {
	m.metrics.RecordRejected(symbol, reason)
	args := []any{slog.String("asset", symbol), slog.String("source", source), slog.String("reason", reason)}
	for _, attr := range attrs {
		args = append(args, attr)
	}
	m.logger.Debug("oracle quote rejected", args...)
}

func (m *Manager) processFeed(ctx context.Context, feed Feed) error {
	symbol := normaliseSymbol(feed.Symbol)
	now := m.clock()
	quotes := make([]Quote, 0, len(m.sources))
	feeders := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		quote, err := src.Fetch(ctx, symbol)
		if err != nil {
			m.reject(symbol, src.Name(), "fetch_failed", slog.String("error", err.Error()))
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			m.reject(symbol, src.Name(), "invalid_price")
			continue
		}
		if quote.Timestamp.After(now.Add(maxFutureSkew)) {
			m.reject(symbol, src.Name(), "future_timestamp")
			continue
		}
		if m.maxAge > 0 && quote.Timestamp.Before(now.Add(-m.maxAge)) {
			m.reject(symbol, src.Name(), "expired")
			continue
		}
		feeders = append(feeders, src.Name())
		quotes = append(quotes, quote.Clone())
		if err := m.storage.RecordSample(ctx, symbol, src.Name(), quote.Price, quote.Timestamp, now); err != nil {
			m.logger.Warn("oracle record sample failed", slog.String("asset", symbol), slog.String("error", err.Error()))
		}
	}
	if len(quotes) < m.minFeeds {
		return fmt.Errorf("insufficient oracle feeds for %s: %d of %d", symbol, len(quotes), m.minFeeds)
	}
	median := computeMedian(quotes)
	if median == nil || median.Sign() <= 0 {
		return fmt.Errorf("median computation failed for %s", symbol)
	}
	answer := toAnswer(median)
	if answer.Sign() <= 0 {
		return fmt.Errorf("median for %s below feed precision", symbol)
	}
	var roundID uint64
	err := m.sequence(func() error {
		var err error
		roundID, err = feed.Aggregator.UpdateAnswer(answer, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("push round for %s: %w", symbol, err)
	}
	medianStr := FormatAnswer(answer)
	proof := proofID(symbol, medianStr, feeders, now)
	snapshot := storage.Snapshot{
		Asset:          symbol,
		RoundID:        roundID,
		Median:         medianStr,
		Feeders:        feeders,
		ProofID:        proof,
		ObservedAtUnix: now.UTC().Unix(),
	}
	if err := m.storage.RecordSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	m.metrics.RecordRound(symbol, answerFloat(answer))
	update := Update{Symbol: symbol, RoundID: roundID, Answer: answer, Median: medianStr, Feeders: feeders, ProofID: proof, Time: now}
	if err := m.publisher.PublishRound(ctx, update); err != nil {
		return fmt.Errorf("publish round: %w", err)
	}
	return nil
}

func computeMedian(quotes []Quote) *big.Rat {
	if len(quotes) == 0 {
		return nil
	}
	sorted := make([]*big.Rat, 0, len(quotes))
	for _, q := range quotes {
		if q.Price == nil {
			continue
		}
		sorted = append(sorted, new(big.Rat).Set(q.Price))
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Rat).Set(sorted[mid])
	}
	sum := new(big.Rat).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewRat(2, 1))
}

// proofID commits to the pushed answer, its contributors and the round time.
func proofID(symbol, median string, feeders []string, ts time.Time) string {
	digest := blake3.New(32, nil)
	digest.Write([]byte(symbol))
	digest.Write([]byte("/USD"))
	digest.Write([]byte(median))
	digest.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	sorted := append([]string{}, feeders...)
	sort.Strings(sorted)
	for _, f := range sorted {
		digest.Write([]byte(strings.ToLower(strings.TrimSpace(f))))
	}
	return hex.EncodeToString(digest.Sum(nil))
}

// PublisherFunc adapts ordinary functions to Publisher.
type PublisherFunc func(ctx context.Context, update Update) error

// PublishRound implements Publisher.
func (f PublisherFunc) PublishRound(ctx context.Context, update Update) error {
	if f == nil {
		return nil
	}
	return f(ctx, update)
}
