package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stablevault/core/types"
	"stablevault/crypto"
	nativecommon "stablevault/native/common"
	"stablevault/observability"
)

// CollateralToken is the ledger of a supported collateral asset. Calls are
// made on behalf of the engine custody identity.
type CollateralToken interface {
	TransferFrom(from, to crypto.Address, amount types.Wad) bool
	Transfer(to crypto.Address, amount types.Wad) bool
}

// Stablecoin is the pegged token ledger. The engine custody identity must be
// the only account allowed to mint and burn.
type Stablecoin interface {
	Mint(to crypto.Address, amount types.Wad) bool
	Burn(amount types.Wad) error
	TransferFrom(from, to crypto.Address, amount types.Wad) bool
}

// sinkTimeout bounds how long one sink may take to accept a batch.
const sinkTimeout = 30 * time.Second

// EventSink receives events after the call that produced them committed.
type EventSink interface {
	Publish(ctx context.Context, events []*types.Event) error
}

type engineState interface {
	Collateral(user, asset crypto.Address) (types.Wad, error)
	SetCollateral(user, asset crypto.Address, amount types.Wad) error
	Debt(user crypto.Address) (types.Wad, error)
	SetDebt(user crypto.Address, amount types.Wad) error
	Snapshot() int
	RevertToSnapshot(id int) error
	Commit() error
}

// Engine maintains collateral and debt positions and enforces the health
// factor invariant on every mutating call.
type Engine struct {
	state      engineState
	registry   *Registry
	stablecoin Stablecoin
	custody    crypto.Address
	constants  Constants

	guard   nativecommon.ReentrancyGuard
	pending []*types.Event
	sinks   []EventSink

	clock   func() time.Time
	logger  *slog.Logger
	metrics *observability.CDPMetrics
	tracer  trace.Tracer
}

// Option customises the engine.
type Option func(*Engine)

// WithClock overrides the clock used for price staleness checks.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEventSink registers a sink for committed events.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sinks = append(e.sinks, sink)
		}
	}
}

func WithMetrics(metrics *observability.CDPMetrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewEngine constructs an engine holding collateral and stablecoin under the
// custody address.
func NewEngine(custody crypto.Address, registry *Registry, stablecoin Stablecoin, opts ...Option) *Engine {
	e := &Engine{
		registry:   registry,
		stablecoin: stablecoin,
		custody:    custody,
		constants:  DefaultConstants(),
		clock:      time.Now,
		logger:     slog.Default(),
		tracer:     otel.Tracer("stablevault/native/cdp"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// AddEventSink registers an additional sink after construction.
func (e *Engine) AddEventSink(sink EventSink) {
	if e == nil || sink == nil {
		return
	}
	e.sinks = append(e.sinks, sink)
}

func (e *Engine) now() time.Time {
	return e.clock()
}

func (e *Engine) emit(evt *types.Event) {
	e.pending = append(e.pending, evt)
}

// execute runs fn as one atomic call: it holds the reentrancy guard, reverts
// every state write when fn fails and publishes events only after commit.
func (e *Engine) execute(ctx context.Context, operation string, fn func(ctx context.Context) error) (err error) {
	if e == nil || e.state == nil || e.registry == nil {
		return errNilState
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(operation, err != nil, Reason(err), time.Since(start))
		if err != nil {
			e.logger.Debug("cdp operation failed",
				slog.String("operation", operation),
				slog.String("reason", Reason(err)),
				slog.String("error", err.Error()))
		}
	}()

	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	ctx, span := e.tracer.Start(ctx, moduleName+"."+operation)
	defer span.End()

	snapshot := e.state.Snapshot()
	e.pending = nil
	fail := func(cause error) error {
		e.pending = nil
		if revertErr := e.state.RevertToSnapshot(snapshot); revertErr != nil {
			cause = errors.Join(cause, revertErr)
		}
		span.RecordError(cause)
		span.SetStatus(codes.Error, Reason(cause))
		return cause
	}

	if err := fn(ctx); err != nil {
		return fail(err)
	}
	if err := e.state.Commit(); err != nil {
		return fail(fmt.Errorf("cdp engine: commit %s: %w", operation, err))
	}

	events := e.pending
	e.pending = nil
	span.SetAttributes(attribute.Int("cdp.events", len(events)))
	e.publish(ctx, events)
	return nil
}

// publish hands committed events to every sink. The call has already
// committed, so sinks keep running after the caller's context is cancelled.
func (e *Engine) publish(ctx context.Context, events []*types.Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, evt := range events {
		e.metrics.RecordEvent(evt.Type)
	}
	for _, sink := range e.sinks {
		batch := make([]*types.Event, len(events))
		for i, evt := range events {
			batch[i] = evt.Clone()
		}
		if err := sink.Publish(ctx, batch); err != nil {
			e.logger.Warn("cdp event sink failed",
				slog.Int("events", len(events)),
				slog.String("error", err.Error()))
		}
	}
}
