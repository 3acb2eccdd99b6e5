package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"stablevault/config"
	"stablevault/core/state"
	"stablevault/core/types"
	"stablevault/crypto"
	"stablevault/native/bank"
	"stablevault/native/cdp"
	"stablevault/observability"
	"stablevault/services/cdpd/index"
	"stablevault/services/cdpd/oracle"
	"stablevault/services/cdpd/server"
	cdpstorage "stablevault/services/cdpd/storage"
	"stablevault/storage"
)

// app holds the wired daemon components.
type app struct {
	logger  *slog.Logger
	db      storage.Database
	store   *cdpstorage.Storage
	index   *index.Index
	hub     *server.EventHub
	state   *state.Manager
	ledger  *bank.Ledger
	engine  *cdp.Engine
	feeds   map[crypto.Address]*oracle.Aggregator
	oracle  *oracle.Manager
	server  *server.Server
	custody crypto.Address
}

func openStores(cfg config.Config) (storage.Database, *cdpstorage.Storage, error) {
	if cfg.Storage.InMemory {
		store, err := cdpstorage.Open(cdpstorage.MemoryDSN(cfg.Service.Name))
		if err != nil {
			return nil, nil, err
		}
		return storage.NewMemDB(), store, nil
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.Storage.DataDir, "state"))
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	dsn, err := cdpstorage.FileDSN(cfg.Storage.EventsDB)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("resolve events DSN: %w", err)
	}
	store, err := cdpstorage.Open(dsn)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open events store: %w", err)
	}
	return db, store, nil
}

func buildSources(cfg config.OracleConfig) ([]oracle.Source, error) {
	sources := make([]oracle.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		switch src.Type {
		case "static":
			built, err := oracle.NewStaticSource(src.Name, src.Prices)
			if err != nil {
				return nil, err
			}
			sources = append(sources, built)
		case "http":
			built, err := oracle.NewHTTPSource(src.Name, src.Endpoint, &http.Client{Timeout: src.Timeout.Duration})
			if err != nil {
				return nil, err
			}
			sources = append(sources, built)
		default:
			return nil, fmt.Errorf("unknown oracle source type %q", src.Type)
		}
	}
	return sources, nil
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, store, err := openStores(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		logger:  logger,
		db:      db,
		store:   store,
		state:   state.NewManager(db),
		custody: crypto.ModuleAddress("cdp"),
		feeds:   make(map[crypto.Address]*oracle.Aggregator, len(cfg.Assets)),
		hub:     server.NewEventHub(),
	}
	indexDSN, err := accountIndexDSN(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.index, err = index.Open(indexDSN); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// accountIndexDSN resolves the account index location. Postgres URLs and
// explicit SQLite DSNs pass through; bare paths become SQLite files.
func accountIndexDSN(cfg config.Config) (string, error) {
	if cfg.Storage.InMemory {
		return cdpstorage.MemoryDSN(cfg.Service.Name + "_accounts"), nil
	}
	dsn := strings.TrimSpace(cfg.Storage.IndexDSN)
	if dsn == "" {
		dsn = filepath.Join(cfg.Storage.DataDir, "accounts.sqlite")
	}
	if strings.Contains(dsn, "://") || strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	resolved, err := cdpstorage.FileDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("resolve index DSN: %w", err)
	}
	return resolved, nil
}

func (a *app) wire(cfg config.Config) error {
	a.ledger = bank.NewLedger(a.state)
	stableAddr, err := config.TokenAddress(cfg.Stablecoin)
	if err != nil {
		return err
	}
	coin, err := a.ledger.RegisterStablecoin(cfg.Stablecoin.Symbol, stableAddr, a.custody)
	if err != nil {
		return fmt.Errorf("register stablecoin: %w", err)
	}

	assets := make([]crypto.Address, 0, len(cfg.Assets))
	feeds := make([]cdp.PriceFeed, 0, len(cfg.Assets))
	tokens := make([]cdp.CollateralToken, 0, len(cfg.Assets))
	bySymbol := make(map[string]*bank.Token, len(cfg.Assets))
	oracleFeeds := make([]oracle.Feed, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		addr, err := config.TokenAddress(asset)
		if err != nil {
			return err
		}
		token, err := a.ledger.RegisterToken(asset.Symbol, addr)
		if err != nil {
			return fmt.Errorf("register %s: %w", asset.Symbol, err)
		}
		agg := oracle.NewAggregator(asset.Symbol + " / USD")
		a.feeds[addr] = agg
		bySymbol[asset.Symbol] = token
		assets = append(assets, addr)
		feeds = append(feeds, agg)
		tokens = append(tokens, token.As(a.custody))
		oracleFeeds = append(oracleFeeds, oracle.Feed{Symbol: asset.Symbol, Aggregator: agg})
	}
	if err := a.applyGenesis(cfg.Genesis, bySymbol); err != nil {
		return err
	}

	registry, err := cdp.NewRegistry(assets, feeds, tokens)
	if err != nil {
		return err
	}
	a.engine = cdp.NewEngine(a.custody, registry, coin.As(a.custody),
		cdp.WithLogger(a.logger),
		cdp.WithEventSink(a.store),
		cdp.WithEventSink(a.index),
		cdp.WithEventSink(a.hub),
		cdp.WithMetrics(observability.CDP()),
		cdp.WithTracer(otel.Tracer("cdpd/engine")),
	)
	a.engine.SetState(a.state)

	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ScopeClaim: cfg.Auth.ScopeClaim,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, a.logger)
	if err != nil {
		return err
	}
	limits := make(map[string]server.RateLimit)
	if rl := cfg.RateLimit.Read; rl.RequestsPerMinute > 0 {
		limits["read"] = server.RateLimit{RequestsPerMinute: rl.RequestsPerMinute, Burst: rl.Burst}
	}
	if rl := cfg.RateLimit.Write; rl.RequestsPerMinute > 0 {
		limits["write"] = server.RateLimit{RequestsPerMinute: rl.RequestsPerMinute, Burst: rl.Burst}
	}
	a.server, err = server.New(server.Config{
		ListenAddress: cfg.Service.ListenAddress,
		ReadTimeout:   cfg.Service.ReadTimeout.Duration,
		WriteTimeout:  cfg.Service.WriteTimeout.Duration,
		TLS:           server.TLSConfig{CertFile: cfg.Service.TLSCertFile, KeyFile: cfg.Service.TLSKeyFile},
		RateLimits:    limits,
	}, server.Runtime{
		Engine: a.engine,
		Ledger: a.ledger,
		Store:  a.store,
		Index:  a.index,
		Hub:    a.hub,
		Feeds:  a.feeds,
	}, auth, server.NewObservability(server.ObservabilityConfig{ServiceName: cfg.Service.Name}, a.logger), a.logger)
	if err != nil {
		return err
	}

	sources, err := buildSources(cfg.Oracle)
	if err != nil {
		return err
	}
	if len(sources) > 0 {
		a.oracle, err = oracle.New(a.store, sources, oracleFeeds,
			cfg.Oracle.Interval.Duration, cfg.Oracle.MaxAge.Duration, cfg.Oracle.MinFeeds,
			oracle.WithLogger(a.logger),
			oracle.WithMetrics(observability.Oracle()),
			oracle.WithSequencer(a.server.Sequence),
			oracle.WithPublisher(oracle.PublisherFunc(func(_ context.Context, update oracle.Update) error {
				a.logger.Debug("oracle round pushed",
					slog.String("asset", update.Symbol),
					slog.Uint64("round", update.RoundID),
					slog.String("median", update.Median))
				return nil
			})),
		)
		if err != nil {
			return fmt.Errorf("oracle manager: %w", err)
		}
	}
	return nil
}

// applyGenesis funds the configured holders once per state database.
func (a *app) applyGenesis(allocs []config.GenesisAllocation, tokens map[string]*bank.Token) error {
	applied, err := a.state.GenesisApplied()
	if err != nil {
		return fmt.Errorf("read genesis marker: %w", err)
	}
	if applied {
		return nil
	}
	err = a.ledger.Apply(func() error {
		for _, alloc := range allocs {
			token, ok := tokens[strings.ToUpper(alloc.Asset)]
			if !ok {
				return fmt.Errorf("genesis: unknown asset %s", alloc.Asset)
			}
			holder, err := crypto.DecodeAddress(alloc.Holder)
			if err != nil {
				return fmt.Errorf("genesis holder: %w", err)
			}
			amount, err := types.ParseWad(alloc.Amount)
			if err != nil {
				return fmt.Errorf("genesis amount: %w", err)
			}
			if err := token.Genesis(holder, amount); err != nil {
				return fmt.Errorf("genesis %s: %w", alloc.Asset, err)
			}
		}
		return a.state.MarkGenesis()
	})
	if err != nil {
		return err
	}
	a.logger.Info("genesis applied", slog.Int("allocations", len(allocs)))
	return nil
}

// Run serves the API and drives the oracle until ctx is cancelled.
func (a *app) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	if a.oracle != nil {
		tickCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := a.oracle.Tick(tickCtx); err != nil {
			a.logger.Warn("initial oracle round failed", slog.String("error", err.Error()))
		}
		cancel()
		go func() {
			if err := a.oracle.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("oracle: %w", err)
			}
		}()
	}
	go func() {
		errCh <- a.server.Run(ctx)
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the databases.
func (a *app) Close() {
	if a.index != nil {
		_ = a.index.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
