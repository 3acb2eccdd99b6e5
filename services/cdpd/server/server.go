package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stablevault/crypto"
	"stablevault/native/bank"
	"stablevault/native/cdp"
	"stablevault/services/cdpd/index"
	"stablevault/services/cdpd/oracle"
	"stablevault/services/cdpd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLS           TLSConfig
	RateLimits    map[string]RateLimit
}

// TLSConfig describes optional TLS settings.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	Config   *tls.Config
}

// Runtime carries the components the API serves.
type Runtime struct {
	Engine *cdp.Engine
	Ledger *bank.Ledger
	// Store is optional; without it /v1/events is unavailable.
	Store *storage.Storage
	// Index is optional; without it account listings are unavailable.
	Index *index.Index
	// Hub is optional; without it the websocket event stream is unavailable.
	Hub *EventHub
	// Feeds maps each collateral asset to the aggregator operators push rounds into.
	Feeds map[crypto.Address]*oracle.Aggregator
	Clock func() time.Time
}

// Server exposes the engine over HTTP. Every mutating request runs under the
// write side of a single sequencer lock so calls never interleave.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	engine  *cdp.Engine
	ledger  *bank.Ledger
	store   *storage.Storage
	index   *index.Index
	hub     *EventHub
	feeds   map[crypto.Address]*oracle.Aggregator
	clock   func() time.Time
	auth    *Authenticator
	limiter *RateLimiter
	obs     *Observability

	sequencer sync.RWMutex
}

// New constructs a new HTTP server.
func New(cfg Config, runtime Runtime, auth *Authenticator, obs *Observability, logger *slog.Logger) (*Server, error) {
	if runtime.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if runtime.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	clock := runtime.Clock
	if clock == nil {
		clock = time.Now
	}
	feeds := make(map[crypto.Address]*oracle.Aggregator, len(runtime.Feeds))
	for asset, agg := range runtime.Feeds {
		if agg != nil {
			feeds[asset] = agg
		}
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		engine:  runtime.Engine,
		ledger:  runtime.Ledger,
		store:   runtime.Store,
		index:   runtime.Index,
		hub:     runtime.Hub,
		feeds:   feeds,
		clock:   clock,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimits),
		obs:     obs,
	}, nil
}

// Handler builds the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		// The stream skips the request observability middleware, whose
		// response recorder cannot be hijacked for the websocket upgrade.
		v1.With(s.limiter.Middleware("read")).Get("/events/stream", s.handleEventStream)
		v1.Group(func(read chi.Router) {
			read.Use(s.limiter.Middleware("read"))
			read.With(s.obs.Middleware("constants")).Get("/constants", s.handleConstants)
			read.With(s.obs.Middleware("assets")).Get("/assets", s.handleAssets)
			read.With(s.obs.Middleware("asset_price")).Get("/assets/{asset}/price", s.handleAssetPrice)
			read.With(s.obs.Middleware("accounts")).Get("/accounts", s.handleAccounts)
			read.With(s.obs.Middleware("account")).Get("/accounts/{address}", s.handleAccount)
			read.With(s.obs.Middleware("account_collateral")).Get("/accounts/{address}/collateral/{asset}", s.handleAccountCollateral)
			read.With(s.obs.Middleware("liquidation_quote")).Get("/liquidations/quote", s.handleLiquidationQuote)
			read.With(s.obs.Middleware("liquidation_candidates")).Get("/liquidations/candidates", s.handleLiquidationCandidates)
			read.With(s.obs.Middleware("token_balance")).Get("/tokens/{token}/balances/{address}", s.handleTokenBalance)
			read.With(s.obs.Middleware("events")).Get("/events", s.handleEvents)
		})
		v1.Group(func(write chi.Router) {
			write.Use(s.limiter.Middleware("write"))
			write.Use(s.auth.Middleware(ScopeWrite))
			write.With(s.obs.Middleware("deposit")).Post("/deposit", s.handleDeposit)
			write.With(s.obs.Middleware("deposit_and_mint")).Post("/deposit-and-mint", s.handleDepositAndMint)
			write.With(s.obs.Middleware("redeem")).Post("/redeem", s.handleRedeem)
			write.With(s.obs.Middleware("redeem_for_payment")).Post("/redeem-for-payment", s.handleRedeemForPayment)
			write.With(s.obs.Middleware("mint")).Post("/mint", s.handleMint)
			write.With(s.obs.Middleware("burn")).Post("/burn", s.handleBurn)
			write.With(s.obs.Middleware("liquidate")).Post("/liquidate", s.handleLiquidate)
			write.With(s.obs.Middleware("approve")).Post("/tokens/{token}/approve", s.handleApprove)
		})
		v1.Group(func(op chi.Router) {
			op.Use(s.auth.Middleware(ScopeOracle))
			op.With(s.obs.Middleware("oracle_round")).Post("/oracle/{asset}/rounds", s.handleOracleRound)
		})
	})
	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(s.Handler(), "cdpd.http"),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		TLSConfig:    s.cfg.TLS.Config,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("cdpd: http server listening", slog.String("address", s.cfg.ListenAddress))
	var err error
	if s.cfg.TLS.CertFile != "" && s.cfg.TLS.KeyFile != "" {
		err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// sequence runs a mutating call exclusively.
func (s *Server) sequence(fn func() error) error {
	s.sequencer.Lock()
	defer s.sequencer.Unlock()
	return fn()
}

// Sequence runs fn under the write side of the sequencer. Anything that moves
// state the engine reads, such as oracle rounds, goes through it so a call
// never observes a change part way through.
func (s *Server) Sequence(fn func() error) error {
	return s.sequence(fn)
}

// view runs a read against a stable state.
func (s *Server) view(fn func() error) error {
	s.sequencer.RLock()
	defer s.sequencer.RUnlock()
	return fn()
}
