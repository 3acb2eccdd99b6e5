package server

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stablevault/core/state"
	"stablevault/core/types"
	"stablevault/crypto"
	"stablevault/native/bank"
	"stablevault/native/cdp"
	"stablevault/services/cdpd/index"
	"stablevault/services/cdpd/oracle"
	cdpstorage "stablevault/services/cdpd/storage"
	"stablevault/storage"
)

const testSecret = "test-secret"

type fixture struct {
	t       *testing.T
	now     time.Time
	handler http.Handler
	srv     *Server
	ledger  *bank.Ledger
	token   *bank.Token
	coin    *bank.Stablecoin
	agg     *oracle.Aggregator
	asset   crypto.Address
	custody crypto.Address
	store   *cdpstorage.Storage
	index   *index.Index
	hub     *EventHub
}

func testAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = b
	return crypto.NewAddress(prefix, raw)
}

func newFixture(t *testing.T, limits map[string]RateLimit) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)

	store, err := cdpstorage.Open(cdpstorage.MemoryDSN("cdpd_server_" + t.Name()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	idx, err := index.Open(cdpstorage.MemoryDSN("cdpd_index_" + t.Name()))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	f := &fixture{
		t:       t,
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		ledger:  bank.NewLedger(mgr),
		asset:   testAddress(crypto.AssetPrefix, 0x01),
		custody: crypto.ModuleAddress("cdp"),
		agg:     oracle.NewAggregator("WETH / USD"),
		store:   store,
		index:   idx,
		hub:     NewEventHub(),
	}
	if f.token, err = f.ledger.RegisterToken("WETH", f.asset); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if f.coin, err = f.ledger.RegisterStablecoin("SVUSD", testAddress(crypto.AssetPrefix, 0xee), f.custody); err != nil {
		t.Fatalf("register stablecoin: %v", err)
	}
	if _, err := f.agg.UpdateAnswer(mustAnswer(t, "2000"), f.now); err != nil {
		t.Fatalf("seed round: %v", err)
	}
	registry, err := cdp.NewRegistry([]crypto.Address{f.asset}, []cdp.PriceFeed{f.agg}, []cdp.CollateralToken{f.token.As(f.custody)})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	clock := func() time.Time { return f.now }
	engine := cdp.NewEngine(f.custody, registry, f.coin.As(f.custody), cdp.WithClock(clock),
		cdp.WithEventSink(store),
		cdp.WithEventSink(idx),
		cdp.WithEventSink(f.hub),
	)
	engine.SetState(mgr)

	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	srv, err := New(Config{RateLimits: limits}, Runtime{
		Engine: engine,
		Ledger: f.ledger,
		Store:  store,
		Index:  idx,
		Hub:    f.hub,
		Feeds:  map[crypto.Address]*oracle.Aggregator{f.asset: f.agg},
		Clock:  clock,
	}, auth, NewObservability(ObservabilityConfig{}, nil), nil)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	f.srv = srv
	f.handler = srv.Handler()
	return f
}

func mustAnswer(t *testing.T, price string) *big.Int {
	t.Helper()
	answer, err := oracle.ParseAnswer(price)
	if err != nil {
		t.Fatalf("parse answer: %v", err)
	}
	return answer
}

func (f *fixture) genesis(holder crypto.Address, amount types.Wad) {
	f.t.Helper()
	if err := f.ledger.Apply(func() error { return f.token.Genesis(holder, amount) }); err != nil {
		f.t.Fatalf("genesis: %v", err)
	}
}

func (f *fixture) bearer(subject crypto.Address, scopes ...string) string {
	f.t.Helper()
	token, err := IssueToken(testSecret, "", "", "", subject, scopes, time.Hour, time.Now())
	if err != nil {
		f.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func (f *fixture) approveAndDeposit(user crypto.Address, token string, amount, mint types.Wad) *httptest.ResponseRecorder {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/v1/tokens/"+f.asset.String()+"/approve", token, map[string]any{
		"spender": f.custody.String(),
		"amount":  amount.String(),
	})
	expectStatus(f.t, rec, http.StatusOK)
	return f.do(http.MethodPost, "/v1/deposit-and-mint", token, map[string]any{
		"asset":      f.asset.String(),
		"amount":     amount.String(),
		"mintAmount": mint.String(),
	})
}

func TestHealthAndConstants(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(http.MethodGet, "/v1/constants", "", nil)
	expectStatus(t, rec, http.StatusOK)
	var constants cdp.Constants
	decode(t, rec, &constants)
	if constants.LiquidationBonus != cdp.LiquidationBonus || constants.MinHealthFactor.Cmp(types.Whole(1)) != 0 {
		t.Fatalf("unexpected constants %+v", constants)
	}

	rec = f.do(http.MethodGet, "/v1/assets", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"symbol":"WETH"`) {
		t.Fatalf("asset listing missing symbol: %s", rec.Body.String())
	}
}

func TestWritesRequireScopedToken(t *testing.T) {
	f := newFixture(t, nil)
	user := testAddress(crypto.AccountPrefix, 0x10)
	body := map[string]any{"amount": types.Whole(1).String()}

	expectStatus(t, f.do(http.MethodPost, "/v1/mint", "", body), http.StatusUnauthorized)
	expectStatus(t, f.do(http.MethodPost, "/v1/mint", "garbage", body), http.StatusUnauthorized)
	expectStatus(t, f.do(http.MethodPost, "/v1/mint", f.bearer(user, ScopeOracle), body), http.StatusForbidden)
	expectStatus(t, f.do(http.MethodPost, "/v1/oracle/"+f.asset.String()+"/rounds", f.bearer(user, ScopeWrite), map[string]any{"price": "1"}), http.StatusForbidden)

	other, err := IssueToken("other-secret", "", "", "", user, []string{ScopeWrite}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	expectStatus(t, f.do(http.MethodPost, "/v1/mint", other, body), http.StatusUnauthorized)
}

func TestDepositAndMintFlow(t *testing.T) {
	f := newFixture(t, nil)
	user := testAddress(crypto.AccountPrefix, 0x10)
	f.genesis(user, types.Whole(10))
	token := f.bearer(user, ScopeWrite)

	rec := f.approveAndDeposit(user, token, types.Whole(10), types.Whole(5000))
	expectStatus(t, rec, http.StatusOK)
	var position struct {
		Debt       types.Wad `json:"debt"`
		Collateral types.Wad `json:"collateral"`
	}
	decode(t, rec, &position)
	if position.Debt.Cmp(types.Whole(5000)) != 0 || position.Collateral.Cmp(types.Whole(10)) != 0 {
		t.Fatalf("unexpected position %+v", position)
	}

	rec = f.do(http.MethodGet, "/v1/accounts/"+user.String(), "", nil)
	expectStatus(t, rec, http.StatusOK)
	var account struct {
		CollateralValue types.Wad `json:"collateralValue"`
		HealthFactor    types.Wad `json:"healthFactor"`
		Liquidatable    bool      `json:"liquidatable"`
	}
	decode(t, rec, &account)
	if account.CollateralValue.Cmp(types.Whole(20000)) != 0 || account.HealthFactor.Cmp(types.Whole(2)) != 0 || account.Liquidatable {
		t.Fatalf("unexpected account %+v", account)
	}

	rec = f.do(http.MethodGet, "/v1/tokens/"+f.coin.Address().String()+"/balances/"+user.String(), "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"balance":"`+types.Whole(5000).String()+`"`) {
		t.Fatalf("unexpected stablecoin balance: %s", rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/v1/events?type="+cdp.EventDebtMinted, "", nil)
	expectStatus(t, rec, http.StatusOK)
	var events struct {
		Events []cdpstorage.EventRecord `json:"events"`
	}
	decode(t, rec, &events)
	if len(events.Events) != 1 || events.Events[0].Attributes["amount"] != types.Whole(5000).String() {
		t.Fatalf("unexpected events %+v", events.Events)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t, nil)
	user := testAddress(crypto.AccountPrefix, 0x10)
	f.genesis(user, types.Whole(10))
	token := f.bearer(user, ScopeWrite)
	expectStatus(t, f.approveAndDeposit(user, token, types.Whole(10), types.Whole(5000)), http.StatusOK)

	rec := f.do(http.MethodPost, "/v1/mint", token, map[string]any{"amount": types.Whole(5001).String()})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	var failure errorResponse
	decode(t, rec, &failure)
	if failure.Code != "breaks_health_factor" {
		t.Fatalf("unexpected code %q", failure.Code)
	}

	expectStatus(t, f.do(http.MethodPost, "/v1/mint", token, map[string]any{"amount": "0"}), http.StatusBadRequest)
	expectStatus(t, f.do(http.MethodPost, "/v1/mint", token, map[string]any{"amount": "x"}), http.StatusBadRequest)
	expectStatus(t, f.do(http.MethodPost, "/v1/redeem", token, map[string]any{"asset": f.asset.String(), "amount": types.Whole(11).String()}), http.StatusUnprocessableEntity)

	liquidator := testAddress(crypto.AccountPrefix, 0x20)
	rec = f.do(http.MethodPost, "/v1/liquidate", f.bearer(liquidator, ScopeWrite), map[string]any{
		"asset":       f.asset.String(),
		"user":        user.String(),
		"debtToCover": types.Whole(100).String(),
	})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	decode(t, rec, &failure)
	if failure.Code != "health_factor_ok" {
		t.Fatalf("unexpected code %q", failure.Code)
	}

	// Operator pushes a round older than the oracle timeout.
	oracleToken := f.bearer(liquidator, ScopeOracle)
	rec = f.do(http.MethodPost, "/v1/oracle/"+f.asset.String()+"/rounds", oracleToken, map[string]any{
		"price":     "2000",
		"updatedAt": f.now.Add(-4 * time.Hour).Unix(),
	})
	expectStatus(t, rec, http.StatusOK)
	rec = f.do(http.MethodPost, "/v1/mint", token, map[string]any{"amount": types.Whole(1).String()})
	expectStatus(t, rec, http.StatusServiceUnavailable)
	decode(t, rec, &failure)
	if failure.Code != "stale_price" {
		t.Fatalf("unexpected code %q", failure.Code)
	}
}

func TestOracleRoundDrivesLiquidationQuote(t *testing.T) {
	f := newFixture(t, nil)
	operator := f.bearer(testAddress(crypto.AccountPrefix, 0x30), ScopeOracle)

	rec := f.do(http.MethodPost, "/v1/oracle/"+f.asset.String()+"/rounds", operator, map[string]any{"price": "400"})
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"roundId":2`) {
		t.Fatalf("unexpected round response %s", rec.Body.String())
	}
	expectStatus(t, f.do(http.MethodPost, "/v1/oracle/"+f.asset.String()+"/rounds", operator, map[string]any{"price": "-1"}), http.StatusBadRequest)
	unknown := testAddress(crypto.AssetPrefix, 0x99)
	expectStatus(t, f.do(http.MethodPost, "/v1/oracle/"+unknown.String()+"/rounds", operator, map[string]any{"price": "1"}), http.StatusNotFound)

	rec = f.do(http.MethodGet, "/v1/liquidations/quote?asset="+f.asset.String()+"&debt="+types.Whole(1000).String(), "", nil)
	expectStatus(t, rec, http.StatusOK)
	var quote cdp.LiquidationQuote
	decode(t, rec, &quote)
	if quote.Total.Cmp(types.MustWad("2750000000000000000")) != 0 {
		t.Fatalf("unexpected quote %+v", quote)
	}

	rec = f.do(http.MethodGet, "/v1/assets/"+f.asset.String()+"/price", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"display":"400.00000000"`) {
		t.Fatalf("unexpected price response %s", rec.Body.String())
	}
	expectStatus(t, f.do(http.MethodGet, "/v1/assets/"+unknown.String()+"/price", "", nil), http.StatusBadRequest)
	expectStatus(t, f.do(http.MethodGet, "/v1/accounts/not-an-address", "", nil), http.StatusBadRequest)
}

func TestReadRateLimited(t *testing.T) {
	f := newFixture(t, map[string]RateLimit{"read": {RequestsPerMinute: 1, Burst: 1}})
	expectStatus(t, f.do(http.MethodGet, "/v1/constants", "", nil), http.StatusOK)
	expectStatus(t, f.do(http.MethodGet, "/v1/constants", "", nil), http.StatusTooManyRequests)
	// Health checks are not limited.
	expectStatus(t, f.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	expectStatus(t, f.do(http.MethodGet, "/v1/constants", "", nil), http.StatusOK)
	rec := f.do(http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "cdpd_http_requests_total") {
		t.Fatalf("request metrics missing from exposition")
	}
}

func TestAuthenticatorRejectsNonAccountSubject(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "cdpd", Audience: "api"}, nil)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	asset := testAddress(crypto.AssetPrefix, 0x01)
	token, err := IssueToken(testSecret, "cdpd", "api", "", asset, []string{ScopeWrite}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := auth.authenticate(token); err == nil {
		t.Fatalf("expected asset subject to be rejected")
	}
	user := testAddress(crypto.AccountPrefix, 0x01)
	wrongAudience, err := IssueToken(testSecret, "cdpd", "other", "", user, nil, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := auth.authenticate(wrongAudience); err == nil {
		t.Fatalf("expected audience mismatch")
	}
	expired, err := IssueToken(testSecret, "cdpd", "api", "", user, nil, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := auth.authenticate(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
	valid, err := IssueToken(testSecret, "cdpd", "api", "", user, []string{ScopeWrite, ScopeOracle}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	principal, err := auth.authenticate(valid)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !principal.Address.Equal(user) || !hasScopes(principal.Scopes, []string{ScopeOracle}) {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestIssueTokenHonoursConfiguredScopeClaim(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, ScopeClaim: "permissions"}, nil)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	user := testAddress(crypto.AccountPrefix, 0x02)
	token, err := IssueToken(testSecret, "", "", "permissions", user, []string{ScopeWrite}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	principal, err := auth.authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !hasScopes(principal.Scopes, []string{ScopeWrite}) {
		t.Fatalf("scopes under the configured claim were not read: %+v", principal)
	}

	defaultClaim, err := IssueToken(testSecret, "", "", "", user, []string{ScopeWrite}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	principal, err = auth.authenticate(defaultClaim)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if hasScopes(principal.Scopes, []string{ScopeWrite}) {
		t.Fatalf("scopes under the default claim should not satisfy a custom claim")
	}
}
