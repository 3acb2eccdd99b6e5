package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stablevault/core/types"
	"stablevault/crypto"
	"stablevault/native/cdp"
	"stablevault/services/cdpd/oracle"
	"stablevault/services/cdpd/storage"
)

const maxBodyBytes = 1 << 20

type positionResponse struct {
	Address    crypto.Address  `json:"address"`
	Debt       types.Wad       `json:"debt"`
	Asset      *crypto.Address `json:"asset,omitempty"`
	Collateral *types.Wad      `json:"collateral,omitempty"`
}

type collateralEntry struct {
	Asset  crypto.Address `json:"asset"`
	Amount types.Wad      `json:"amount"`
}

type accountResponse struct {
	Address         crypto.Address    `json:"address"`
	Debt            types.Wad         `json:"debt"`
	CollateralValue types.Wad         `json:"collateralValue"`
	HealthFactor    types.Wad         `json:"healthFactor"`
	Liquidatable    bool              `json:"liquidatable"`
	Collateral      []collateralEntry `json:"collateral"`
}

type assetResponse struct {
	Address crypto.Address `json:"address"`
	Symbol  string         `json:"symbol,omitempty"`
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", errBadRequest, err)
	}
	return nil
}

func pathAddress(r *http.Request, name string) (crypto.Address, error) {
	raw := chi.URLParam(r, name)
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return addr, nil
}

func queryAddress(r *http.Request, name string) (crypto.Address, error) {
	raw := r.URL.Query().Get(name)
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return addr, nil
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return crypto.Address{}, false
	}
	return principal.Address, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConstants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Constants())
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.engine.CollateralTokens()
	out := make([]assetResponse, 0, len(assets))
	for _, asset := range assets {
		entry := assetResponse{Address: asset}
		if token, err := s.ledger.Token(asset); err == nil {
			entry.Symbol = token.Symbol()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": out})
}

func (s *Server) handleAssetPrice(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAddress(r, "asset")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var (
		price     types.Wad
		updatedAt time.Time
	)
	err = s.view(func() error {
		var viewErr error
		price, updatedAt, viewErr = s.engine.CollateralTokenPrice(r.Context(), asset)
		return viewErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":     asset,
		"price":     price,
		"decimals":  cdp.FeedDecimals,
		"display":   oracle.FormatAnswer(price.Big()),
		"updatedAt": updatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r, "address")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var resp accountResponse
	err = s.view(func() error {
		debt, value, err := s.engine.AccountInformation(r.Context(), user)
		if err != nil {
			return err
		}
		health, err := cdp.CalculateHealthFactor(debt, value)
		if err != nil {
			return err
		}
		resp = accountResponse{
			Address:         user,
			Debt:            debt,
			CollateralValue: value,
			HealthFactor:    health,
			Liquidatable:    health.Lt(s.engine.Constants().MinHealthFactor),
			Collateral:      make([]collateralEntry, 0),
		}
		seen := make(map[crypto.Address]struct{})
		for _, asset := range s.engine.CollateralTokens() {
			if _, dup := seen[asset]; dup {
				continue
			}
			seen[asset] = struct{}{}
			amount, err := s.engine.CollateralBalance(user, asset)
			if err != nil {
				return err
			}
			resp.Collateral = append(resp.Collateral, collateralEntry{Asset: asset, Amount: amount})
		}
		return nil
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccountCollateral(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r, "address")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	asset, err := pathAddress(r, "asset")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var amount types.Wad
	err = s.view(func() error {
		var viewErr error
		amount, viewErr = s.engine.CollateralBalance(user, asset)
		return viewErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collateralEntry{Asset: asset, Amount: amount})
}

func (s *Server) handleLiquidationQuote(w http.ResponseWriter, r *http.Request) {
	asset, err := queryAddress(r, "asset")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	debt, err := types.ParseWad(r.URL.Query().Get("debt"))
	if err != nil {
		s.writeEngineError(w, r, fmt.Errorf("%w: debt: %v", errBadRequest, err))
		return
	}
	var quote cdp.LiquidationQuote
	err = s.view(func() error {
		var viewErr error
		quote, viewErr = s.engine.QuoteLiquidation(r.Context(), asset, debt)
		return viewErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, err := pathAddress(r, "token")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	holder, err := pathAddress(r, "address")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	token, err := s.ledger.Token(tokenAddr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var balance, supply types.Wad
	err = s.view(func() error {
		var viewErr error
		if balance, viewErr = token.BalanceOf(holder); viewErr != nil {
			return viewErr
		}
		supply, viewErr = token.TotalSupply()
		return viewErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":       tokenAddr,
		"symbol":      token.Symbol(),
		"holder":      holder,
		"balance":     balance,
		"totalSupply": supply,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event store not configured")
		return
	}
	query := r.URL.Query()
	filter := storage.EventFilter{
		Type:    strings.TrimSpace(query.Get("type")),
		Address: strings.TrimSpace(query.Get("address")),
		Limit:   100,
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be between 1 and 1000")
			return
		}
		filter.Limit = limit
	}
	records, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

type assetAmountRequest struct {
	Asset  crypto.Address `json:"asset"`
	Amount types.Wad      `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req assetAmountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.respondPosition(w, r, caller, &req.Asset, func(ctx context.Context) error {
		return s.engine.Deposit(ctx, caller, req.Asset, req.Amount)
	})
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Asset      crypto.Address `json:"asset"`
		Amount     types.Wad      `json:"amount"`
		MintAmount types.Wad      `json:"mintAmount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.respondPosition(w, r, caller, &req.Asset, func(ctx context.Context) error {
		return s.engine.DepositAndMint(ctx, caller, req.Asset, req.Amount, req.MintAmount)
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req assetAmountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.respondPosition(w, r, caller, &req.Asset, func(ctx context.Context) error {
		return s.engine.Redeem(ctx, caller, req.Asset, req.Amount)
	})
}

func (s *Server) handleRedeemForPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Asset      crypto.Address `json:"asset"`
		Amount     types.Wad      `json:"amount"`
		BurnAmount types.Wad      `json:"burnAmount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.respondPosition(w, r, caller, &req.Asset, func(ctx context.Context) error {
		return s.engine.RedeemForPayment(ctx, caller, req.Asset, req.Amount, req.BurnAmount)
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount types.Wad `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.respondPosition(w, r, caller, nil, func(ctx context.Context) error {
		return s.engine.Mint(ctx, caller, req.Amount)
	})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount types.Wad `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.respondPosition(w, r, caller, nil, func(ctx context.Context) error {
		return s.engine.Burn(ctx, caller, req.Amount)
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Asset       crypto.Address `json:"asset"`
		User        crypto.Address `json:"user"`
		DebtToCover types.Wad      `json:"debtToCover"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.respondPosition(w, r, req.User, &req.Asset, func(ctx context.Context) error {
		return s.engine.Liquidate(ctx, caller, req.Asset, req.User, req.DebtToCover)
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	tokenAddr, err := pathAddress(r, "token")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	token, err := s.ledger.Token(tokenAddr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var req struct {
		Spender crypto.Address `json:"spender"`
		Amount  types.Wad      `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var allowance types.Wad
	err = s.sequence(func() error {
		if err := s.ledger.Apply(func() error {
			return token.Approve(caller, req.Spender, req.Amount)
		}); err != nil {
			return err
		}
		var readErr error
		allowance, readErr = token.Allowance(caller, req.Spender)
		return readErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     tokenAddr,
		"owner":     caller,
		"spender":   req.Spender,
		"allowance": allowance,
	})
}

func (s *Server) handleOracleRound(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAddress(r, "asset")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	agg, ok := s.feeds[asset]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_feed", fmt.Sprintf("no operator feed for %s", asset))
		return
	}
	var req struct {
		Price     string `json:"price"`
		UpdatedAt int64  `json:"updatedAt"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	answer, err := oracle.ParseAnswer(req.Price)
	if err != nil || answer.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_price", "price must be a positive decimal")
		return
	}
	at := s.clock()
	if req.UpdatedAt > 0 {
		at = time.Unix(req.UpdatedAt, 0)
	}
	var roundID uint64
	err = s.sequence(func() error {
		var pushErr error
		roundID, pushErr = agg.UpdateAnswer(answer, at)
		return pushErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":     asset,
		"roundId":   roundID,
		"answer":    oracle.FormatAnswer(answer),
		"updatedAt": at.UTC().Format(time.RFC3339),
	})
}

// respondPosition runs fn under the sequencer and answers with the resulting
// position of user.
func (s *Server) respondPosition(w http.ResponseWriter, r *http.Request, user crypto.Address, asset *crypto.Address, fn func(ctx context.Context) error) {
	var resp positionResponse
	err := s.sequence(func() error {
		if err := fn(r.Context()); err != nil {
			return err
		}
		debt, err := s.engine.Debt(user)
		if err != nil {
			return err
		}
		resp = positionResponse{Address: user, Debt: debt}
		if asset != nil {
			amount, err := s.engine.CollateralBalance(user, *asset)
			if err != nil {
				return err
			}
			resp.Asset = asset
			resp.Collateral = &amount
		}
		return nil
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
