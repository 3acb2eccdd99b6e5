package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"stablevault/core/types"
	"stablevault/crypto"
	"stablevault/native/cdp"
)

const defaultAccountLimit = 100

type indexedAccountResponse struct {
	Address      string    `json:"address"`
	LastEvent    string    `json:"lastEvent"`
	Events       uint64    `json:"events"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastSeen     time.Time `json:"lastSeen"`
	Debt         types.Wad `json:"debt"`
	HealthFactor types.Wad `json:"healthFactor"`
}

type candidateResponse struct {
	Address         crypto.Address `json:"address"`
	Debt            types.Wad      `json:"debt"`
	CollateralValue types.Wad      `json:"collateralValue"`
	HealthFactor    types.Wad      `json:"healthFactor"`
}

func parseLimit(r *http.Request, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return 0, false
	}
	return limit, true
}

// handleAccounts lists indexed participants with their current position.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "account index not configured")
		return
	}
	limit, ok := parseLimit(r, defaultAccountLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be between 1 and 1000")
		return
	}
	accounts, err := s.index.Accounts(r.Context(), limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]indexedAccountResponse, 0, len(accounts))
	err = s.view(func() error {
		for _, account := range accounts {
			entry := indexedAccountResponse{
				Address:   account.Address,
				LastEvent: account.LastEvent,
				Events:    account.Events,
				FirstSeen: account.FirstSeen,
				LastSeen:  account.LastSeen,
			}
			addr, err := crypto.DecodeAddress(account.Address)
			if err != nil {
				continue
			}
			if entry.Debt, err = s.engine.Debt(addr); err != nil {
				return err
			}
			if entry.HealthFactor, err = s.engine.HealthFactor(r.Context(), addr); err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

// handleLiquidationCandidates returns indexed accounts whose health factor is
// below the minimum at current prices.
func (s *Server) handleLiquidationCandidates(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "account index not configured")
		return
	}
	accounts, err := s.index.Accounts(r.Context(), 0)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	candidates := make([]candidateResponse, 0)
	err = s.view(func() error {
		for _, account := range accounts {
			addr, err := crypto.DecodeAddress(account.Address)
			if err != nil {
				continue
			}
			debt, value, err := s.engine.AccountInformation(r.Context(), addr)
			if err != nil {
				return err
			}
			health, err := cdp.CalculateHealthFactor(debt, value)
			if err != nil {
				return err
			}
			if !health.Lt(s.engine.Constants().MinHealthFactor) {
				continue
			}
			candidates = append(candidates, candidateResponse{
				Address:         addr,
				Debt:            debt,
				CollateralValue: value,
				HealthFactor:    health,
			})
		}
		return nil
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}
