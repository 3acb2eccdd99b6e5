package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"stablevault/native/bank"
	"stablevault/native/cdp"
	"stablevault/services/cdpd/storage"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps engine and ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, cdp.ErrReentrantCall):
		return http.StatusConflict
	case cdp.IsValidation(err),
		errors.Is(err, bank.ErrInvalidAmount),
		errors.Is(err, bank.ErrZeroAddress):
		return http.StatusBadRequest
	case errors.Is(err, bank.ErrUnknownToken), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case cdp.IsPrice(err):
		return http.StatusServiceUnavailable
	case cdp.IsCollaborator(err):
		return http.StatusBadGateway
	case cdp.IsInvariant(err),
		errors.Is(err, bank.ErrInsufficientBalance),
		errors.Is(err, bank.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, errBadRequest):
		return "bad_request"
	case errors.Is(err, bank.ErrUnknownToken):
		return "unknown_token"
	case errors.Is(err, bank.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, bank.ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, bank.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, bank.ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	}
	return cdp.Reason(err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("cdpd: request failed",
			slog.String("route", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeError(w, status, codeFor(err), err.Error())
}
