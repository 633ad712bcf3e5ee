package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/storage"
	"github.com/example/ride-escrow/internal/vault"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var kindStatus = map[string]int{
	"InvalidFare":         http.StatusBadRequest,
	"InvalidProfile":      http.StatusBadRequest,
	"InvalidFee":          http.StatusBadRequest,
	"InvalidOwner":        http.StatusBadRequest,
	"Unauthorized":        http.StatusForbidden,
	"NotRegisteredDriver": http.StatusForbidden,
	"NotFound":            http.StatusNotFound,
	"InvalidState":        http.StatusConflict,
	"AlreadyRegistered":   http.StatusConflict,
	"Reentrant":           http.StatusLocked,
	"TransferFailed":      http.StatusServiceUnavailable,
}

// classify maps an error to its HTTP status and wire kind.
func classify(err error) (int, string) {
	if kind := ledger.Kind(err); kind != "Internal" {
		return kindStatus[kind], kind
	}
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "BadRequest"
	case errors.Is(err, vault.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "InsufficientBalance"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Unavailable"
	}
	return http.StatusInternalServerError, "Internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
