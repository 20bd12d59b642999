package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// statusFor maps an error kind to its HTTP status. Network is checked before
// parse: a collection that failed because upstream was unreachable is a 503
// even though it surfaces as a parse error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// writeError answers with the status of err's kind. Unclassified errors are
// logged and hidden from the client.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		detail = "Internal server error"
	} else {
		log.Warn("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Detail: detail})
}

// decodeBody reads a JSON body into v and validates it.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", apperr.ErrInvalidInput, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: invalid body: %v", apperr.ErrInvalidInput, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}
