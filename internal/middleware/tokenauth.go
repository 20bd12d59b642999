// Package middleware provides HTTP middlewares for authentication and logging.
package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/profile"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// TokenHeader carries the access token. The token query parameter and a
// "token" field of a JSON request body are accepted as well.
const TokenHeader = "X-Auth-Token"

// maxTokenBody bounds how much of a request body is buffered to find a token.
const maxTokenBody = 1 << 20

// TokenValidator checks an access token.
type TokenValidator interface {
	ValidateToken(token string) (profile.Profile, error)
}

// TokenAuth rejects requests whose token does not match the stored profile.
//
// A wrong or missing token is answered with 401. A profile that cannot be
// read is a server fault and is answered with 500.
func TokenAuth(v TokenValidator, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(TokenHeader)
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" && r.Body != nil && r.Method != http.MethodGet {
				token = bodyToken(r)
			}

			if _, err := v.ValidateToken(token); err != nil {
				if errors.Is(err, apperr.ErrUnauthorized) {
					log.Warn("invalid token attempt", zap.String("remote", r.RemoteAddr), zap.String("path", r.URL.Path))
					writeDetail(w, http.StatusUnauthorized, "Invalid token")
					return
				}
				log.Error("token validation failed", zap.Error(err))
				writeDetail(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bodyToken reads the "token" field of a JSON body and leaves the body
// readable for the next handler.
func bodyToken(r *http.Request) string {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxTokenBody))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil || len(data) == 0 {
		return ""
	}

	var body struct {
		Token string `json:"token"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	return body.Token
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
