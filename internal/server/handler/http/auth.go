// Package http provides the HTTP handlers and routing of the cardsync API.
package http

import (
	"net/http"

	"go.uber.org/zap"
)

// ProfileService issues access tokens for a new upstream session.
type ProfileService interface {
	// CreateProfile stores the session and returns a fresh token.
	CreateProfile(cookies map[string]string, csrfToken string) (string, error)
}

// AuthHandler handles session registration.
type AuthHandler struct {
	// Profiles persists the session.
	Profiles ProfileService
	Log      *zap.Logger
}

// SetHTTPDataRequest is the upstream session handed over by the client.
type SetHTTPDataRequest struct {
	Cookie    map[string]string `json:"cookie" validate:"required"`
	CSRFToken string            `json:"csrf_token" validate:"required"`
}

// TokenResponse carries the issued access token.
type TokenResponse struct {
	Token string `json:"token"`
}

// SetHTTPData handles POST /api/set_http_data. It stores the cookies and CSRF
// token used for upstream requests and returns the token that guards every
// other endpoint. A previous token stops working.
func (h *AuthHandler) SetHTTPData(w http.ResponseWriter, r *http.Request) {
	var req SetHTTPDataRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	token, err := h.Profiles.CreateProfile(req.Cookie, req.CSRFToken)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}
