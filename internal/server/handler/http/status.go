package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/models"
	"go.uber.org/zap"
)

// StatusService defines the category operations required by the StatusHandler.
type StatusService interface {
	SetUserStatus(ctx context.Context, userID, category string) error
	GetUsersStatus(ctx context.Context, cardID string, users []models.User) (map[string]models.UserStatus, error)
	GetUsersByCategory(ctx context.Context, category, cardID string, page int) (models.UsersPage, error)
}

// StatusHandler serves user categories.
type StatusHandler struct {
	Status StatusService
	Log    *zap.Logger
}

// SetUserStatusRequest assigns a category to one user.
type SetUserStatusRequest struct {
	UserID   string `json:"user_id" validate:"required,numeric"`
	Category string `json:"category" validate:"required"`
}

// UsersCardStatusRequest asks for the status of users holding a card.
type UsersCardStatusRequest struct {
	CardID string        `json:"card_id" validate:"required"`
	Users  []models.User `json:"users" validate:"dive"`
}

// StatusResponse acknowledges a write.
type StatusResponse struct {
	Status string `json:"status"`
}

// SetUserStatus handles POST /api/set_user_status.
func (h *StatusHandler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req SetUserStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	if err := h.Status.SetUserStatus(r.Context(), req.UserID, req.Category); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// UsersCardStatus handles POST /api/users_card_status. The response maps each
// user id to its category badge.
func (h *StatusHandler) UsersCardStatus(w http.ResponseWriter, r *http.Request) {
	var req UsersCardStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	statuses, err := h.Status.GetUsersStatus(r.Context(), req.CardID, req.Users)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// GetCardsByCategory handles GET /api/get_cards_by_category?category=&card_id=&page=.
// Pages start at 0.
func (h *StatusHandler) GetCardsByCategory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category, cardID := q.Get("category"), q.Get("card_id")
	if category == "" || cardID == "" {
		writeError(w, h.Log, fmt.Errorf("%w: category and card_id are required", apperr.ErrInvalidInput))
		return
	}

	page := 0
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, h.Log, fmt.Errorf("%w: page must be a non-negative integer", apperr.ErrInvalidInput))
			return
		}
		page = n
	}

	result, err := h.Status.GetUsersByCategory(r.Context(), category, cardID, page)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
