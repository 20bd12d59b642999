package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CardService defines the card operations required by the CardsHandler.
type CardService interface {
	GetUserCards(ctx context.Context, userID string, refresh bool) ([]models.Card, error)
	UpdateCard(ctx context.Context, userID, cardID string, patch models.CardPatch) error
	DeleteCards(ctx context.Context, keys []models.CardKey) (int64, error)
}

// CardsHandler serves stored cards.
type CardsHandler struct {
	Cards CardService
	Log   *zap.Logger
}

// DeleteCardsRequest lists the rows to remove.
type DeleteCardsRequest struct {
	Cards []models.CardKey `json:"cards" validate:"required,min=1,dive"`
}

// DeleteCardsResponse reports how many rows were removed.
type DeleteCardsResponse struct {
	Deleted int64 `json:"deleted"`
}

// GetUserCards handles GET /api/users/{userID}/cards?refresh=true|false.
func (h *CardsHandler) GetUserCards(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := validate.Var(userID, "required,numeric"); err != nil {
		writeError(w, h.Log, fmt.Errorf("%w: user id must be numeric", apperr.ErrInvalidInput))
		return
	}

	refresh := false
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, h.Log, fmt.Errorf("%w: refresh must be a boolean", apperr.ErrInvalidInput))
			return
		}
		refresh = v
	}

	cards, err := h.Cards.GetUserCards(r.Context(), userID, refresh)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// UpdateCard handles PATCH /api/users/{userID}/cards/{cardID}.
func (h *CardsHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	key := models.CardKey{UserID: chi.URLParam(r, "userID"), CardID: chi.URLParam(r, "cardID")}
	if err := validate.Struct(key); err != nil {
		writeError(w, h.Log, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err))
		return
	}

	var patch models.CardPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, h.Log, err)
		return
	}

	if err := h.Cards.UpdateCard(r.Context(), key.UserID, key.CardID, patch); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// DeleteCards handles POST /api/cards/delete.
func (h *CardsHandler) DeleteCards(w http.ResponseWriter, r *http.Request) {
	var req DeleteCardsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	n, err := h.Cards.DeleteCards(r.Context(), req.Cards)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteCardsResponse{Deleted: n})
}
