// Package service provides the business logic for mirroring user card
// collections and classifying users, delegating persistence to repository
// interfaces.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/metrics"
	"github.com/atinyakov/cardsync/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CardRepository defines the persistence operations needed by the CardService.
type CardRepository interface {
	// AddUser stores a user, keeping existing data for known ids.
	AddUser(ctx context.Context, u models.User) error
	// UserExists reports whether the user is stored.
	UserExists(ctx context.Context, userID string) (bool, error)
	// GetCardsForUser returns the stored cards of a user, or a not-found error.
	GetCardsForUser(ctx context.Context, userID string) ([]models.Card, error)
	// UpsertCards writes records for an existing user as one unit.
	UpsertCards(ctx context.Context, userID string, records []models.CardRecord) error
	// DeleteCards removes the addressed rows as one unit.
	DeleteCards(ctx context.Context, keys []models.CardKey) (int64, error)
	// UpdateCard patches one stored card.
	UpdateCard(ctx context.Context, userID, cardID string, patch models.CardPatch) error
}

// CardCollector walks the upstream card pages of a user.
type CardCollector interface {
	CollectCards(ctx context.Context, userID string) ([]models.CardRecord, error)
}

// CardService keeps stored cards in line with upstream.
type CardService struct {
	repo      CardRepository
	collector CardCollector
	log       *zap.Logger

	// refreshes collapses concurrent refreshes of the same user into one run.
	refreshes singleflight.Group
}

// NewCardService constructs a CardService. A nil logger disables logging.
func NewCardService(repo CardRepository, collector CardCollector, log *zap.Logger) *CardService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CardService{repo: repo, collector: collector, log: log}
}

// RefreshUserCards collects the user's cards upstream and reconciles storage
// with them. The user must already be stored. Callers that arrive while a
// refresh of the same user is running share its result; the run ignores
// cancellation of the caller that started it.
func (s *CardService) RefreshUserCards(ctx context.Context, userID string) ([]models.Card, error) {
	// the run is shared, so one caller going away must not cancel it for the rest
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := s.refreshes.Do(userID, func() (any, error) {
		return s.refresh(runCtx, userID)
	})
	if shared {
		s.log.Debug("joined running refresh", zap.String("user_id", userID))
	}
	if err != nil {
		return nil, err
	}
	cards := v.([]models.Card)
	return append([]models.Card(nil), cards...), nil
}

func (s *CardService) refresh(ctx context.Context, userID string) ([]models.Card, error) {
	start := time.Now()

	fresh, err := s.collector.CollectCards(ctx, userID)
	if err != nil {
		metrics.RefreshDuration.WithLabelValues("collect_failed").Observe(time.Since(start).Seconds())
		return nil, err
	}

	cards, err := s.Reconcile(ctx, userID, fresh)
	if err != nil {
		metrics.RefreshDuration.WithLabelValues("sync_failed").Observe(time.Since(start).Seconds())
		return nil, err
	}

	metrics.RefreshDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	return cards, nil
}

// Reconcile makes the stored cards of userID match fresh and returns what
// remains stored. Rows are upserted by (card, user); afterwards every stored
// row whose instance id is absent from fresh is deleted. Running it twice with
// the same input leaves the same state.
func (s *CardService) Reconcile(ctx context.Context, userID string, fresh []models.CardRecord) ([]models.Card, error) {
	if err := s.repo.UpsertCards(ctx, userID, fresh); err != nil {
		s.log.Error("failed to upsert cards", zap.String("user_id", userID), zap.Error(err))
		return nil, &apperr.SynchronizationError{UserID: userID, Err: err}
	}

	stored, err := s.repo.GetCardsForUser(ctx, userID)
	if err != nil {
		s.log.Error("failed to read back cards", zap.String("user_id", userID), zap.Error(err))
		return nil, &apperr.SynchronizationError{UserID: userID, Err: err}
	}

	keep, stale := diffByInstance(stored, fresh)
	if len(stale) > 0 {
		keys := make([]models.CardKey, len(stale))
		for i, c := range stale {
			keys[i] = models.CardKey{UserID: userID, CardID: c.CardID}
		}
		deleted, err := s.repo.DeleteCards(ctx, keys)
		if err != nil {
			s.log.Error("failed to delete stale cards", zap.String("user_id", userID), zap.Error(err))
			return nil, &apperr.SynchronizationError{UserID: userID, Err: err}
		}
		metrics.CardsDeleted.Add(float64(deleted))
	}

	s.log.Info("cards reconciled",
		zap.String("user_id", userID),
		zap.Int("fetched", len(fresh)),
		zap.Int("stored", len(keep)),
		zap.Int("deleted", len(stale)))
	return keep, nil
}

// diffByInstance splits stored rows into those whose instance id appears in
// fresh and those that vanished upstream. A row without an instance id
// survives only if fresh also carries a record without one.
func diffByInstance(stored []models.Card, fresh []models.CardRecord) (keep, stale []models.Card) {
	seen := make(map[int64]struct{}, len(fresh))
	freshHasNil := false
	for _, rec := range fresh {
		if rec.DataID == nil {
			freshHasNil = true
			continue
		}
		seen[*rec.DataID] = struct{}{}
	}

	keep = make([]models.Card, 0, len(stored))
	for _, c := range stored {
		present := freshHasNil
		if c.DataID != nil {
			_, present = seen[*c.DataID]
		}
		if present {
			keep = append(keep, c)
		} else {
			stale = append(stale, c)
		}
	}
	return keep, stale
}

// GetUserCards returns the stored cards of a user, refreshing them first when
// refresh is set. An unknown user is created and refreshed on the spot.
func (s *CardService) GetUserCards(ctx context.Context, userID string, refresh bool) ([]models.Card, error) {
	exists, err := s.repo.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		s.log.Info("unknown user, creating and refreshing", zap.String("user_id", userID))
		if err := s.repo.AddUser(ctx, models.User{ID: userID}); err != nil {
			return nil, err
		}
		refresh = true
	}

	if refresh {
		return s.RefreshUserCards(ctx, userID)
	}
	return s.repo.GetCardsForUser(ctx, userID)
}

// UpdateCard applies patch to one stored card.
func (s *CardService) UpdateCard(ctx context.Context, userID, cardID string, patch models.CardPatch) error {
	if patch.IsEmpty() {
		return errEmptyPatch
	}
	return s.repo.UpdateCard(ctx, userID, cardID, patch)
}

// DeleteCards removes the addressed cards and reports how many rows went away.
func (s *CardService) DeleteCards(ctx context.Context, keys []models.CardKey) (int64, error) {
	n, err := s.repo.DeleteCards(ctx, keys)
	if err != nil {
		return 0, err
	}
	s.log.Info("cards deleted", zap.Int("requested", len(keys)), zap.Int64("deleted", n))
	return n, nil
}

var errEmptyPatch = fmt.Errorf("%w: no fields to update", apperr.ErrInvalidInput)
