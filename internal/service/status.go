package service

import (
	"context"
	"fmt"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/models"
	"go.uber.org/zap"
)

const (
	// statusUpdateAttempts bounds the explicit status-set loop.
	statusUpdateAttempts = 4
	// statusUpdateSuccesses is how many confirmed writes the loop requires.
	statusUpdateSuccesses = 2

	// DefaultUsersPageSize is the page size of users-by-category listings.
	DefaultUsersPageSize = 36
)

// StatusRepository defines the persistence operations needed by the StatusService.
type StatusRepository interface {
	AddUser(ctx context.Context, u models.User) error
	AddUsers(ctx context.Context, users []models.User) error
	// UpdateUser reports models.NotFound instead of failing for a missing user.
	UpdateUser(ctx context.Context, userID string, patch models.UserPatch) (models.UpdateOutcome, error)
	GetUserCategories(ctx context.Context, ids []string) (map[string]models.Category, error)
	// GetSpecificCardForUsers also returns the ids that are not stored at all.
	GetSpecificCardForUsers(ctx context.Context, ids []string, cardID string) (map[string]*models.Card, []string, error)
	UsersByCategory(ctx context.Context, category models.Category, cardID string, limit, offset int) ([]models.User, int, error)
}

// CategoryProber observes a user's live category. It never fails.
type CategoryProber interface {
	FetchUserCategory(ctx context.Context, userID string) models.Category
}

// CardRefresher refreshes the stored cards of one user.
type CardRefresher interface {
	RefreshUserCards(ctx context.Context, userID string) ([]models.Card, error)
}

// StatusService resolves and persists user categories.
type StatusService struct {
	repo     StatusRepository
	prober   CategoryProber
	cards    CardRefresher
	log      *zap.Logger
	pageSize int
}

// NewStatusService constructs a StatusService. pageSize <= 0 selects
// DefaultUsersPageSize.
func NewStatusService(repo StatusRepository, prober CategoryProber, cards CardRefresher, log *zap.Logger, pageSize int) *StatusService {
	if log == nil {
		log = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = DefaultUsersPageSize
	}
	return &StatusService{repo: repo, prober: prober, cards: cards, log: log, pageSize: pageSize}
}

// SetUserStatus stores category for the user. The write must be confirmed
// twice within four attempts; a missing user is created along the way, which
// does not count as a confirmation. Any other storage failure aborts at once.
func (s *StatusService) SetUserStatus(ctx context.Context, userID, category string) error {
	cat, err := models.ValidateCategory(category)
	if err != nil {
		return err
	}

	patch := models.UserPatch{Category: &cat}
	attempts, successes := 0, 0

	for attempts < statusUpdateAttempts && successes < statusUpdateSuccesses {
		attempts++

		outcome, err := s.repo.UpdateUser(ctx, userID, patch)
		if err != nil {
			s.log.Error("status update failed",
				zap.String("user_id", userID), zap.Int("attempt", attempts), zap.Error(err))
			return &apperr.StatusUpdateError{UserID: userID, Attempts: attempts, Successes: successes, Err: err}
		}

		switch outcome {
		case models.Updated:
			successes++
		case models.NotFound:
			s.log.Info("user not found during status update, creating",
				zap.String("user_id", userID), zap.Int("attempt", attempts))
			if err := s.repo.AddUser(ctx, models.User{ID: userID}); err != nil {
				return &apperr.StatusUpdateError{
					UserID: userID, Attempts: attempts, Successes: successes,
					Err: fmt.Errorf("create user: %w", err),
				}
			}
		}
	}

	if successes < statusUpdateSuccesses {
		s.log.Error("status update not confirmed",
			zap.String("user_id", userID), zap.Int("attempts", attempts), zap.Int("successes", successes))
		return &apperr.StatusUpdateError{UserID: userID, Attempts: attempts, Successes: successes}
	}

	s.log.Info("user status updated", zap.String("user_id", userID), zap.String("category", string(cat)))
	return nil
}

// GetUsersStatus returns the status badge of every user in users. Users that
// are not stored yet are created and get a best-effort card refresh first.
// Each user's live category is then probed and reported; a difference is
// persisted only while the stored category is one the probe manages, so a
// curated category survives the probe in storage.
func (s *StatusService) GetUsersStatus(ctx context.Context, cardID string, users []models.User) (map[string]models.UserStatus, error) {
	ids := make([]string, 0, len(users))
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		if _, dup := byID[u.ID]; dup {
			continue
		}
		byID[u.ID] = u
		ids = append(ids, u.ID)
	}
	if len(ids) == 0 {
		return map[string]models.UserStatus{}, nil
	}

	_, missing, err := s.repo.GetSpecificCardForUsers(ctx, ids, cardID)
	if err != nil {
		return nil, err
	}

	if len(missing) > 0 {
		if err := s.addMissing(ctx, missing, byID); err != nil {
			return nil, err
		}
	}

	stored, err := s.repo.GetUserCategories(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.UserStatus, len(ids))
	for _, id := range ids {
		current, ok := stored[id]
		if !ok || !current.Valid() {
			current = models.Normal
		}

		live := s.prober.FetchUserCategory(ctx, id)
		if live != current && current.AutoManaged() {
			s.persistCategory(ctx, id, live)
		}
		out[id] = live.Status()
	}
	return out, nil
}

func (s *StatusService) addMissing(ctx context.Context, missing []string, byID map[string]models.User) error {
	batch := make([]models.User, 0, len(missing))
	for _, id := range missing {
		batch = append(batch, byID[id])
	}
	if err := s.repo.AddUsers(ctx, batch); err != nil {
		return err
	}

	for _, id := range missing {
		if _, err := s.cards.RefreshUserCards(ctx, id); err != nil {
			s.log.Warn("refresh of new user failed",
				zap.String("user_id", id), zap.Error(err))
			continue
		}
		s.log.Info("new user refreshed", zap.String("user_id", id))
	}
	return nil
}

func (s *StatusService) persistCategory(ctx context.Context, userID string, category models.Category) {
	outcome, err := s.repo.UpdateUser(ctx, userID, models.UserPatch{Category: &category})
	if err != nil {
		s.log.Error("failed to persist probed category",
			zap.String("user_id", userID), zap.String("category", string(category)), zap.Error(err))
		return
	}
	if outcome == models.NotFound {
		s.log.Warn("user vanished before category update", zap.String("user_id", userID))
		return
	}
	s.log.Info("category changed by probe",
		zap.String("user_id", userID), zap.String("category", string(category)))
}

// GetUsersByCategory lists stored users of category owning cardID, one page
// at a time. Pages are 0-based; a negative page reads the first page.
func (s *StatusService) GetUsersByCategory(ctx context.Context, category, cardID string, page int) (models.UsersPage, error) {
	cat, err := models.ValidateCategory(category)
	if err != nil {
		return models.UsersPage{}, err
	}
	if page < 0 {
		page = 0
	}

	users, total, err := s.repo.UsersByCategory(ctx, cat, cardID, s.pageSize, page*s.pageSize)
	if err != nil {
		return models.UsersPage{}, err
	}

	return models.UsersPage{
		Users:      users,
		TotalPages: (total + s.pageSize - 1) / s.pageSize,
	}, nil
}
