package service_test

import (
	"context"
	"sort"
	"sync"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/models"
)

// memRepo is an in-memory store with the same upsert semantics as Postgres.
type memRepo struct {
	mu    sync.Mutex
	users map[string]models.User
	cards map[string]map[string]models.Card

	// UpdateUserFunc overrides UpdateUser when set.
	UpdateUserFunc func(userID string, patch models.UserPatch) (models.UpdateOutcome, error)
	UpsertErr      error
	DeleteErr      error
	AddUsersErr    error

	updateCalls  int
	addUserCalls []string
	deleteCalls  [][]models.CardKey
}

func newMemRepo() *memRepo {
	return &memRepo{
		users: map[string]models.User{},
		cards: map[string]map[string]models.Card{},
	}
}

func (m *memRepo) putUser(id string, category models.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = models.User{ID: id, Category: category}
}

func (m *memRepo) putCard(userID, cardID string, dataID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cards[userID] == nil {
		m.cards[userID] = map[string]models.Card{}
	}
	d := dataID
	m.cards[userID][cardID] = models.Card{CardID: cardID, UserID: userID, Image: "/" + cardID, DataID: &d}
}

func (m *memRepo) dataIDs(userID string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for _, c := range m.cards[userID] {
		if c.DataID != nil {
			out = append(out, *c.DataID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *memRepo) addUserLocked(u models.User) {
	existing, ok := m.users[u.ID]
	if !ok {
		if u.Category == "" {
			u.Category = models.Normal
		}
		m.users[u.ID] = u
		return
	}
	if u.Username != nil {
		existing.Username = u.Username
	}
	if u.Image != nil {
		existing.Image = u.Image
	}
	m.users[u.ID] = existing
}

func (m *memRepo) AddUser(_ context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addUserCalls = append(m.addUserCalls, u.ID)
	m.addUserLocked(u)
	return nil
}

func (m *memRepo) AddUsers(_ context.Context, users []models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddUsersErr != nil {
		return m.AddUsersErr
	}
	for _, u := range users {
		m.addUserLocked(u)
	}
	return nil
}

func (m *memRepo) UserExists(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[userID]
	return ok, nil
}

func (m *memRepo) UpdateUser(_ context.Context, userID string, patch models.UserPatch) (models.UpdateOutcome, error) {
	m.mu.Lock()
	m.updateCalls++
	fn := m.UpdateUserFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(userID, patch)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return models.NotFound, nil
	}
	if patch.Category != nil {
		u.Category = *patch.Category
	}
	if patch.Username != nil {
		u.Username = patch.Username
	}
	if patch.Image != nil {
		u.Image = patch.Image
	}
	m.users[userID] = u
	return models.Updated, nil
}

func (m *memRepo) GetUserCategories(_ context.Context, ids []string) (map[string]models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]models.Category{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u.Category
		}
	}
	return out, nil
}

func (m *memRepo) GetSpecificCardForUsers(_ context.Context, ids []string, cardID string) (map[string]*models.Card, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := map[string]*models.Card{}
	var missing []string
	for _, id := range ids {
		if _, ok := m.users[id]; !ok {
			missing = append(missing, id)
			continue
		}
		if c, ok := m.cards[id][cardID]; ok {
			found[id] = &c
		} else {
			found[id] = nil
		}
	}
	return found, missing, nil
}

func (m *memRepo) UsersByCategory(_ context.Context, category models.Category, cardID string, limit, offset int) ([]models.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.User
	for id, u := range m.users {
		if _, ok := m.cards[id][cardID]; ok && u.Category == category {
			all = append(all, u)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= total {
		return []models.User{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memRepo) GetCardsForUser(_ context.Context, userID string) ([]models.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return nil, &apperr.UserNotFoundError{UserID: userID}
	}
	out := make([]models.Card, 0, len(m.cards[userID]))
	for _, c := range m.cards[userID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out, nil
}

func (m *memRepo) UpsertCards(_ context.Context, userID string, records []models.CardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	if _, ok := m.users[userID]; !ok {
		return &apperr.UserNotFoundError{UserID: userID}
	}
	if m.cards[userID] == nil {
		m.cards[userID] = map[string]models.Card{}
	}
	for _, r := range records {
		if r.CardID == "" || r.Image == "" {
			continue
		}
		c, ok := m.cards[userID][r.CardID]
		if !ok {
			c = models.Card{CardID: r.CardID, UserID: userID}
		}
		c.Image = r.Image
		if r.Name != "" {
			name := r.Name
			c.Name = &name
		}
		if r.MangaName != "" {
			manga := r.MangaName
			c.MangaName = &manga
		}
		if r.DataID != nil {
			c.DataID = r.DataID
		}
		if r.Lock != nil {
			c.Lock = r.Lock
		}
		m.cards[userID][r.CardID] = c
	}
	return nil
}

func (m *memRepo) DeleteCards(_ context.Context, keys []models.CardKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, keys)
	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}
	var n int64
	for _, k := range keys {
		if _, ok := m.cards[k.UserID][k.CardID]; ok {
			delete(m.cards[k.UserID], k.CardID)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) UpdateCard(_ context.Context, userID, cardID string, patch models.CardPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return &apperr.UserNotFoundError{UserID: userID}
	}
	c, ok := m.cards[userID][cardID]
	if !ok {
		return &apperr.CardNotFoundError{UserID: userID, CardID: cardID}
	}
	if patch.Name != nil {
		c.Name = patch.Name
	}
	if patch.Lock != nil {
		c.Lock = patch.Lock
	}
	m.cards[userID][cardID] = c
	return nil
}

// stubCollector returns canned records per user.
type stubCollector struct {
	mu      sync.Mutex
	records map[string][]models.CardRecord
	errs    map[string]error
	calls   map[string]int
}

func newStubCollector() *stubCollector {
	return &stubCollector{
		records: map[string][]models.CardRecord{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (c *stubCollector) CollectCards(_ context.Context, userID string) ([]models.CardRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[userID]++
	if err := c.errs[userID]; err != nil {
		return nil, err
	}
	return c.records[userID], nil
}

func (c *stubCollector) callsFor(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[userID]
}

func record(cardID string, dataID int64) models.CardRecord {
	d := dataID
	return models.CardRecord{CardID: cardID, Image: "/" + cardID, DataID: &d}
}
