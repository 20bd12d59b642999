package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/models"
	"github.com/atinyakov/cardsync/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_ExactInstanceSet(t *testing.T) {
	repo := newMemRepo()
	repo.putUser("u1", models.Normal)
	repo.putCard("u1", "a", 1)
	repo.putCard("u1", "b", 2)
	repo.putCard("u1", "c", 3)

	svc := service.NewCardService(repo, newStubCollector(), nil)
	fresh := []models.CardRecord{record("b", 2), record("c", 3), record("d", 4)}

	cards, err := svc.Reconcile(context.Background(), "u1", fresh)
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 3, 4}, repo.dataIDs("u1"))
	assert.Len(t, cards, 3)
	require.Len(t, repo.deleteCalls, 1)
	assert.Equal(t, []models.CardKey{{UserID: "u1", CardID: "a"}}, repo.deleteCalls[0])
}

func TestReconcile_Idempotent(t *testing.T) {
	repo := newMemRepo()
	repo.putUser("u1", models.Normal)
	repo.putCard("u1", "a", 1)

	svc := service.NewCardService(repo, newStubCollector(), nil)
	fresh := []models.CardRecord{record("b", 2), record("c", 3)}

	first, err := svc.Reconcile(context.Background(), "u1", fresh)
	require.NoError(t, err)
	snapshot := repo.dataIDs("u1")

	second, err := svc.Reconcile(context.Background(), "u1", fresh)
	require.NoError(t, err)

	assert.Equal(t, snapshot, repo.dataIDs("u1"))
	assert.Equal(t, first, second)
	// the second run finds nothing stale
	assert.Len(t, repo.deleteCalls, 1)
}

func TestReconcile_SameTemplateNewInstance(t *testing.T) {
	repo := newMemRepo()
	repo.putUser("u1", models.Normal)
	repo.putCard("u1", "a", 1)

	svc := service.NewCardService(repo, newStubCollector(), nil)
	_, err := svc.Reconcile(context.Background(), "u1", []models.CardRecord{record("a", 7)})
	require.NoError(t, err)

	assert.Equal(t, []int64{7}, repo.dataIDs("u1"))
	assert.Empty(t, repo.deleteCalls)
}

func TestReconcile_KeepsKnownFields(t *testing.T) {
	repo := newMemRepo()
	repo.putUser("u1", models.Normal)
	svc := service.NewCardService(repo, newStubCollector(), nil)

	named := record("a", 1)
	named.Name = "Asuna"
	_, err := svc.Reconcile(context.Background(), "u1", []models.CardRecord{named})
	require.NoError(t, err)

	cards, err := svc.Reconcile(context.Background(), "u1", []models.CardRecord{record("a", 1)})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.NotNil(t, cards[0].Name)
	assert.Equal(t, "Asuna", *cards[0].Name)
}

func TestReconcile_Failures(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		svc := service.NewCardService(newMemRepo(), newStubCollector(), nil)
		_, err := svc.Reconcile(context.Background(), "ghost", []models.CardRecord{record("a", 1)})

		var se *apperr.SynchronizationError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "ghost", se.UserID)
		assert.True(t, errors.Is(err, apperr.ErrSync))
		assert.True(t, errors.Is(err, apperr.ErrNotFound))
	})

	t.Run("delete fails", func(t *testing.T) {
		repo := newMemRepo()
		repo.putUser("u1", models.Normal)
		repo.putCard("u1", "old", 1)
		repo.DeleteErr = errors.New("deadlock")

		svc := service.NewCardService(repo, newStubCollector(), nil)
		_, err := svc.Reconcile(context.Background(), "u1", nil)
		assert.True(t, errors.Is(err, apperr.ErrSync))
	})
}

func TestRefreshUserCards(t *testing.T) {
	repo := newMemRepo()
	repo.putUser("u1", models.Normal)
	repo.putCard("u1", "gone", 99)

	col := newStubCollector()
	col.records["u1"] = []models.CardRecord{record("a", 1), record("b", 2)}

	svc := service.NewCardService(repo, col, nil)
	cards, err := svc.RefreshUserCards(context.Background(), "u1")
	require.NoError(t, err)

	assert.Len(t, cards, 2)
	assert.Equal(t, []int64{1, 2}, repo.dataIDs("u1"))
}

func TestRefreshUserCards_CollectErrorKeepsKind(t *testing.T) {
	repo := newMemRepo()
	repo.putUser("u1", models.Normal)
	repo.putCard("u1", "a", 1)

	col := newStubCollector()
	col.errs["u1"] = &apperr.CardsParseError{UserID: "u1", Reason: "card count",
		Err: &apperr.NetworkError{URL: "x", Reason: "timeout"}}

	svc := service.NewCardService(repo, col, nil)
	_, err := svc.RefreshUserCards(context.Background(), "u1")
	assert.True(t, errors.Is(err, apperr.ErrParse))
	assert.True(t, errors.Is(err, apperr.ErrNetwork))
	// storage is untouched when collection fails
	assert.Equal(t, []int64{1}, repo.dataIDs("u1"))
}

// blockingCollector holds every call until release is closed.
type blockingCollector struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (b *blockingCollector) CollectCards(context.Context, string) ([]models.CardRecord, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		close(b.started)
	}
	<-b.release
	return []models.CardRecord{record("a", 1)}, nil
}

func TestRefreshUserCards_CollapsesConcurrentRuns(t *testing.T) {
	repo := newMemRepo()
	repo.putUser("u1", models.Normal)
	col := &blockingCollector{started: make(chan struct{}), release: make(chan struct{})}
	svc := service.NewCardService(repo, col, nil)

	var wg sync.WaitGroup
	results := make([][]models.Card, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = svc.RefreshUserCards(context.Background(), "u1")
	}()
	<-col.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = svc.RefreshUserCards(context.Background(), "u1")
	}()
	time.Sleep(100 * time.Millisecond)
	close(col.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, col.calls)
	assert.Equal(t, results[0], results[1])
}

// cancelAwareCollector fails with the context error if ctx ends before release.
type cancelAwareCollector struct {
	started chan struct{}
	release chan struct{}
}

func (c *cancelAwareCollector) CollectCards(ctx context.Context, _ string) ([]models.CardRecord, error) {
	close(c.started)
	select {
	case <-c.release:
		return []models.CardRecord{record("a", 1)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRefreshUserCards_StarterCancellationDoesNotFailJoiners(t *testing.T) {
	repo := newMemRepo()
	repo.putUser("u1", models.Normal)
	col := &cancelAwareCollector{started: make(chan struct{}), release: make(chan struct{})}
	svc := service.NewCardService(repo, col, nil)

	starterCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errs := make([]error, 2)
	results := make([][]models.Card, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = svc.RefreshUserCards(starterCtx, "u1")
	}()
	<-col.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = svc.RefreshUserCards(context.Background(), "u1")
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(col.release)
	wg.Wait()

	require.NoError(t, errs[1])
	require.Len(t, results[1], 1)
	assert.Equal(t, "a", results[1][0].CardID)
	assert.Equal(t, []int64{1}, repo.dataIDs("u1"))
}

func TestGetUserCards(t *testing.T) {
	t.Run("stored without refresh", func(t *testing.T) {
		repo := newMemRepo()
		repo.putUser("u1", models.Normal)
		repo.putCard("u1", "a", 1)
		col := newStubCollector()

		svc := service.NewCardService(repo, col, nil)
		cards, err := svc.GetUserCards(context.Background(), "u1", false)
		require.NoError(t, err)
		assert.Len(t, cards, 1)
		assert.Zero(t, col.callsFor("u1"))
	})

	t.Run("refresh requested", func(t *testing.T) {
		repo := newMemRepo()
		repo.putUser("u1", models.Normal)
		col := newStubCollector()
		col.records["u1"] = []models.CardRecord{record("a", 1)}

		svc := service.NewCardService(repo, col, nil)
		cards, err := svc.GetUserCards(context.Background(), "u1", true)
		require.NoError(t, err)
		assert.Len(t, cards, 1)
		assert.Equal(t, 1, col.callsFor("u1"))
	})

	t.Run("unknown user self heals", func(t *testing.T) {
		repo := newMemRepo()
		col := newStubCollector()
		col.records["new"] = []models.CardRecord{record("a", 1), record("b", 2)}

		svc := service.NewCardService(repo, col, nil)
		cards, err := svc.GetUserCards(context.Background(), "new", false)
		require.NoError(t, err)
		assert.Len(t, cards, 2)
		assert.Equal(t, []string{"new"}, repo.addUserCalls)
		assert.Equal(t, 1, col.callsFor("new"))
	})
}

func TestUpdateCard(t *testing.T) {
	repo := newMemRepo()
	repo.putUser("u1", models.Normal)
	repo.putCard("u1", "a", 1)
	svc := service.NewCardService(repo, newStubCollector(), nil)

	err := svc.UpdateCard(context.Background(), "u1", "a", models.CardPatch{})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	lock := true
	require.NoError(t, svc.UpdateCard(context.Background(), "u1", "a", models.CardPatch{Lock: &lock}))

	err = svc.UpdateCard(context.Background(), "u1", "zzz", models.CardPatch{Lock: &lock})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDeleteCards(t *testing.T) {
	repo := newMemRepo()
	repo.putUser("u1", models.Normal)
	repo.putCard("u1", "a", 1)
	repo.putCard("u1", "b", 2)
	svc := service.NewCardService(repo, newStubCollector(), nil)

	n, err := svc.DeleteCards(context.Background(), []models.CardKey{{UserID: "u1", CardID: "a"}, {UserID: "u1", CardID: "x"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []int64{2}, repo.dataIDs("u1"))
}
