package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/models"
	"github.com/lib/pq"
)

const cardColumns = `card_id, user_id, image, name, manga_name, data_id, lock, created_at`

// GetCardsForUser fetches all stored cards of a user.
//
//	ctx:    context for cancellation and deadlines
//	userID: identifier of the user
//
// Returns apperr.UserNotFoundError when the user is not stored.
func (r *PostgresRepository) GetCardsForUser(ctx context.Context, userID string) ([]models.Card, error) {
	exists, err := r.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &apperr.UserNotFoundError{UserID: userID}
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM cards WHERE user_id = $1 ORDER BY created_at, card_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("GetCardsForUser: %w", err)
	}
	defer rows.Close()

	cards := make([]models.Card, 0)
	for rows.Next() {
		var c models.Card
		if err := rows.Scan(&c.CardID, &c.UserID, &c.Image, &c.Name, &c.MangaName, &c.DataID, &c.Lock, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetCardsForUser rows: %w", err)
	}
	return cards, nil
}

const upsertCardQuery = `
	INSERT INTO cards (card_id, user_id, image, name, manga_name, data_id, lock)
	VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
	ON CONFLICT (card_id, user_id) DO UPDATE SET
		image = EXCLUDED.image,
		name = COALESCE(EXCLUDED.name, cards.name),
		manga_name = COALESCE(EXCLUDED.manga_name, cards.manga_name),
		data_id = COALESCE(EXCLUDED.data_id, cards.data_id),
		lock = COALESCE(EXCLUDED.lock, cards.lock)
`

// UpsertCards writes records for userID in one transaction. Records without a
// template id or image cannot form a row and are skipped. Empty name fields
// and nil data id or lock keep whatever the row already holds.
//
// Returns apperr.UserNotFoundError when the user is not stored; nothing is
// written in that case.
func (r *PostgresRepository) UpsertCards(ctx context.Context, userID string, records []models.CardRecord) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`, userID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return &apperr.UserNotFoundError{UserID: userID}
	}

	for _, rec := range records {
		if rec.CardID == "" || rec.Image == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, upsertCardQuery,
			rec.CardID, userID, rec.Image, rec.Name, rec.MangaName, rec.DataID, rec.Lock)
		if err != nil {
			return fmt.Errorf("upsert card %s: %w", rec.CardID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteCards removes the addressed rows in one transaction and returns how
// many were deleted. Keys are grouped per user so each user costs one
// statement.
func (r *PostgresRepository) DeleteCards(ctx context.Context, keys []models.CardKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	var order []string
	byUser := make(map[string][]string)
	for _, k := range keys {
		if _, ok := byUser[k.UserID]; !ok {
			order = append(order, k.UserID)
		}
		byUser[k.UserID] = append(byUser[k.UserID], k.CardID)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var deleted int64
	for _, userID := range order {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cards WHERE user_id = $1 AND card_id = ANY($2)`,
			userID, pq.Array(byUser[userID]))
		if err != nil {
			return 0, fmt.Errorf("delete cards of %s: %w", userID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return deleted, nil
}

// GetSpecificCardForUsers looks up the card template cardID for every user in
// ids. Stored users map to their card, or to nil when they do not own it.
// Users that are not stored at all are returned in missing, in input order.
func (r *PostgresRepository) GetSpecificCardForUsers(ctx context.Context, ids []string, cardID string) (map[string]*models.Card, []string, error) {
	found := make(map[string]*models.Card, len(ids))
	if len(ids) == 0 {
		return found, nil, nil
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT u.user_id, c.card_id, c.image, c.name, c.manga_name, c.data_id, c.lock, c.created_at
		FROM users u
		LEFT JOIN cards c ON c.user_id = u.user_id AND c.card_id = $2
		WHERE u.user_id = ANY($1)
	`, pq.Array(ids), cardID)
	if err != nil {
		return nil, nil, fmt.Errorf("GetSpecificCardForUsers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID    string
			cid       sql.NullString
			image     sql.NullString
			name      *string
			mangaName *string
			dataID    *int64
			lock      *bool
			createdAt sql.NullTime
		)
		if err := rows.Scan(&userID, &cid, &image, &name, &mangaName, &dataID, &lock, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("scan: %w", err)
		}
		if !cid.Valid {
			found[userID] = nil
			continue
		}
		found[userID] = &models.Card{
			CardID:    cid.String,
			UserID:    userID,
			Image:     image.String,
			Name:      name,
			MangaName: mangaName,
			DataID:    dataID,
			Lock:      lock,
			CreatedAt: nullTime(createdAt),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("GetSpecificCardForUsers rows: %w", err)
	}

	var missing []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	return found, missing, nil
}

// UpdateCard applies the non-nil fields of patch to one stored card.
func (r *PostgresRepository) UpdateCard(ctx context.Context, userID, cardID string, patch models.CardPatch) error {
	if patch.IsEmpty() {
		return fmt.Errorf("%w: no fields to update", apperr.ErrInvalidInput)
	}

	exists, err := r.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return &apperr.UserNotFoundError{UserID: userID}
	}

	set := newSetClause(3)
	if patch.Image != nil {
		set.add("image", *patch.Image)
	}
	if patch.Name != nil {
		set.add("name", *patch.Name)
	}
	if patch.MangaName != nil {
		set.add("manga_name", *patch.MangaName)
	}
	if patch.DataID != nil {
		set.add("data_id", *patch.DataID)
	}
	if patch.Lock != nil {
		set.add("lock", *patch.Lock)
	}

	query := `UPDATE cards SET ` + set.String() + ` WHERE user_id = $1 AND card_id = $2`
	res, err := r.DB.ExecContext(ctx, query, append([]any{userID, cardID}, set.args...)...)
	if err != nil {
		return fmt.Errorf("UpdateCard: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateCard rows affected: %w", err)
	}
	if n == 0 {
		return &apperr.CardNotFoundError{UserID: userID, CardID: cardID}
	}
	return nil
}

func nullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
