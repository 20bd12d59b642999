// Package repository provides the PostgreSQL implementation of user and card
// storage.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/models"
	"github.com/lib/pq"
)

// PostgresRepository stores users and their cards in PostgreSQL.
type PostgresRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresRepository creates a PostgresRepository using the provided *sql.DB.
// db must be a valid connection to a PostgreSQL instance.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{DB: db}
}

const upsertUserQuery = `
	INSERT INTO users (user_id, username, image, category)
	VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'normal'))
	ON CONFLICT (user_id) DO UPDATE SET
		username = COALESCE(EXCLUDED.username, users.username),
		image = COALESCE(EXCLUDED.image, users.image)
`

// AddUser inserts u, or fills in its missing username and image when the user
// already exists. The stored category of an existing user is never changed.
func (r *PostgresRepository) AddUser(ctx context.Context, u models.User) error {
	if u.Category != "" && !u.Category.Valid() {
		return &apperr.InvalidCategoryError{Category: string(u.Category), Valid: models.CategoryNames()}
	}
	_, err := r.DB.ExecContext(ctx, upsertUserQuery, u.ID, u.Username, u.Image, string(u.Category))
	if err != nil {
		return fmt.Errorf("AddUser: %w", err)
	}
	return nil
}

// AddUsers is AddUser for a batch, applied in one transaction.
func (r *PostgresRepository) AddUsers(ctx context.Context, users []models.User) error {
	if len(users) == 0 {
		return nil
	}
	for _, u := range users {
		if u.Category != "" && !u.Category.Valid() {
			return &apperr.InvalidCategoryError{Category: string(u.Category), Valid: models.CategoryNames()}
		}
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, u := range users {
		if _, err := tx.ExecContext(ctx, upsertUserQuery, u.ID, u.Username, u.Image, string(u.Category)); err != nil {
			return fmt.Errorf("AddUsers %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UserExists reports whether a user with the given id is stored.
func (r *PostgresRepository) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("UserExists: %w", err)
	}
	return exists, nil
}

// UpdateUser applies the non-nil fields of patch. A missing user is reported
// as models.NotFound, not as an error.
func (r *PostgresRepository) UpdateUser(ctx context.Context, userID string, patch models.UserPatch) (models.UpdateOutcome, error) {
	if patch.Category != nil && !patch.Category.Valid() {
		return models.NotFound, &apperr.InvalidCategoryError{Category: string(*patch.Category), Valid: models.CategoryNames()}
	}

	if patch.IsEmpty() {
		exists, err := r.UserExists(ctx, userID)
		if err != nil {
			return models.NotFound, err
		}
		if !exists {
			return models.NotFound, nil
		}
		return models.Updated, nil
	}

	set := newSetClause(2)
	if patch.Username != nil {
		set.add("username", *patch.Username)
	}
	if patch.Image != nil {
		set.add("image", *patch.Image)
	}
	if patch.Category != nil {
		set.add("category", string(*patch.Category))
	}

	query := `UPDATE users SET ` + set.String() + ` WHERE user_id = $1`
	res, err := r.DB.ExecContext(ctx, query, append([]any{userID}, set.args...)...)
	if err != nil {
		return models.NotFound, fmt.Errorf("UpdateUser: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.NotFound, fmt.Errorf("UpdateUser rows affected: %w", err)
	}
	if n == 0 {
		return models.NotFound, nil
	}
	return models.Updated, nil
}

// GetUserCategories returns the stored category of every known user in ids.
// Unknown ids are absent from the result.
func (r *PostgresRepository) GetUserCategories(ctx context.Context, ids []string) (map[string]models.Category, error) {
	out := make(map[string]models.Category, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.DB.QueryContext(ctx,
		`SELECT user_id, category FROM users WHERE user_id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("GetUserCategories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, category string
		if err := rows.Scan(&id, &category); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[id] = models.Category(category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetUserCategories rows: %w", err)
	}
	return out, nil
}

// UsersByCategory lists users of category that own the card template cardID,
// ordered by user id. It also returns the total number of matching users.
func (r *PostgresRepository) UsersByCategory(ctx context.Context, category models.Category, cardID string, limit, offset int) ([]models.User, int, error) {
	var total int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users u
		JOIN cards c ON c.user_id = u.user_id
		WHERE u.category = $1 AND c.card_id = $2
	`, string(category), cardID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("UsersByCategory count: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT u.user_id, u.username, u.image, u.category FROM users u
		JOIN cards c ON c.user_id = u.user_id
		WHERE u.category = $1 AND c.card_id = $2
		ORDER BY u.user_id
		LIMIT $3 OFFSET $4
	`, string(category), cardID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("UsersByCategory: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0, limit)
	for rows.Next() {
		var u models.User
		var cat string
		if err := rows.Scan(&u.ID, &u.Username, &u.Image, &cat); err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		u.Category = models.Category(cat)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("UsersByCategory rows: %w", err)
	}
	return users, total, nil
}

// setClause accumulates "col = $n" assignments for a partial UPDATE.
type setClause struct {
	next  int
	parts []string
	args  []any
}

func newSetClause(firstParam int) *setClause {
	return &setClause{next: firstParam}
}

func (s *setClause) add(column string, value any) {
	s.parts = append(s.parts, fmt.Sprintf("%s = $%d", column, s.next))
	s.args = append(s.args, value)
	s.next++
}

func (s *setClause) String() string {
	return strings.Join(s.parts, ", ")
}
