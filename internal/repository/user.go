package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chatcall_realtime/internal/model"
)

// userRepository implements UserRepository using sqlx
type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	query := `
		SELECT id, username, display_name, avatar_url, is_online, last_seen_at
		FROM users
		WHERE id = $1
	`

	var u model.User
	err := r.db.GetContext(ctx, &u, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &u, nil
}

func (r *userRepository) SetPresence(ctx context.Context, userID int64, online bool, lastSeenAt *time.Time) error {
	query := `UPDATE users SET is_online = $1, last_seen_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, online, lastSeenAt, userID)
	if err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

func (r *userRepository) GetPresence(ctx context.Context, userIDs []int64) (map[int64]model.PresenceRecord, error) {
	out := make(map[int64]model.PresenceRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT id, is_online, last_seen_at
		FROM users
		WHERE id = ANY($1)
	`
	var rows []struct {
		ID         int64      `db:"id"`
		IsOnline   bool       `db:"is_online"`
		LastSeenAt *time.Time `db:"last_seen_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(userIDs)); err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}
	for _, row := range rows {
		out[row.ID] = model.PresenceRecord{UserID: row.ID, IsOnline: row.IsOnline, LastSeenAt: row.LastSeenAt}
	}
	return out, nil
}
