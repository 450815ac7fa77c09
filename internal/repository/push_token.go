package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chatcall_realtime/internal/model"
)

type pushTokenRepository struct {
	db *sqlx.DB
}

func NewPushTokenRepository(db *sqlx.DB) PushTokenRepository {
	return &pushTokenRepository{db: db}
}

// UpsertPushToken creates or reassigns a token.
// A token re-registered by another account moves to that account.
func (r *pushTokenRepository) UpsertPushToken(ctx context.Context, userID int64, provider, token string) error {
	query := `
		INSERT INTO push_tokens (user_id, provider, token, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (provider, token) DO UPDATE SET
			user_id = EXCLUDED.user_id
	`
	_, err := r.db.ExecContext(ctx, query, userID, provider, token)
	if err != nil {
		return fmt.Errorf("upsert push token: %w", err)
	}
	return nil
}

func (r *pushTokenRepository) GetPushTokens(ctx context.Context, userID int64) ([]model.PushToken, error) {
	query := `
		SELECT id, user_id, provider, token, created_at, last_used
		FROM push_tokens
		WHERE user_id = $1
		ORDER BY COALESCE(last_used, created_at) DESC
	`
	var tokens []model.PushToken
	if err := r.db.SelectContext(ctx, &tokens, query, userID); err != nil {
		return nil, fmt.Errorf("get push tokens: %w", err)
	}
	return tokens, nil
}

// DeletePushToken removes a token the user unregistered, whatever its provider.
func (r *pushTokenRepository) DeletePushToken(ctx context.Context, userID int64, token string) error {
	query := `DELETE FROM push_tokens WHERE user_id = $1 AND token = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, token); err != nil {
		return fmt.Errorf("delete push token: %w", err)
	}
	return nil
}

func (r *pushTokenRepository) RemovePushTokens(ctx context.Context, userID int64, provider string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	query := `DELETE FROM push_tokens WHERE user_id = $1 AND provider = $2 AND token = ANY($3)`
	if _, err := r.db.ExecContext(ctx, query, userID, provider, pq.Array(tokens)); err != nil {
		return fmt.Errorf("remove push tokens: %w", err)
	}
	return nil
}

func (r *pushTokenRepository) TouchPushTokens(ctx context.Context, userID int64, provider string, tokens []string, at time.Time) error {
	if len(tokens) == 0 {
		return nil
	}
	query := `UPDATE push_tokens SET last_used = $1 WHERE user_id = $2 AND provider = $3 AND token = ANY($4)`
	if _, err := r.db.ExecContext(ctx, query, at, userID, provider, pq.Array(tokens)); err != nil {
		return fmt.Errorf("touch push tokens: %w", err)
	}
	return nil
}
