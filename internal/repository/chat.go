package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"chatcall_realtime/internal/model"
)

type chatRepository struct {
	db *sqlx.DB
}

func NewChatRepository(db *sqlx.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) GetChat(ctx context.Context, chatID int64) (*model.Chat, error) {
	query := `
		SELECT id, name, is_group, encryption_key, created_at
		FROM chats
		WHERE id = $1
	`
	var c model.Chat
	if err := r.db.GetContext(ctx, &c, query, chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %d: %w", chatID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &c, nil
}

func (r *chatRepository) IsParticipant(ctx context.Context, chatID, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, chatID, userID); err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return exists, nil
}

func (r *chatRepository) ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error) {
	query := `SELECT user_id FROM chat_participants WHERE chat_id = $1 ORDER BY user_id`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, chatID); err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	return ids, nil
}
