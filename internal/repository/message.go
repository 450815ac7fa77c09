package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"chatcall_realtime/internal/model"
)

type messageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepository{db: db}
}

// CreateMessage inserts m and fills ID and CreatedAt. File and encryption
// metadata are stored flat.
func (r *messageRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	query := `
		INSERT INTO messages (chat_id, sender_id, type, content,
		                      file_url, file_name, file_mime, file_size,
		                      encryption_algorithm, encryption_nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id, created_at
	`

	var fileURL, fileName, fileMime, encAlg, encNonce *string
	var fileSize *int64
	if m.File != nil {
		fileURL, fileName, fileMime, fileSize = &m.File.URL, &m.File.Name, &m.File.MimeType, &m.File.Size
	}
	if m.Encryption != nil {
		encAlg, encNonce = &m.Encryption.Algorithm, &m.Encryption.Nonce
	}

	row := r.db.QueryRowxContext(ctx, query,
		m.ChatID, m.SenderID, m.Type, m.Content,
		fileURL, fileName, fileMime, fileSize,
		encAlg, encNonce,
	)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *messageRepository) MarkRead(ctx context.Context, chatID, messageID, userID int64, at time.Time) error {
	query := `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT id, $3, $4 FROM messages WHERE id = $1 AND chat_id = $2
		ON CONFLICT (message_id, user_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, messageID, chatID, userID, at); err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}
