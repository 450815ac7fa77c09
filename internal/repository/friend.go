package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type friendRepository struct {
	db *sqlx.DB
}

func NewFriendRepository(db *sqlx.DB) FriendRepository {
	return &friendRepository{db: db}
}

// AcceptedFriendIDs returns both directions of accepted friendships.
func (r *friendRepository) AcceptedFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT addressee_id FROM friendships WHERE requester_id = $1 AND status = 'accepted'
		UNION
		SELECT requester_id FROM friendships WHERE addressee_id = $1 AND status = 'accepted'
	`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get friend ids: %w", err)
	}
	return ids, nil
}
