package repository

import (
	"context"
	"time"

	"chatcall_realtime/internal/model"
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	// Presence fields of the user aggregate.
	SetPresence(ctx context.Context, userID int64, online bool, lastSeenAt *time.Time) error
	GetPresence(ctx context.Context, userIDs []int64) (map[int64]model.PresenceRecord, error)
}

type PushTokenRepository interface {
	GetPushTokens(ctx context.Context, userID int64) ([]model.PushToken, error)
	// UpsertPushToken moves an existing (provider, token) pair to userID.
	UpsertPushToken(ctx context.Context, userID int64, provider, token string) error
	DeletePushToken(ctx context.Context, userID int64, token string) error
	// RemovePushTokens prunes tokens a provider reported permanently invalid.
	RemovePushTokens(ctx context.Context, userID int64, provider string, tokens []string) error
	TouchPushTokens(ctx context.Context, userID int64, provider string, tokens []string, at time.Time) error
}

type ChatRepository interface {
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID int64) (bool, error)
	ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error)
}

type FriendRepository interface {
	AcceptedFriendIDs(ctx context.Context, userID int64) ([]int64, error)
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	MarkRead(ctx context.Context, chatID, messageID, userID int64, at time.Time) error
}
