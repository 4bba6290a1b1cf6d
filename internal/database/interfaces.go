package database

import (
	"context"

	"chat-relay/internal/models"
)

type MessageStore interface {
	// Append durably writes one message. Callers must not broadcast a
	// message whose append failed.
	Append(ctx context.Context, msg *models.Message) error

	// Delete removes one message by id and reports how many rows went away
	// (0 or 1). Deleting a nonexistent id is not an error.
	Delete(ctx context.Context, id string) (int64, error)

	// Range returns at most limit messages in roomID with timestamp strictly
	// before beforeTimestamp, ordered oldest to newest. An empty result
	// means no more history.
	Range(ctx context.Context, roomID string, limit int, beforeTimestamp int64) ([]*models.Message, error)

	// Search matches text messages in roomID containing substr
	// (case-insensitive), newest first, capped at 50.
	Search(ctx context.Context, roomID, substr string) ([]*models.Message, error)

	// PatchAuthorAvatar rewrites the stored avatar on every historical row
	// for identity. Best-effort from the caller's perspective.
	PatchAuthorAvatar(ctx context.Context, identity, avatarURL string) (int64, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type Database interface {
	MessageStore
	UserRepository
	Close() error
}
