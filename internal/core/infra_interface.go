package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/Parley/internal/models"
)

// DbClient defines all persistence operations your services will need.
// It abstracts SQLite so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	GetActiveRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, revokeID string, next *models.RefreshToken) error
	RevokeRefreshToken(ctx context.Context, tokenHash string) error

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, keyHash string, at time.Time) error

	ConversationStore
	MessageStore

	GetUsageStats(ctx context.Context, userID string) (*models.UsageStats, error)

	Close() error
}

// ConversationStore is the conversation half of the store.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, int, error)
	UpdateConversation(ctx context.Context, id string, upd models.ConversationUpdate) (*models.Conversation, error)
	SetAutoTitle(ctx context.Context, id, title string) (bool, error)
	SoftDeleteConversation(ctx context.Context, id string) error
	HardDeleteConversation(ctx context.Context, id string) error
}

// MessageStore is the append-only message log.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	ListMessagesPage(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int, error)
}

// ObjectClient stores exported artifacts. S3 in production; anything with the
// same semantics (MinIO, GCS interop) fits.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
}
