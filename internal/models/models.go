package models

import (
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultConversationTitle is the placeholder a conversation carries until its
// first turn names it.
const DefaultConversationTitle = "New conversation"

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// RefreshToken is the stored (hashed) half of an issued refresh JWT.
type RefreshToken struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	TokenHash string    `db:"token_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	Revoked   bool      `db:"revoked"`
	CreatedAt time.Time `db:"created_at"`
}

// APIKey authenticates non-interactive clients through the X-API-Key header.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"-"`
	KeyHash    string     `db:"key_hash" json:"-"`
	KeyPrefix  string     `db:"key_prefix" json:"key_prefix"`
	Name       string     `db:"name" json:"name"`
	Scopes     []string   `db:"scopes" json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Conversation is a chat thread owned by one user.
type Conversation struct {
	ID             string         `db:"id" json:"id"`
	UserID         string         `db:"user_id" json:"-"`
	Title          string         `db:"title" json:"title"`
	TitleIsDefault bool           `db:"title_is_default" json:"-"`
	Model          string         `db:"model" json:"model"`
	SystemPrompt   *string        `db:"system_prompt" json:"system_prompt"`
	Metadata       map[string]any `db:"metadata" json:"metadata"`
	IsArchived     bool           `db:"is_archived" json:"is_archived"`
	IsDeleted      bool           `db:"is_deleted" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ConversationUpdate carries the mutable fields of a conversation; nil means unchanged.
type ConversationUpdate struct {
	Title        *string
	SystemPrompt *string
	IsArchived   *bool
}

// Message is an individual, immutable chat message.
type Message struct {
	ID               string         `db:"id" json:"id"`
	ConversationID   string         `db:"conversation_id" json:"conversation_id"`
	Role             string         `db:"role" json:"role"`
	Content          string         `db:"content" json:"content"`
	TokenCount       int            `db:"token_count" json:"token_count"`
	Model            *string        `db:"model" json:"model"`
	FinishReason     *string        `db:"finish_reason" json:"finish_reason"`
	LatencyMs        *int64         `db:"latency_ms" json:"latency_ms"`
	Metadata         map[string]any `db:"metadata" json:"metadata"`
	EstimatedCostUSD float64        `db:"estimated_cost_usd" json:"estimated_cost_usd"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// UsageStats aggregates message volume and spend for one user.
type UsageStats struct {
	Messages         int     `json:"messages"`
	Tokens           int     `json:"tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}
