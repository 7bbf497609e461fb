package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/models"
)

// NewConversation carries the optional fields of a create request.
type NewConversation struct {
	Title        *string
	Model        string
	SystemPrompt *string
	Metadata     map[string]any
}

type ConversationService struct {
	db           core.DbClient
	defaultModel string
}

func NewConversationService(db core.DbClient, defaultModel string) *ConversationService {
	return &ConversationService{db: db, defaultModel: defaultModel}
}

// Create stores a new conversation for userID. Without a title (or with the
// placeholder title) the conversation is named by its first turn.
func (s *ConversationService) Create(ctx context.Context, userID string, in NewConversation) (*models.Conversation, error) {
	title := models.DefaultConversationTitle
	if in.Title != nil && *in.Title != "" {
		title = *in.Title
	}
	model := in.Model
	if model == "" {
		model = s.defaultModel
	}
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		Title:          title,
		TitleIsDefault: title == models.DefaultConversationTitle,
		Model:          model,
		SystemPrompt:   in.SystemPrompt,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Get returns the conversation when userID owns it. Missing and soft-deleted
// conversations are core.ErrNotFound; someone else's is core.ErrForbidden.
func (s *ConversationService) Get(ctx context.Context, userID, id string) (*models.Conversation, error) {
	conv, err := s.db.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.IsDeleted {
		return nil, core.ErrNotFound
	}
	if conv.UserID != userID {
		return nil, core.ErrForbidden
	}
	return conv, nil
}

func (s *ConversationService) List(ctx context.Context, userID string, page, pageSize int) ([]models.Conversation, int, error) {
	return s.db.ListConversations(ctx, userID, pageSize, (page-1)*pageSize)
}

func (s *ConversationService) Update(ctx context.Context, userID, id string, upd models.ConversationUpdate) (*models.Conversation, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.db.UpdateConversation(ctx, id, upd)
}

func (s *ConversationService) Delete(ctx context.Context, userID, id string, hard bool) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if hard {
		return s.db.HardDeleteConversation(ctx, id)
	}
	return s.db.SoftDeleteConversation(ctx, id)
}

func (s *ConversationService) Messages(ctx context.Context, userID, id string, page, pageSize int) ([]models.Message, int, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, 0, err
	}
	return s.db.ListMessagesPage(ctx, id, pageSize, (page-1)*pageSize)
}

func (s *ConversationService) Usage(ctx context.Context, userID string) (*models.UsageStats, error) {
	return s.db.GetUsageStats(ctx, userID)
}
