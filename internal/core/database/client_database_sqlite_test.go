package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Parley/internal/config"
	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/models"
)

func newTestDB(t *testing.T) *DatabaseClient {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func seedUser(t *testing.T, c *DatabaseClient, email string) *models.User {
	t.Helper()
	u := &models.User{ID: uuid.NewString(), Email: email, PasswordHash: "hash"}
	require.NoError(t, c.CreateUser(context.Background(), u))
	return u
}

func seedConversation(t *testing.T, c *DatabaseClient, userID string) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		Title:          models.DefaultConversationTitle,
		TitleIsDefault: true,
		Model:          "llama-3.1-8b-instant",
	}
	require.NoError(t, c.CreateConversation(context.Background(), conv))
	return conv
}

func TestNewDatabaseClientFromConfig(t *testing.T) {
	ctx := context.Background()

	_, err := NewDatabaseClient(ctx, nil)
	assert.Error(t, err)

	_, err = NewDatabaseClient(ctx, &config.Config{})
	assert.ErrorContains(t, err, "DATABASE_PATH")

	client, err := NewDatabaseClient(ctx, &config.Config{DatabasePath: filepath.Join(t.TempDir(), "cfg.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	user := &models.User{ID: uuid.NewString(), Email: "cfg@example.com", PasswordHash: "hash"}
	require.NoError(t, client.CreateUser(ctx, user))
	got, err := client.GetUserByEmail(ctx, "cfg@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	require.NoError(t, err)
	seedUser(t, first, "a@example.com")
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	u, err := second.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
}

func TestCreateUserDuplicateEmailConflicts(t *testing.T) {
	c := newTestDB(t)
	seedUser(t, c, "dup@example.com")

	err := c.CreateUser(context.Background(), &models.User{ID: uuid.NewString(), Email: "dup@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestGetUserMissingIsNotFound(t *testing.T) {
	c := newTestDB(t)
	_, err := c.GetUserByID(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConversationRoundTrip(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	u := seedUser(t, c, "owner@example.com")

	prompt := "be terse"
	conv := &models.Conversation{
		ID:           uuid.NewString(),
		UserID:       u.ID,
		Title:        "Plans",
		Model:        "gemma2-9b-it",
		SystemPrompt: &prompt,
		Metadata:     map[string]any{"tag": "work"},
	}
	require.NoError(t, c.CreateConversation(ctx, conv))

	got, err := c.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plans", got.Title)
	assert.False(t, got.TitleIsDefault)
	require.NotNil(t, got.SystemPrompt)
	assert.Equal(t, "be terse", *got.SystemPrompt)
	assert.Equal(t, "work", got.Metadata["tag"])
}

func TestSetAutoTitleAppliesOnce(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, c, seedUser(t, c, "t@example.com").ID)

	changed, err := c.SetAutoTitle(ctx, conv.ID, "First title")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = c.SetAutoTitle(ctx, conv.ID, "Second title")
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := c.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "First title", got.Title)
}

func TestExplicitTitleEditClearsDefaultFlag(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, c, seedUser(t, c, "e@example.com").ID)

	title := models.DefaultConversationTitle
	archived := true
	updated, err := c.UpdateConversation(ctx, conv.ID, models.ConversationUpdate{Title: &title, IsArchived: &archived})
	require.NoError(t, err)
	assert.False(t, updated.TitleIsDefault)
	assert.True(t, updated.IsArchived)

	changed, err := c.SetAutoTitle(ctx, conv.ID, "Derived")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUpdateMissingConversation(t *testing.T) {
	c := newTestDB(t)
	title := "x"
	_, err := c.UpdateConversation(context.Background(), "missing", models.ConversationUpdate{Title: &title})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMessagesOrderedByCreation(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, c, seedUser(t, c, "m@example.com").ID)

	at := time.Now().UTC()
	for i, content := range []string{"one", "two", "three"} {
		require.NoError(t, c.AppendMessage(ctx, &models.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        content,
			CreatedAt:      at.Add(time.Duration(i) * time.Millisecond),
		}))
	}
	// same timestamp as the last one; insertion order breaks the tie
	require.NoError(t, c.AppendMessage(ctx, &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        "four",
		CreatedAt:      at.Add(2 * time.Millisecond),
	}))

	msgs, err := c.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"one", "two", "three", "four"}, contents)

	page, total, err := c.ListMessagesPage(ctx, conv.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, "three", page[0].Content)
	assert.Equal(t, "four", page[1].Content)
}

func TestAppendMessageKeepsOptionalFields(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, c, seedUser(t, c, "o@example.com").ID)

	model, finish, latency := "gemma2-9b-it", "stop", int64(42)
	require.NoError(t, c.AppendMessage(ctx, &models.Message{
		ID:               "msg_abc",
		ConversationID:   conv.ID,
		Role:             models.RoleAssistant,
		Content:          "hi",
		TokenCount:       1,
		Model:            &model,
		FinishReason:     &finish,
		LatencyMs:        &latency,
		Metadata:         map[string]any{"usage": map[string]any{"output_tokens": 1}},
		EstimatedCostUSD: 0.0001,
	}))

	msgs, err := c.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	m := msgs[0]
	require.NotNil(t, m.Model)
	assert.Equal(t, model, *m.Model)
	require.NotNil(t, m.LatencyMs)
	assert.Equal(t, latency, *m.LatencyMs)
	assert.InDelta(t, 0.0001, m.EstimatedCostUSD, 1e-12)
	assert.Contains(t, m.Metadata, "usage")
}

func TestListConversationsExcludesSoftDeleted(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	u := seedUser(t, c, "l@example.com")
	keep := seedConversation(t, c, u.ID)
	gone := seedConversation(t, c, u.ID)
	seedConversation(t, c, seedUser(t, c, "other@example.com").ID)

	require.NoError(t, c.SoftDeleteConversation(ctx, gone.ID))

	items, total, err := c.ListConversations(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, keep.ID, items[0].ID)
}

func TestSoftDeleteKeepsRows(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, c, seedUser(t, c, "s@example.com").ID)
	require.NoError(t, c.AppendMessage(ctx, &models.Message{ID: uuid.NewString(), ConversationID: conv.ID, Role: models.RoleUser, Content: "x"}))

	require.NoError(t, c.SoftDeleteConversation(ctx, conv.ID))

	got, err := c.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	msgs, err := c.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHardDeleteRemovesConversationAndMessages(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, c, seedUser(t, c, "h@example.com").ID)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.AppendMessage(ctx, &models.Message{ID: uuid.NewString(), ConversationID: conv.ID, Role: models.RoleUser, Content: "x"}))
	}

	require.NoError(t, c.HardDeleteConversation(ctx, conv.ID))

	_, err := c.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	msgs, err := c.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, c.HardDeleteConversation(ctx, conv.ID), core.ErrNotFound)
}

func TestRefreshTokenRotation(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	u := seedUser(t, c, "r@example.com")

	first := &models.RefreshToken{ID: uuid.NewString(), UserID: u.ID, TokenHash: "h1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, c.CreateRefreshToken(ctx, first))

	got, err := c.GetActiveRefreshToken(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	next := &models.RefreshToken{ID: uuid.NewString(), UserID: u.ID, TokenHash: "h2", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, c.RotateRefreshToken(ctx, first.ID, next))

	_, err = c.GetActiveRefreshToken(ctx, "h1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = c.GetActiveRefreshToken(ctx, "h2")
	require.NoError(t, err)

	again := &models.RefreshToken{ID: uuid.NewString(), UserID: u.ID, TokenHash: "h3", ExpiresAt: time.Now().Add(time.Hour)}
	assert.ErrorIs(t, c.RotateRefreshToken(ctx, first.ID, again), core.ErrNotFound)

	require.NoError(t, c.RevokeRefreshToken(ctx, "h2"))
	_, err = c.GetActiveRefreshToken(ctx, "h2")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestExpiredRefreshTokenIsNotActive(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	u := seedUser(t, c, "x@example.com")
	require.NoError(t, c.CreateRefreshToken(ctx, &models.RefreshToken{
		ID: uuid.NewString(), UserID: u.ID, TokenHash: "old", ExpiresAt: time.Now().Add(-time.Minute),
	}))

	_, err := c.GetActiveRefreshToken(ctx, "old")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAPIKeyLookupAndTouch(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	u := seedUser(t, c, "k@example.com")

	require.NoError(t, c.CreateAPIKey(ctx, &models.APIKey{
		ID: uuid.NewString(), UserID: u.ID, KeyHash: "kh", KeyPrefix: "pk_abcde", Name: "ci", IsActive: true,
	}))

	k, err := c.GetAPIKeyByHash(ctx, "kh")
	require.NoError(t, err)
	assert.Equal(t, u.ID, k.UserID)
	assert.Nil(t, k.LastUsedAt)
	assert.Nil(t, k.ExpiresAt)
	assert.Empty(t, k.Scopes)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, c.TouchAPIKey(ctx, "kh", at))
	k, err = c.GetAPIKeyByHash(ctx, "kh")
	require.NoError(t, err)
	require.NotNil(t, k.LastUsedAt)
	assert.True(t, at.Equal(*k.LastUsedAt))
}

func TestUsageStatsSumsOwnedMessages(t *testing.T) {
	c := newTestDB(t)
	ctx := context.Background()
	u := seedUser(t, c, "u@example.com")
	conv := seedConversation(t, c, u.ID)
	other := seedConversation(t, c, seedUser(t, c, "v@example.com").ID)

	require.NoError(t, c.AppendMessage(ctx, &models.Message{ID: uuid.NewString(), ConversationID: conv.ID, Role: models.RoleUser, Content: "a", TokenCount: 3}))
	require.NoError(t, c.AppendMessage(ctx, &models.Message{ID: uuid.NewString(), ConversationID: conv.ID, Role: models.RoleAssistant, Content: "b", TokenCount: 5, EstimatedCostUSD: 0.25}))
	require.NoError(t, c.AppendMessage(ctx, &models.Message{ID: uuid.NewString(), ConversationID: other.ID, Role: models.RoleUser, Content: "c", TokenCount: 100}))

	stats, err := c.GetUsageStats(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Messages)
	assert.Equal(t, 8, stats.Tokens)
	assert.InDelta(t, 0.25, stats.EstimatedCostUSD, 1e-9)
}
