package services

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/core/auth"
	db "github.com/markdave123-py/Parley/internal/core/database"
	"github.com/markdave123-py/Parley/internal/models"
)

func newStore(t *testing.T) *db.DatabaseClient {
	t.Helper()
	c, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newUserService(t *testing.T) (*UserService, *db.DatabaseClient) {
	store := newStore(t)
	return NewUserService(store, auth.NewTokenManager("test-secret", time.Minute, time.Hour)), store
}

func TestRegisterLoginAndDuplicate(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "Alice@Example.com ", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "bearer", pair.TokenType)

	_, err = svc.Register(ctx, "alice@example.com", "password123")
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = svc.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = svc.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestRegisterRejectsPasswordsBcryptCannotHash(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "long@example.com", strings.Repeat("a", 73))
	assert.ErrorIs(t, err, core.ErrValidation)

	// 40 runes, 80 bytes
	_, err = svc.Register(ctx, "runes@example.com", strings.Repeat("é", 40))
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = svc.Register(ctx, "edge@example.com", strings.Repeat("a", 72))
	assert.NoError(t, err)
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, "bob@example.com", "password123")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	_, err = svc.Refresh(ctx, second.AccessToken)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.NoError(t, svc.Logout(ctx, second.RefreshToken))
	_, err = svc.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestAuthenticateAccessToken(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "carol@example.com", "password123")
	require.NoError(t, err)

	user, err := svc.AuthenticateAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", user.Email)

	_, err = svc.AuthenticateAccessToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestAPIKeyLifecycle(t *testing.T) {
	svc, store := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "dan@example.com", "password123")
	require.NoError(t, err)
	u, err := store.GetUserByEmail(ctx, "dan@example.com")
	require.NoError(t, err)

	raw, key, err := svc.CreateAPIKey(ctx, u.ID, "ci", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "pk_"))
	assert.Equal(t, raw[:8], key.KeyPrefix)
	assert.Nil(t, key.ExpiresAt)

	user, err := svc.AuthenticateAPIKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, u.ID, user.ID)

	stored, err := store.GetAPIKeyByHash(ctx, auth.HashToken(raw))
	require.NoError(t, err)
	assert.NotNil(t, stored.LastUsedAt)

	_, err = svc.AuthenticateAPIKey(ctx, "pk_unknown")
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	expiring, _, err := svc.CreateAPIKey(ctx, u.ID, "short", 1)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	_, err = svc.AuthenticateAPIKey(ctx, expiring)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func seedUser(t *testing.T, store *db.DatabaseClient, id string) {
	t.Helper()
	require.NoError(t, store.CreateUser(context.Background(), &models.User{ID: id, Email: id + "@example.com", PasswordHash: "x"}))
}

func TestConversationOwnership(t *testing.T) {
	store := newStore(t)
	svc := NewConversationService(store, "llama-3.1-8b-instant")
	ctx := context.Background()
	seedUser(t, store, "owner")
	seedUser(t, store, "intruder")

	conv, err := svc.Create(ctx, "owner", NewConversation{})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultConversationTitle, conv.Title)
	assert.True(t, conv.TitleIsDefault)
	assert.Equal(t, "llama-3.1-8b-instant", conv.Model)

	_, err = svc.Get(ctx, "owner", conv.ID)
	require.NoError(t, err)

	_, err = svc.Get(ctx, "intruder", conv.ID)
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = svc.Get(ctx, "intruder", "does-not-exist")
	assert.ErrorIs(t, err, core.ErrNotFound)

	title := "Mine"
	_, err = svc.Update(ctx, "intruder", conv.ID, models.ConversationUpdate{Title: &title})
	assert.ErrorIs(t, err, core.ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, "intruder", conv.ID, true), core.ErrForbidden)
}

func TestCreateWithExplicitTitle(t *testing.T) {
	store := newStore(t)
	svc := NewConversationService(store, "llama-3.1-8b-instant")
	seedUser(t, store, "u")

	title := "Holiday plans"
	conv, err := svc.Create(context.Background(), "u", NewConversation{Title: &title, Model: "gemma2-9b-it"})
	require.NoError(t, err)
	assert.False(t, conv.TitleIsDefault)
	assert.Equal(t, "gemma2-9b-it", conv.Model)
}

func TestSoftAndHardDelete(t *testing.T) {
	store := newStore(t)
	svc := NewConversationService(store, "m")
	ctx := context.Background()
	seedUser(t, store, "u")

	soft, err := svc.Create(ctx, "u", NewConversation{})
	require.NoError(t, err)
	hard, err := svc.Create(ctx, "u", NewConversation{})
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, &models.Message{ID: "m1", ConversationID: hard.ID, Role: models.RoleUser, Content: "x"}))

	require.NoError(t, svc.Delete(ctx, "u", soft.ID, false))
	_, err = svc.Get(ctx, "u", soft.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	raw, err := store.GetConversation(ctx, soft.ID)
	require.NoError(t, err)
	assert.True(t, raw.IsDeleted)

	items, total, err := svc.List(ctx, "u", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, hard.ID, items[0].ID)

	require.NoError(t, svc.Delete(ctx, "u", hard.ID, true))
	_, err = store.GetConversation(ctx, hard.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	msgs, err := store.ListMessages(ctx, hard.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessagesPaging(t *testing.T) {
	store := newStore(t)
	svc := NewConversationService(store, "m")
	ctx := context.Background()
	seedUser(t, store, "u")
	conv, err := svc.Create(ctx, "u", NewConversation{})
	require.NoError(t, err)

	at := time.Now().UTC()
	for i, content := range []string{"a", "b", "c"} {
		require.NoError(t, store.AppendMessage(ctx, &models.Message{
			ID: content, ConversationID: conv.ID, Role: models.RoleUser, Content: content,
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		}))
	}

	page, total, err := svc.Messages(ctx, "u", conv.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].Content)

	_, _, err = svc.Messages(ctx, "someone-else", conv.ID, 1, 10)
	assert.ErrorIs(t, err, core.ErrForbidden)
}
