package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/core/auth"
	"github.com/markdave123-py/Parley/internal/models"
)

const (
	apiKeyPrefix    = "pk_"
	apiKeyPrefixLen = 8

	// bcrypt only hashes the first 72 bytes and rejects longer input.
	maxPasswordBytes = 72
)

type UserService struct {
	db     core.DbClient
	tokens *auth.TokenManager
	now    func() time.Time
}

func NewUserService(db core.DbClient, tokens *auth.TokenManager) *UserService {
	return &UserService{db: db, tokens: tokens, now: func() time.Time { return time.Now().UTC() }}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates the user and signs them in.
func (s *UserService) Register(ctx context.Context, email, password string) (*auth.Pair, error) {
	if len(password) > maxPasswordBytes {
		return nil, fmt.Errorf("%w: password must be at most %d bytes", core.ErrValidation, maxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return nil, fmt.Errorf("email already registered: %w", core.ErrConflict)
		}
		return nil, err
	}
	return s.issue(ctx, user.ID)
}

func (s *UserService) Login(ctx context.Context, email, password string) (*auth.Pair, error) {
	user, err := s.db.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("invalid credentials: %w", core.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("invalid credentials: %w", core.ErrUnauthorized)
	}
	return s.issue(ctx, user.ID)
}

// Refresh exchanges a live refresh token for a new pair; the old token is revoked.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*auth.Pair, error) {
	userID, err := s.tokens.Parse(refreshToken, auth.TypeRefresh)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", core.ErrUnauthorized)
	}

	stored, err := s.db.GetActiveRefreshToken(ctx, auth.HashToken(refreshToken))
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("refresh token revoked: %w", core.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if stored.UserID != userID {
		return nil, fmt.Errorf("invalid refresh token: %w", core.ErrUnauthorized)
	}

	pair, err := s.tokens.IssuePair(userID)
	if err != nil {
		return nil, err
	}
	next := s.refreshRecord(userID, pair)
	if err := s.db.RotateRefreshToken(ctx, stored.ID, next); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("refresh token revoked: %w", core.ErrUnauthorized)
		}
		return nil, err
	}
	return pair, nil
}

func (s *UserService) Logout(ctx context.Context, refreshToken string) error {
	return s.db.RevokeRefreshToken(ctx, auth.HashToken(refreshToken))
}

func (s *UserService) issue(ctx context.Context, userID string) (*auth.Pair, error) {
	pair, err := s.tokens.IssuePair(userID)
	if err != nil {
		return nil, err
	}
	if err := s.db.CreateRefreshToken(ctx, s.refreshRecord(userID, pair)); err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *UserService) refreshRecord(userID string, pair *auth.Pair) *models.RefreshToken {
	return &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: auth.HashToken(pair.RefreshToken),
		ExpiresAt: pair.RefreshExpiresAt,
		CreatedAt: s.now(),
	}
}

// CreateAPIKey mints a key for userID. The plaintext is returned once and only its hash is stored.
func (s *UserService) CreateAPIKey(ctx context.Context, userID, name string, expiresInDays int) (string, *models.APIKey, error) {
	var b [24]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	raw := apiKeyPrefix + hex.EncodeToString(b[:])

	key := &models.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		KeyHash:   auth.HashToken(raw),
		KeyPrefix: raw[:apiKeyPrefixLen],
		Name:      name,
		Scopes:    []string{},
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if expiresInDays > 0 {
		exp := s.now().Add(time.Duration(expiresInDays) * 24 * time.Hour)
		key.ExpiresAt = &exp
	}
	if err := s.db.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// AuthenticateAccessToken resolves a bearer access token to its user.
func (s *UserService) AuthenticateAccessToken(ctx context.Context, token string) (*models.User, error) {
	userID, err := s.tokens.Parse(token, auth.TypeAccess)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", core.ErrUnauthorized)
	}
	return s.lookupUser(ctx, userID)
}

// AuthenticateAPIKey resolves an X-API-Key value to its user and records the use.
func (s *UserService) AuthenticateAPIKey(ctx context.Context, raw string) (*models.User, error) {
	hash := auth.HashToken(raw)
	key, err := s.db.GetAPIKeyByHash(ctx, hash)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("invalid api key: %w", core.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !key.IsActive {
		return nil, fmt.Errorf("invalid api key: %w", core.ErrUnauthorized)
	}
	now := s.now()
	if key.ExpiresAt != nil && key.ExpiresAt.Before(now) {
		return nil, fmt.Errorf("api key expired: %w", core.ErrUnauthorized)
	}

	user, err := s.lookupUser(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.db.TouchAPIKey(ctx, hash, now); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) lookupUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("user not found: %w", core.ErrUnauthorized)
	}
	return user, err
}
