package handlers

import (
	"net/http"
	"time"

	appMiddleware "github.com/markdave123-py/Parley/internal/api/middlewares"
	"github.com/markdave123-py/Parley/internal/api/respond"
	"github.com/markdave123-py/Parley/internal/services"
)

type AuthHandler struct {
	users *services.UserService
}

func NewAuthHandler(users *services.UserService) *AuthHandler {
	return &AuthHandler{users: users}
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type apiKeyRequest struct {
	Name          string `json:"name" validate:"required,max=100"`
	ExpiresInDays int    `json:"expires_in_days" validate:"omitempty,min=1,max=3650"`
}

type apiKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	KeyPrefix string     `json:"key_prefix"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	pair, err := h.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, pair)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	pair, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	pair, err := h.users.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.users.Logout(r.Context(), req.RefreshToken); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	user, _ := appMiddleware.UserFromContext(r.Context())

	var req apiKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	raw, key, err := h.users.CreateAPIKey(r.Context(), user.ID, req.Name, req.ExpiresInDays)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, apiKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Key:       raw,
		KeyPrefix: key.KeyPrefix,
		ExpiresAt: key.ExpiresAt,
		CreatedAt: key.CreatedAt,
	})
}
