package handlers

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/pkg/relay/models"
	"github.com/veilchat/relay/pkg/relay/store"
)

// UserHandler handles registration and user lookup endpoints.
type UserHandler struct {
	store store.UserStore
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(s store.UserStore) *UserHandler {
	return &UserHandler{store: s}
}

// RegisterRequest is the request body for POST /api/users/register.
type RegisterRequest struct {
	Username          string `json:"username" validate:"required,min=1,max=255"`
	IdentityPublicKey string `json:"identity_public_key" validate:"required"`
	RegistrationID    uint32 `json:"registration_id" validate:"required"`
}

// UserResponse is the user representation for API responses.
type UserResponse struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	IdentityPublicKey string    `json:"identity_public_key"`
	RegistrationID    uint32    `json:"registration_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// validIdentityKey checks that the uploaded key is base64 of an Ed25519
// public key.
func validIdentityKey(b64 string) bool {
	raw, err := base64.StdEncoding.DecodeString(b64)
	return err == nil && len(raw) == ed25519.PublicKeySize
}

// Register handles POST /api/users/register.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if !validIdentityKey(req.IdentityPublicKey) {
		BadRequest(w, "Invalid identity public key")
		return
	}

	user := &models.User{
		Username:          req.Username,
		IdentityPublicKey: req.IdentityPublicKey,
		RegistrationID:    req.RegistrationID,
	}

	if _, err := h.store.CreateUser(r.Context(), user); err != nil {
		HandleStoreError(w, err)
		return
	}

	logger.InfoCtx(r.Context(), "user registered", "username", user.Username, "user_id", user.ID)
	WriteSuccess(w, http.StatusCreated, userToResponse(user))
}

// GetByUsername handles GET /api/users/by-username/{username}.
func (h *UserHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	user, err := h.store.GetUser(r.Context(), username)
	if err != nil {
		HandleStoreError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, userToResponse(user))
}

// GetByID handles GET /api/users/{id}.
func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		HandleStoreError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, userToResponse(user))
}

// UpdateIdentityRequest is the request body for PUT /api/users/{id}/identity.
type UpdateIdentityRequest struct {
	IdentityPublicKey string `json:"identity_public_key" validate:"required"`
	RegistrationID    uint32 `json:"registration_id" validate:"required"`
}

// UpdateIdentity handles PUT /api/users/{id}/identity.
// Rotating the identity key invalidates nothing server-side: sessions
// ratchet client-to-client, the directory only publishes the new key.
func (h *UserHandler) UpdateIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateIdentityRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if !validIdentityKey(req.IdentityPublicKey) {
		BadRequest(w, "Invalid identity public key")
		return
	}

	if err := h.store.UpdateIdentityKey(r.Context(), id, req.IdentityPublicKey, req.RegistrationID); err != nil {
		HandleStoreError(w, err)
		return
	}

	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		HandleStoreError(w, err)
		return
	}

	logger.InfoCtx(r.Context(), "identity key rotated", "user_id", id)
	WriteSuccess(w, http.StatusOK, userToResponse(user))
}

// userToResponse converts a User to its API representation.
func userToResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:                user.ID,
		Username:          user.Username,
		IdentityPublicKey: user.IdentityPublicKey,
		RegistrationID:    user.RegistrationID,
		CreatedAt:         user.CreatedAt,
		UpdatedAt:         user.UpdatedAt,
	}
}
