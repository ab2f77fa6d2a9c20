package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veilchat/relay/internal/api/middleware"
	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/pkg/metrics"
	"github.com/veilchat/relay/pkg/relay/models"
	"github.com/veilchat/relay/pkg/relay/store"
)

// KeyHandler serves the public-key directory.
type KeyHandler struct {
	users   store.UserStore
	prekeys store.PreKeyStore
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(users store.UserStore, prekeys store.PreKeyStore) *KeyHandler {
	return &KeyHandler{users: users, prekeys: prekeys}
}

// SignedPreKeyRequest is the request body for POST /api/keys/signed-pre-key.
type SignedPreKeyRequest struct {
	KeyID     uint32 `json:"key_id" validate:"required"`
	PublicKey string `json:"public_key" validate:"required,base64"`
	Signature string `json:"signature" validate:"required,base64"`
}

// UploadSignedPreKey handles POST /api/keys/signed-pre-key.
// Upserts by (user, key id) and trims retention afterwards.
func (h *KeyHandler) UploadSignedPreKey(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		AuthFailed(w)
		return
	}

	var req SignedPreKeyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	key := &models.SignedPreKey{
		UserID:    claims.UserID,
		KeyID:     req.KeyID,
		PublicKey: req.PublicKey,
		Signature: req.Signature,
	}
	if err := h.prekeys.UpsertSignedPreKey(r.Context(), key); err != nil {
		HandleStoreError(w, err)
		return
	}

	if _, err := h.prekeys.ReapSignedPreKeys(r.Context(), claims.UserID, models.SignedPreKeyRetention); err != nil {
		// Retention is advisory; the upload already succeeded.
		logger.WarnCtx(r.Context(), "signed pre-key reap failed", "user_id", claims.UserID, "error", err)
	}

	logger.InfoCtx(r.Context(), "signed pre-key uploaded", "user_id", claims.UserID, "key_id", req.KeyID)
	WriteMessage(w, http.StatusOK, "Signed pre-key stored")
}

// OneTimePreKeyUpload is one key in a batch upload.
type OneTimePreKeyUpload struct {
	KeyID     uint32 `json:"key_id" validate:"required"`
	PublicKey string `json:"public_key" validate:"required,base64"`
}

// OneTimePreKeysRequest is the request body for POST /api/keys/one-time-pre-keys.
type OneTimePreKeysRequest struct {
	Keys []OneTimePreKeyUpload `json:"keys" validate:"required,min=1,max=200,dive"`
}

// UploadOneTimePreKeys handles POST /api/keys/one-time-pre-keys.
func (h *KeyHandler) UploadOneTimePreKeys(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		AuthFailed(w)
		return
	}

	var req OneTimePreKeysRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	keys := make([]*models.OneTimePreKey, len(req.Keys))
	for i, k := range req.Keys {
		keys[i] = &models.OneTimePreKey{
			KeyID:     k.KeyID,
			PublicKey: k.PublicKey,
		}
	}

	if err := h.prekeys.AddOneTimePreKeys(r.Context(), claims.UserID, keys); err != nil {
		HandleStoreError(w, err)
		return
	}

	logger.InfoCtx(r.Context(), "one-time pre-keys uploaded", "user_id", claims.UserID, "count", len(keys))
	WriteSuccess(w, http.StatusOK, map[string]int{"stored": len(keys)})
}

// SignedPreKeyResponse is the signed pre-key inside a bundle.
type SignedPreKeyResponse struct {
	KeyID     uint32 `json:"key_id"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// OneTimePreKeyResponse is the consumed one-time key inside a bundle.
type OneTimePreKeyResponse struct {
	KeyID     uint32 `json:"key_id"`
	PublicKey string `json:"public_key"`
}

// BundleResponse is the pre-key bundle a sender fetches to start X3DH.
type BundleResponse struct {
	UserID            string                 `json:"user_id"`
	Username          string                 `json:"username"`
	RegistrationID    uint32                 `json:"registration_id"`
	IdentityPublicKey string                 `json:"identity_public_key"`
	SignedPreKey      SignedPreKeyResponse   `json:"signed_pre_key"`
	OneTimePreKey     *OneTimePreKeyResponse `json:"one_time_pre_key,omitempty"`
}

// GetBundle handles GET /api/keys/bundle/{userId}.
//
// The one-time key is consumed inside the store transaction: two
// concurrent fetches for the same user get two different keys, and once
// the user's keys run out bundles come without one. The signed pre-key is mandatory; a
// user who never uploaded one has no bundle to serve.
func (h *KeyHandler) GetBundle(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	user, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		HandleStoreError(w, err)
		return
	}

	signed, err := h.prekeys.LatestSignedPreKey(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, models.ErrPreKeyNotFound) {
			NotFound(w, "No pre-key bundle available")
			return
		}
		HandleStoreError(w, err)
		return
	}

	bundle := BundleResponse{
		UserID:            user.ID,
		Username:          user.Username,
		RegistrationID:    user.RegistrationID,
		IdentityPublicKey: user.IdentityPublicKey,
		SignedPreKey: SignedPreKeyResponse{
			KeyID:     signed.KeyID,
			PublicKey: signed.PublicKey,
			Signature: signed.Signature,
		},
	}

	oneTime, err := h.prekeys.ConsumeOneTimePreKey(r.Context(), user.ID)
	switch {
	case err == nil:
		metrics.OneTimeKeysConsumed.Inc()
		bundle.OneTimePreKey = &OneTimePreKeyResponse{
			KeyID:     oneTime.KeyID,
			PublicKey: oneTime.PublicKey,
		}
	case errors.Is(err, models.ErrPreKeyNotFound):
		// Exhausted: the bundle ships without a one-time key.
	default:
		HandleStoreError(w, err)
		return
	}

	logger.DebugCtx(r.Context(), "bundle served", "user_id", user.ID,
		"with_one_time_key", bundle.OneTimePreKey != nil)
	WriteSuccess(w, http.StatusOK, bundle)
}

// CountResponse is the response body for the key-count endpoint.
type CountResponse struct {
	Count int64 `json:"count"`
}

// CountOneTimeKeys handles GET /api/keys/one-time-pre-keys/count/{userId}.
func (h *KeyHandler) CountOneTimeKeys(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	if _, err := h.users.GetUserByID(r.Context(), userID); err != nil {
		HandleStoreError(w, err)
		return
	}

	count, err := h.prekeys.CountOneTimePreKeys(r.Context(), userID)
	if err != nil {
		HandleStoreError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, CountResponse{Count: count})
}
