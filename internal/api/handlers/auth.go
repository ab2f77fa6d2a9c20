package handlers

import (
	"encoding/base64"
	"net/http"
	"regexp"
	"time"

	"github.com/veilchat/relay/internal/api/auth"
	"github.com/veilchat/relay/internal/api/middleware"
	"github.com/veilchat/relay/internal/crypto"
	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/pkg/metrics"
	"github.com/veilchat/relay/pkg/relay/models"
	"github.com/veilchat/relay/pkg/relay/store"
)

// lowKeyWarnThreshold is the one-time-key count below which the verify
// response asks the client to replenish.
const lowKeyWarnThreshold = 20

// fcmTokenPattern bounds the push-token format.
var fcmTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]{1,512}$`)

// AuthHandler handles the challenge-response login flow.
type AuthHandler struct {
	store      store.Store
	jwtService *auth.JWTService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s store.Store, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{
		store:      s,
		jwtService: jwtService,
	}
}

// ChallengeRequest is the request body for POST /api/auth/challenge.
type ChallengeRequest struct {
	Username string `json:"username" validate:"required,min=1,max=255"`
	DeviceID string `json:"deviceId" validate:"required,min=1,max=255"`
}

// ChallengeResponse is the response body for POST /api/auth/challenge.
type ChallengeResponse struct {
	Nonce string `json:"nonce"`
}

// Challenge handles POST /api/auth/challenge.
//
// An unknown username gets the same generic 401 as every other
// authentication failure; the endpoint is not a user-existence oracle.
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, err := h.store.GetUser(r.Context(), req.Username)
	if err != nil {
		AuthFailed(w)
		return
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		InternalServerError(w, "Internal server error")
		return
	}

	challenge := &models.AuthChallenge{
		UserID:    user.ID,
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(models.ChallengeTTL),
	}
	if err := h.store.ReplaceChallenge(r.Context(), challenge); err != nil {
		InternalServerError(w, "Internal server error")
		return
	}

	logger.DebugCtx(r.Context(), "challenge issued", "user_id", user.ID, "device_id", req.DeviceID)
	WriteSuccess(w, http.StatusOK, ChallengeResponse{Nonce: nonce})
}

// VerifyRequest is the request body for POST /api/auth/verify.
type VerifyRequest struct {
	Username  string `json:"username" validate:"required,min=1,max=255"`
	Signature string `json:"signature" validate:"required"`
	DeviceID  string `json:"deviceId" validate:"required,min=1,max=255"`
	FCMToken  string `json:"fcmToken,omitempty" validate:"omitempty"`
}

// VerifyResponse is the response body for POST /api/auth/verify.
type VerifyResponse struct {
	Token             string       `json:"token"`
	User              UserResponse `json:"user"`
	RemainingKeyCount int64        `json:"remainingKeyCount"`
	LowKeyWarn        bool         `json:"lowKeyCount"`
}

// validSignatureEncoding checks that the submitted signature is base64
// of exactly one Ed25519 signature.
func validSignatureEncoding(b64 string) bool {
	raw, err := base64.StdEncoding.DecodeString(b64)
	return err == nil && len(raw) == 64
}

// Verify handles POST /api/auth/verify.
//
// The challenge row is consumed before the signature is checked, so a
// wrong signature burns the nonce and the caller has to start over.
// A success atomically replaces every prior device row of the user,
// which remotely logs out the previous session.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if !validSignatureEncoding(req.Signature) {
		BadRequest(w, "Invalid request body")
		return
	}
	if req.FCMToken != "" && !fcmTokenPattern.MatchString(req.FCMToken) {
		BadRequest(w, "Invalid request body")
		return
	}

	user, err := h.store.GetUser(r.Context(), req.Username)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failed").Inc()
		AuthFailed(w)
		return
	}

	// Consume the challenge no matter what happens next.
	challenge, err := h.store.TakeChallenge(r.Context(), user.ID)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failed").Inc()
		AuthFailed(w)
		return
	}
	if challenge.Expired(time.Now()) {
		metrics.AuthAttempts.WithLabelValues("failed").Inc()
		AuthFailed(w)
		return
	}

	if err := crypto.VerifySignature(user.IdentityPublicKey, challenge.Nonce, req.Signature); err != nil {
		metrics.AuthAttempts.WithLabelValues("failed").Inc()
		logger.WarnCtx(r.Context(), "challenge signature rejected", "user_id", user.ID)
		AuthFailed(w)
		return
	}

	now := time.Now()
	device := &models.Device{
		UserID:            user.ID,
		DeviceID:          req.DeviceID,
		IdentityPublicKey: user.IdentityPublicKey,
		RegistrationID:    user.RegistrationID,
		FCMToken:          req.FCMToken,
		LastSeenAt:        now,
	}
	if err := h.store.ReplaceDevice(r.Context(), device); err != nil {
		InternalServerError(w, "Internal server error")
		return
	}

	token, err := h.jwtService.GenerateToken(user.ID, req.DeviceID)
	if err != nil {
		InternalServerError(w, "Internal server error")
		return
	}

	remaining, err := h.store.CountOneTimePreKeys(r.Context(), user.ID)
	if err != nil {
		logger.WarnCtx(r.Context(), "failed to count one-time keys", "user_id", user.ID, "error", err)
		remaining = 0
	}

	metrics.AuthAttempts.WithLabelValues("ok").Inc()
	logger.InfoCtx(r.Context(), "session established", "user_id", user.ID, "device_id", req.DeviceID)

	WriteSuccess(w, http.StatusOK, VerifyResponse{
		Token:             token,
		User:              userToResponse(user),
		RemainingKeyCount: remaining,
		LowKeyWarn:        remaining < lowKeyWarnThreshold,
	})
}

// Logout handles POST /api/auth/logout. The device delete itself is
// idempotent, but the route sits behind the bearer middleware, so a token
// whose device row is already gone gets the generic 401.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		AuthFailed(w)
		return
	}

	if err := h.store.DeleteDevice(r.Context(), claims.UserID, claims.DeviceID); err != nil {
		InternalServerError(w, "Internal server error")
		return
	}

	logger.InfoCtx(r.Context(), "logged out", "user_id", claims.UserID, "device_id", claims.DeviceID)
	WriteMessage(w, http.StatusOK, "Logged out")
}
