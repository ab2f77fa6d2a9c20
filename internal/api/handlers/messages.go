package handlers

import (
	"encoding/base64"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/veilchat/relay/internal/api/middleware"
	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/internal/registry"
	"github.com/veilchat/relay/pkg/metrics"
	"github.com/veilchat/relay/pkg/relay/models"
	"github.com/veilchat/relay/pkg/relay/store"
)

const (
	// maxCiphertextLen bounds the base64 ciphertext of one message.
	maxCiphertextLen = 65536

	// maxDrainLimit is the most messages one offline fetch returns.
	maxDrainLimit = 100
)

// ciphertextPattern is the allowed base64 alphabet for relayed payloads.
var ciphertextPattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// MessageHandler implements the relay: online push with offline
// queueing fallback, queue drain, and client-acknowledged delete.
type MessageHandler struct {
	store    store.Store
	registry *registry.Registry
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(s store.Store, reg *registry.Registry) *MessageHandler {
	return &MessageHandler{store: s, registry: reg}
}

// SendRequest is the request body for POST /api/messages/send.
type SendRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,uuid4"`
	Ciphertext  string `json:"ciphertext" validate:"required"`
	Type        string `json:"type,omitempty"`
}

// SendResponse is the response body for POST /api/messages/send.
type SendResponse struct {
	Delivered bool   `json:"delivered"`
	MessageID string `json:"message_id,omitempty"`
}

// newMessageEvent is the payload of the new_message socket event.
type newMessageEvent struct {
	SenderID   string `json:"senderId"`
	Ciphertext string `json:"ciphertext"`
	Type       string `json:"type"`
	Timestamp  string `json:"timestamp"`
}

// Send handles POST /api/messages/send.
//
// If the recipient has a live socket the ciphertext is pushed and
// nothing is persisted. A registry entry whose socket went stale falls
// through to the queue, so a message that is not pushed is durable
// before the handler returns.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		AuthFailed(w)
		return
	}

	var req SendRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Ciphertext) > maxCiphertextLen || !ciphertextPattern.MatchString(req.Ciphertext) {
		BadRequest(w, "Invalid ciphertext")
		return
	}
	if req.RecipientID == claims.UserID {
		BadRequest(w, "Cannot send a message to yourself")
		return
	}

	msgType := models.MessageType(req.Type)
	if req.Type == "" {
		msgType = models.MessageTypeSignal
	}
	if !msgType.IsValid() {
		BadRequest(w, "Invalid message type")
		return
	}

	// The recipient must exist and have an active device.
	if _, err := h.store.GetUserByID(r.Context(), req.RecipientID); err != nil {
		HandleStoreError(w, err)
		return
	}
	hasDevice, err := h.store.HasDevice(r.Context(), req.RecipientID)
	if err != nil {
		InternalServerError(w, "Internal server error")
		return
	}
	if !hasDevice {
		NotFound(w, "Recipient unknown")
		return
	}

	// Live path: push if a usable socket exists.
	if peer, ok := h.registry.AnyDeviceOf(req.RecipientID); ok && peer.Connected() {
		event := newMessageEvent{
			SenderID:   claims.UserID,
			Ciphertext: req.Ciphertext,
			Type:       string(msgType),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}
		if err := peer.Send("new_message", event); err == nil {
			metrics.MessagesRelayed.WithLabelValues("delivered").Inc()
			logger.DebugCtx(r.Context(), "message pushed",
				"recipient_id", req.RecipientID, "message_type", string(msgType))
			WriteSuccess(w, http.StatusOK, SendResponse{Delivered: true})
			return
		}
		// Stale socket: fall through to queueing.
	}

	payload, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil {
		BadRequest(w, "Invalid ciphertext")
		return
	}

	msg := &models.QueuedMessage{
		RecipientID:      req.RecipientID,
		SenderID:         claims.UserID,
		EncryptedPayload: payload,
		MessageType:      msgType,
	}
	id, err := h.store.EnqueueMessage(r.Context(), msg)
	if err != nil {
		InternalServerError(w, "Internal server error")
		return
	}

	metrics.MessagesRelayed.WithLabelValues("queued").Inc()
	logger.DebugCtx(r.Context(), "message queued",
		"recipient_id", req.RecipientID, "message_id", id, "message_type", string(msgType))
	WriteSuccess(w, http.StatusOK, SendResponse{Delivered: false, MessageID: id})
}

// OfflineMessage is one drained queue entry.
type OfflineMessage struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"senderId"`
	Ciphertext    string    `json:"ciphertext"`
	Type          string    `json:"type"`
	FileReference string    `json:"file_reference,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// FetchOffline handles GET /api/messages/offline?limit=.
//
// The drain is fetch-and-delete inside one transaction: a message is
// handed to a client at most once, and two interleaved drains return
// disjoint sets.
func (h *MessageHandler) FetchOffline(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		AuthFailed(w)
		return
	}

	limit := maxDrainLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxDrainLimit {
			BadRequest(w, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	messages, err := h.store.DrainMessages(r.Context(), claims.UserID, limit)
	if err != nil {
		InternalServerError(w, "Internal server error")
		return
	}

	out := make([]OfflineMessage, len(messages))
	for i, m := range messages {
		out[i] = OfflineMessage{
			ID:            m.ID,
			SenderID:      m.SenderID,
			Ciphertext:    base64.StdEncoding.EncodeToString(m.EncryptedPayload),
			Type:          string(m.MessageType),
			FileReference: m.FileReference,
			CreatedAt:     m.CreatedAt,
		}
	}

	if len(out) > 0 {
		logger.InfoCtx(r.Context(), "offline queue drained", "count", int64(len(out)))
	}
	WriteSuccess(w, http.StatusOK, out)
}

// BatchDeleteRequest is the request body for DELETE /api/messages/batch.
type BatchDeleteRequest struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,max=100"`
}

// BatchDeleteResponse is the response body for DELETE /api/messages/batch.
type BatchDeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// AckDelete handles DELETE /api/messages/batch. Deletion is scoped to
// the caller's own queue; ids belonging to other recipients are ignored.
func (h *MessageHandler) AckDelete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		AuthFailed(w)
		return
	}

	var req BatchDeleteRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	for _, id := range req.MessageIDs {
		if _, err := uuid.Parse(id); err != nil {
			BadRequest(w, "Invalid message id")
			return
		}
	}

	deleted, err := h.store.DeleteMessages(r.Context(), claims.UserID, req.MessageIDs)
	if err != nil {
		InternalServerError(w, "Internal server error")
		return
	}

	WriteSuccess(w, http.StatusOK, BatchDeleteResponse{Deleted: deleted})
}
