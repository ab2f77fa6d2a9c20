package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veilchat/relay/internal/api/middleware"
	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/pkg/blob"
)

// FileHandler proxies the blob-store collaborator. Uploaded blobs are
// opaque: the server never inspects them.
type FileHandler struct {
	blobs blob.Store
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(blobs blob.Store) *FileHandler {
	return &FileHandler{blobs: blobs}
}

// UploadResponse is the response body for POST /api/files/upload.
type UploadResponse struct {
	FileKey string `json:"file_key"`
}

// Upload handles POST /api/files/upload. The multipart form field "file"
// is stored verbatim under a server-generated key.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		AuthFailed(w)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		BadRequest(w, "Missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	key := uuid.New().String()
	contentType := header.Header.Get("Content-Type")
	if err := h.blobs.Put(r.Context(), key, file, contentType); err != nil {
		logger.ErrorCtx(r.Context(), "blob upload failed", "object", key, "error", err)
		InternalServerError(w, "Internal server error")
		return
	}

	logger.InfoCtx(r.Context(), "blob stored", "object", key, "user_id", claims.UserID)
	WriteSuccess(w, http.StatusCreated, UploadResponse{FileKey: key})
}

// Download handles GET /api/files/{key}, streaming the blob back.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := uuid.Parse(key); err != nil {
		BadRequest(w, "Invalid file key")
		return
	}

	body, contentType, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			NotFound(w, "File not found")
			return
		}
		logger.ErrorCtx(r.Context(), "blob fetch failed", "object", key, "error", err)
		InternalServerError(w, "Internal server error")
		return
	}
	defer func() { _ = body.Close() }()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

// Delete handles DELETE /api/files/{key}.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := uuid.Parse(key); err != nil {
		BadRequest(w, "Invalid file key")
		return
	}

	if err := h.blobs.Delete(r.Context(), key); err != nil {
		logger.ErrorCtx(r.Context(), "blob delete failed", "object", key, "error", err)
		InternalServerError(w, "Internal server error")
		return
	}

	WriteMessage(w, http.StatusOK, "File deleted")
}
