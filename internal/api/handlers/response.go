// Package handlers implements the relay's HTTP handlers.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/veilchat/relay/internal/api/middleware"
)

// Response is the wrapper every API response uses.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteSuccess writes a success response with a data payload.
func WriteSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

// WriteMessage writes a success response with only a message.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: true, Message: msg})
}

// WriteError writes a failure response.
func WriteError(w http.ResponseWriter, status int, errMsg string) {
	writeJSON(w, status, Response{Success: false, Error: errMsg})
}

// BadRequest writes a 400 failure response.
func BadRequest(w http.ResponseWriter, errMsg string) {
	WriteError(w, http.StatusBadRequest, errMsg)
}

// NotFound writes a 404 failure response.
func NotFound(w http.ResponseWriter, errMsg string) {
	WriteError(w, http.StatusNotFound, errMsg)
}

// Conflict writes a 409 failure response.
func Conflict(w http.ResponseWriter, errMsg string) {
	WriteError(w, http.StatusConflict, errMsg)
}

// InternalServerError writes a 500 failure response.
func InternalServerError(w http.ResponseWriter, errMsg string) {
	WriteError(w, http.StatusInternalServerError, errMsg)
}

// AuthFailed writes the generic 401. Every authentication failure goes
// through here so the bodies stay byte-identical.
func AuthFailed(w http.ResponseWriter) {
	middleware.WriteAuthFailed(w)
}
