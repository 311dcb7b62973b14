package models

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

const (
	ResponseSuccess = "success"
	ResponseError   = "error"
	ResponseWaiting = "waiting"
)

// APIResponse is the envelope of every operator API and webhook reply.
type APIResponse struct {
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"-"`
}

func (r *APIResponse) MarshalJSON() ([]byte, error) {
	type Alias APIResponse
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(r),
		Timestamp: r.Timestamp.Format(time.RFC3339),
	})
}

func NewSuccessResponse(message string, data interface{}) *APIResponse {
	return newResponse(ResponseSuccess, message, data)
}

func NewErrorResponse(message string) *APIResponse {
	return newResponse(ResponseError, message, nil)
}

func NewWaitingResponse(message string) *APIResponse {
	return newResponse(ResponseWaiting, message, nil)
}

// NewIgnoredResponse acknowledges a webhook delivery that had no effect.
func NewIgnoredResponse(reason string) *APIResponse {
	return newResponse(ResponseSuccess, "ignored", map[string]string{"reason": reason})
}

// NewTransitionErrorResponse describes a refused lifecycle event. The
// current status and the event are included when err carries them.
func NewTransitionErrorResponse(err error) *APIResponse {
	resp := NewErrorResponse(err.Error())
	var te *TransitionError
	if errors.As(err, &te) {
		resp.Data = map[string]string{"status": string(te.From), "event": string(te.Event)}
	}
	return resp
}

func newResponse(status, message string, data interface{}) *APIResponse {
	return &APIResponse{
		Status:    status,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func RespondWithJSON(w http.ResponseWriter, statusCode int, response *APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
