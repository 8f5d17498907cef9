// Package response builds the JSON envelope returned by every endpoint that
// does not answer with raw audio.
package response

import (
	"encoding/json"
	"net/http"
	"time"
)

// Messages shared by several handlers.
const (
	MessageInternalError = "Internal Server Error"
	MessageFileNotFound  = "Audio file not found"
	MessageInvalidJSON   = "Invalid JSON body"
	MessageGenerated     = "Successfully converted text to audio"
	MessageConverted     = "Successfully changed voice"
)

// Result is the inner part of the envelope.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// Payload is the response envelope. Code mirrors the HTTP status and Time is
// the creation time in Unix milliseconds.
type Payload struct {
	Result Result `json:"result"`
	Code   int    `json:"code"`
	Time   int64  `json:"time"`
}

// New builds an envelope stamped with the current time.
func New(success bool, code int, message string, data map[string]any) Payload {
	if data == nil {
		data = map[string]any{}
	}

	return Payload{
		Result: Result{Success: success, Message: message, Data: data},
		Code:   code,
		Time:   time.Now().UnixMilli(),
	}
}

// OK builds a 200 envelope.
func OK(message string, data map[string]any) Payload {
	return New(true, http.StatusOK, message, data)
}

// Fail builds an error envelope.
func Fail(code int, message string) Payload {
	return New(false, code, message, nil)
}

// Write serializes the payload with Code as the HTTP status.
func Write(w http.ResponseWriter, payload Payload) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(payload.Code)
	_ = json.NewEncoder(w).Encode(payload)
}
