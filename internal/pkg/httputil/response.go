// Package httputil provides the response envelopes and middleware for
// the agent's local API.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// The local API wraps every JSON response: payloads under "data",
// failures under "error". The presentation layer branches on which key
// is present.
type dataEnvelope struct {
	Data interface{} `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string       `json:"message"`
	Fields  []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// JSON writes an unwrapped JSON body. The version endpoint uses this;
// API handlers use Success or Error.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	writeJSON(w, status, payload)
}

// Text writes a plain text body, used by the health endpoint.
func Text(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Success writes the payload under the data envelope.
func Success(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, dataEnvelope{Data: data})
}

// Error writes a failure under the error envelope.
func Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Message: message}})
}

// ValidationError writes a 400 for a rejected request body. Structured
// validator failures are reported per field; anything else collapses
// into the message.
func ValidationError(w http.ResponseWriter, err error) {
	body := errorBody{Message: "validation error"}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			body.Fields = append(body.Fields, fieldError{Field: e.Field(), Rule: e.Tag()})
		}
	} else {
		body.Message = "validation error: " + err.Error()
	}

	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: body})
}
