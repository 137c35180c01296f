package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tjfontaine/reqguard/internal/reqctx"
)

// SuccessMessage is the message of every successful envelope.
const SuccessMessage = "success"

// Envelope is the JSON body of every reqguard response.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Message returns the client-facing text for err: its own message when it has
// one, otherwise the qualified name of its kind or Go type. Stack traces and
// causes are never included.
func Message(err error) string {
	if err == nil {
		return SuccessMessage
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != nil {
		return e.Kind.QualifiedName()
	}
	return fmt.Sprintf("%T", err)
}

// Respond classifies err, records it as the request's failure and writes the
// error envelope. It returns the status written.
func (c *Classifier) Respond(w http.ResponseWriter, r *http.Request, err error) int {
	status := c.Record(r, err)
	WriteJSON(w, status, Envelope{Status: status, Message: Message(err)})
	return status
}

// Record classifies err and records it in the request context without writing
// a response. Use it when the response has already been started.
func (c *Classifier) Record(r *http.Request, err error) int {
	status := c.Classify(err)
	reqctx.CaptureFailure(r.Context(), err, status)
	return status
}

// WriteError responds with the Default classifier.
func WriteError(w http.ResponseWriter, r *http.Request, err error) int {
	return Default.Respond(w, r, err)
}

// WriteSuccess writes a 200 envelope carrying data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Envelope{Status: http.StatusOK, Message: SuccessMessage, Data: data})
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
