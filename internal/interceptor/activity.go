package interceptor

import (
	"context"
	"net/http"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/reqctx"
)

// AccessRecorder stores that a client IP made a request.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, ip string) error
}

// AccessRecorderFunc adapts a function to AccessRecorder.
type AccessRecorderFunc func(ctx context.Context, ip string) error

// RecordAccess implements AccessRecorder.
func (f AccessRecorderFunc) RecordAccess(ctx context.Context, ip string) error {
	return f(ctx, ip)
}

// ActivityRecorder reports every request's client IP to an AccessRecorder.
type ActivityRecorder struct {
	recorder AccessRecorder
}

// NewActivityRecorder creates an ActivityRecorder.
func NewActivityRecorder(rec AccessRecorder) *ActivityRecorder {
	return &ActivityRecorder{recorder: rec}
}

// Name implements Named.
func (a *ActivityRecorder) Name() string { return "activity" }

// PreHandle implements Interceptor.
func (a *ActivityRecorder) PreHandle(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	ip := reqctx.ClientIP(r.Context())
	if ip == "" {
		ip = ClientIP(r)
	}
	if err := a.recorder.RecordAccess(r.Context(), ip); err != nil {
		return r, apperr.Wrap(apperr.KindDatabase, "record access", err)
	}
	return r, nil
}

// AfterCompletion implements Interceptor.
func (a *ActivityRecorder) AfterCompletion(w http.ResponseWriter, r *http.Request, err error) {}
