// Package reqctx holds per-request diagnostic state: start time, client IP
// and the first failure recorded while serving the request.
//
// State lives in the request's context.Context, never in a shared variable,
// so concurrent requests cannot observe each other. It is valid between
// Establish and the release function Establish returns; outside that window
// every read returns its "no context" sentinel.
package reqctx

import (
	"context"
	"sync"
	"time"
)

// NoElapsed is returned by ElapsedMillis when no request context is active.
const NoElapsed int64 = -1

// nowFunc is replaced in tests.
var nowFunc = time.Now

type stateKey struct{}

// Failure is the outcome recorded for a request.
type Failure struct {
	Err    error
	Status int
}

// State is the scratch state for one in-flight request.
type State struct {
	mu       sync.Mutex
	active   bool
	start    time.Time
	clientIP string
	failure  *Failure
	releases int
}

// Establish records the request start time and client IP and returns a
// context carrying the new state together with its release function.
// Any state already present in ctx is shadowed. The release function is
// idempotent; only its first call clears the state.
func Establish(ctx context.Context, clientIP string) (context.Context, func()) {
	s := &State{
		active:   true,
		start:    nowFunc(),
		clientIP: clientIP,
	}
	return context.WithValue(ctx, stateKey{}, s), s.release
}

// From returns the state carried by ctx, or nil.
func From(ctx context.Context) *State {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(stateKey{}).(*State)
	return s
}

// Release releases the state carried by ctx. It is a no-op when there is none.
func Release(ctx context.Context) {
	if s := From(ctx); s != nil {
		s.release()
	}
}

// ElapsedMillis returns the milliseconds since Establish, or NoElapsed.
func ElapsedMillis(ctx context.Context) int64 {
	return From(ctx).ElapsedMillis()
}

// ClientIP returns the client IP recorded by Establish, or "".
func ClientIP(ctx context.Context) string {
	return From(ctx).ClientIP()
}

// CaptureFailure records err and status for the request in ctx.
// It reports whether the failure was recorded.
func CaptureFailure(ctx context.Context, err error, status int) bool {
	return From(ctx).CaptureFailure(err, status)
}

// CapturedFailure returns the recorded failure, if any.
func CapturedFailure(ctx context.Context) (Failure, bool) {
	return From(ctx).CapturedFailure()
}

func (s *State) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	if !s.active {
		return
	}
	s.active = false
	s.start = time.Time{}
	s.clientIP = ""
	s.failure = nil
}

// Active reports whether the state has been established and not yet released.
func (s *State) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Releases returns how many times release was invoked.
func (s *State) Releases() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

// ElapsedMillis returns the milliseconds since Establish, or NoElapsed.
func (s *State) ElapsedMillis() int64 {
	if s == nil {
		return NoElapsed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return NoElapsed
	}
	return nowFunc().Sub(s.start).Milliseconds()
}

// ClientIP returns the recorded client IP, or "".
func (s *State) ClientIP() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ""
	}
	return s.clientIP
}

// CaptureFailure records the request outcome. The first recorded failure
// wins so the root cause survives when several layers report; later calls
// return false. Nothing is recorded outside the establish/release window.
func (s *State) CaptureFailure(err error, status int) bool {
	if s == nil || err == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.failure != nil {
		return false
	}
	s.failure = &Failure{Err: err, Status: status}
	return true
}

// CapturedFailure returns the recorded failure, if any.
func (s *State) CapturedFailure() (Failure, bool) {
	if s == nil {
		return Failure{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.failure == nil {
		return Failure{}, false
	}
	return *s.failure, true
}

type requestIDKey struct{}

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID carried by ctx, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
