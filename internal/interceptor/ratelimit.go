package interceptor

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/reqctx"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "x-ratelimit-limit-requests"
	HeaderRateLimitRemaining = "x-ratelimit-remaining-requests"
	HeaderRateLimitReset     = "x-ratelimit-reset-requests"
)

// RateLimitedMessage is returned to clients over their limit.
const RateLimitedMessage = "too many requests"

type window struct {
	count int
	reset time.Time
}

// RateLimit allows up to limit requests per client IP in each fixed window.
type RateLimit struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// NewRateLimit creates a limiter. A non-positive limit or period disables it.
func NewRateLimit(limit int, period time.Duration) *RateLimit {
	return &RateLimit{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Name implements Named.
func (l *RateLimit) Name() string { return "ratelimit" }

// PreHandle implements Interceptor.
func (l *RateLimit) PreHandle(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	if l.limit <= 0 || l.period <= 0 {
		return r, nil
	}
	ip := reqctx.ClientIP(r.Context())
	if ip == "" {
		ip = ClientIP(r)
	}

	count, reset := l.take(ip)
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.Itoa(l.limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(remaining))
	h.Set(HeaderRateLimitReset, reset.UTC().Format(time.RFC3339))

	if count > l.limit {
		return r, apperr.RateLimited(RateLimitedMessage)
	}
	return r, nil
}

// AfterCompletion implements Interceptor.
func (l *RateLimit) AfterCompletion(w http.ResponseWriter, r *http.Request, err error) {}

// take counts one request for key and returns the window count and reset time.
func (l *RateLimit) take(key string) (int, time.Time) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.period {
		for k, win := range l.windows {
			if !now.Before(win.reset) {
				delete(l.windows, k)
			}
		}
		l.lastSweep = now
	}

	win, ok := l.windows[key]
	if !ok || !now.Before(win.reset) {
		win = &window{reset: now.Add(l.period)}
		l.windows[key] = win
	}
	win.count++
	return win.count, win.reset
}
