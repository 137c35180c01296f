package interceptor

import (
	"context"
	"net/http"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/route"
)

// NotWhitelistedMessage is returned when the current user is not allowed.
const NotWhitelistedMessage = "current user is not in the whitelist"

// Whitelist answers membership queries for user names.
type Whitelist interface {
	Contains(ctx context.Context, username string) (bool, error)
}

// CurrentUserFunc resolves the user name of the request, reporting false
// when no user is known.
type CurrentUserFunc func(ctx context.Context) (string, bool)

// WhitelistGate rejects requests whose current user is not whitelisted.
type WhitelistGate struct {
	list    Whitelist
	current CurrentUserFunc
	skip    *route.Matcher
}

// NewWhitelistGate creates a gate over list. Requests matching skip are
// let through; skip may be nil.
func NewWhitelistGate(list Whitelist, current CurrentUserFunc, skip *route.Matcher) *WhitelistGate {
	return &WhitelistGate{list: list, current: current, skip: skip}
}

// Name implements Named.
func (g *WhitelistGate) Name() string { return "whitelist_gate" }

// PreHandle implements Interceptor.
func (g *WhitelistGate) PreHandle(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	if g.skip.Match(r.Method, r.URL.Path) {
		return r, nil
	}
	user, ok := g.current(r.Context())
	if !ok || user == "" {
		return r, apperr.Unauthorized(NotWhitelistedMessage)
	}
	allowed, err := g.list.Contains(r.Context(), user)
	if err != nil {
		return r, apperr.Wrap(apperr.KindInternal, "whitelist lookup failed", err)
	}
	if !allowed {
		return r, apperr.Unauthorized(NotWhitelistedMessage)
	}
	return r, nil
}

// AfterCompletion implements Interceptor.
func (g *WhitelistGate) AfterCompletion(w http.ResponseWriter, r *http.Request, err error) {}
