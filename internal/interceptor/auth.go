package interceptor

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/route"
)

// DefaultTokenKey is the parameter and header name carrying the credential.
const DefaultTokenKey = "token"

// TokenValidator validates credentials and scopes the resulting principal to
// a request context.
type TokenValidator interface {
	// Validate returns a context carrying the principal for token.
	Validate(ctx context.Context, token string) (context.Context, error)
	// Reset clears whatever Validate stored. It must be idempotent.
	Reset(ctx context.Context)
}

// AuthCheck rejects requests without a valid credential.
type AuthCheck struct {
	validator TokenValidator
	skip      *route.Matcher
	tokenKey  string
}

// AuthOption configures an AuthCheck.
type AuthOption func(*AuthCheck)

// WithSkipRoutes exempts matching requests from the check.
func WithSkipRoutes(m *route.Matcher) AuthOption {
	return func(a *AuthCheck) {
		a.skip = m
	}
}

// WithTokenKey overrides the parameter and header name. Empty keeps the default.
func WithTokenKey(key string) AuthOption {
	return func(a *AuthCheck) {
		if key != "" {
			a.tokenKey = key
		}
	}
}

// NewAuthCheck creates an AuthCheck backed by v.
func NewAuthCheck(v TokenValidator, opts ...AuthOption) *AuthCheck {
	a := &AuthCheck{validator: v, tokenKey: DefaultTokenKey}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements Named.
func (a *AuthCheck) Name() string { return "auth" }

// PreHandle implements Interceptor.
func (a *AuthCheck) PreHandle(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	if a.skip.Match(r.Method, r.URL.Path) {
		return r, nil
	}
	ctx, err := a.validator.Validate(r.Context(), Credential(r, a.tokenKey))
	if err != nil {
		return r, apperr.Wrap(apperr.KindUnauthorized, fmt.Sprintf("token is invalid (%s)", apperr.Message(err)), err)
	}
	return r.WithContext(ctx), nil
}

// AfterCompletion implements Interceptor.
func (a *AuthCheck) AfterCompletion(w http.ResponseWriter, r *http.Request, err error) {
	a.validator.Reset(r.Context())
}

// Credential returns the trimmed value of the key parameter (query or form),
// falling back to the header of the same name.
func Credential(r *http.Request, key string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get(key))
}
