package interceptor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/cipher"
	"github.com/tjfontaine/reqguard/internal/route"
	"github.com/tjfontaine/reqguard/internal/token"
)

type user struct {
	Name string `json:"name"`
}

func newAuthFixture(t *testing.T) (*token.Codec, *token.Validator[user]) {
	t.Helper()
	key, err := cipher.GenerateKey(16)
	require.NoError(t, err)
	c, err := cipher.New(key)
	require.NoError(t, err)
	codec := token.NewCodec(c, "rg_")
	return codec, token.NewValidator[user](codec)
}

func whoami(seen *string) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		u, ok := token.PrincipalFrom[user](r.Context())
		if !ok {
			return apperr.Internal("principal missing")
		}
		*seen = u.Name
		apperr.WriteSuccess(w, u)
		return nil
	}
}

func TestAuthCheck_Rejects(t *testing.T) {
	_, validator := newAuthFixture(t)
	var seen string
	h := NewChain([]Interceptor{NewAuthCheck(validator)}).ThenFunc(whoami(&seen))

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{name: "missing", token: "", message: "token is invalid (token is empty)"},
		{name: "whitespace", token: "   ", message: "token is invalid (token is empty)"},
		{name: "wrong prefix", token: "xx_abc", message: "token is invalid (invalid token (wrong prefix))"},
		{name: "garbage", token: "rg_AAAA", message: "token is invalid (invalid token (unable to decrypt))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.token != "" {
				req.Header.Set(DefaultTokenKey, tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, apperr.Envelope{Status: 401, Message: tt.message}, decodeEnvelope(t, rec))
			assert.Empty(t, seen)
		})
	}
}

func TestAuthCheck_ErrorKeepsCredentialCause(t *testing.T) {
	_, validator := newAuthFixture(t)
	a := NewAuthCheck(validator)

	_, err := a.PreHandle(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, token.ErrMissingCredential)
	assert.True(t, errors.Is(err, apperr.KindUnauthorized))
}

func TestAuthCheck_AcceptsHeaderQueryAndForm(t *testing.T) {
	codec, validator := newAuthFixture(t)
	tok, err := codec.Issue(user{Name: "alice"})
	require.NoError(t, err)

	requests := map[string]func() *http.Request{
		"header": func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			r.Header.Set("token", tok)
			return r
		},
		"query": func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/me?token="+url.QueryEscape(tok), nil)
		},
		"form": func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/api/me", strings.NewReader("token="+url.QueryEscape(tok)))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return r
		},
	}
	for name, build := range requests {
		t.Run(name, func(t *testing.T) {
			var seen string
			h := NewChain([]Interceptor{NewAuthCheck(validator)}).ThenFunc(whoami(&seen))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, build())

			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "alice", seen)
		})
	}
}

func TestAuthCheck_SkipRoutes(t *testing.T) {
	_, validator := newAuthFixture(t)
	skip := route.MustCompile([][]string{{"GET", "/health"}})
	h := NewChain([]Interceptor{NewAuthCheck(validator, WithSkipRoutes(skip))}).
		ThenFunc(func(w http.ResponseWriter, r *http.Request) error {
			apperr.WriteSuccess(w, nil)
			return nil
		})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthCheck_CustomTokenKey(t *testing.T) {
	codec, validator := newAuthFixture(t)
	tok, err := codec.Issue(user{Name: "bob"})
	require.NoError(t, err)

	var seen string
	h := NewChain([]Interceptor{NewAuthCheck(validator, WithTokenKey("X-Auth"))}).ThenFunc(whoami(&seen))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Auth", tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", seen)
}

// resetCounter wraps a validator and counts Reset calls.
type resetCounter struct {
	TokenValidator
	resets int
}

func (c *resetCounter) Reset(ctx context.Context) {
	c.resets++
	c.TokenValidator.Reset(ctx)
}

func TestAuthCheck_ResetsPrincipalAfterCompletion(t *testing.T) {
	codec, validator := newAuthFixture(t)
	counter := &resetCounter{TokenValidator: validator}
	tok, err := codec.Issue(user{Name: "carol"})
	require.NoError(t, err)

	var handlerCtx context.Context
	h := NewChain([]Interceptor{NewAuthCheck(counter)}).ThenFunc(func(w http.ResponseWriter, r *http.Request) error {
		handlerCtx = r.Context()
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("token", tok)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, handlerCtx)
	_, ok := token.PrincipalFrom[user](handlerCtx)
	assert.False(t, ok)
	assert.Equal(t, 1, counter.resets)

	// Reset also runs for rejected requests.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, 2, counter.resets)
}

func TestCredential_PrefersParameter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?token=+from-query+", nil)
	req.Header.Set("token", "from-header")
	assert.Equal(t, "from-query", Credential(req, "token"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("token", " from-header ")
	assert.Equal(t, "from-header", Credential(req, "token"))
}
