package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/interceptor"
	"github.com/tjfontaine/reqguard/internal/storage"
	"github.com/tjfontaine/reqguard/internal/token"
)

// maxBodyBytes bounds request bodies read by the API.
const maxBodyBytes = 1 << 20

// Principal is the identity carried inside issued tokens.
type Principal struct {
	Username string `json:"username"`
	IssuedAt int64  `json:"issued_at"`
	Nonce    string `json:"nonce"`
}

// CurrentUser returns the username of the principal validated for ctx.
func CurrentUser(ctx context.Context) (string, bool) {
	p, ok := token.PrincipalFrom[Principal](ctx)
	if !ok {
		return "", false
	}
	return p.Username, true
}

// CheckPrincipal rejects principals without a username.
func CheckPrincipal(_ context.Context, p Principal) error {
	if strings.TrimSpace(p.Username) == "" {
		return apperr.Unauthorized("principal has no username")
	}
	return nil
}

// API serves the reqguard demo endpoints.
type API struct {
	tokens    *token.Codec
	whitelist interceptor.Whitelist
	activity  storage.ActivityStore
	now       func() time.Time
}

// NewAPI creates the API. whitelist may be nil, in which case any username
// can open a session.
func NewAPI(tokens *token.Codec, whitelist interceptor.Whitelist, activity storage.ActivityStore) *API {
	return &API{
		tokens:    tokens,
		whitelist: whitelist,
		activity:  activity,
		now:       time.Now,
	}
}

// Routes registers the API routes on r.
func (a *API) Routes(r chi.Router) {
	r.Method(http.MethodGet, "/health", interceptor.HandlerFunc(a.handleHealth))
	r.Method(http.MethodPost, "/api/session", interceptor.HandlerFunc(a.handleSession))
	r.Method(http.MethodGet, "/api/me", interceptor.HandlerFunc(a.handleMe))
	r.Method(http.MethodGet, "/api/activity/{day}", interceptor.HandlerFunc(a.handleActivity))
	r.NotFound(interceptor.HandlerFunc(handleNotFound).ServeHTTP)
	r.MethodNotAllowed(interceptor.HandlerFunc(handleMethodNotAllowed).ServeHTTP)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) error {
	apperr.WriteSuccess(w, map[string]string{"status": "ok"})
	return nil
}

type sessionRequest struct {
	Username string `json:"username"`
}

type sessionResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) error {
	var req sessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return err
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return apperr.InvalidParameter("username is required")
	}

	if a.whitelist != nil {
		ok, err := a.whitelist.Contains(r.Context(), username)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "whitelist lookup failed", err)
		}
		if !ok {
			return apperr.Unauthorized(interceptor.NotWhitelistedMessage)
		}
	}

	tok, err := a.tokens.Issue(Principal{
		Username: username,
		IssuedAt: a.now().Unix(),
		Nonce:    uuid.NewString(),
	})
	if err != nil {
		return err
	}

	interceptor.AddLogField(r.Context(), "user", username)
	apperr.WriteSuccess(w, sessionResponse{Token: tok, Username: username})
	return nil
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) error {
	p, ok := token.PrincipalFrom[Principal](r.Context())
	if !ok {
		return apperr.Unauthorized("no principal for request")
	}
	interceptor.AddLogField(r.Context(), "user", p.Username)
	apperr.WriteSuccess(w, p)
	return nil
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) error {
	day := chi.URLParam(r, "day")
	if _, err := storage.ParseDay(day); err != nil {
		return err
	}
	activity, err := a.activity.DailyActivity(r.Context(), day)
	if err != nil {
		return err
	}
	apperr.WriteSuccess(w, activity)
	return nil
}

func handleNotFound(w http.ResponseWriter, r *http.Request) error {
	return apperr.NotFound("no route for " + r.Method + " " + r.URL.Path)
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) error {
	return apperr.MethodNotAllowed("method " + r.Method + " not allowed for " + r.URL.Path)
}
