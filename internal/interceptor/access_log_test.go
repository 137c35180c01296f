package interceptor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/reqctx"
	"github.com/tjfontaine/reqguard/internal/route"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestAccessLogger_Success(t *testing.T) {
	logger, buf := captureLogger()
	h := NewChain([]Interceptor{NewAccessLogger(logger)}).ThenFunc(func(w http.ResponseWriter, r *http.Request) error {
		AddLogField(r.Context(), "user", "alice")
		AddLogField(r.Context(), "empty", "")
		apperr.WriteSuccess(w, nil)
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/api/me?verbose=1", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req = req.WithContext(reqctx.WithRequestID(req.Context(), "req-42"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "request completed", line["msg"])
	assert.Equal(t, "203.0.113.9", line["ip"])
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/api/me?verbose=1", line["uri"])
	assert.Equal(t, "req-42", line["request_id"])
	assert.Equal(t, "alice", line["user"])
	assert.Contains(t, line, "elapsed_ms")
	assert.NotContains(t, line, "empty")
	assert.NotContains(t, line, "status")
}

func TestAccessLogger_ClientFailure(t *testing.T) {
	logger, buf := captureLogger()
	gate := &recorder{name: "gate", events: new([]string), fail: apperr.Unauthorized("token is invalid (token is empty)")}
	h := NewChain([]Interceptor{NewAccessLogger(logger), gate}).ThenFunc(okHandler(new([]string)))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/me", nil))

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "request failed", lines[0]["msg"])
	assert.Equal(t, float64(401), lines[0]["status"])
	assert.Equal(t, "token is invalid (token is empty)", lines[0]["message"])
	assert.NotContains(t, lines[0], "detail")
}

func TestAccessLogger_ErrorDetail(t *testing.T) {
	tests := []struct {
		name       string
		logErrors  bool
		err        error
		wantDetail bool
	}{
		{name: "4xx quiet", logErrors: false, err: apperr.NotFound("missing"), wantDetail: false},
		{name: "4xx with detail", logErrors: true, err: apperr.NotFound("missing"), wantDetail: true},
		{name: "5xx always", logErrors: false, err: apperr.Internal("broken"), wantDetail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := captureLogger()
			h := NewChain([]Interceptor{NewAccessLogger(logger, WithErrorDetail(tt.logErrors))}).
				ThenFunc(func(w http.ResponseWriter, r *http.Request) error { return tt.err })
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

			lines := logLines(t, buf)
			require.Len(t, lines, 1)
			if tt.wantDetail {
				assert.Contains(t, lines[0]["detail"], tt.err.Error())
			} else {
				assert.NotContains(t, lines[0], "detail")
			}
		})
	}
}

func TestAccessLogger_QuietRoutes(t *testing.T) {
	logger, buf := captureLogger()
	quiet := route.MustCompile([][]string{{"GET", "/health"}})
	failing := false
	h := NewChain([]Interceptor{NewAccessLogger(logger, WithQuietRoutes(quiet))}).
		ThenFunc(func(w http.ResponseWriter, r *http.Request) error {
			if failing {
				return apperr.Internal("db down")
			}
			return nil
		})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, logLines(t, buf))

	failing = true
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(500), lines[0]["status"])
}

func TestAccessLogger_ExtraField(t *testing.T) {
	logger, buf := captureLogger()
	extra := func(r *http.Request) string { return r.Header.Get("X-User") }
	h := NewChain([]Interceptor{NewAccessLogger(logger, WithExtraField(extra))}).ThenFunc(okHandler(new([]string)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User", "dave")
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	lines := logLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "dave", lines[0]["extra"])
	assert.NotContains(t, lines[1], "extra")
}

func TestAccessLogger_ReleasesState(t *testing.T) {
	logger, _ := captureLogger()
	spy := &recorder{name: "spy", events: new([]string)}
	h := NewChain([]Interceptor{NewAccessLogger(logger), spy}).ThenFunc(okHandler(new([]string)))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	state := reqctx.From(spy.ctx)
	require.NotNil(t, state)
	assert.False(t, state.Active())
	assert.Equal(t, 1, state.Releases())
}

func TestAddLogField_WithoutLogger(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.NotPanics(t, func() { AddLogField(req.Context(), "k", "v") })
}
