package interceptor

import (
	"log/slog"
	"net/http"

	"github.com/tjfontaine/reqguard/internal/apperr"
)

const (
	// DefaultVersionHeader carries the client's build version.
	DefaultVersionHeader = "X-Client-Version"

	// VersionMismatchMessage is returned to clients running a stale build.
	VersionMismatchMessage = "page has expired, please refresh and try again"
)

// VersionGate rejects clients whose build version differs from the server's.
// A missing header counts as a mismatch.
type VersionGate struct {
	header  string
	version string
	logger  *slog.Logger
}

// NewVersionGate creates a gate expecting version in header. Empty header
// selects DefaultVersionHeader.
func NewVersionGate(header, version string, logger *slog.Logger) *VersionGate {
	if header == "" {
		header = DefaultVersionHeader
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionGate{header: header, version: version, logger: logger}
}

// Name implements Named.
func (g *VersionGate) Name() string { return "version_gate" }

// PreHandle implements Interceptor.
func (g *VersionGate) PreHandle(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	values := r.Header.Values(g.header)
	if len(values) > 0 && values[0] == g.version {
		return r, nil
	}
	got := "<missing>"
	if len(values) > 0 {
		got = values[0]
	}
	g.logger.Warn("client version mismatch",
		slog.String("expected", g.version),
		slog.String("got", got),
		slog.String("path", r.URL.Path),
	)
	return r, apperr.VersionMismatch(VersionMismatchMessage)
}

// AfterCompletion implements Interceptor.
func (g *VersionGate) AfterCompletion(w http.ResponseWriter, r *http.Request, err error) {}
