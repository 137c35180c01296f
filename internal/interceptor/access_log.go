package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/reqctx"
	"github.com/tjfontaine/reqguard/internal/route"
)

// AccessLogger writes one structured line per request and owns the
// request's reqctx state.
type AccessLogger struct {
	logger     *slog.Logger
	classifier *apperr.Classifier
	skip       *route.Matcher
	logErrors  bool
	extra      func(*http.Request) string
}

// AccessLogOption configures an AccessLogger.
type AccessLogOption func(*AccessLogger)

// WithQuietRoutes logs matching requests only when they fail.
func WithQuietRoutes(m *route.Matcher) AccessLogOption {
	return func(l *AccessLogger) {
		l.skip = m
	}
}

// WithErrorDetail includes the error detail for every failure, not only 5xx.
func WithErrorDetail(enabled bool) AccessLogOption {
	return func(l *AccessLogger) {
		l.logErrors = enabled
	}
}

// WithExtraField adds a caller-supplied field to every line. Blank values are omitted.
func WithExtraField(fn func(*http.Request) string) AccessLogOption {
	return func(l *AccessLogger) {
		l.extra = fn
	}
}

// WithLogClassifier sets the classifier used for failures that were not
// recorded in the request state. Defaults to apperr.Default.
func WithLogClassifier(c *apperr.Classifier) AccessLogOption {
	return func(l *AccessLogger) {
		l.classifier = c
	}
}

// NewAccessLogger creates an access logger writing to logger.
func NewAccessLogger(logger *slog.Logger, opts ...AccessLogOption) *AccessLogger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &AccessLogger{logger: logger, classifier: apperr.Default}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements Named.
func (l *AccessLogger) Name() string { return "access_log" }

// PreHandle implements Interceptor.
func (l *AccessLogger) PreHandle(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	ctx, _ := reqctx.Establish(r.Context(), ClientIP(r))
	ctx = context.WithValue(ctx, logFieldsKey{}, &logFields{})
	return r.WithContext(ctx), nil
}

// AfterCompletion implements Interceptor.
func (l *AccessLogger) AfterCompletion(w http.ResponseWriter, r *http.Request, err error) {
	defer reqctx.Release(r.Context())
	l.log(r, err)
}

func (l *AccessLogger) log(r *http.Request, err error) {
	ctx := r.Context()

	status := http.StatusOK
	if f, ok := reqctx.CapturedFailure(ctx); ok {
		err, status = f.Err, f.Status
	} else if err != nil {
		status = l.classifier.Classify(err)
	}

	if err == nil && l.skip.Match(r.Method, r.URL.Path) {
		return
	}

	attrs := []slog.Attr{
		slog.String("ip", reqctx.ClientIP(ctx)),
	}
	if l.extra != nil {
		if extra := strings.TrimSpace(l.extra(r)); extra != "" {
			attrs = append(attrs, slog.String("extra", extra))
		}
	}
	attrs = append(attrs,
		slog.String("method", r.Method),
		slog.String("uri", requestURI(r)),
		slog.String("elapsed_ms", humanize.Comma(reqctx.ElapsedMillis(ctx))),
	)
	if id := reqctx.RequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(*logFields); ok {
		attrs = append(attrs, fields.attrs()...)
	}

	if err == nil {
		l.logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
		return
	}

	attrs = append(attrs,
		slog.Int("status", status),
		slog.String("message", apperr.Message(err)),
	)
	if l.logErrors || apperr.IsServerError(status) {
		attrs = append(attrs, slog.String("detail", fmt.Sprintf("%+v", err)))
	}
	l.logger.LogAttrs(ctx, slog.LevelWarn, "request failed", attrs...)
}

func requestURI(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

// logFieldsKey identifies request-scoped logging fields.
type logFieldsKey struct{}

type logFields struct {
	mu     sync.Mutex
	values map[string]string
}

func (f *logFields) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = make(map[string]string)
	}
	f.values[key] = value
}

func (f *logFields) attrs() []slog.Attr {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, f.values[k]))
	}
	return attrs
}

// AddLogField attaches a key/value to the request's access log line.
// No-op if no AccessLogger is in the chain or value is empty.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(*logFields); ok {
		fields.set(key, value)
	}
}
