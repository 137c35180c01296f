package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/metrics"
)

const tracerName = "github.com/tjfontaine/reqguard/internal/interceptor"

// Interceptor is one stage of the chain.
//
// PreHandle runs before the handler, in registration order. It may return a
// derived request (typically carrying an enriched context) or nil to keep the
// current one. A non-nil error short-circuits the remaining PreHandle calls
// and the handler.
//
// AfterCompletion runs after the handler, in reverse order, for every
// interceptor whose PreHandle ran, including the one that failed. err is the
// failure that ended the request, or nil.
type Interceptor interface {
	PreHandle(w http.ResponseWriter, r *http.Request) (*http.Request, error)
	AfterCompletion(w http.ResponseWriter, r *http.Request, err error)
}

// Named is implemented by interceptors that report a stable name for logs
// and metrics.
type Named interface {
	Name() string
}

func nameOf(ic Interceptor) string {
	if n, ok := ic.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", ic)
}

// Chain composes interceptors around a handler.
type Chain struct {
	interceptors []Interceptor
	classifier   *apperr.Classifier
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

// Option configures a Chain.
type Option func(*Chain)

// WithClassifier sets the classifier used to resolve failures. Defaults to apperr.Default.
func WithClassifier(c *apperr.Classifier) Option {
	return func(ch *Chain) {
		ch.classifier = c
	}
}

// WithLogger sets the logger for chain-level diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(ch *Chain) {
		ch.logger = l
	}
}

// WithMetrics records request and short-circuit metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ch *Chain) {
		ch.metrics = m
	}
}

// WithTracer sets the tracer used for the chain span. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(ch *Chain) {
		ch.tracer = t
	}
}

// NewChain creates a chain running interceptors in the given order.
func NewChain(interceptors []Interceptor, opts ...Option) *Chain {
	c := &Chain{
		interceptors: append([]Interceptor(nil), interceptors...),
		classifier:   apperr.Default,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

// Then wraps h with the chain.
func (c *Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.serve(w, r, h)
	})
}

// ThenFunc wraps an error-returning handler with the chain.
func (c *Chain) ThenFunc(f HandlerFunc) http.Handler {
	return c.Then(f)
}

// Middleware adapts the chain for router.Use.
func (c *Chain) Middleware() func(http.Handler) http.Handler {
	return c.Then
}

func (c *Chain) serve(w http.ResponseWriter, r *http.Request, h http.Handler) {
	start := time.Now()
	ctx, span := c.tracer.Start(r.Context(), "interceptor.chain",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		),
	)
	out := &outcome{classifier: c.classifier}
	r = r.WithContext(context.WithValue(ctx, outcomeKey{}, out))
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

	executed := 0
	var err error
	defer func() {
		p := recover()
		if p != nil {
			c.metrics.ObservePanic()
			err = apperr.NewPanicError(p)
			c.fail(sw, r, err)
		}

		for i := executed - 1; i >= 0; i-- {
			c.afterCompletion(c.interceptors[i], sw, r, err)
		}

		span.SetAttributes(attribute.Int("http.status_code", sw.status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.Message(err))
		}
		span.End()
		c.metrics.ObserveRequest(r.Method, sw.status, time.Since(start))

		if p == http.ErrAbortHandler {
			panic(p)
		}
	}()

	for i, ic := range c.interceptors {
		executed = i + 1
		next, perr := ic.PreHandle(sw, r)
		if next != nil {
			r = next
		}
		if perr != nil {
			err = perr
			status := c.fail(sw, r, err)
			c.metrics.ObserveShortCircuit(nameOf(ic), status)
			return
		}
	}

	h.ServeHTTP(sw, r)
	err = out.get()
}

// fail writes the error envelope unless the response has already started.
func (c *Chain) fail(sw *statusWriter, r *http.Request, err error) int {
	if sw.Written() {
		return c.classifier.Record(r, err)
	}
	return c.classifier.Respond(sw, r, err)
}

func (c *Chain) afterCompletion(ic Interceptor, w http.ResponseWriter, r *http.Request, err error) {
	defer func() {
		if p := recover(); p != nil {
			c.metrics.ObservePanic()
			c.logger.Error("interceptor after-completion panicked",
				slog.String("interceptor", nameOf(ic)),
				slog.Any("panic", p),
			)
		}
	}()
	ic.AfterCompletion(w, r, err)
}

// outcomeKey identifies the handler outcome slot in a request context.
type outcomeKey struct{}

// outcome receives the error returned by a HandlerFunc inside a chain.
type outcome struct {
	mu         sync.Mutex
	classifier *apperr.Classifier
	err        error
}

func (o *outcome) set(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err == nil {
		o.err = err
	}
}

func (o *outcome) get() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func outcomeFrom(ctx context.Context) *outcome {
	o, _ := ctx.Value(outcomeKey{}).(*outcome)
	return o
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Written reports whether the response has been started.
func (w *statusWriter) Written() bool {
	return w.written
}

// Flush forwards Flush to the underlying ResponseWriter if it supports http.Flusher,
// preserving streaming support (e.g., for SSE).
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
