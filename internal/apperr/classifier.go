package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"strconv"
)

// Rule maps errors matching a predicate onto a status code.
type Rule struct {
	Name   string
	Match  func(error) bool
	Status int
}

// Classifier resolves errors to status codes using an ordered rule table.
// The first matching rule wins; errors matching no rule get the fallback.
type Classifier struct {
	rules    []Rule
	fallback Rule
}

// FallbackRuleName names the rule applied when nothing else matches.
const FallbackRuleName = "unhandled"

// NewClassifier creates a classifier from rules evaluated top to bottom.
func NewClassifier(rules []Rule, fallbackStatus int) *Classifier {
	return &Classifier{
		rules:    append([]Rule(nil), rules...),
		fallback: Rule{Name: FallbackRuleName, Status: fallbackStatus},
	}
}

// DefaultRules returns the rule table in its required precedence order.
// More specific kinds must stay ahead of the kinds they nest under.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "version_mismatch", Match: kindMatcher(KindVersionMismatch), Status: http.StatusUpgradeRequired},
		{Name: "rate_limited", Match: kindMatcher(KindRateLimited), Status: http.StatusTooManyRequests},
		{Name: "internal", Match: kindMatcher(KindInternal), Status: http.StatusInternalServerError},
		{Name: "not_found", Match: kindMatcher(KindNotFound), Status: http.StatusNotFound},
		{Name: "method_not_allowed", Match: kindMatcher(KindMethodNotAllowed), Status: http.StatusMethodNotAllowed},
		{Name: "unauthorized", Match: kindMatcher(KindUnauthorized), Status: http.StatusUnauthorized},
		{Name: "request", Match: kindMatcher(KindRequest), Status: http.StatusBadRequest},
		{Name: "foreign", Match: IsForeign, Status: http.StatusBadRequest},
		{Name: "unexpected", Match: IsUnexpected, Status: http.StatusInternalServerError},
	}
}

// Default is the classifier used when none is configured.
var Default = NewClassifier(DefaultRules(), http.StatusBadRequest)

// Classify returns the status for err using the Default classifier.
func Classify(err error) int {
	return Default.Classify(err)
}

// Classify returns the status of the first rule matching err.
// A nil error is http.StatusOK.
func (c *Classifier) Classify(err error) int {
	return c.Resolve(err).Status
}

// Resolve returns the first rule matching err, or the fallback rule.
func (c *Classifier) Resolve(err error) Rule {
	if err == nil {
		return Rule{Name: "ok", Status: http.StatusOK}
	}
	for _, r := range c.rules {
		if r.Match(err) {
			return r
		}
	}
	return c.fallback
}

// Rules returns a copy of the rule table.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// kindMatcher matches on the outermost *Error only, so an unauthorized error
// caused by a not-found lookup still classifies as unauthorized.
func kindMatcher(k *Kind) func(error) bool {
	return func(err error) bool {
		kind := KindOf(err)
		return kind != nil && kind.Is(k)
	}
}

// IsForeign reports whether err is a caller mistake surfaced by the standard
// library or the HTTP stack rather than by reqguard itself, such as a body
// that is not valid JSON.
func IsForeign(err error) bool {
	var (
		syntaxErr   *json.SyntaxError
		typeErr     *json.UnmarshalTypeError
		maxBytesErr *http.MaxBytesError
		numErr      *strconv.NumError
		protocolErr *http.ProtocolError
	)
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.As(err, &maxBytesErr) ||
		errors.As(err, &numErr) ||
		errors.As(err, &protocolErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, http.ErrNotMultipart) ||
		errors.Is(err, http.ErrMissingFile)
}

// IsUnexpected reports whether err is a framework-level failure: a recovered
// panic, a runtime fault, an expired request deadline, or a reqguard error
// whose kind belongs to no more specific family.
func IsUnexpected(err error) bool {
	var (
		panicErr   *PanicError
		runtimeErr runtime.Error
	)
	if errors.As(err, &panicErr) || errors.As(err, &runtimeErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	kind := KindOf(err)
	return kind != nil && kind.Is(KindBase)
}

// IsServerError reports whether status is in the 5xx class.
func IsServerError(status int) bool {
	return status >= 500 && status <= 599
}
