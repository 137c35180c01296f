// Package apperr provides the canonical error taxonomy for reqguard.
//
// Every failure that reaches a client is one of a small set of kinds. Kinds
// form a parent chain, so a version-mismatch error is also a request error and
// a database error is also an internal error. The Classifier maps kinds onto
// HTTP status codes with an ordered first-match rule table.
package apperr

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

// Kind is a category in the error taxonomy.
// Kinds are compared by identity; create new ones with NewKind.
type Kind struct {
	name   string
	parent *Kind
}

// NewKind creates a kind nested under parent. A nil parent nests under KindBase.
func NewKind(name string, parent *Kind) *Kind {
	if parent == nil {
		parent = KindBase
	}
	return &Kind{name: name, parent: parent}
}

var (
	// KindBase is the root of every reqguard error kind.
	KindBase = &Kind{name: "error"}

	// KindInternal indicates a server-side bug or a failing dependency.
	KindInternal = NewKind("internal", KindBase)
	// KindIO indicates a failed read or write against a local resource.
	KindIO = NewKind("io", KindInternal)
	// KindDatabase indicates a persistence failure.
	KindDatabase = NewKind("database", KindInternal)
	// KindConfiguration indicates invalid startup configuration.
	KindConfiguration = NewKind("configuration", KindInternal)

	// KindRequest indicates the caller sent something we cannot serve.
	KindRequest = NewKind("request", KindBase)
	// KindInvalidParameter indicates a missing or malformed parameter.
	KindInvalidParameter = NewKind("invalid_parameter", KindRequest)
	// KindVersionMismatch indicates a stale client build.
	KindVersionMismatch = NewKind("version_mismatch", KindRequest)
	// KindRateLimited indicates the caller exceeded its request budget.
	KindRateLimited = NewKind("rate_limited", KindRequest)
	// KindNotFound indicates the requested resource does not exist.
	KindNotFound = NewKind("not_found", KindRequest)
	// KindMethodNotAllowed indicates a known route called with an unsupported method.
	KindMethodNotAllowed = NewKind("method_not_allowed", KindRequest)
	// KindUnauthorized indicates a missing, malformed or rejected credential.
	KindUnauthorized = NewKind("unauthorized", KindRequest)
)

// Name returns the kind's own name.
func (k *Kind) Name() string {
	return k.name
}

// QualifiedName returns the dotted path from the root, e.g. "error.request.unauthorized".
func (k *Kind) QualifiedName() string {
	var parts []string
	for c := k; c != nil; c = c.parent {
		parts = append(parts, c.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// Is reports whether k is target or nested under it.
func (k *Kind) Is(target *Kind) bool {
	for c := k; c != nil; c = c.parent {
		if c == target {
			return true
		}
	}
	return false
}

// Error lets a Kind be used directly as an errors.Is target.
func (k *Kind) Error() string {
	return k.QualifiedName()
}

// Error is a classified reqguard error.
type Error struct {
	Kind    *Kind
	Code    string
	Message string
	Err     error
}

// New creates an error of the given kind.
func New(kind *Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind *Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind that retains cause for diagnostics.
func Wrap(kind *Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithCode sets a stable machine-readable code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// Error implements the error interface. It falls back to the cause's text
// when no message was given.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kinds (including ancestors) and coded sentinel errors.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Kind:
		return e.Kind != nil && e.Kind.Is(t)
	case *Error:
		return t.Code != "" && e.Code == t.Code && e.Kind == t.Kind
	}
	return false
}

// Format supports %+v, printing the kind chain and the cause.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			kind := "unknown"
			if e.Kind != nil {
				kind = e.Kind.QualifiedName()
			}
			fmt.Fprintf(s, "%s", kind)
			if e.Code != "" {
				fmt.Fprintf(s, " (%s)", e.Code)
			}
			fmt.Fprintf(s, ": %s", e.Error())
			if e.Err != nil {
				fmt.Fprintf(s, "\ncaused by: %+v", e.Err)
			}
			return
		}
		fmt.Fprint(s, e.Error())
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// KindOf returns the kind of the outermost *Error in err's chain, or nil.
func KindOf(err error) *Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// PanicError carries a value recovered from a panic together with the stack
// at the point of recovery.
type PanicError struct {
	Value any
	Stack []byte
}

// NewPanicError captures the current goroutine stack. Call it from the
// deferred function that recovered v.
func NewPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// Format supports %+v, appending the captured stack.
func (p *PanicError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%s\n%s", p.Error(), p.Stack)
		return
	}
	fmt.Fprint(s, p.Error())
}

// Convenience constructors for common kinds

// Internal creates an internal error.
func Internal(message string) *Error { return New(KindInternal, message) }

// Request creates a generic request error.
func Request(message string) *Error { return New(KindRequest, message) }

// InvalidParameter creates an invalid-parameter error.
func InvalidParameter(message string) *Error { return New(KindInvalidParameter, message) }

// NotFound creates a not-found error.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// MethodNotAllowed creates a method-not-allowed error.
func MethodNotAllowed(message string) *Error { return New(KindMethodNotAllowed, message) }

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

// RateLimited creates a rate-limited error.
func RateLimited(message string) *Error { return New(KindRateLimited, message) }

// VersionMismatch creates a version-mismatch error.
func VersionMismatch(message string) *Error { return New(KindVersionMismatch, message) }

// Configuration creates a configuration error.
func Configuration(message string) *Error { return New(KindConfiguration, message) }
