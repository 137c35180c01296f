package interceptor

import (
	"net/http"

	"github.com/tjfontaine/reqguard/internal/apperr"
)

// HandlerFunc is an http handler that reports failure by returning an error.
//
// Inside a Chain the error is handed to AfterCompletion and written with the
// chain's classifier. Outside a chain it is written with apperr.Default.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler.
func (f HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	classifier := apperr.Default
	if out := outcomeFrom(r.Context()); out != nil {
		out.set(err)
		classifier = out.classifier
	}

	if sw, ok := w.(interface{ Written() bool }); ok && sw.Written() {
		classifier.Record(r, err)
		return
	}
	classifier.Respond(w, r, err)
}
