/*
Package interceptor provides the request interceptor chain and the
interceptors reqguard ships with.

# Overview

A Chain runs an ordered list of Interceptors around an http.Handler. Each
interceptor gets a PreHandle call before the handler, in registration order,
and an AfterCompletion call after it, in reverse order. A PreHandle error
stops the chain: later interceptors and the handler never run, the error is
classified and written as the JSON envelope, and AfterCompletion still runs
for every interceptor that was entered, the failing one included.

Handlers may return errors by using HandlerFunc. Errors and recovered panics
are classified by an apperr.Classifier and recorded in the request's reqctx
state so the access logger can report them.

# Interceptors

Each interceptor below lives in its own file and can be used on its own.

# Access log

AccessLogger establishes the per-request state in PreHandle and releases it
in AfterCompletion, after writing one log line:
  - ip, optional extra field, method, URI with query, elapsed milliseconds
  - status, message and (for 5xx or when enabled) the error detail on failure
  - requests matching the skip routes are logged only when they fail

# Authentication

AuthCheck reads the credential from the "token" form/query parameter, then
the header of the same name, and hands it to a TokenValidator. Routes
matching the skip table bypass the check. The validator's Reset is called
in AfterCompletion on every path.

# Client version

VersionGate rejects requests whose version header does not equal the build
version with a 426.

# Whitelist

WhitelistGate rejects requests whose current user is absent from a
Whitelist with a 401.

# Rate limiting

RateLimit counts requests per client IP in fixed windows and writes
x-ratelimit-* headers. Requests over the limit get a 429.

# Activity

ActivityRecorder reports each request's client IP to an AccessRecorder.

# Chain Order

The recommended order is:
 1. AccessLogger (first, so every other failure is logged)
 2. RateLimit
 3. VersionGate
 4. AuthCheck
 5. WhitelistGate (needs the principal set by AuthCheck)
 6. ActivityRecorder

# Example Usage

	chain := interceptor.NewChain([]interceptor.Interceptor{
		interceptor.NewAccessLogger(logger),
		interceptor.NewAuthCheck(validator, interceptor.WithSkipRoutes(skip)),
	}, interceptor.WithMetrics(m))

	router.With(chain.Middleware()).Get("/api/me", handleMe)
*/
package interceptor
