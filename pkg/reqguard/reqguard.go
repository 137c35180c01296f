// Package reqguard provides the public API for embedding the reqguard service.
// This is the stable API for external consumers.
package reqguard

import (
	"github.com/tjfontaine/reqguard/internal/runtime"
)

// Service is the assembled reqguard HTTP service.
// See internal/runtime.Service for full documentation.
type Service = runtime.Service

// Option is a functional option for configuring a Service.
type Option = runtime.Option

// New creates a new Service with the given options.
// Example:
//
//	svc, err := reqguard.New(
//	    reqguard.WithFileConfig("config.yaml"),
//	    reqguard.WithSQLite("./data/reqguard.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfig     = runtime.WithConfig
	WithFileConfig = runtime.WithFileConfig

	// Storage
	WithSQLite        = runtime.WithSQLite
	WithMemoryStorage = runtime.WithMemoryStorage
	WithStore         = runtime.WithStore

	// Advanced options
	WithLogger   = runtime.WithLogger
	WithMetrics  = runtime.WithMetrics
	WithListener = runtime.WithListener
)
