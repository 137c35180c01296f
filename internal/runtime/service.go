// Package runtime assembles the reqguard service and manages its lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/tjfontaine/reqguard/internal/cipher"
	"github.com/tjfontaine/reqguard/internal/config"
	"github.com/tjfontaine/reqguard/internal/interceptor"
	"github.com/tjfontaine/reqguard/internal/metrics"
	"github.com/tjfontaine/reqguard/internal/route"
	"github.com/tjfontaine/reqguard/internal/server"
	"github.com/tjfontaine/reqguard/internal/storage"
	"github.com/tjfontaine/reqguard/internal/storage/memory"
	"github.com/tjfontaine/reqguard/internal/storage/sqlite"
	"github.com/tjfontaine/reqguard/internal/token"
	"github.com/tjfontaine/reqguard/internal/whitelist"
)

// Service is the assembled reqguard HTTP service.
type Service struct {
	// Dependencies (injected via options)
	cfg      *config.Config
	store    storage.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	listener net.Listener

	// Internal state
	tokens   *token.Codec
	fileList *whitelist.FileList
	server   *server.Server

	// Lifecycle management
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a Service with the given options. Configuration faults are
// reported here, before anything is served.
func New(opts ...Option) (*Service, error) {
	s := &Service{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.cfg == nil {
		return nil, fmt.Errorf("configuration required (use WithConfig or WithFileConfig)")
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	if err := s.assemble(); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *Service) assemble() error {
	cfg := s.cfg

	c, err := cipher.New(cfg.Token.Key)
	if err != nil {
		return err
	}
	s.tokens = token.NewCodec(c, cfg.Token.Prefix)
	validator := token.NewValidator[server.Principal](s.tokens, token.WithCheck(server.CheckPrincipal))

	authSkip, err := route.Compile(cfg.Auth.Skip)
	if err != nil {
		return fmt.Errorf("compile auth.skip: %w", err)
	}
	logSkip, err := route.Compile(cfg.Logging.Skip)
	if err != nil {
		return fmt.Errorf("compile logging.skip: %w", err)
	}

	if s.store == nil {
		if s.store, err = openStore(cfg.Storage); err != nil {
			return err
		}
	}

	var allow interceptor.Whitelist
	if cfg.Whitelist.Enabled {
		if allow, err = s.openWhitelist(); err != nil {
			return err
		}
	}

	logOpts := []interceptor.AccessLogOption{
		interceptor.WithQuietRoutes(logSkip),
		interceptor.WithErrorDetail(cfg.Logging.LogErrors),
	}
	if header := cfg.Logging.ExtraHeader; header != "" {
		logOpts = append(logOpts, interceptor.WithExtraField(func(r *http.Request) string {
			return r.Header.Get(header)
		}))
	}

	interceptors := []interceptor.Interceptor{
		interceptor.NewAccessLogger(s.logger, logOpts...),
	}
	if cfg.RateLimit.Requests > 0 {
		interceptors = append(interceptors, interceptor.NewRateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	if cfg.Version.Build != "" {
		interceptors = append(interceptors, interceptor.NewVersionGate(cfg.Version.Header, cfg.Version.Build, s.logger))
	}
	interceptors = append(interceptors, interceptor.NewAuthCheck(validator,
		interceptor.WithSkipRoutes(authSkip),
		interceptor.WithTokenKey(cfg.Token.Param),
	))
	if allow != nil {
		interceptors = append(interceptors, interceptor.NewWhitelistGate(allow, server.CurrentUser, authSkip))
	}
	interceptors = append(interceptors, interceptor.NewActivityRecorder(s.store))

	chain := interceptor.NewChain(interceptors,
		interceptor.WithLogger(s.logger),
		interceptor.WithMetrics(s.metrics),
	)

	s.server = server.New(server.Options{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         s.logger,
		Chain:          chain,
		Metrics:        s.metrics,
		API:            server.NewAPI(s.tokens, allow, s.store),
	})
	return nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "sqlite":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("create sqlite storage: %w", err)
		}
		return store, nil
	default:
		return memory.New(), nil
	}
}

// openWhitelist returns the file list when whitelist.file is set, otherwise
// the store seeded with whitelist.users.
func (s *Service) openWhitelist() (interceptor.Whitelist, error) {
	wc := s.cfg.Whitelist
	if wc.File != "" {
		fl, err := whitelist.NewFileList(wc.File,
			whitelist.WithReloadInterval(wc.ReloadInterval),
			whitelist.WithFileLogger(s.logger),
		)
		if err != nil {
			return nil, err
		}
		s.fileList = fl
		return fl, nil
	}

	ctx := context.Background()
	for _, u := range wc.Users {
		if u = strings.TrimSpace(u); u == "" {
			continue
		}
		if err := s.store.AddUser(ctx, u); err != nil {
			return nil, fmt.Errorf("seed whitelist: %w", err)
		}
	}
	return s.store, nil
}

// Tokens returns the token codec used by the service.
func (s *Service) Tokens() *token.Codec {
	return s.tokens
}

// Store returns the service store.
func (s *Service) Store() storage.Store {
	return s.store
}

// Handler returns the root HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.server.Handler()
}

// Start begins serving and watching the whitelist file.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)

	if s.fileList != nil {
		if err := s.fileList.Watch(ctx); err != nil {
			return fmt.Errorf("watch whitelist: %w", err)
		}
	}

	var err error
	if s.listener != nil {
		err = s.server.Serve(s.listener)
	} else {
		err = s.server.Start()
	}
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	s.logger.Info("reqguard started",
		slog.Int("port", s.cfg.Server.Port),
		slog.String("storage", s.cfg.Storage.Type),
		slog.Bool("whitelist", s.cfg.Whitelist.Enabled))
	return nil
}

// Shutdown gracefully stops the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("shutting down reqguard")

	if s.cancel != nil {
		s.cancel()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		return err
	}

	s.closeResources()

	s.logger.Info("reqguard shutdown complete")
	return nil
}

func (s *Service) closeResources() {
	if s.fileList != nil {
		if err := s.fileList.Close(); err != nil {
			s.logger.Error("failed to close whitelist watcher", slog.String("error", err.Error()))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}
}
