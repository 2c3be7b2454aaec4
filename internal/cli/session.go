package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/recordkit/internal/adapter"
	"github.com/roach88/recordkit/internal/config"
	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/store/memory"
	"github.com/roach88/recordkit/internal/store/redis"
	"github.com/roach88/recordkit/internal/store/sqlite"
)

// session is an open backend plus the adapter serving it.
type session struct {
	config  *config.Config
	backend store.Backend
	service *adapter.Service
	logger  *slog.Logger
}

func (s *session) Close() {
	if err := s.backend.Close(); err != nil {
		s.logger.Error("error closing backend", "error", err)
	}
}

// newLogger returns a text logger on w, at debug level when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Merge(config.Overrides{Backend: opts.Backend, DSN: opts.DSN, Schema: opts.Schema}); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// openBackend opens the configured backend.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlite.Open(cfg.DSN, sqlite.WithLogger(logger))
	case config.BackendRedis:
		return redis.Dial(ctx, cfg.DSN, redis.WithLogger(logger), redis.WithIDField(cfg.IDField))
	case config.BackendMemory:
		return memory.New(memory.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openSession loads config and schema, opens the backend and builds the
// adapter (which ensures the index). Failures are reported through f and
// returned as ExitErrors.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*session, error) {
	logger := newLogger(opts, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.Fail(ErrCodeConfig, "failed to load config", err)
	}
	if cfg.Schema == "" {
		return nil, f.Fail(ErrCodeConfig, "no schema configured", fmt.Errorf("set schema in the config file or pass --schema"))
	}

	s, err := schema.LoadFile(cfg.Schema)
	if err != nil {
		return nil, f.Fail(ErrCodeSchema, "failed to load schema", err)
	}
	f.VerboseLog("Loaded schema %s from %s", s.Name, cfg.Schema)

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, f.Fail(ErrCodeBackend, "failed to open backend", err)
	}
	logger.Debug("backend open", "backend", cfg.Backend, "dsn", cfg.DSN)

	svc, err := adapter.New(ctx, backend, s, append(cfg.AdapterOptions(), adapter.WithLogger(logger))...)
	if err != nil {
		backend.Close()
		return nil, f.Fail(ErrCodeBackend, "failed to build index", err)
	}

	return &session{config: cfg, backend: backend, service: svc, logger: logger}, nil
}

// withSession runs fn against an open session and closes it afterwards.
func withSession(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, s *session, f *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts, cmd)

	s, err := openSession(ctx, opts, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s, f)
}
