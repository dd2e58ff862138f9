// Package playground assembles a complete tinkerpen instance from a config:
// storage backend, workspace, sandbox runner and HTTP server. It is the entry
// point shared by the CLI and the desktop app.
//
// Example usage:
//
//	cfg := config.DefaultConfig()
//	cfg.Storage.Backend = config.BackendMemory
//	err := playground.Serve(context.Background(), playground.Options{Config: cfg})
package playground

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/coalesce"
	"github.com/livetemplate/tinkerpen/internal/config"
	"github.com/livetemplate/tinkerpen/internal/logging"
	"github.com/livetemplate/tinkerpen/internal/sandbox"
	"github.com/livetemplate/tinkerpen/internal/server"
	"github.com/livetemplate/tinkerpen/internal/store"
	"github.com/livetemplate/tinkerpen/internal/workspace"
)

// Options configures a Playground.
type Options struct {
	// Config is required.
	Config *config.Config

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Storage overrides the backend selected by Config (optional).
	Storage store.Storage

	// Clock drives the edit debounce (optional, for tests).
	Clock coalesce.Clock

	// OnReady is called with the listen address once connections are accepted.
	OnReady func(addr string)
}

// Playground is a running workspace with its server.
type Playground struct {
	Workspace *workspace.Workspace
	Server    *server.Server

	config *config.Config
	logger *zap.Logger
}

// OpenStorage opens the backend named by cfg.
func OpenStorage(ctx context.Context, cfg *config.Config) (store.Storage, error) {
	ns := cfg.GetNamespace()
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return store.NewMemoryStorage(ns), nil
	case config.BackendFile, "":
		return store.NewFileStorage(cfg.Storage.Dir, ns)
	case config.BackendDir:
		return store.NewDirStorage(cfg.Storage.Dir, ns)
	case config.BackendSQLite:
		dsn := cfg.GetDSN()
		if dsn == "" {
			dsn = cfg.GetSQLitePath()
		}
		return store.OpenSQLStorage(ctx, store.DriverSQLite, dsn, ns)
	case config.BackendPostgres:
		return store.OpenSQLStorage(ctx, store.DriverPostgres, cfg.GetDSN(), ns)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// NewRunner returns the sandbox runner selected by cfg. A nil runner leaves
// execution to the shell's browser.
func NewRunner(cfg *config.Config, logger *zap.Logger) sandbox.Runner {
	if !cfg.IsHeadless() {
		return nil
	}
	return sandbox.NewHeadlessRunner(sandbox.HeadlessConfig{
		Timeout:   cfg.GetSandboxTimeout(),
		MaxTimers: cfg.GetMaxTimers(),
	}, logger)
}

// NewWorkspace builds an unstarted workspace over storage.
func NewWorkspace(cfg *config.Config, storage store.Storage, clock coalesce.Clock, logger *zap.Logger) *workspace.Workspace {
	return workspace.New(workspace.Options{
		Storage:           storage,
		WriteTimeout:      cfg.GetWriteTimeout(),
		Runner:            NewRunner(cfg, logger),
		QuietPeriod:       cfg.GetQuietPeriod(),
		Clock:             clock,
		MaxConsoleRecords: cfg.Console.MaxRecords,
		Settings:          cfg.GetSettings(),
		Logger:            logger,
	})
}

// Open validates the config, opens storage, starts the workspace and builds
// the server. The caller must Close the result.
func Open(ctx context.Context, opts Options) (*Playground, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("playground: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.OrNop(opts.Logger)

	storage := opts.Storage
	if storage == nil {
		var err error
		storage, err = OpenStorage(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
	}

	ws := NewWorkspace(cfg, storage, opts.Clock, logger)
	if err := ws.Start(ctx); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to start workspace: %w", err)
	}

	p := &Playground{
		Workspace: ws,
		Server:    server.New(cfg, ws, logger),
		config:    cfg,
		logger:    logger,
	}

	if cfg.Storage.Watch {
		reader, ok := storage.(server.ExternalReader)
		if !ok {
			p.Close()
			return nil, fmt.Errorf("storage backend %q cannot be watched", storage.Name())
		}
		if err := p.Server.EnableWatch(reader); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// Serve accepts connections on l until ctx is cancelled.
func (p *Playground) Serve(ctx context.Context, l net.Listener, onReady func(addr string)) error {
	if onReady != nil {
		onReady(l.Addr().String())
	}
	return p.Server.Serve(ctx, l)
}

// Close stops the server, flushes pending edits and closes storage.
func (p *Playground) Close() error {
	return errors.Join(p.Server.Close(), p.Workspace.Close())
}

// Serve opens a playground, listens on the configured address and serves
// until ctx is cancelled or the process receives SIGINT or SIGTERM.
func Serve(ctx context.Context, opts Options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := Open(ctx, opts)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", opts.Config.Addr())
	if err != nil {
		p.Close()
		return fmt.Errorf("failed to listen on %s: %w", opts.Config.Addr(), err)
	}

	serveErr := p.Serve(ctx, l, opts.OnReady)
	if err := p.Close(); err != nil {
		p.logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return serveErr
}
