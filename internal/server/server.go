// Package server exposes a workspace to the browser editor shell over HTTP
// and a WebSocket, and serves sandbox instances as isolated documents.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/assets"
	"github.com/livetemplate/tinkerpen/internal/config"
	"github.com/livetemplate/tinkerpen/internal/logging"
	"github.com/livetemplate/tinkerpen/internal/workspace"
)

// Server is the tinkerpen HTTP server.
type Server struct {
	config *config.Config
	ws     *workspace.Workspace
	logger *zap.Logger

	router    chi.Router
	wsHandler *WebSocketHandler
	watcher   *Watcher

	cancel      context.CancelFunc
	limiterDone <-chan struct{}
	closeOnce   sync.Once
}

// New builds the router for ws. The workspace must already be started.
func New(cfg *config.Config, ws *workspace.Workspace, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:    cfg,
		ws:        ws,
		logger:    logger.Named("server"),
		wsHandler: NewWebSocketHandler(ws, cfg.GetBreakpoint(), cfg.IsHeadless(), logger),
		cancel:    cancel,
	}

	rateLimit, done := RateLimitMiddleware(ctx, cfg.GetRateLimitRPS(), cfg.GetRateLimitBurst(), 0, s.logger)
	s.limiterDone = done
	s.router = s.routes(rateLimit)
	return s
}

func (s *Server) routes(rateLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", s.wsHandler)

	r.With(SandboxHeadersMiddleware()).
		Method(http.MethodGet, "/preview/{generation}", &PreviewHandler{ws: s.ws})

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeadersMiddleware())

		r.Get("/", s.serveShell)
		r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.FS(assets.ShellFS()))))

		r.Route("/api", func(r chi.Router) {
			r.Use(rateLimit)
			NewAPIHandler(s.ws, s.logger).Routes(r)
		})
	})

	return r
}

func (s *Server) serveShell(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(assets.ShellFS(), "index.html")
	if err != nil {
		http.Error(w, "shell not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(page)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the full handler chain, compression included.
func (s *Server) Handler() http.Handler {
	return WithCompression(s)
}

// EnableWatch applies edits made to the document files by other programs.
func (s *Server) EnableWatch(reader ExternalReader) error {
	watcher, err := NewWatcher(reader, s.ws.ExternalEdit, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = watcher
	s.watcher.Start()
	return nil
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(l)
	}()
	s.logger.Info("listening", zap.String("addr", l.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	s.wsHandler.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	return nil
}

// Close stops the watcher, the rate limiter and every websocket client. The
// workspace is owned by the caller.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.watcher != nil {
			err = s.watcher.Stop()
		}
		s.wsHandler.Close()
		s.cancel()
		<-s.limiterDone
	})
	return err
}
