package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/config"
	"github.com/livetemplate/tinkerpen/internal/logging"
	"github.com/livetemplate/tinkerpen/pkg/playground"
)

// App struct holds the application state.
type App struct {
	ctx    context.Context
	logger *zap.Logger

	mu         sync.RWMutex
	playground *playground.Playground
	cancel     context.CancelFunc
	served     chan struct{}
	serverURL  string
	currentDir string
}

// NewApp creates a new App application struct.
func NewApp() *App {
	return &App{logger: logging.Must(logging.Config{Level: "info"})}
}

// startup is called when the app starts.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
}

// shutdown is called when the app is closing.
func (a *App) shutdown(ctx context.Context) {
	a.stopServer()
	_ = a.logger.Sync()
}

// stopServer stops the current playground if running. Pending edits are
// flushed to disk before it returns.
func (a *App) stopServer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.playground == nil {
		return
	}
	a.cancel()
	<-a.served
	if err := a.playground.Close(); err != nil {
		a.logger.Warn("playground close failed", zap.Error(err))
	}
	a.playground = nil
	a.serverURL = ""
}

// OpenDirectory opens a directory dialog and starts a playground in the
// selected project directory.
func (a *App) OpenDirectory() (string, error) {
	selection, err := runtime.OpenDirectoryDialog(a.ctx, runtime.OpenDialogOptions{
		Title:            "Open Tinkerpen Project",
		DefaultDirectory: GetDefaultDirectory(),
	})
	if err != nil {
		return "", err
	}
	if selection == "" {
		return "", nil
	}
	if err := a.loadDirectory(selection); err != nil {
		return "", err
	}
	return selection, nil
}

// NewScratch starts a playground whose documents are kept in memory only.
func (a *App) NewScratch() (string, error) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = config.BackendMemory
	if err := a.start(cfg, ""); err != nil {
		return "", err
	}
	return a.GetServerURL(), nil
}

// loadDirectory loads a project directory and starts the playground. The
// documents are stored one file per document so they can be edited outside
// the app; those edits are picked up live.
func (a *App) loadDirectory(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	cfg, err := config.LoadFromDir(absDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if cfg.Storage.Backend == config.BackendFile {
		cfg.Storage.Backend = config.BackendDir
	}
	cfg.Storage.Watch = cfg.Storage.Backend == config.BackendDir
	return a.start(cfg, absDir)
}

func (a *App) start(cfg *config.Config, dir string) error {
	a.stopServer()

	// Loopback only, on a free port.
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to find free port: %w", err)
	}

	p, err := playground.Open(a.ctx, playground.Options{Config: cfg, Logger: a.logger})
	if err != nil {
		listener.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := p.Serve(ctx, listener, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("playground server stopped", zap.Error(err))
		}
	}()

	serverURL := fmt.Sprintf("http://%s/", listener.Addr().String())

	a.mu.Lock()
	a.playground = p
	a.cancel = cancel
	a.served = served
	a.serverURL = serverURL
	a.currentDir = dir
	a.mu.Unlock()

	title := "Tinkerpen - scratch"
	if dir != "" {
		title = fmt.Sprintf("Tinkerpen - %s", filepath.Base(dir))
	}
	runtime.WindowSetTitle(a.ctx, title)
	runtime.EventsEmit(a.ctx, "navigate", serverURL)
	return nil
}

// ResetDocuments restores the starter documents in the open project.
func (a *App) ResetDocuments() error {
	a.mu.RLock()
	p := a.playground
	a.mu.RUnlock()
	if p == nil {
		return errors.New("no project is open")
	}
	return p.Workspace.Reset()
}

// GetCurrentDirectory returns the currently loaded directory.
func (a *App) GetCurrentDirectory() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentDir
}

// GetServerURL returns the URL of the running server, or empty string if not running.
func (a *App) GetServerURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.serverURL
}

// GetHandler returns the handler for the window's initial page. Once a
// project is open the window navigates to the playground server itself.
func (a *App) GetHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(welcomeHTML))
	})
}

// GetHomeDirectory returns the user's home directory.
func GetHomeDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// GetDefaultDirectory returns a sensible default directory.
func GetDefaultDirectory() string {
	home := GetHomeDirectory()
	docsDir := filepath.Join(home, "Documents")
	if _, err := os.Stat(docsDir); err == nil {
		return docsDir
	}
	return home
}

const welcomeHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8"/>
    <meta content="width=device-width, initial-scale=1.0" name="viewport"/>
    <title>Tinkerpen</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            background: #1e1e1e;
            color: #ddd;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            padding: 2rem;
        }
        .container { text-align: center; max-width: 560px; }
        h1 { font-size: 2.25rem; margin-bottom: 1rem; }
        p { color: #9a9a9a; line-height: 1.6; margin-bottom: 2rem; }
        .actions { display: flex; gap: 1rem; justify-content: center; }
        button {
            background: #0e639c;
            border: none;
            color: #fff;
            padding: 0.75rem 1.5rem;
            font-size: 1rem;
            border-radius: 4px;
            cursor: pointer;
        }
        button:hover { background: #1177bb; }
        #status { margin-top: 1rem; font-size: 0.875rem; min-height: 1.5em; }
        .error { color: #f48771; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Tinkerpen</h1>
        <p>Edit HTML, CSS and JavaScript side by side with a live, sandboxed preview.</p>
        <div class="actions">
            <button id="openDir">Open Project</button>
            <button id="scratch">New Scratch</button>
        </div>
        <p id="status"></p>
    </div>
    <script>
        function initApp() {
            const statusEl = document.getElementById('status');
            function showError(err) {
                statusEl.textContent = 'Error: ' + err;
                statusEl.className = 'error';
            }
            document.getElementById('openDir').addEventListener('click', function() {
                window.go.main.App.OpenDirectory().catch(showError);
            });
            document.getElementById('scratch').addEventListener('click', function() {
                window.go.main.App.NewScratch().catch(showError);
            });
            window.runtime.EventsOn('navigate', function(url) {
                window.location.href = url;
            });
        }

        function waitForWails() {
            if (window.go && window.runtime) {
                initApp();
            } else {
                setTimeout(waitForWails, 50);
            }
        }

        if (document.readyState === 'loading') {
            document.addEventListener('DOMContentLoaded', waitForWails);
        } else {
            waitForWails();
        }
    </script>
</body>
</html>`
