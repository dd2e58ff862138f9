package sandbox

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/logging"
	"github.com/livetemplate/tinkerpen/internal/telemetry"
)

// Sink receives raw messages posted by sandboxed code, tagged with the
// generation of the instance that posted them.
type Sink interface {
	DeliverRaw(generation uint64, data []byte) bool
}

// Runner executes an active instance. Run must return once ctx is
// cancelled; it reports script failures without affecting the host.
type Runner interface {
	Run(ctx context.Context, inst *Instance, sink Sink) error
}

// BrowserRunner leaves execution to the editor shell, which loads the
// instance from its preview endpoint into an isolated frame and relays the
// frame's messages back.
type BrowserRunner struct{}

func (BrowserRunner) Run(context.Context, *Instance, Sink) error { return nil }

// ErrHostClosed is returned by Render after Close.
var ErrHostClosed = errors.New("sandbox host closed")

// Host keeps the single active instance.
type Host struct {
	bridge *telemetry.Bridge
	runner Runner
	logger *zap.Logger

	mu      sync.Mutex
	current *Instance
	closed  bool
	wg      sync.WaitGroup
}

// NewHost creates a host. A nil runner means BrowserRunner.
func NewHost(bridge *telemetry.Bridge, runner Runner, logger *zap.Logger) *Host {
	if runner == nil {
		runner = BrowserRunner{}
	}
	return &Host{
		bridge: bridge,
		runner: runner,
		logger: logging.OrNop(logger).Named("sandbox"),
	}
}

// Render discards the active instance and instantiates html in a fresh one.
// The Console Record is empty when Render returns.
func (h *Host) Render(ctx context.Context, html string) (*Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHostClosed
	}
	if h.current != nil {
		h.current.discard()
		h.logger.Debug("discarded sandbox", zap.Uint64("generation", h.current.generation))
	}

	inst := newInstance(h.bridge.Begin(), html)
	h.current = inst
	runCtx := inst.activate(context.WithoutCancel(ctx))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(inst.done)
		if err := h.runner.Run(runCtx, inst, h.bridge); err != nil {
			h.logger.Debug("sandbox run ended with error",
				zap.Uint64("generation", inst.generation), zap.Error(err))
		}
	}()

	h.logger.Debug("instantiated sandbox",
		zap.Uint64("generation", inst.generation), zap.Int("bytes", len(html)))
	return inst, nil
}

// Current returns the active instance, or nil before the first render.
func (h *Host) Current() *Instance {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Lookup returns the instance for generation if it is still the active one.
func (h *Host) Lookup(generation uint64) (*Instance, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil || h.current.generation != generation || h.current.State() != Active {
		return nil, false
	}
	return h.current, true
}

// Close discards the active instance and waits for its runner to return.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	if h.current != nil {
		h.current.discard()
	}
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}
