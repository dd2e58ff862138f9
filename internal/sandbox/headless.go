package sandbox

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/logging"
	"github.com/livetemplate/tinkerpen/internal/metrics"
)

var (
	// ErrTimeout is returned when a document exceeds its execution budget.
	ErrTimeout = errors.New("sandbox execution timeout exceeded")
	// ErrDiscarded is returned when the instance was replaced mid-run.
	ErrDiscarded = errors.New("sandbox instance discarded")
)

// ScriptError is an uncaught exception thrown by one of the document's
// scripts. Later scripts still run.
type ScriptError struct {
	Index int
	Err   error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %d: %v", e.Index, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// HeadlessConfig bounds a headless run.
type HeadlessConfig struct {
	Timeout   time.Duration // wall clock budget for the whole document
	MaxTimers int           // timer callbacks fired per run
}

// DefaultHeadlessConfig returns the limits used when none are configured.
func DefaultHeadlessConfig() HeadlessConfig {
	return HeadlessConfig{
		Timeout:   5 * time.Second,
		MaxTimers: 1000,
	}
}

// HeadlessRunner executes a composed document's inline scripts in a goja VM
// without a browser. The VM exposes window, window.parent.postMessage,
// console, JSON and virtual-time setTimeout/clearTimeout; there is no DOM.
type HeadlessRunner struct {
	config HeadlessConfig
	logger *zap.Logger
}

// NewHeadlessRunner creates a runner. Zero config fields take defaults.
func NewHeadlessRunner(config HeadlessConfig, logger *zap.Logger) *HeadlessRunner {
	def := DefaultHeadlessConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxTimers <= 0 {
		config.MaxTimers = def.MaxTimers
	}
	return &HeadlessRunner{
		config: config,
		logger: logging.OrNop(logger).Named("headless"),
	}
}

// Scripts returns the bodies of the document's inline scripts in document
// order. External and non-JavaScript scripts are skipped.
func Scripts(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse composed document: %w", err)
	}

	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("src"); ok {
			return
		}
		switch strings.ToLower(strings.TrimSpace(s.AttrOr("type", ""))) {
		case "", "text/javascript", "application/javascript", "module":
			scripts = append(scripts, s.Text())
		}
	})
	return scripts, nil
}

// Run executes inst and returns the first uncaught exception, if any.
// Timeouts and cancellation stop the run and are returned as errors too.
func (r *HeadlessRunner) Run(ctx context.Context, inst *Instance, sink Sink) error {
	scripts, err := Scripts(inst.HTML())
	if err != nil {
		return err
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(1024)
	timers := &timerQueue{}
	r.installGlobals(vm, inst.Generation(), sink, timers)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		deadline := time.NewTimer(r.config.Timeout)
		defer deadline.Stop()
		select {
		case <-deadline.C:
			vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			vm.Interrupt(ErrDiscarded)
		case <-done:
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	var first error
	for i, src := range scripts {
		_, err := vm.RunScript(fmt.Sprintf("script-%d.js", i), src)
		if err == nil {
			continue
		}
		if stop := r.interrupted(err, inst); stop != nil {
			return stop
		}
		r.exception(inst, err)
		if first == nil {
			first = &ScriptError{Index: i, Err: err}
		}
	}

	for fired := 0; timers.Len() > 0; fired++ {
		if fired >= r.config.MaxTimers {
			r.logger.Debug("timer budget exhausted",
				zap.Uint64("generation", inst.Generation()), zap.Int("pending", timers.Len()))
			break
		}
		t := heap.Pop(timers).(*timer)
		timers.now = t.at
		_, err := t.fn(goja.Undefined(), t.args...)
		if err == nil {
			continue
		}
		if stop := r.interrupted(err, inst); stop != nil {
			return stop
		}
		r.exception(inst, err)
		if first == nil {
			first = err
		}
	}
	return first
}

func (r *HeadlessRunner) interrupted(err error, inst *Instance) error {
	var ie *goja.InterruptedError
	if !errors.As(err, &ie) {
		return nil
	}
	cause, _ := ie.Value().(error)
	if cause == nil {
		cause = ErrDiscarded
	}
	if errors.Is(cause, ErrTimeout) {
		metrics.SandboxErrors.WithLabelValues("timeout").Inc()
		r.logger.Info("sandbox timed out",
			zap.Uint64("generation", inst.Generation()), zap.Duration("timeout", r.config.Timeout))
	}
	return cause
}

func (r *HeadlessRunner) exception(inst *Instance, err error) {
	metrics.SandboxErrors.WithLabelValues("exception").Inc()
	r.logger.Info("uncaught exception in preview",
		zap.Uint64("generation", inst.Generation()), zap.Error(err))
}

func (r *HeadlessRunner) installGlobals(vm *goja.Runtime, generation uint64, sink Sink, timers *timerQueue) {
	for _, name := range []string{"require", "process", "module", "exports"} {
		_ = vm.Set(name, goja.Undefined())
	}

	window := vm.GlobalObject()
	_ = window.Set("window", window)
	_ = window.Set("self", window)

	parent := vm.NewObject()
	_ = parent.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		data, err := json.Marshal(call.Argument(0).Export())
		if err != nil {
			return goja.Undefined()
		}
		sink.DeliverRaw(generation, data)
		return goja.Undefined()
	})
	_ = window.Set("parent", parent)
	_ = window.Set("top", parent)

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, r.consoleFunc(generation, level))
	}
	_ = vm.Set("console", console)

	_ = vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return vm.ToValue(0)
		}
		delay := call.Argument(1).ToInteger()
		if delay < 0 {
			delay = 0
		}
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}
		return vm.ToValue(timers.add(fn, time.Duration(delay)*time.Millisecond, args))
	})
	_ = vm.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		timers.cancel(call.Argument(0).ToInteger())
		return goja.Undefined()
	})
	// Repeating timers would never drain under virtual time.
	_ = vm.Set("setInterval", func(goja.FunctionCall) goja.Value { return vm.ToValue(0) })
	_ = vm.Set("clearInterval", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
}

func (r *HeadlessRunner) consoleFunc(generation uint64, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.logger.Debug("console."+level,
			zap.Uint64("generation", generation), zap.String("message", strings.Join(parts, " ")))
		return goja.Undefined()
	}
}

type timer struct {
	id    int64
	at    time.Duration
	seq   int64
	fn    goja.Callable
	args  []goja.Value
	index int
}

// timerQueue orders pending callbacks by virtual due time, then by creation.
type timerQueue struct {
	items  []*timer
	now    time.Duration
	nextID int64
}

func (q *timerQueue) add(fn goja.Callable, delay time.Duration, args []goja.Value) int64 {
	q.nextID++
	heap.Push(q, &timer{id: q.nextID, at: q.now + delay, seq: q.nextID, fn: fn, args: args})
	return q.nextID
}

func (q *timerQueue) cancel(id int64) {
	for _, t := range q.items {
		if t.id == id {
			heap.Remove(q, t.index)
			return
		}
	}
}

func (q *timerQueue) Len() int { return len(q.items) }

func (q *timerQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.at != b.at {
		return a.at < b.at
	}
	return a.seq < b.seq
}

func (q *timerQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*timer)
	t.index = len(q.items)
	q.items = append(q.items, t)
}

func (q *timerQueue) Pop() any {
	old := q.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return t
}
