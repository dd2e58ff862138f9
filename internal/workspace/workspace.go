// Package workspace wires the preview pipeline for one editing session:
//
//	edit → coalescer → store commit → compose → sandbox render → console
//
// The workspace keeps a working copy of the documents that reflects every
// edit immediately, while the store only sees the debounced commits. The
// preview is recomposed only when a commit changes the stored set.
package workspace

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
	"github.com/livetemplate/tinkerpen/internal/coalesce"
	"github.com/livetemplate/tinkerpen/internal/compose"
	"github.com/livetemplate/tinkerpen/internal/logging"
	"github.com/livetemplate/tinkerpen/internal/metrics"
	"github.com/livetemplate/tinkerpen/internal/sandbox"
	"github.com/livetemplate/tinkerpen/internal/store"
	"github.com/livetemplate/tinkerpen/internal/telemetry"
)

// ErrClosed is returned by operations on a closed workspace.
var ErrClosed = errors.New("workspace closed")

// OriginExternal marks changes that came from outside any editor shell.
const OriginExternal = "external"

// Options configures a Workspace.
type Options struct {
	Storage           store.Storage
	WriteTimeout      time.Duration
	Runner            sandbox.Runner // nil runs previews in the shell's browser
	QuietPeriod       time.Duration
	Clock             coalesce.Clock
	MaxConsoleRecords int
	Settings          tinkerpen.Settings
	Logger            *zap.Logger
}

// Workspace is safe for concurrent use.
type Workspace struct {
	logger    *zap.Logger
	store     *store.Store
	bridge    *telemetry.Bridge
	host      *sandbox.Host
	coalescer *coalesce.Coalescer
	headless  bool

	mu       sync.Mutex
	working  tinkerpen.Set
	based    uint64 // store version working was last rebuilt from
	activeID string
	settings tinkerpen.Settings
	started  bool
	closed   bool

	renderMu        sync.Mutex
	renderedVersion uint64

	lmu       sync.Mutex
	listeners map[int]func(Event)
	nextID    int

	unsubscribe []func()
	closeOnce   sync.Once
}

// New assembles a workspace. Call Start before use.
func New(opts Options) *Workspace {
	logger := logging.OrNop(opts.Logger).Named("workspace")
	storage := opts.Storage
	if storage == nil {
		storage = store.NewMemoryStorage(tinkerpen.DefaultNamespace)
	}
	clock := opts.Clock
	if clock == nil {
		clock = coalesce.RealClock{}
	}
	settings := opts.Settings
	if settings == nil {
		settings = tinkerpen.DefaultSettings()
	}

	w := &Workspace{
		logger:    logger,
		store:     store.New(storage, opts.Logger, store.WithWriteTimeout(opts.WriteTimeout)),
		bridge:    telemetry.New(opts.MaxConsoleRecords, opts.Logger),
		settings:  settings.Clone(),
		listeners: make(map[int]func(Event)),
	}
	_, w.headless = opts.Runner.(*sandbox.HeadlessRunner)
	w.host = sandbox.NewHost(w.bridge, opts.Runner, opts.Logger)
	w.coalescer = coalesce.New(opts.QuietPeriod, w.commit,
		coalesce.WithClock(clock), coalesce.WithLogger(opts.Logger))
	return w
}

// Start loads the stored documents and renders the first preview.
func (w *Workspace) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	docs := w.store.Load(ctx)

	w.mu.Lock()
	w.working = docs.Clone()
	if active, ok := tinkerpen.ResolveActive(docs, ""); ok {
		w.activeID = active.ID
	}
	w.mu.Unlock()

	w.unsubscribe = append(w.unsubscribe,
		w.store.Subscribe(w.onCommit),
		w.bridge.Subscribe(w.onConsole),
	)

	w.render(ctx, w.store.Snapshot())
	w.logger.Info("workspace started", zap.Int("documents", len(docs)), zap.Bool("headless", w.headless))
	return nil
}

// Edit applies content to the working copy at once and schedules the
// debounced commit.
func (w *Workspace) Edit(origin, id, content string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	working, err := w.working.WithContent(id, content)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.working = working
	doc, _ := working.Find(id)
	w.mu.Unlock()

	w.coalescer.OnEdit(id, content)
	w.emit(Event{Type: EventDocument, Origin: origin, Document: doc})
	return nil
}

// ExternalEdit commits content that changed outside the editor, replacing
// any edit still waiting for its quiet period.
func (w *Workspace) ExternalEdit(id, content string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	working, err := w.working.WithContent(id, content)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.working = working
	doc, _ := working.Find(id)
	w.mu.Unlock()

	w.coalescer.Cancel(id)
	w.emit(Event{Type: EventDocument, Origin: OriginExternal, Document: doc})
	w.commit(id, content)
	return nil
}

// Reset replaces every document with the default set.
func (w *Workspace) Reset() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()

	for _, d := range w.Documents() {
		w.coalescer.Cancel(d.ID)
	}
	w.store.Commit(tinkerpen.DefaultDocuments())

	w.mu.Lock()
	snap := w.store.Snapshot()
	if snap.Version >= w.based {
		w.working = snap.Documents
		w.based = snap.Version
	}
	active, _ := tinkerpen.ResolveActive(w.working, w.activeID)
	w.activeID = active.ID
	docs := w.working.Clone()
	w.mu.Unlock()

	w.emit(Event{Type: EventDocuments, Origin: OriginExternal, Documents: docs, ActiveID: active.ID})
	return nil
}

// Select makes id the active document. Unknown ids select the first one.
func (w *Workspace) Select(origin, id string) (tinkerpen.Document, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return tinkerpen.Document{}, ErrClosed
	}
	doc, ok := tinkerpen.ResolveActive(w.working, id)
	if !ok {
		w.mu.Unlock()
		return tinkerpen.Document{}, tinkerpen.ErrDocumentNotFound
	}
	w.activeID = doc.ID
	w.mu.Unlock()

	w.emit(Event{Type: EventActive, Origin: origin, ActiveID: doc.ID})
	return doc, nil
}

// Active returns the active document with its latest, possibly uncommitted,
// content.
func (w *Workspace) Active() (tinkerpen.Document, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return tinkerpen.ResolveActive(w.working, w.activeID)
}

// Documents returns the working copy.
func (w *Workspace) Documents() tinkerpen.Set {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.working.Clone()
}

// Committed returns the set as last committed to the store.
func (w *Workspace) Committed() store.Snapshot {
	return w.store.Snapshot()
}

// Preview returns the active sandbox instance, or nil before Start.
func (w *Workspace) Preview() *sandbox.Instance {
	return w.host.Current()
}

// Instance returns the sandbox instance for generation while it is active.
func (w *Workspace) Instance(generation uint64) (*sandbox.Instance, bool) {
	return w.host.Lookup(generation)
}

// Export composes the committed set as a standalone document.
func (w *Workspace) Export() string {
	return compose.Compose(w.store.Documents())
}

// Console returns the Console Record of the active preview.
func (w *Workspace) Console() []telemetry.Record {
	return w.bridge.Records()
}

// ClearConsole empties the Console Record. The running preview keeps
// appending to it.
func (w *Workspace) ClearConsole() {
	w.bridge.Clear()
}

// Relay delivers a message the shell received from the preview frame of
// the given generation. Headless workspaces record output server-side and
// ignore relays.
func (w *Workspace) Relay(generation uint64, data []byte) bool {
	if w.headless {
		return false
	}
	return w.bridge.DeliverRaw(generation, data)
}

// Settings returns the editor options.
func (w *Workspace) Settings() tinkerpen.Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings.Clone()
}

// ToggleSetting flips an editor option. The preview is unaffected.
func (w *Workspace) ToggleSetting(origin, name string) tinkerpen.Settings {
	w.mu.Lock()
	w.settings = w.settings.Toggle(name)
	settings := w.settings.Clone()
	w.mu.Unlock()

	w.emit(Event{Type: EventSettings, Origin: origin, Settings: settings})
	return settings
}

// Flush commits every pending edit and waits for it to be persisted.
func (w *Workspace) Flush() {
	w.coalescer.Flush()
	w.store.Flush()
}

// Close commits pending edits, persists them, then tears down the preview
// and the store.
func (w *Workspace) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.coalescer.Flush()
		w.coalescer.Stop()

		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		for _, fn := range w.unsubscribe {
			fn()
		}
		err = errors.Join(w.host.Close(), w.store.Close())
		w.logger.Info("workspace closed")
	})
	return err
}

func (w *Workspace) commit(id, content string) {
	if _, err := w.store.Update(id, content); err != nil {
		// The document vanished between the edit and its quiet period.
		w.logger.Warn("dropping edit for unknown document", zap.String("document", id), zap.Error(err))
	}
}

func (w *Workspace) onCommit(snap store.Snapshot) {
	w.mu.Lock()
	if snap.Version < w.based {
		// Listeners of concurrent commits can run out of order.
		w.mu.Unlock()
		w.render(context.Background(), snap)
		return
	}
	w.based = snap.Version
	working := snap.Documents.Clone()
	for i, d := range working {
		if pending, ok := w.coalescer.Pending(d.ID); ok {
			working[i].Content = pending
		}
	}
	w.working = working
	if active, ok := tinkerpen.ResolveActive(working, w.activeID); ok {
		w.activeID = active.ID
	}
	w.mu.Unlock()

	w.render(context.Background(), snap)
}

// render recomposes snap unless a newer version was already rendered.
func (w *Workspace) render(ctx context.Context, snap store.Snapshot) {
	w.renderMu.Lock()
	defer w.renderMu.Unlock()

	if snap.Version <= w.renderedVersion {
		return
	}
	w.renderedVersion = snap.Version

	html := compose.Compose(snap.Documents)
	metrics.Recompositions.Inc()

	inst, err := w.host.Render(ctx, html)
	if err != nil {
		w.logger.Debug("skipping preview", zap.Error(err))
		return
	}
	w.emit(Event{Type: EventPreview, Generation: inst.Generation()})
}

func (w *Workspace) onConsole(ev telemetry.Event) {
	switch ev.Type {
	case telemetry.EventReset:
		w.emit(Event{Type: EventConsoleReset, Generation: ev.Generation})
	case telemetry.EventAppend:
		w.emit(Event{Type: EventConsole, Generation: ev.Generation, Index: ev.Index, Record: ev.Record})
	}
}
