// Package coalesce debounces rapid edits into store commits.
//
// Each document has at most one pending commit. A newer edit to the same
// document cancels the pending one and restarts the quiet period, so only the
// last content seen within a quiet period is ever committed.
package coalesce

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/logging"
	"github.com/livetemplate/tinkerpen/internal/metrics"
)

// DefaultQuietPeriod is the debounce interval after the last edit.
const DefaultQuietPeriod = 300 * time.Millisecond

// CommitFunc receives the final content of a document once it is quiet.
type CommitFunc func(documentID, content string)

// Coalescer owns one cancellable deferred commit per document.
type Coalescer struct {
	quiet  time.Duration
	clock  Clock
	commit CommitFunc
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingEdit
	seq     uint64
	stopped bool
}

type pendingEdit struct {
	content string
	seq     uint64
	timer   Timer
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithClock replaces the real clock, for tests.
func WithClock(c Clock) Option {
	return func(co *Coalescer) { co.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(co *Coalescer) { co.logger = logging.OrNop(l).Named("coalesce") }
}

// New creates a coalescer. A non-positive quiet period uses the default.
func New(quiet time.Duration, commit CommitFunc, opts ...Option) *Coalescer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	c := &Coalescer{
		quiet:   quiet,
		clock:   RealClock{},
		commit:  commit,
		logger:  zap.NewNop(),
		pending: make(map[string]*pendingEdit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QuietPeriod returns the debounce interval.
func (c *Coalescer) QuietPeriod() time.Duration { return c.quiet }

// OnEdit records content for documentID and (re)starts its quiet period.
func (c *Coalescer) OnEdit(documentID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	if p, ok := c.pending[documentID]; ok {
		p.timer.Stop()
		metrics.CoalescedEdits.Inc()
	}

	c.seq++
	seq := c.seq
	p := &pendingEdit{content: content, seq: seq}
	p.timer = c.clock.AfterFunc(c.quiet, func() { c.fire(documentID, seq) })
	c.pending[documentID] = p
}

// fire commits the pending edit if it is still the latest for the document.
// A timer that fired while a newer edit was replacing it is discarded here.
func (c *Coalescer) fire(documentID string, seq uint64) {
	c.mu.Lock()
	p, ok := c.pending[documentID]
	if !ok || p.seq != seq || c.stopped {
		c.mu.Unlock()
		return
	}
	delete(c.pending, documentID)
	c.mu.Unlock()

	c.logger.Debug("quiet period elapsed, committing", zap.String("document", documentID))
	c.commit(documentID, p.content)
}

// Pending returns the uncommitted content for documentID, if any.
func (c *Coalescer) Pending(documentID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[documentID]
	if !ok {
		return "", false
	}
	return p.content, true
}

// PendingCount returns how many documents have an uncommitted edit.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush commits every pending edit immediately.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	edits := make(map[string]string, len(c.pending))
	for id, p := range c.pending {
		p.timer.Stop()
		edits[id] = p.content
	}
	c.pending = make(map[string]*pendingEdit)
	c.mu.Unlock()

	for id, content := range edits {
		c.commit(id, content)
	}
}

// Cancel drops the pending edit for documentID without committing it.
func (c *Coalescer) Cancel(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[documentID]; ok {
		p.timer.Stop()
		delete(c.pending, documentID)
	}
}

// Stop cancels all pending edits and ignores further ones.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
	c.stopped = true
}
