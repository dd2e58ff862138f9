package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
	"github.com/livetemplate/tinkerpen/internal/logging"
	"github.com/livetemplate/tinkerpen/internal/metrics"
)

// Snapshot is a committed document set and its version.
type Snapshot struct {
	Version   uint64
	Documents tinkerpen.Set
}

// Store holds the authoritative document set for the session. The set is
// only ever replaced whole; readers receive copies.
type Store struct {
	storage      Storage
	logger       *zap.Logger
	writeTimeout time.Duration

	mu        sync.RWMutex
	docs      tinkerpen.Set
	version   uint64
	listeners map[int]func(Snapshot)
	nextID    int

	// persistence state, guarded by pmu
	pmu        sync.Mutex
	pcond      *sync.Cond
	pending    tinkerpen.Set
	hasPending bool
	writing    bool

	wake      chan struct{}
	closed    chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithWriteTimeout bounds each persistence write (default 5s).
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// New creates a store backed by storage and starts its persister.
func New(storage Storage, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		storage:      storage,
		logger:       logging.OrNop(logger).Named("store"),
		writeTimeout: 5 * time.Second,
		listeners:    make(map[int]func(Snapshot)),
		wake:         make(chan struct{}, 1),
		closed:       make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	s.pcond = sync.NewCond(&s.pmu)
	for _, opt := range opts {
		opt(s)
	}
	go s.persistLoop()
	return s
}

// Load reads the persisted set, falling back to the default documents when
// nothing is stored or the stored data cannot be used. It never fails.
func (s *Store) Load(ctx context.Context) tinkerpen.Set {
	docs := s.read(ctx)

	s.mu.Lock()
	s.docs = docs
	s.version++
	s.mu.Unlock()

	return docs.Clone()
}

func (s *Store) read(ctx context.Context) tinkerpen.Set {
	data, found, err := s.storage.ReadAll(ctx)
	if err != nil {
		s.logger.Warn("failed to read documents, using defaults",
			zap.Error(&StorageError{Backend: s.storage.Name(), Op: "read", Err: err}))
		metrics.LoadFallbacks.Inc()
		return tinkerpen.DefaultDocuments()
	}
	if !found {
		s.logger.Debug("no stored documents, using defaults")
		return tinkerpen.DefaultDocuments()
	}
	docs, err := Decode(data)
	if err != nil {
		s.logger.Warn("stored documents unusable, using defaults", zap.Error(err))
		metrics.LoadFallbacks.Inc()
		return tinkerpen.DefaultDocuments()
	}
	s.logger.Debug("loaded documents", zap.Int("count", len(docs)))
	return docs
}

// Documents returns a copy of the committed set.
func (s *Store) Documents() tinkerpen.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs.Clone()
}

// Snapshot returns the committed set with its version.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Version: s.version, Documents: s.docs.Clone()}
}

// Commit replaces the stored set. Subscribers are notified synchronously and
// persistence is scheduled in the background. A set identical to the
// committed one is ignored and Commit reports false.
func (s *Store) Commit(docs tinkerpen.Set) bool {
	changed, _ := s.Modify(func(tinkerpen.Set) (tinkerpen.Set, error) { return docs, nil })
	return changed
}

// Update commits the current set with one document's content replaced.
func (s *Store) Update(id, content string) (bool, error) {
	return s.Modify(func(current tinkerpen.Set) (tinkerpen.Set, error) {
		return current.WithContent(id, content)
	})
}

// Modify derives the next set from the committed one and commits it. fn runs
// under the store lock so concurrent modifications never overwrite each
// other; it must not call back into the store.
func (s *Store) Modify(fn func(current tinkerpen.Set) (tinkerpen.Set, error)) (bool, error) {
	s.mu.Lock()
	docs, err := fn(s.docs.Clone())
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if s.docs.Equal(docs) {
		s.mu.Unlock()
		return false, nil
	}
	s.docs = docs.Clone()
	s.version++
	snap := Snapshot{Version: s.version, Documents: s.docs.Clone()}
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	// Scheduling under mu keeps persistence order equal to commit order.
	s.schedule(snap.Documents)
	s.mu.Unlock()

	metrics.Commits.Inc()
	s.logger.Debug("committed documents", zap.Uint64("version", snap.Version))

	for _, l := range listeners {
		l(snap)
	}
	return true, nil
}

// Subscribe registers fn for every successful commit and returns a function
// that removes it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) schedule(docs tinkerpen.Set) {
	select {
	case <-s.closed:
		s.logger.Warn("store closed, commit will not be persisted")
		return
	default:
	}

	s.pmu.Lock()
	s.pending = docs
	s.hasPending = true
	s.pmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) persistLoop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.closed:
			s.drain()
			return
		}
	}
}

// drain writes the latest pending snapshot until none is left. Intermediate
// snapshots superseded while a write is in flight are skipped.
func (s *Store) drain() {
	for {
		s.pmu.Lock()
		if !s.hasPending {
			s.writing = false
			s.pcond.Broadcast()
			s.pmu.Unlock()
			return
		}
		docs := s.pending
		s.pending = nil
		s.hasPending = false
		s.writing = true
		s.pmu.Unlock()

		s.write(docs)
	}
}

func (s *Store) write(docs tinkerpen.Set) {
	data, err := Encode(docs)
	if err != nil {
		s.logger.Warn("failed to encode documents", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.storage.WriteAll(ctx, data); err != nil {
		metrics.PersistFailures.WithLabelValues(s.storage.Name()).Inc()
		s.logger.Warn("failed to persist documents, keeping in-memory state",
			zap.Error(&StorageError{Backend: s.storage.Name(), Op: "write", Err: err}))
		return
	}
	s.logger.Debug("persisted documents", zap.Int("bytes", len(data)))
}

// Flush blocks until every scheduled write has been attempted.
func (s *Store) Flush() {
	s.pmu.Lock()
	for s.hasPending || s.writing {
		s.pcond.Wait()
	}
	s.pmu.Unlock()
}

// Close drains pending writes, stops the persister and closes the storage.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		<-s.loopDone
		err = s.storage.Close()
	})
	return err
}
