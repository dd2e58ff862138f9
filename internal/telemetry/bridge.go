// Package telemetry relays console activity from sandboxed previews to the
// host as an ordered Console Record.
//
// Every sandbox instantiation gets a generation number. The record belongs
// to the current generation only: Begin clears it synchronously before the
// next sandbox starts, and messages tagged with any other generation are
// dropped. Arrival order is kept, which matches emission order for a single
// sandbox instance.
package telemetry

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/compose"
	"github.com/livetemplate/tinkerpen/internal/logging"
	"github.com/livetemplate/tinkerpen/internal/metrics"
)

// KindConsoleOutput is the only message kind the bridge accepts.
const KindConsoleOutput = compose.KindConsoleOutput

// Message is an inbound structured message from a sandbox. Generation is
// attached by the endpoint the message arrived on, never by sandboxed code.
type Message struct {
	Kind       string `json:"kind"`
	Payload    string `json:"payload"`
	Generation uint64 `json:"-"`
}

// Record is one Console Record entry.
type Record struct {
	Text string `json:"text"`
}

// EventType distinguishes bridge notifications.
type EventType int

const (
	// EventReset means the record was cleared.
	EventReset EventType = iota
	// EventAppend means Record was appended at Index.
	EventAppend
)

// Event is delivered to subscribers in the order the bridge applied it.
type Event struct {
	Type       EventType
	Generation uint64
	Index      int
	Record     Record
}

// Bridge is the host side of the sandbox message channel.
type Bridge struct {
	logger     *zap.Logger
	maxRecords int

	mu         sync.Mutex
	generation uint64
	records    []Record
	dropped    int
	listeners  map[int]func(Event)
	nextID     int
}

// New creates a bridge. maxRecords caps the record per generation; 0 means
// unlimited.
func New(maxRecords int, logger *zap.Logger) *Bridge {
	if maxRecords < 0 {
		maxRecords = 0
	}
	return &Bridge{
		logger:     logging.OrNop(logger).Named("telemetry"),
		maxRecords: maxRecords,
		listeners:  make(map[int]func(Event)),
	}
}

// Begin starts a new generation, clearing the record, and returns it.
func (b *Bridge) Begin() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	b.records = nil
	b.dropped = 0
	b.notify(Event{Type: EventReset, Generation: b.generation})
	return b.generation
}

// Generation returns the current generation (0 before the first Begin).
func (b *Bridge) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Deliver appends msg if it has the expected kind and comes from the
// current generation. It reports whether the message was accepted.
func (b *Bridge) Deliver(msg Message) bool {
	if msg.Kind != KindConsoleOutput {
		metrics.IgnoredMessages.WithLabelValues("kind").Inc()
		b.logger.Debug("ignoring message", zap.String("kind", msg.Kind))
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Generation != b.generation || b.generation == 0 {
		metrics.IgnoredMessages.WithLabelValues("stale").Inc()
		b.logger.Debug("ignoring message from superseded sandbox",
			zap.Uint64("generation", msg.Generation), zap.Uint64("current", b.generation))
		return false
	}
	if b.maxRecords > 0 && len(b.records) >= b.maxRecords {
		if b.dropped == 0 {
			b.logger.Warn("console record full, dropping output", zap.Int("max", b.maxRecords))
		}
		b.dropped++
		metrics.IgnoredMessages.WithLabelValues("overflow").Inc()
		return false
	}

	rec := Record{Text: msg.Payload}
	b.records = append(b.records, rec)
	metrics.ConsoleRecords.Inc()
	b.notify(Event{Type: EventAppend, Generation: b.generation, Index: len(b.records) - 1, Record: rec})
	return true
}

// DeliverRaw decodes an untrusted message body and delivers it under the
// given generation. Bodies that are not a {kind, payload} object are ignored.
func (b *Bridge) DeliverRaw(generation uint64, data []byte) bool {
	var raw struct {
		Kind    *string          `json:"kind"`
		Payload *json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil || raw.Kind == nil || raw.Payload == nil {
		metrics.IgnoredMessages.WithLabelValues("shape").Inc()
		return false
	}
	var payload string
	if err := json.Unmarshal(*raw.Payload, &payload); err != nil {
		metrics.IgnoredMessages.WithLabelValues("shape").Inc()
		return false
	}
	return b.Deliver(Message{Kind: *raw.Kind, Payload: payload, Generation: generation})
}

// Records returns a copy of the current record.
func (b *Bridge) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.records...)
}

// Dropped returns how many messages the current generation lost to the cap.
func (b *Bridge) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Clear empties the record without starting a new generation, so the
// running sandbox keeps appending.
func (b *Bridge) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
	b.dropped = 0
	b.notify(Event{Type: EventReset, Generation: b.generation})
}

// Subscribe registers fn for every reset and append. fn runs with the bridge
// locked: it must not block or call back into the bridge.
func (b *Bridge) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *Bridge) notify(ev Event) {
	for _, fn := range b.listeners {
		fn(ev)
	}
}
