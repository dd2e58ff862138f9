package workspace

import (
	"github.com/livetemplate/tinkerpen"
	"github.com/livetemplate/tinkerpen/internal/telemetry"
)

// EventType names a workspace change.
type EventType string

const (
	EventDocument     EventType = "document"      // one document's working content changed
	EventDocuments    EventType = "documents"     // the whole set was replaced
	EventActive       EventType = "active"        // the active selection moved
	EventSettings     EventType = "settings"      // an editor option changed
	EventPreview      EventType = "preview"       // a new sandbox instance is active
	EventConsoleReset EventType = "console-reset" // the Console Record was emptied
	EventConsole      EventType = "console"       // a record was appended
)

// Event describes one change. Only the fields relevant to Type are set.
// Origin identifies the shell that caused it so it can skip its own echo.
type Event struct {
	Type       EventType
	Origin     string
	Document   tinkerpen.Document
	Documents  tinkerpen.Set
	ActiveID   string
	Settings   tinkerpen.Settings
	Generation uint64
	Index      int
	Record     telemetry.Record
}

// Subscribe registers fn for every event and returns a function that removes
// it. fn may run on pipeline goroutines with internal locks held, so it must
// hand the event off without blocking and must not call back into the
// workspace.
func (w *Workspace) Subscribe(fn func(Event)) func() {
	w.lmu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.lmu.Unlock()

	return func() {
		w.lmu.Lock()
		delete(w.listeners, id)
		w.lmu.Unlock()
	}
}

func (w *Workspace) emit(ev Event) {
	w.lmu.Lock()
	defer w.lmu.Unlock()
	for _, fn := range w.listeners {
		fn(ev)
	}
}
