package server

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/livetemplate/tinkerpen"
	"github.com/livetemplate/tinkerpen/internal/telemetry"
	"github.com/livetemplate/tinkerpen/internal/view"
	"github.com/livetemplate/tinkerpen/internal/workspace"
)

// Client actions.
const (
	ActionEdit           = "edit"
	ActionSelect         = "select"
	ActionResize         = "resize"
	ActionTogglePreview  = "toggle-preview"
	ActionClosePreview   = "close-preview"
	ActionToggleConsole  = "toggle-console"
	ActionToggleSettings = "toggle-settings"
	ActionToggleSetting  = "toggle-setting"
	ActionClearConsole   = "clear-console"
	ActionConsole        = "console"
)

// Server actions.
const (
	ActionInit         = "init"
	ActionDocuments    = "documents"
	ActionDocument     = "document"
	ActionActive       = "active"
	ActionView         = "view"
	ActionSettings     = "settings"
	ActionPreview      = "preview"
	ActionConsoleReset = "console-reset"
	ActionError        = "error"
)

// MessageEnvelope is the single frame format in both directions.
type MessageEnvelope struct {
	Action     string          `json:"action"`
	DocumentID string          `json:"documentId,omitempty"`
	Generation uint64          `json:"generation,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// InitData is sent once per connection.
type InitData struct {
	ClientID   string             `json:"clientId"`
	Documents  tinkerpen.Set      `json:"documents"`
	ActiveID   string             `json:"activeId"`
	Settings   tinkerpen.Settings `json:"settings"`
	View       view.State         `json:"view"`
	Breakpoint int                `json:"breakpoint"`
	Preview    *PreviewData       `json:"preview,omitempty"`
	Console    []ConsoleData      `json:"console"`
	Headless   bool               `json:"headless"`
	Sandbox    string             `json:"sandbox"`
}

// PreviewData points the shell at a sandbox instance.
type PreviewData struct {
	Generation uint64 `json:"generation"`
	URL        string `json:"url"`
}

// ConsoleData is one Console Record entry.
type ConsoleData struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ResizeData carries the shell's viewport width.
type ResizeData struct {
	Width int `json:"width"`
}

func previewURL(generation uint64) string {
	return "/preview/" + strconv.FormatUint(generation, 10)
}

func consoleData(records []telemetry.Record) []ConsoleData {
	out := make([]ConsoleData, len(records))
	for i, r := range records {
		out[i] = ConsoleData{Index: i, Text: r.Text}
	}
	return out
}

func envelope(action string, data any) (MessageEnvelope, error) {
	env := MessageEnvelope{Action: action}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return env, fmt.Errorf("encode %s: %w", action, err)
	}
	env.Data = raw
	return env, nil
}

// eventEnvelope translates a workspace event into the frame sent to shells.
func eventEnvelope(ev workspace.Event) (MessageEnvelope, error) {
	switch ev.Type {
	case workspace.EventDocument:
		env, err := envelope(ActionDocument, ev.Document)
		env.DocumentID = ev.Document.ID
		return env, err
	case workspace.EventDocuments:
		env, err := envelope(ActionDocuments, ev.Documents)
		env.DocumentID = ev.ActiveID
		return env, err
	case workspace.EventActive:
		return MessageEnvelope{Action: ActionActive, DocumentID: ev.ActiveID}, nil
	case workspace.EventSettings:
		return envelope(ActionSettings, ev.Settings)
	case workspace.EventPreview:
		env, err := envelope(ActionPreview, PreviewData{Generation: ev.Generation, URL: previewURL(ev.Generation)})
		env.Generation = ev.Generation
		return env, err
	case workspace.EventConsoleReset:
		return MessageEnvelope{Action: ActionConsoleReset, Generation: ev.Generation}, nil
	case workspace.EventConsole:
		env, err := envelope(ActionConsole, ConsoleData{Index: ev.Index, Text: ev.Record.Text})
		env.Generation = ev.Generation
		return env, err
	default:
		return MessageEnvelope{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
}
