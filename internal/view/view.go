// Package view tracks which panes of the editor shell are visible.
//
// In a wide viewport the editor and the preview are shown side by side and
// the preview cannot be hidden. In a narrow viewport they share the screen
// and the user switches between them.
package view

import "sync"

// DefaultBreakpoint is the smallest width, in CSS pixels, treated as wide.
const DefaultBreakpoint = 768

// Viewport classifies the shell's width.
type Viewport string

const (
	Narrow Viewport = "narrow"
	Wide   Viewport = "wide"
)

// State is the visible-pane state sent to the shell.
type State struct {
	Viewport        Viewport `json:"viewport"`
	Width           int      `json:"width"`
	PreviewVisible  bool     `json:"previewVisible"`
	ConsoleVisible  bool     `json:"consoleVisible"`
	SettingsVisible bool     `json:"settingsVisible"`
}

// EditorVisible reports whether the code editor pane is shown.
func (s State) EditorVisible() bool {
	return s.Viewport == Wide || !s.PreviewVisible
}

// Machine applies viewport and user events to a State. Safe for concurrent
// use.
type Machine struct {
	breakpoint int

	mu    sync.Mutex
	state State
}

// New creates a machine that starts narrow with every optional pane hidden,
// until the first Resize. A breakpoint <= 0 selects DefaultBreakpoint.
func New(breakpoint int) *Machine {
	if breakpoint <= 0 {
		breakpoint = DefaultBreakpoint
	}
	return &Machine{
		breakpoint: breakpoint,
		state:      State{Viewport: Narrow},
	}
}

// Breakpoint returns the configured wide threshold.
func (m *Machine) Breakpoint() int { return m.breakpoint }

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Resize classifies width. Wide always shows the preview; narrow keeps
// whatever the preview visibility was.
func (m *Machine) Resize(width int) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Width = width
	if width >= m.breakpoint {
		m.state.Viewport = Wide
		m.state.PreviewVisible = true
	} else {
		m.state.Viewport = Narrow
	}
	return m.state
}

// TogglePreview flips preview visibility in a narrow viewport.
func (m *Machine) TogglePreview() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Viewport == Narrow {
		m.state.PreviewVisible = !m.state.PreviewVisible
	}
	return m.state
}

// SetPreviewVisible sets preview visibility in a narrow viewport.
func (m *Machine) SetPreviewVisible(visible bool) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Viewport == Narrow {
		m.state.PreviewVisible = visible
	}
	return m.state
}

// ToggleConsole flips the console pane.
func (m *Machine) ToggleConsole() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ConsoleVisible = !m.state.ConsoleVisible
	return m.state
}

// ToggleSettings flips the settings panel.
func (m *Machine) ToggleSettings() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.SettingsVisible = !m.state.SettingsVisible
	return m.state
}
