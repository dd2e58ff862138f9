// Package tinkerpen provides the core types for a local, multi-file code
// playground: the HTML/CSS/JavaScript documents a user edits and the editor
// settings forwarded to the editing widget.
//
// The live preview pipeline (coalescing, composition, sandboxing and console
// telemetry) lives in the internal packages and is driven by
// internal/workspace.
package tinkerpen

// Version is the tinkerpen release reported by the CLI and the shell.
const Version = "0.1.0-dev"

// DefaultNamespace is the storage key the document set is persisted under.
const DefaultNamespace = "editorFiles"
