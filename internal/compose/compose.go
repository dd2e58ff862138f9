// Package compose assembles the primary markup, style and script documents
// into one self-contained preview document.
package compose

import (
	_ "embed"
	"strings"

	"github.com/livetemplate/tinkerpen"
)

// shim replaces console.log inside the sandbox before any user script runs.
// It posts {kind: "console-output", payload} to the parent context and still
// forwards to the original console.
//
//go:embed shim.js
var shim string

// KindConsoleOutput is the message kind the shim posts.
const KindConsoleOutput = "console-output"

// Shim returns the constant instrumentation script.
func Shim() string { return shim }

// Segments are the three regions of a composed preview.
type Segments struct {
	Markup string
	Style  string
	Script string
}

// Select picks the primary document of each language. Missing languages
// yield empty segments.
func Select(docs tinkerpen.Set) Segments {
	return Segments{
		Markup: docs.PrimaryContent(tinkerpen.Markup),
		Style:  docs.PrimaryContent(tinkerpen.Style),
		Script: docs.PrimaryContent(tinkerpen.Script),
	}
}

// Compose builds the preview document: markup verbatim, then the style
// content in a <style> block, then a <script> block holding the shim followed
// by the user script. Styles and scripts are inlined so the result needs no
// external fetches. Content is not sanitized; the sandbox is the isolation
// boundary.
func Compose(docs tinkerpen.Set) string {
	return Select(docs).Compose()
}

// Compose renders the segments in fixed order.
func (s Segments) Compose() string {
	var b strings.Builder
	b.Grow(len(s.Markup) + len(s.Style) + len(shim) + len(s.Script) + 64)

	b.WriteString(s.Markup)
	b.WriteString("\n<style>\n")
	b.WriteString(s.Style)
	b.WriteString("\n</style>\n<script>\n")
	b.WriteString(shim)
	b.WriteString(s.Script)
	b.WriteString("\n</script>\n")
	return b.String()
}
