package tinkerpen

import (
	"fmt"
)

// Language tags a document with the role it plays in the preview.
type Language string

// Wire values match the editing widget's mode names.
const (
	Markup Language = "html"
	Style  Language = "css"
	Script Language = "javascript"
)

// Languages lists the supported languages in composition order.
var Languages = []Language{Markup, Style, Script}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	switch l {
	case Markup, Style, Script:
		return true
	}
	return false
}

// Document is a single editable source file.
type Document struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Language Language `json:"language"`
	Content  string   `json:"content"`
}

// Set is the ordered collection of documents in the playground.
// Sets are treated as values: mutating helpers return copies.
type Set []Document

// Clone returns a copy of the set that shares no backing array with s.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	return out
}

// Find returns the document with the given id.
func (s Set) Find(id string) (Document, bool) {
	for _, d := range s {
		if d.ID == id {
			return d, true
		}
	}
	return Document{}, false
}

// Primary returns the first document with the given language.
//
// Only one document per language feeds the preview; when several share a
// language the earliest one in the set wins.
func (s Set) Primary(lang Language) (Document, bool) {
	for _, d := range s {
		if d.Language == lang {
			return d, true
		}
	}
	return Document{}, false
}

// PrimaryContent returns the primary document's content for lang, or "".
func (s Set) PrimaryContent(lang Language) string {
	d, _ := s.Primary(lang)
	return d.Content
}

// WithContent returns a copy of s with the content of document id replaced.
func (s Set) WithContent(id, content string) (Set, error) {
	out := s.Clone()
	for i := range out {
		if out[i].ID == id {
			out[i].Content = content
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDocumentNotFound, id)
}

// Equal reports whether both sets hold the same documents in the same order.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Validate checks the structural invariants of a set loaded from storage.
func (s Set) Validate() error {
	if len(s) == 0 {
		return &ValidationError{Reason: "document set is empty"}
	}
	seen := make(map[string]bool, len(s))
	for i, d := range s {
		if d.ID == "" {
			return &ValidationError{Index: i, Reason: "missing id"}
		}
		if seen[d.ID] {
			return &ValidationError{Index: i, ID: d.ID, Reason: "duplicate id"}
		}
		seen[d.ID] = true
		if !d.Language.Valid() {
			return &ValidationError{Index: i, ID: d.ID, Reason: fmt.Sprintf("unknown language %q", d.Language)}
		}
	}
	return nil
}

// ResolveActive returns the document referenced by id, falling back to the
// first document when id no longer resolves. ok is false only for an empty set.
func ResolveActive(s Set, id string) (doc Document, ok bool) {
	if d, found := s.Find(id); found {
		return d, true
	}
	if len(s) == 0 {
		return Document{}, false
	}
	return s[0], true
}

// DefaultDocuments returns the starter set used when nothing is persisted.
func DefaultDocuments() Set {
	return Set{
		{
			ID:       "1",
			Name:     "index.html",
			Language: Markup,
			Content:  "<!DOCTYPE html>\n<html>\n  <head>\n    <title>Code Editor</title>\n  </head>\n  <body>\n    <h1>Hello World!</h1>\n  </body>\n</html>",
		},
		{
			ID:       "2",
			Name:     "styles.css",
			Language: Style,
			Content:  "body {\n  margin: 0;\n  padding: 20px;\n  font-family: Arial, sans-serif;\n}",
		},
		{
			ID:       "3",
			Name:     "script.js",
			Language: Script,
			Content:  "console.log(\"Hello from JavaScript!\");",
		},
	}
}
