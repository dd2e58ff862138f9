package tinkerpen

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDocumentNotFound is returned when an id does not resolve to a document.
var ErrDocumentNotFound = errors.New("document not found")

// ValidationError describes why a document set failed Validate.
type ValidationError struct {
	Index  int    // Position in the set (0 when the set itself is invalid)
	ID     string // Offending document id, if known
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid document set")
	if e.ID != "" {
		fmt.Fprintf(&b, ": document %q (index %d)", e.ID, e.Index)
	} else if e.Reason != "document set is empty" {
		fmt.Fprintf(&b, ": index %d", e.Index)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}
