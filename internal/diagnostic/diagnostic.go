// Package diagnostic reports fatal and degraded-path conditions from the
// log0 pipeline to stderr in a consistent shape.
//
// A Diagnostic carries an internal/ferr.Category and a free-form
// message, and is printed immediately as each condition is observed.
// log0 diagnoses a running target, not source text, so there is no
// position to attach and nothing to batch or sort.
package diagnostic

import (
	"fmt"
	"io"
	"os"

	"github.com/fasthosting/log0/internal/ferr"
)

// Diagnostic is one reportable condition: a category (carrying whether
// it is fatal, per ferr.Category.IsFatal), a stable code, and a message.
type Diagnostic struct {
	Category ferr.Category
	Code     string
	Message  string
}

// FromError builds a Diagnostic from a *ferr.Error, falling back to a
// generic transport-category diagnostic for any other error type (e.g. an
// I/O error surfaced directly from a net.Conn).
func FromError(err error) Diagnostic {
	if fe, ok := err.(*ferr.Error); ok {
		return Diagnostic{Category: fe.Category, Code: fe.Code, Message: fe.Message}
	}

	return Diagnostic{Category: ferr.CategoryTransport, Code: "UNKNOWN", Message: err.Error()}
}

// Reporter writes diagnostics to a sink (os.Stderr in production,
// anything in tests) in a single-line format:
// "log0: [CATEGORY:CODE] message".
type Reporter struct {
	W io.Writer
}

// Stderr is the default Reporter used by cmd/log0.
var Stderr = &Reporter{W: os.Stderr}

// Report prints d and returns whether its category is fatal, so callers
// can decide whether to keep going (a degraded-path condition) or abort
// (a fatal one).
func (r *Reporter) Report(d Diagnostic) (fatal bool) {
	fmt.Fprintf(r.W, "log0: [%s:%s] %s\n", d.Category, d.Code, d.Message)

	return d.Category.IsFatal()
}

// ReportError is a convenience wrapper around FromError + Report.
func (r *Reporter) ReportError(err error) (fatal bool) {
	return r.Report(FromError(err))
}

// Placeholder is the diagnostic placeholder text rendered in place of a
// value whose type key has no matching catalogue entry, a degraded-path
// condition rather than an error return.
func Placeholder(typeKey uint32) string {
	return fmt.Sprintf("<unknown type for key 0x%x>", typeKey)
}
