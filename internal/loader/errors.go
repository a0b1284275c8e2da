package loader

import (
	"fmt"

	"github.com/rewired-gh/survivorship/internal/models"
)

// SchemaError reports a source that lacks a required column or sheet.
// It aborts the whole load.
type SchemaError struct {
	Source string
	Sheet  string
	Field  Field
	Detail string
}

func (e *SchemaError) Error() string {
	where := e.Source
	if e.Sheet != "" {
		where = fmt.Sprintf("%s [%s]", e.Source, e.Sheet)
	}
	if e.Field != "" {
		return fmt.Sprintf("schema error in %s: missing required column %s", where, e.Field)
	}
	return fmt.Sprintf("schema error in %s: %s", where, e.Detail)
}

// DateParseError describes a row whose event date could not be derived.
// Rows failing this way are dropped and counted, never retried.
type DateParseError struct {
	Sheet  string
	Row    int
	Value  string
	Reason models.DropReason
}

func (e *DateParseError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("cannot derive event date from %q (%s)", e.Value, e.Reason)
	}
	where := fmt.Sprintf("row %d", e.Row)
	if e.Sheet != "" {
		where = fmt.Sprintf("%s row %d", e.Sheet, e.Row)
	}
	return fmt.Sprintf("%s: cannot derive event date from %q (%s)", where, e.Value, e.Reason)
}
