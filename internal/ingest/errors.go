package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyArchive is returned when an archive holds no tabular entry.
var ErrEmptyArchive = errors.New("archive contains no csv/tsv/txt entry")

// ErrInvalidArchive is returned when a zip upload cannot be opened or read.
var ErrInvalidArchive = errors.New("invalid zip archive")

// ErrMalformedTable is returned when decoded text is not a readable delimited table.
var ErrMalformedTable = errors.New("malformed table")

// ErrInvalidURL is returned for links that are not http(s) or lack a Drive file id.
var ErrInvalidURL = errors.New("invalid source url")

// ErrMissingTimestampColumn marks a header with no time-like column. It is
// surfaced as a warning on the result, never as a returned error.
var ErrMissingTimestampColumn = errors.New("no timestamp-like column found")

// EncodingError reports that no candidate text encoding could decode a source.
type EncodingError struct {
	Source string
	Tried  []string
	Last   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot decode %s with any of [%s]: %v", e.Source, strings.Join(e.Tried, ", "), e.Last)
}

func (e *EncodingError) Unwrap() error { return e.Last }

// ArchiveChoiceError asks the caller to pick one of several archive entries,
// or reports that the requested entry does not exist.
type ArchiveChoiceError struct {
	Requested  string
	Candidates []string
}

func (e *ArchiveChoiceError) Error() string {
	if e.Requested != "" {
		return fmt.Sprintf("archive entry %q not found; candidates: %s", e.Requested, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("archive holds %d tabular entries, choose one of: %s", len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// SchemaMismatchError reports required columns absent from the header.
type SchemaMismatchError struct {
	Missing   []string
	Available []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("missing required columns [%s]; available: [%s]", strings.Join(e.Missing, ", "), strings.Join(e.Available, ", "))
}
