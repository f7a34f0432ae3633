package models

// Warning codes attached to an IngestResult.
const (
	WarnMissingTimestamp = "missing_timestamp_column"
	WarnDisplacedColumn  = "displaced_column"
)

// RenameEvent records that a source column was renamed to the canonical time column.
type RenameEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Warning is a non-fatal condition raised while ingesting.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IngestResult is the normalized output of one load. It is built once per call
// and treated as read-only afterwards.
type IngestResult struct {
	Source         string       `json:"source"`
	Table          *Table       `json:"table"`
	TimeColumn     string       `json:"time_column,omitempty"`
	Rename         *RenameEvent `json:"rename,omitempty"`
	NumericColumns []string     `json:"numeric_columns"`
	DroppedRows    int          `json:"dropped_rows"`
	Encoding       string       `json:"encoding"`
	ArchiveEntry   string       `json:"archive_entry,omitempty"`
	SizeBytes      int          `json:"size_bytes"`
	Warnings       []Warning    `json:"warnings,omitempty"`
}

// HasWarning reports whether a warning with code was raised.
func (r *IngestResult) HasWarning(code string) bool {
	if r == nil {
		return false
	}
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
