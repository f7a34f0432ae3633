package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/wattlens/wattlens/internal/cache"
	"github.com/wattlens/wattlens/internal/metrics"
	"github.com/wattlens/wattlens/internal/models"
	"github.com/wattlens/wattlens/internal/utils"
)

// Settings configures a Normalizer. Zero values fall back to the defaults used
// by the RTU exports.
type Settings struct {
	Encodings      []string
	TimeVocabulary []string
	Canonical      string
	Layouts        []string
	Location       *time.Location
	StagingDir     string
	CacheTTL       time.Duration
	HTTPClient     *http.Client
	MaxBytes       int64
}

// Options tune a single load.
type Options struct {
	// Required columns must all be present in the header.
	Required []string
	// Numeric columns are reported as numeric even if detection misses them.
	Numeric []string
	// ArchiveEntry selects one entry of a zip archive.
	ArchiveEntry  string
	ArchivePolicy ArchivePolicy
	// TimeColumn names the timestamp column explicitly, skipping detection.
	TimeColumn string
	// EpochMillis parses the time column as unix milliseconds.
	EpochMillis bool
	// Delimiter overrides the field separator.
	Delimiter rune
}

// Normalizer turns raw CSV, TSV or zipped inputs into a uniform table with a
// canonical timestamp column.
type Normalizer struct {
	encodings  []textEncoding
	vocabulary []string
	canonical  string
	layouts    []string
	loc        *time.Location
	stagingDir string
	ttl        time.Duration
	httpClient *http.Client
	maxBytes   int64

	cache  cache.Provider
	logger *slog.Logger
	now    func() time.Time
}

// NewNormalizer validates settings and returns a ready Normalizer. A nil cache
// disables memoization.
func NewNormalizer(settings Settings, provider cache.Provider, logger *slog.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}

	names := settings.Encodings
	if len(names) == 0 {
		names = []string{"utf-8", "utf-8-sig", "cp949", "euc-kr"}
	}
	encodings, err := lookupEncodings(names)
	if err != nil {
		return nil, utils.NewAppError("ingest.NewNormalizer", "unsupported encoding", err)
	}

	vocabulary := settings.TimeVocabulary
	if len(vocabulary) == 0 {
		vocabulary = []string{"time", "date"}
	}
	canonical := settings.Canonical
	if canonical == "" {
		canonical = "timestamp"
	}
	loc := settings.Location
	if loc == nil {
		loc = time.UTC
	}
	client := settings.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Normalizer{
		encodings:  encodings,
		vocabulary: vocabulary,
		canonical:  canonical,
		layouts:    settings.Layouts,
		loc:        loc,
		stagingDir: settings.StagingDir,
		ttl:        settings.CacheTTL,
		httpClient: client,
		maxBytes:   settings.MaxBytes,
		cache:      provider,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// URL builds a URLSource that fetches through the normalizer's HTTP client.
func (n *Normalizer) URL(raw string) URLSource {
	return URLSource{URL: raw, Client: n.httpClient, MaxBytes: n.maxBytes}
}

// Location returns the zone timestamps are interpreted in.
func (n *Normalizer) Location() *time.Location { return n.loc }

// LoadTable reads, decodes and normalizes one source.
func (n *Normalizer) LoadTable(ctx context.Context, src Source, opts Options) (*models.IngestResult, error) {
	if src == nil {
		return nil, fmt.Errorf("ingest: nil source")
	}
	data, err := src.Read(ctx)
	if err != nil {
		metrics.ObserveIngestion("", false, 0)
		return nil, err
	}

	key := n.cacheKey(src.Name(), data, opts)
	if cached, ok := n.lookup(ctx, key); ok {
		cached.Source = src.Name()
		metrics.ObserveIngestion(cached.Encoding, true, 0)
		return cached, nil
	}

	result, err := n.normalize(src.Name(), data, opts)
	if err != nil {
		metrics.ObserveIngestion("", false, 0)
		n.logger.Warn("table load failed", slog.String("source", src.Name()), slog.Any("error", err))
		return nil, err
	}
	metrics.ObserveIngestion(result.Encoding, false, result.DroppedRows)

	n.store(ctx, key, result)
	n.logger.Debug("table loaded",
		slog.String("source", result.Source),
		slog.String("encoding", result.Encoding),
		slog.Int("rows", result.Table.Len()),
		slog.Int("dropped", result.DroppedRows),
	)
	return result, nil
}

func (n *Normalizer) normalize(name string, data []byte, opts Options) (*models.IngestResult, error) {
	result := &models.IngestResult{Source: name, SizeBytes: len(data)}

	payload := data
	entryName := name
	if isArchive(name, data) {
		entry, body, err := unwrapArchive(data, opts.ArchiveEntry, opts.ArchivePolicy)
		if err != nil {
			return nil, err
		}
		result.ArchiveEntry = entry
		entryName = entry
		payload = body
	}

	comma := delimiterFor(entryName, opts.Delimiter)
	text, encoding, err := decodeFirst(name, payload, n.encodings, func(text string) error {
		return checkHeader(text, comma)
	})
	if err != nil {
		return nil, err
	}
	result.Encoding = encoding

	reader := newTableReader(text, comma)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		result.Table = &models.Table{}
		result.Warnings = append(result.Warnings, missingTimestampWarning())
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedTable, err)
	}
	header = cleanHeader(header)

	timeIdx, rename := n.timeColumn(header, opts.TimeColumn)
	if opts.TimeColumn != "" && timeIdx < 0 {
		return nil, &SchemaMismatchError{Missing: []string{opts.TimeColumn}, Available: header}
	}
	available := header
	if timeIdx >= 0 {
		available = append(append([]string(nil), header...), n.canonical)
	}
	if missing := missingColumns(available, opts.Required); len(missing) > 0 {
		return nil, &SchemaMismatchError{Missing: missing, Available: header}
	}

	header = append([]string(nil), header...)
	table := &models.Table{Columns: header}
	if timeIdx >= 0 {
		header[timeIdx] = n.canonical
		if w, ok := displaceCanonical(header, timeIdx, n.canonical); ok {
			result.Warnings = append(result.Warnings, w)
		}
		table.TimeColumn = n.canonical
		result.TimeColumn = n.canonical
		result.Rename = rename
	} else {
		result.Warnings = append(result.Warnings, missingTimestampWarning())
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.DroppedRows++
			continue
		}
		if isBlankRecord(record) {
			continue
		}
		row := fitRow(record, len(header))
		if timeIdx >= 0 {
			ts, err := n.parseTime(row[timeIdx], opts.EpochMillis)
			if err != nil {
				result.DroppedRows++
				continue
			}
			table.Times = append(table.Times, ts)
		}
		table.Cells = append(table.Cells, row)
	}

	result.Table = table
	result.NumericColumns = numericColumns(table, opts.Numeric)
	return result, nil
}

func (n *Normalizer) timeColumn(header []string, explicit string) (int, *models.RenameEvent) {
	if explicit == "" {
		return resolveTimeColumn(header, n.vocabulary, n.canonical)
	}
	for i, h := range header {
		if h != explicit {
			continue
		}
		if h == n.canonical {
			return i, nil
		}
		return i, &models.RenameEvent{From: h, To: n.canonical}
	}
	return -1, nil
}

func (n *Normalizer) parseTime(value string, epochMillis bool) (time.Time, error) {
	if epochMillis {
		return utils.ParseEpochMillis(value, n.loc)
	}
	return utils.ParseLocalTime(value, n.layouts, n.loc)
}

func (n *Normalizer) cacheKey(name string, data []byte, opts Options) string {
	h := sha256.New()
	h.Write(data)
	fmt.Fprintf(h, "|%s|%v|%v|%s|%d|%s|%t|%d|%s|%v|%s",
		strings.ToLower(path.Ext(name)),
		opts.Required, opts.Numeric, opts.ArchiveEntry, opts.ArchivePolicy,
		opts.TimeColumn, opts.EpochMillis, opts.Delimiter,
		n.canonical, n.vocabulary, n.loc,
	)
	return "ingest:" + hex.EncodeToString(h.Sum(nil))
}

func (n *Normalizer) lookup(ctx context.Context, key string) (*models.IngestResult, bool) {
	raw, err := n.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var result models.IngestResult
	if err := json.Unmarshal(raw, &result); err != nil {
		n.logger.Debug("discarding undecodable memo entry", slog.String("key", key), slog.Any("error", err))
		_ = n.cache.Del(ctx, key)
		return nil, false
	}
	if result.Table == nil {
		result.Table = &models.Table{}
	}
	return &result, true
}

func (n *Normalizer) store(ctx context.Context, key string, result *models.IngestResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		n.logger.Debug("skip memo store", slog.Any("error", err))
		return
	}
	if err := n.cache.Set(ctx, key, raw, n.ttl); err != nil {
		n.logger.Debug("memo store failed", slog.Any("error", err))
	}
}

func newTableReader(text string, comma rune) *csv.Reader {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.Comma = comma
	return reader
}

// checkHeader reports whether text starts with a usable header row: it parses
// as a delimited record, names at least one column and holds no control
// characters. An empty text is accepted.
func checkHeader(text string, comma rune) error {
	header, err := newTableReader(text, comma).Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	named := false
	for _, h := range header {
		for _, r := range h {
			if unicode.IsControl(r) && r != '\t' && r != '\r' {
				return fmt.Errorf("header %q holds control characters", h)
			}
		}
		if strings.TrimSpace(strings.TrimPrefix(h, byteOrderMark)) != "" {
			named = true
		}
	}
	if !named {
		return fmt.Errorf("header names no columns")
	}
	return nil
}

// displaceCanonical renames any column other than timeIdx that already
// carries the canonical name, so the header stays unique after the time
// column is renamed.
func displaceCanonical(header []string, timeIdx int, canonical string) (models.Warning, bool) {
	var moved []string
	for i, h := range header {
		if i == timeIdx || h != canonical {
			continue
		}
		header[i] = uniqueColumn(header, canonical+"_orig")
		moved = append(moved, header[i])
	}
	if len(moved) == 0 {
		return models.Warning{}, false
	}
	return models.Warning{
		Code:    models.WarnDisplacedColumn,
		Message: fmt.Sprintf("existing %q column renamed to %s", canonical, strings.Join(moved, ", ")),
	}, true
}

func uniqueColumn(header []string, base string) string {
	taken := make(map[string]struct{}, len(header))
	for _, h := range header {
		taken[h] = struct{}{}
	}
	name := base
	for i := 2; ; i++ {
		if _, ok := taken[name]; !ok {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

func missingTimestampWarning() models.Warning {
	return models.Warning{Code: models.WarnMissingTimestamp, Message: ErrMissingTimestampColumn.Error()}
}

func delimiterFor(name string, override rune) rune {
	if override != 0 {
		return override
	}
	if strings.EqualFold(path.Ext(name), ".tsv") {
		return '\t'
	}
	return ','
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func fitRow(record []string, width int) []string {
	row := make([]string, width)
	copy(row, record)
	return row
}
