package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"golang.org/x/text/encoding/korean"

	"github.com/wattlens/wattlens/internal/cache"
	"github.com/wattlens/wattlens/internal/models"
)

func newTestNormalizer(t *testing.T, settings Settings, provider cache.Provider) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(settings, provider, nil)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	return n
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestLoadTableKeepsCanonicalTimestamp(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	src := BytesSource{Filename: "m1.csv", Data: []byte("timestamp,activePower,label\n2024-01-01 00:00:00,1.5,a\n2024-01-01 01:00:00,2.5,b\n")}

	result, err := n.LoadTable(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TimeColumn != "timestamp" || result.Rename != nil {
		t.Fatalf("expected canonical column without rename, got %q %+v", result.TimeColumn, result.Rename)
	}
	if result.Encoding != "utf-8" {
		t.Fatalf("expected utf-8, got %s", result.Encoding)
	}
	if result.Table.Len() != 2 || len(result.Table.Times) != 2 {
		t.Fatalf("expected 2 rows, got %d", result.Table.Len())
	}
	if len(result.NumericColumns) != 1 || result.NumericColumns[0] != "activePower" {
		t.Fatalf("unexpected numeric columns: %v", result.NumericColumns)
	}
	if !result.Table.Times[1].Equal(time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time: %v", result.Table.Times[1])
	}
}

func TestLoadTableRenamesTimeLikeColumn(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	src := BytesSource{Filename: "m1.csv", Data: []byte("localtime,activePower\n2024-01-01 00:00:00,1\n")}

	result, err := n.LoadTable(context.Background(), src, Options{Required: []string{"localtime", "timestamp"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rename == nil || result.Rename.From != "localtime" || result.Rename.To != "timestamp" {
		t.Fatalf("expected localtime -> timestamp rename, got %+v", result.Rename)
	}
	if result.Table.Columns[0] != "timestamp" || result.Table.TimeColumn != "timestamp" {
		t.Fatalf("expected renamed header, got %v", result.Table.Columns)
	}
}

func TestLoadTablePrefersExactCanonicalOverEarlierMatch(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	src := BytesSource{Filename: "m1.csv", Data: []byte("update_date,Timestamp,v\nx,2024-01-01 00:00:00,1\n")}

	result, err := n.LoadTable(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Table.Columns[1] != "timestamp" || result.Table.Columns[0] != "update_date" {
		t.Fatalf("unexpected columns: %v", result.Table.Columns)
	}
	if result.Table.Len() != 1 {
		t.Fatalf("expected row kept, got %d", result.Table.Len())
	}
}

func TestLoadTableExplicitEpochTimeColumn(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	src := BytesSource{Filename: "f.csv", Data: []byte("id,hourly_pow,update_time\n1746057600000,3.5,x\n")}

	result, err := n.LoadTable(context.Background(), src, Options{TimeColumn: "id", EpochMillis: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rename == nil || result.Rename.From != "id" || result.Table.Columns[2] != "update_time" {
		t.Fatalf("expected id renamed and update_time untouched, got %+v %v", result.Rename, result.Table.Columns)
	}
	if !result.Table.Times[0].Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected epoch time: %v", result.Table.Times[0])
	}

	_, err = n.LoadTable(context.Background(), src, Options{TimeColumn: "localtime"})
	var schemaErr *SchemaMismatchError
	if !errors.As(err, &schemaErr) || schemaErr.Missing[0] != "localtime" {
		t.Fatalf("expected SchemaMismatchError for absent time column, got %v", err)
	}
}

func TestLoadTableExplicitTimeColumnDisplacesCanonical(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	src := BytesSource{Filename: "f.csv", Data: []byte("timestamp,id,hourly_pow\nx,1746057600000,3.5\n")}

	result, err := n.LoadTable(context.Background(), src, Options{TimeColumn: "id", EpochMillis: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cols := result.Table.Columns
	if len(cols) != 3 || cols[0] != "timestamp_orig" || cols[1] != "timestamp" || cols[2] != "hourly_pow" {
		t.Fatalf("expected unique header with displaced column, got %v", cols)
	}
	if result.Table.TimeColumn != "timestamp" || result.Table.ColumnIndex("timestamp") != 1 {
		t.Fatalf("expected timestamp to resolve to the id column, got %q at %d", result.Table.TimeColumn, result.Table.ColumnIndex("timestamp"))
	}
	if !result.HasWarning(models.WarnDisplacedColumn) {
		t.Fatalf("expected displaced column warning, got %+v", result.Warnings)
	}
	if !result.Table.Times[0].Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected epoch time: %v", result.Table.Times[0])
	}

	src = BytesSource{Filename: "g.csv", Data: []byte("timestamp,timestamp_orig,id\nx,y,1746057600000\n")}
	result, err = n.LoadTable(context.Background(), src, Options{TimeColumn: "id", EpochMillis: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.Table.Columns; got[0] != "timestamp_orig_2" || got[1] != "timestamp_orig" || got[2] != "timestamp" {
		t.Fatalf("expected collision-free rename, got %v", got)
	}
}

func TestLoadTableFallsBackToEUCKR(t *testing.T) {
	encoded, err := korean.EUCKR.NewEncoder().String("time,전력\n2024-01-01 00:00:00,1.5\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	n := newTestNormalizer(t, Settings{}, nil)

	result, err := n.LoadTable(context.Background(), BytesSource{Filename: "kr.csv", Data: []byte(encoded)}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Encoding != "cp949" {
		t.Fatalf("expected cp949, got %s", result.Encoding)
	}
	if result.Table.Columns[1] != "전력" {
		t.Fatalf("unexpected header: %v", result.Table.Columns)
	}
	if result.Rename == nil || result.Rename.From != "time" {
		t.Fatalf("expected time rename, got %+v", result.Rename)
	}
}

func TestLoadTableReportsEncodingError(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	_, err := n.LoadTable(context.Background(), BytesSource{Filename: "bad.csv", Data: []byte("a,b\n\xff\xff,1\n")}, Options{})

	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if len(encErr.Tried) != 4 || encErr.Source != "bad.csv" {
		t.Fatalf("unexpected error detail: %+v", encErr)
	}
}

func TestLoadTableStripsBOMAndSpacesFromHeader(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	src := BytesSource{Filename: "bom.csv", Data: []byte("\ufefftimestamp , value \n2024-01-01,3\n")}

	result, err := n.LoadTable(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Table.Columns[0] != "timestamp" || result.Table.Columns[1] != "value" {
		t.Fatalf("unexpected header: %q", result.Table.Columns)
	}
	if result.Rename != nil {
		t.Fatalf("unexpected rename: %+v", result.Rename)
	}
}

func TestLoadTableCountsDroppedRows(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	src := BytesSource{Filename: "m.csv", Data: []byte("timestamp,v\n2024-01-01 00:00:00,1\nnot a time,2\n2024-01-01 02:00:00,3\n")}

	result, err := n.LoadTable(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DroppedRows != 1 || result.Table.Len() != 2 {
		t.Fatalf("expected 1 dropped and 2 kept, got %d and %d", result.DroppedRows, result.Table.Len())
	}
	values, _ := result.Table.Float("v")
	if values[0] != 1 || values[1] != 3 {
		t.Fatalf("expected file order preserved, got %v", values)
	}
}

func TestLoadTableWarnsWithoutTimestamp(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	result, err := n.LoadTable(context.Background(), BytesSource{Filename: "x.csv", Data: []byte("a,b\n1,2\n")}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.HasWarning(models.WarnMissingTimestamp) {
		t.Fatalf("expected missing timestamp warning, got %+v", result.Warnings)
	}
	if result.TimeColumn != "" || result.Table.Len() != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestLoadTableRequiredColumns(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	_, err := n.LoadTable(context.Background(), BytesSource{Filename: "x.csv", Data: []byte("timestamp,currentR\n2024-01-01,1\n")}, Options{Required: []string{"activePower", "currentR"}})

	var schemaErr *SchemaMismatchError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
	if len(schemaErr.Missing) != 1 || schemaErr.Missing[0] != "activePower" {
		t.Fatalf("unexpected missing: %v", schemaErr.Missing)
	}
}

func TestLoadTableRejectsMalformedTable(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	_, err := n.LoadTable(context.Background(), BytesSource{Filename: "nul.csv", Data: []byte("t\x00i\x00m\x00e\x00,v\n1,2\n")}, Options{})
	if !errors.Is(err, ErrMalformedTable) {
		t.Fatalf("expected ErrMalformedTable, got %v", err)
	}
	var encErr *EncodingError
	if errors.As(err, &encErr) {
		t.Fatalf("decodable text must not be reported as an encoding failure: %v", err)
	}

	_, err = n.LoadTable(context.Background(), BytesSource{Filename: "blank.csv", Data: []byte(" , \n1,2\n")}, Options{})
	if !errors.Is(err, ErrMalformedTable) {
		t.Fatalf("expected ErrMalformedTable for unnamed header, got %v", err)
	}
}

func TestLoadTableRejectsCorruptArchive(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	data := append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0x01}, 64)...)

	_, err := n.LoadTable(context.Background(), BytesSource{Filename: "upload.zip", Data: data}, Options{})
	if !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("expected ErrInvalidArchive, got %v", err)
	}
}

func TestLoadTableEmptyArchive(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	data := buildZip(t, map[string]string{"readme.md": "hello", "__MACOSX/._a.csv": "junk"})

	_, err := n.LoadTable(context.Background(), BytesSource{Filename: "upload.zip", Data: data}, Options{})
	if !errors.Is(err, ErrEmptyArchive) {
		t.Fatalf("expected ErrEmptyArchive, got %v", err)
	}
}

func TestLoadTableArchiveChoice(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	data := buildZip(t, map[string]string{
		"b.csv": "timestamp,v\n2024-01-01,2\n",
		"a.csv": "timestamp,v\n2024-01-01,1\n",
	})
	// detected by magic bytes, not by name
	src := BytesSource{Filename: "upload.bin", Data: data}

	_, err := n.LoadTable(context.Background(), src, Options{})
	var choiceErr *ArchiveChoiceError
	if !errors.As(err, &choiceErr) {
		t.Fatalf("expected ArchiveChoiceError, got %v", err)
	}
	if len(choiceErr.Candidates) != 2 || choiceErr.Candidates[0] != "a.csv" {
		t.Fatalf("unexpected candidates: %v", choiceErr.Candidates)
	}

	first, err := n.LoadTable(context.Background(), src, Options{ArchivePolicy: ArchiveFirstEntry})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ArchiveEntry != "a.csv" {
		t.Fatalf("expected a.csv, got %s", first.ArchiveEntry)
	}

	chosen, err := n.LoadTable(context.Background(), src, Options{ArchiveEntry: "b.csv"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	values, _ := chosen.Table.Float("v")
	if chosen.ArchiveEntry != "b.csv" || values[0] != 2 {
		t.Fatalf("expected b.csv contents, got %s %v", chosen.ArchiveEntry, values)
	}

	_, err = n.LoadTable(context.Background(), src, Options{ArchiveEntry: "c.csv"})
	if !errors.As(err, &choiceErr) || choiceErr.Requested != "c.csv" {
		t.Fatalf("expected unknown entry error, got %v", err)
	}
}

func TestLoadTableTSVEntry(t *testing.T) {
	n := newTestNormalizer(t, Settings{}, nil)
	data := buildZip(t, map[string]string{"data/readings.tsv": "date\tv\n2024-01-01\t5\n"})

	result, err := n.LoadTable(context.Background(), BytesSource{Filename: "r.zip", Data: data}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ArchiveEntry != "data/readings.tsv" || result.Table.Len() != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Table.Columns[1] != "v" {
		t.Fatalf("expected tab split header, got %v", result.Table.Columns)
	}
}

func TestLoadTableMemoizesIndependentCopies(t *testing.T) {
	provider := cache.NewMemoryProvider(4)
	n := newTestNormalizer(t, Settings{CacheTTL: time.Minute}, provider)
	src := BytesSource{Filename: "m.csv", Data: []byte("timestamp,v\n2024-01-01 00:00:00,1\n")}

	first, err := n.LoadTable(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first.Table.Cells[0][1] = "999"

	second, err := n.LoadTable(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Len() != 1 {
		t.Fatalf("expected one memo entry, got %d", provider.Len())
	}
	if second.Table.Cells[0][1] != "1" {
		t.Fatalf("memo returned shared data: %v", second.Table.Cells)
	}
	if !second.Table.Times[0].Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected memo time: %v", second.Table.Times[0])
	}

	if _, err := n.LoadTable(context.Background(), src, Options{Numeric: []string{"v"}, EpochMillis: false, Delimiter: ';'}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Len() != 2 {
		t.Fatalf("expected options to change the memo key, got %d entries", provider.Len())
	}
}

func TestLoadUploadRemovesStagedFile(t *testing.T) {
	dir := t.TempDir()
	n := newTestNormalizer(t, Settings{StagingDir: dir}, nil)

	result, err := n.LoadUpload(context.Background(), "clean.csv", []byte("timestamp,v\n2024-01-01,1\n"), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != "clean.csv" {
		t.Fatalf("expected upload name as source, got %s", result.Source)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected staging dir empty, found %d entries", len(entries))
	}

	if _, err := n.LoadUpload(context.Background(), "bad.csv", []byte("timestamp,v\n"), Options{Required: []string{"x"}}); err == nil {
		t.Fatalf("expected schema error")
	}
	entries, _ = os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("staged file left behind after failure")
	}
}

func TestStageUploadNaming(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 5, 1, 13, 4, 5, 0, time.UTC)

	staged, cleanup, err := StageUpload(dir, "readings.csv", []byte("x"), now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := dir + "/direct_upload_20250501_130405_readings.csv"; staged != want {
		t.Fatalf("expected %s, got %s", want, staged)
	}
	cleanup()
	cleanup()
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("expected staged file removed, stat err=%v", err)
	}
}

func TestStageUploadRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	orig := writeStaged
	t.Cleanup(func() { writeStaged = orig })
	writeStaged = func(name string, data []byte, perm os.FileMode) error {
		if err := os.WriteFile(name, data[:1], perm); err != nil {
			return err
		}
		return errors.New("disk full")
	}

	_, cleanup, err := StageUpload(dir, "readings.csv", []byte("xyz"), time.Now(), nil)
	if err == nil || cleanup != nil {
		t.Fatalf("expected staging failure, got cleanup=%v err=%v", cleanup != nil, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected partial file removed, found %d entries", len(entries))
	}
}

func TestLoadTableFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exports/m3.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("time,v\n2024-01-01 00:00:00,7\n"))
	}))
	defer server.Close()

	n := newTestNormalizer(t, Settings{HTTPClient: server.Client()}, nil)
	result, err := n.LoadTable(context.Background(), n.URL(server.URL+"/exports/m3.csv"), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != "m3.csv" || result.Table.Len() != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, err := n.LoadTable(context.Background(), n.URL(server.URL+"/missing.csv"), Options{}); err == nil {
		t.Fatalf("expected status error")
	}
}

func TestResolveDriveURL(t *testing.T) {
	got, err := ResolveDriveURL("https://drive.google.com/file/d/abc123/view?usp=sharing")
	if err != nil || got != "https://drive.google.com/uc?export=download&id=abc123" {
		t.Fatalf("unexpected file link rewrite: %s %v", got, err)
	}
	got, err = ResolveDriveURL("https://drive.google.com/open?id=xyz&authuser=0")
	if err != nil || got != "https://drive.google.com/uc?export=download&id=xyz" {
		t.Fatalf("unexpected id link rewrite: %s %v", got, err)
	}
	got, err = ResolveDriveURL("https://example.com/data.csv")
	if err != nil || got != "https://example.com/data.csv" {
		t.Fatalf("expected passthrough, got %s %v", got, err)
	}
	if _, err := ResolveDriveURL("https://drive.google.com/drive/folders"); err == nil {
		t.Fatalf("expected error for link without id")
	}
	if _, err := ResolveDriveURL("ftp://example.com/x.csv"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestParseModuleFileName(t *testing.T) {
	allowed := func(n int) bool { return n == 3 || n == 11 }

	if n, ok := ParseModuleFileName("module (11).csv", allowed); !ok || n != 11 {
		t.Fatalf("expected module 11, got %d %v", n, ok)
	}
	if _, ok := ParseModuleFileName("module (7).csv", allowed); ok {
		t.Fatalf("module 7 should be rejected")
	}
	if _, ok := ParseModuleFileName("module11.csv", nil); ok {
		t.Fatalf("unexpected match for malformed name")
	}
}

func TestNewNormalizerRejectsUnknownEncoding(t *testing.T) {
	if _, err := NewNormalizer(Settings{Encodings: []string{"utf-8", "klingon"}}, nil, nil); err == nil {
		t.Fatalf("expected unknown encoding error")
	}
}
