package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Source yields the raw bytes of one tabular input.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
}

// FileSource reads a file from disk.
type FileSource string

func (f FileSource) Name() string { return string(f) }

func (f FileSource) Read(_ context.Context) ([]byte, error) {
	fh, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", string(f), err)
	}
	defer fh.Close()

	data, err := io.ReadAll(fh)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", string(f), err)
	}
	return data, nil
}

// BytesSource wraps an in-memory upload.
type BytesSource struct {
	Filename string
	Data     []byte
}

func (b BytesSource) Name() string { return b.Filename }

func (b BytesSource) Read(_ context.Context) ([]byte, error) { return b.Data, nil }

// ModuleSource returns the resampled CSV for an equipment module.
func ModuleSource(dataDir string, module int) FileSource {
	return FileSource(filepath.Join(dataDir, fmt.Sprintf("resampled_module%d.csv", module)))
}

// URLSource downloads a table over HTTP(S). Google Drive share links are
// rewritten to their direct-download form.
type URLSource struct {
	URL      string
	Client   *http.Client
	MaxBytes int64
}

func (u URLSource) Name() string {
	parsed, err := url.Parse(u.URL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return u.URL
	}
	return path.Base(parsed.Path)
}

func (u URLSource) Read(ctx context.Context) ([]byte, error) {
	target, err := ResolveDriveURL(u.URL)
	if err != nil {
		return nil, err
	}
	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if u.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, u.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if u.MaxBytes > 0 && int64(len(data)) > u.MaxBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", target, u.MaxBytes)
	}
	return data, nil
}

const driveDownloadURL = "https://drive.google.com/uc?export=download&id="

// ResolveDriveURL rewrites Google Drive share links to a direct download URL.
// Other http(s) URLs are returned unchanged.
func ResolveDriveURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if !strings.Contains(parsed.Host, "drive.google.com") {
		return raw, nil
	}

	if idx := strings.Index(parsed.Path, "/file/d/"); idx >= 0 {
		id := parsed.Path[idx+len("/file/d/"):]
		if slash := strings.Index(id, "/"); slash >= 0 {
			id = id[:slash]
		}
		if id != "" {
			return driveDownloadURL + id, nil
		}
	}
	if id := parsed.Query().Get("id"); id != "" {
		return driveDownloadURL + id, nil
	}
	return "", fmt.Errorf("%w: no file id in drive link %q", ErrInvalidURL, raw)
}

var moduleFilePattern = regexp.MustCompile(`^module \((\d+)\)\.csv$`)

// ParseModuleFileName extracts N from a batch file named "module (N).csv".
func ParseModuleFileName(name string, allowed func(int) bool) (int, bool) {
	m := moduleFilePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if allowed != nil && !allowed(n) {
		return 0, false
	}
	return n, true
}
