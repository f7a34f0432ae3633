package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wattlens/wattlens/internal/models"
)

const stagingLayout = "20060102_150405"

var writeStaged = os.WriteFile

// StageUpload writes an upload under dir and returns its path together with a
// cleanup func. Cleanup never fails; removal errors are only logged.
func StageUpload(dir, name string, data []byte, now time.Time, logger *slog.Logger) (string, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create staging dir: %w", err)
	}

	staged := filepath.Join(dir, fmt.Sprintf("direct_upload_%s_%s", now.Format(stagingLayout), filepath.Base(name)))
	if err := writeStaged(staged, data, 0o600); err != nil {
		// A partial write may already have created the file.
		if rmErr := os.Remove(staged); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Debug("partial staged upload cleanup failed", slog.String("path", staged), slog.Any("error", rmErr))
		}
		return "", nil, fmt.Errorf("stage upload: %w", err)
	}

	cleanup := func() {
		if err := os.Remove(staged); err != nil {
			logger.Debug("staged upload cleanup failed", slog.String("path", staged), slog.Any("error", err))
		}
	}
	return staged, cleanup, nil
}

// LoadUpload stages an uploaded file, loads it and always removes the staged copy.
func (n *Normalizer) LoadUpload(ctx context.Context, name string, data []byte, opts Options) (*models.IngestResult, error) {
	if n.stagingDir == "" {
		return n.LoadTable(ctx, BytesSource{Filename: name, Data: data}, opts)
	}

	staged, cleanup, err := StageUpload(n.stagingDir, name, data, n.now(), n.logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	result, err := n.LoadTable(ctx, FileSource(staged), opts)
	if err != nil {
		return nil, err
	}
	result.Source = name
	return result, nil
}
