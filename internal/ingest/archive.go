package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// ArchivePolicy decides what happens when an archive holds several tables.
type ArchivePolicy int

const (
	// ArchiveRequireChoice returns an ArchiveChoiceError listing the candidates.
	ArchiveRequireChoice ArchivePolicy = iota
	// ArchiveFirstEntry picks the lexicographically first candidate.
	ArchiveFirstEntry
)

var zipMagic = []byte("PK\x03\x04")

var tabularExtensions = map[string]struct{}{
	".csv": {},
	".tsv": {},
	".txt": {},
}

func isArchive(name string, data []byte) bool {
	return strings.EqualFold(path.Ext(name), ".zip") || bytes.HasPrefix(data, zipMagic)
}

// tabularEntries lists eligible entry names in lexicographic order.
func tabularEntries(zr *zip.Reader) []string {
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		if _, ok := tabularExtensions[strings.ToLower(path.Ext(f.Name))]; !ok {
			continue
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// unwrapArchive returns the chosen entry name and its bytes.
func unwrapArchive(data []byte, requested string, policy ArchivePolicy) (string, []byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	candidates := tabularEntries(zr)
	if len(candidates) == 0 {
		return "", nil, ErrEmptyArchive
	}

	chosen, err := chooseEntry(candidates, requested, policy)
	if err != nil {
		return "", nil, err
	}

	for _, f := range zr.File {
		if f.Name != chosen {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", nil, fmt.Errorf("%w: open entry %s: %v", ErrInvalidArchive, chosen, err)
		}
		defer rc.Close()
		payload, err := io.ReadAll(rc)
		if err != nil {
			return "", nil, fmt.Errorf("%w: read entry %s: %v", ErrInvalidArchive, chosen, err)
		}
		return chosen, payload, nil
	}
	return "", nil, &ArchiveChoiceError{Requested: chosen, Candidates: candidates}
}

func chooseEntry(candidates []string, requested string, policy ArchivePolicy) (string, error) {
	if requested != "" {
		for _, c := range candidates {
			if c == requested || path.Base(c) == requested {
				return c, nil
			}
		}
		return "", &ArchiveChoiceError{Requested: requested, Candidates: candidates}
	}
	if len(candidates) == 1 || policy == ArchiveFirstEntry {
		return candidates[0], nil
	}
	return "", &ArchiveChoiceError{Candidates: candidates}
}
