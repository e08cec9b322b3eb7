package ffmpeg

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"vidsplit/config"
)

// ManifestName is the fixed concat list filename. Only one job runs at a
// time, so a single name per process is enough.
const ManifestName = "concat_list.txt"

// ManifestWriter writes concat demuxer lists into the process temp dir.
type ManifestWriter struct {
	dir string
}

// NewManifestWriter uses cfg.TempDir, creating and recording a fresh temp
// directory when it is unset.
func NewManifestWriter(cfg *config.Config) (*ManifestWriter, error) {
	if cfg.TempDir == "" {
		tempDir, err := os.MkdirTemp("", "vidsplit_")
		if err != nil {
			return nil, fmt.Errorf("could not create temp directory: %w", err)
		}
		log.Printf("Using temporary directory: %s", tempDir)
		cfg.TempDir = tempDir
	}
	return &ManifestWriter{dir: cfg.TempDir}, nil
}

// EscapePath quotes a path for a concat list line: each single quote is
// closed, emitted as an escaped quote, and reopened.
func EscapePath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// ManifestLine formats one concat list entry, including the newline.
func ManifestLine(path string) string {
	return fmt.Sprintf("file '%s'\n", EscapePath(path))
}

// Build implements task.ManifestBuilder. The list is written to a sibling
// temp file and renamed into place so readers never see a partial file.
func (w *ManifestWriter) Build(files []string) (string, error) {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path for %s: %w", f, err)
		}
		b.WriteString(ManifestLine(abs))
	}

	tmpFile, err := os.CreateTemp(w.dir, ManifestName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmpFile.Name()

	if _, err := tmpFile.WriteString(b.String()); err != nil {
		tmpFile.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write concat file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write concat file: %w", err)
	}

	target := filepath.Join(w.dir, ManifestName)
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move concat file into place: %w", err)
	}
	return target, nil
}

// Cleanup removes the temp directory and everything in it.
func (w *ManifestWriter) Cleanup() error {
	return os.RemoveAll(w.dir)
}
