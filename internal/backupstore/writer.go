// Package backupstore implements storage-backed snapshot backups of the
// node's local SQL database: a consistent snapshot (internal/sqlstore),
// archived and compressed to a named storage directory, rotated to keep
// only the configured number of generations, and optionally mirrored to an
// S3 bucket for remote storages. It is the raftnode.BackupExecutor the
// Backup operation's Raft log entry is applied against.
package backupstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// AtomicWriter manages atomic backup writes for one named storage: write to
// a .tmp file, let the caller fill it, then rename to a timestamped final
// name. A reader never observes a partially-written artifact.
type AtomicWriter struct {
	dir string
}

// NewAtomicWriter creates the storage directory if absent and returns a
// writer scoped to it.
func NewAtomicWriter(dir string) (*AtomicWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("backupstore: create storage directory %s: %w", dir, err)
	}
	return &AtomicWriter{dir: dir}, nil
}

// Dir returns the storage directory this writer is scoped to.
func (w *AtomicWriter) Dir() string {
	return w.dir
}

// TempFile creates a temporary file inside the storage directory for the
// caller to write the compressed archive into.
func (w *AtomicWriter) TempFile() (*os.File, string, error) {
	f, err := os.CreateTemp(w.dir, "backup-*.tmp")
	if err != nil {
		return nil, "", fmt.Errorf("backupstore: create temp file: %w", err)
	}
	return f, f.Name(), nil
}

// Commit renames the temporary file to its final timestamped name, using
// ext as the file extension (".tar.gz" or ".tar.zst").
func (w *AtomicWriter) Commit(tmpPath, ext string) (string, error) {
	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05.000")
	timestamp = strings.ReplaceAll(timestamp, ".", "-")
	finalPath := filepath.Join(w.dir, timestamp+ext)

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("backupstore: rename temp to final: %w", err)
	}
	return finalPath, nil
}

// Abort removes the temporary file after a failed write.
func (w *AtomicWriter) Abort(tmpPath string) error {
	return os.Remove(tmpPath)
}

// Rotate removes the oldest backups in dir beyond maxBackups, keeping the
// most recent ones. maxBackups <= 0 disables rotation.
func Rotate(dir string, maxBackups int) error {
	if maxBackups <= 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("backupstore: reading storage directory: %w", err)
	}

	var backups []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".tar.gz") || strings.HasSuffix(e.Name(), ".tar.zst") {
			backups = append(backups, e.Name())
		}
	}

	// timestamped names sort chronologically as strings
	sort.Strings(backups)

	if len(backups) > maxBackups {
		toRemove := backups[:len(backups)-maxBackups]
		for _, name := range toRemove {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return fmt.Errorf("backupstore: removing old backup %s: %w", name, err)
			}
		}
	}

	return nil
}
