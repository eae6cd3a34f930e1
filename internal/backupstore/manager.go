package backupstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/quoradb/quoradb/internal/config"
)

// Snapshotter is the narrow surface Manager needs from internal/sqlstore: a
// consistent point-in-time copy of the live database.
type Snapshotter interface {
	SnapshotTo(ctx context.Context, dst string) error
}

// Manager produces backup artifacts for every named storage configured on
// this node, and implements raftnode.BackupExecutor so the Backup operation
// can be driven from an applied Raft log entry. Every replica runs it
// independently against its own local database: backups are per-node
// artifacts, not replicated data.
type Manager struct {
	snapshot Snapshotter
	storages map[string]config.StorageInfo
	logger   *slog.Logger

	mu        sync.Mutex
	uploaders map[string]s3Uploader // lazily built, keyed by storage name
}

// NewManager builds a Manager over the node's configured storages.
func NewManager(snapshot Snapshotter, storages map[string]config.StorageInfo, logger *slog.Logger) *Manager {
	return &Manager{
		snapshot:  snapshot,
		storages:  storages,
		logger:    logger,
		uploaders: make(map[string]s3Uploader),
	}
}

// Backup implements raftnode.BackupExecutor. It snapshots the live
// database, archives and compresses it to the named storage's directory,
// rotates older generations, and — for a remote storage — uploads the
// artifact to its configured S3 bucket.
func (m *Manager) Backup(ctx context.Context, storageName string) (string, error) {
	info, ok := m.storages[storageName]
	if !ok {
		return "", fmt.Errorf("backupstore: unknown storage %q", storageName)
	}

	stagingDir, err := os.MkdirTemp("", "quoradb-snapshot-*")
	if err != nil {
		return "", fmt.Errorf("backupstore: create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	rawPath := filepath.Join(stagingDir, "node.db")
	if err := m.snapshot.SnapshotTo(ctx, rawPath); err != nil {
		return "", fmt.Errorf("backupstore: snapshot: %w", err)
	}

	localDir := info.BaseDir
	if localDir == "" {
		localDir = filepath.Join(os.TempDir(), "quoradb-backups", storageName)
	}

	writer, err := NewAtomicWriter(localDir)
	if err != nil {
		return "", err
	}

	tmpFile, tmpPath, err := writer.TempFile()
	if err != nil {
		return "", err
	}

	hasher := sha256.New()
	if err := archiveAndCompress(io.MultiWriter(tmpFile, hasher), rawPath, info.CompressionMode); err != nil {
		tmpFile.Close()
		writer.Abort(tmpPath)
		return "", err
	}
	if err := tmpFile.Close(); err != nil {
		writer.Abort(tmpPath)
		return "", fmt.Errorf("backupstore: closing staged artifact: %w", err)
	}

	finalPath, err := writer.Commit(tmpPath, info.FileExtension())
	if err != nil {
		return "", err
	}

	if err := Rotate(localDir, info.MaxBackups); err != nil {
		m.logger.Warn("backup rotation failed", "storage", storageName, "error", err)
	}

	if info.IsRemote() {
		uploader, err := m.uploaderFor(ctx, storageName, info)
		if err != nil {
			return "", err
		}
		if err := uploadToS3(ctx, uploader, info, finalPath); err != nil {
			return "", err
		}
		m.logger.Info("backup uploaded to s3", "storage", storageName, "bucket", info.Bucket, "path", finalPath)
	}

	m.logger.Info("backup completed", "storage", storageName, "path", finalPath,
		"checksum", hex.EncodeToString(hasher.Sum(nil)))
	return finalPath, nil
}

func (m *Manager) uploaderFor(ctx context.Context, storageName string, info config.StorageInfo) (s3Uploader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.uploaders[storageName]; ok {
		return u, nil
	}
	u, err := newS3Uploader(ctx, info.Region)
	if err != nil {
		return nil, err
	}
	m.uploaders[storageName] = u
	return u, nil
}
