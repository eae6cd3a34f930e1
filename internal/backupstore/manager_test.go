package backupstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quoradb/quoradb/internal/config"
)

type fakeSnapshotter struct {
	contents string
}

func (f *fakeSnapshotter) SnapshotTo(ctx context.Context, dst string) error {
	return os.WriteFile(dst, []byte(f.contents), 0644)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerBackupProducesLocalArtifact(t *testing.T) {
	dir := t.TempDir()
	storages := map[string]config.StorageInfo{
		"primary": {BaseDir: dir, MaxBackups: 3, CompressionMode: "gzip"},
	}
	m := NewManager(&fakeSnapshotter{contents: "snapshot-bytes"}, storages, discardLogger())

	path, err := m.Backup(context.Background(), "primary")
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected artifact in %s, got %s", dir, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected artifact to exist: %v", err)
	}
}

func TestManagerBackupUnknownStorageFails(t *testing.T) {
	m := NewManager(&fakeSnapshotter{}, map[string]config.StorageInfo{}, discardLogger())
	if _, err := m.Backup(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown storage")
	}
}

func TestManagerBackupRotatesOldGenerations(t *testing.T) {
	dir := t.TempDir()
	storages := map[string]config.StorageInfo{
		"primary": {BaseDir: dir, MaxBackups: 1, CompressionMode: "gzip"},
	}
	m := NewManager(&fakeSnapshotter{contents: "v1"}, storages, discardLogger())

	if _, err := m.Backup(context.Background(), "primary"); err != nil {
		t.Fatalf("first backup: %v", err)
	}
	if _, err := m.Backup(context.Background(), "primary"); err != nil {
		t.Fatalf("second backup: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected rotation to keep exactly 1 artifact, got %d", len(entries))
	}
}

type fakeS3Uploader struct {
	gotBucket string
	gotKey    string
	gotBody   []byte
}

func (f *fakeS3Uploader) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.gotBucket = *params.Bucket
	f.gotKey = *params.Key
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.gotBody = body
	return &s3.PutObjectOutput{}, nil
}

func TestUploadToS3SendsArtifactContents(t *testing.T) {
	dir := t.TempDir()
	artifactPath := filepath.Join(dir, "2026-01-01T00-00-00-000.tar.gz")
	if err := os.WriteFile(artifactPath, []byte("archive-bytes"), 0644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	fake := &fakeS3Uploader{}
	storage := config.StorageInfo{Bucket: "my-bucket", Region: "us-east-1"}
	if err := uploadToS3(context.Background(), fake, storage, artifactPath); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if fake.gotBucket != "my-bucket" {
		t.Fatalf("expected bucket my-bucket, got %s", fake.gotBucket)
	}
	if fake.gotKey != "2026-01-01T00-00-00-000.tar.gz" {
		t.Fatalf("unexpected key: %s", fake.gotKey)
	}
	if string(fake.gotBody) != "archive-bytes" {
		t.Fatalf("unexpected body: %s", fake.gotBody)
	}
}
