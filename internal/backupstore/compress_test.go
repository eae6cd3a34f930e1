package backupstore

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

func writeSourceFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	return path
}

func readTarEntry(t *testing.T, r io.Reader) (string, []byte) {
	t.Helper()
	tr := tar.NewReader(r)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("tar next: %v", err)
	}
	data, err := io.ReadAll(tr)
	if err != nil {
		t.Fatalf("tar read: %v", err)
	}
	return hdr.Name, data
}

func TestArchiveAndCompressGzipRoundTrips(t *testing.T) {
	src := writeSourceFile(t, "sqlite snapshot bytes")

	var buf bytes.Buffer
	if err := archiveAndCompress(&buf, src, "gzip"); err != nil {
		t.Fatalf("archive and compress: %v", err)
	}

	gz, err := pgzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("new gzip reader: %v", err)
	}
	defer gz.Close()

	name, data := readTarEntry(t, gz)
	if name != "node.db" {
		t.Fatalf("expected entry name node.db, got %s", name)
	}
	if string(data) != "sqlite snapshot bytes" {
		t.Fatalf("unexpected entry contents: %s", data)
	}
}

func TestArchiveAndCompressZstdRoundTrips(t *testing.T) {
	src := writeSourceFile(t, "another snapshot")

	var buf bytes.Buffer
	if err := archiveAndCompress(&buf, src, "zst"); err != nil {
		t.Fatalf("archive and compress: %v", err)
	}

	dec, err := zstd.NewReader(&buf)
	if err != nil {
		t.Fatalf("new zstd reader: %v", err)
	}
	defer dec.Close()

	name, data := readTarEntry(t, dec)
	if name != "node.db" {
		t.Fatalf("expected entry name node.db, got %s", name)
	}
	if string(data) != "another snapshot" {
		t.Fatalf("unexpected entry contents: %s", data)
	}
}
