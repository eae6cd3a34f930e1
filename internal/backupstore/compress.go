package backupstore

import (
	"archive/tar"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// archiveAndCompress tars the single snapshot file at srcPath as "node.db"
// and writes the compressed archive to dst, using pgzip (parallel gzip) or
// zstd depending on mode. Grounded in the teacher's tar+gzip streaming
// pipeline, adapted from a directory tree of files to a single database
// snapshot and from stdlib compress/gzip to the parallel pgzip writer the
// protocol framing already names for this compression mode.
func archiveAndCompress(dst io.Writer, srcPath string, mode string) error {
	cw, err := newCompressWriter(dst, mode)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(cw)

	if err := addFileToTar(tw, srcPath); err != nil {
		tw.Close()
		cw.Close()
		return err
	}

	if err := tw.Close(); err != nil {
		cw.Close()
		return fmt.Errorf("backupstore: closing tar writer: %w", err)
	}

	if err := cw.Close(); err != nil {
		return fmt.Errorf("backupstore: closing compression writer: %w", err)
	}

	return nil
}

func addFileToTar(tw *tar.Writer, srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("backupstore: stat snapshot: %w", err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("backupstore: tar header: %w", err)
	}
	header.Name = "node.db"

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("backupstore: writing tar header: %w", err)
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("backupstore: opening snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("backupstore: writing snapshot to tar: %w", err)
	}
	return nil
}

// compressWriteCloser is satisfied by both *pgzip.Writer and *zstd.Encoder.
type compressWriteCloser interface {
	io.WriteCloser
}

func newCompressWriter(dst io.Writer, mode string) (compressWriteCloser, error) {
	switch mode {
	case "zst":
		enc, err := zstd.NewWriter(dst)
		if err != nil {
			return nil, fmt.Errorf("backupstore: creating zstd writer: %w", err)
		}
		return enc, nil
	default:
		gz, err := pgzip.NewWriterLevel(dst, pgzip.BestSpeed)
		if err != nil {
			return nil, fmt.Errorf("backupstore: creating gzip writer: %w", err)
		}
		return gz, nil
	}
}
