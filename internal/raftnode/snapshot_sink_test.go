package raftnode

import (
	"bytes"
	"io"
)

// fakeSnapshotSink is a minimal raft.SnapshotSink backed by an in-memory
// buffer, used to exercise FSM.Snapshot/Restore without a real
// raft.FileSnapshotStore.
type fakeSnapshotSink struct {
	buf bytes.Buffer
}

func newFakeSnapshotSink() *fakeSnapshotSink { return &fakeSnapshotSink{} }

func (s *fakeSnapshotSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *fakeSnapshotSink) Close() error                { return nil }
func (s *fakeSnapshotSink) ID() string                  { return "fake" }
func (s *fakeSnapshotSink) Cancel() error                { return nil }

func (s *fakeSnapshotSink) readCloser() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(s.buf.Bytes()))
}
