package raftnode

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/quoradb/quoradb/internal/streamproto"
)

// SQLExecutor is the narrow write surface the SQL/KV finite state machine
// needs from internal/sqlstore.
type SQLExecutor interface {
	Execute(ctx context.Context, stmt streamproto.Statement) (streamproto.ExecuteResult, error)
	ExecuteReturning(ctx context.Context, stmt streamproto.Statement) (streamproto.RowsResult, error)
	Transaction(ctx context.Context, stmts []streamproto.Statement) (streamproto.TransactionResult, error)
	Batch(ctx context.Context, stmts []streamproto.Statement) ([]int64, error)
	Migrate(ctx context.Context, stmts []string) (int, error)
}

// CacheApplier is the narrow write surface the cache finite state machine
// needs from internal/cachestore.
type CacheApplier interface {
	Apply(ctx context.Context, payload streamproto.KVPayload) (streamproto.KVResult, error)
}

// BackupExecutor performs a local backup-to-storage side effect on Apply.
// Every replica runs it independently against its own local database and
// its own view of the named storage — backups are per-node artifacts, not
// replicated data.
type BackupExecutor interface {
	Backup(ctx context.Context, storage string) (path string, err error)
}

// dedupEntry is the recorded outcome of the highest-RequestId applied so
// far for one client.
type dedupEntry struct {
	RequestID uint64
	Response  *streamproto.Response
}

// FSM is the hashicorp/raft finite state machine backing Execute,
// ExecuteReturning, Transaction, Batch, Migrate, KV and Backup. It
// deduplicates by (ClientId, RequestId): grounded in the kvraft reference's
// (ClientId, SeqId) duplicate table, this makes re-applying a client's
// already-committed request (after a reconnect resend) a no-op that
// returns the recorded response instead of re-executing it.
type FSM struct {
	mu     sync.Mutex
	dedup  map[string]dedupEntry
	sql    SQLExecutor
	cache  CacheApplier
	backup BackupExecutor
}

var _ raft.FSM = (*FSM)(nil)

// NewFSM builds the state machine. backup may be nil until
// internal/backupstore wires a concrete executor in; Backup commands then
// fail with an explicit error instead of panicking.
func NewFSM(sql SQLExecutor, cache CacheApplier, backup BackupExecutor) *FSM {
	return &FSM{
		dedup:  make(map[string]dedupEntry),
		sql:    sql,
		cache:  cache,
		backup: backup,
	}
}

// Apply is invoked by hashicorp/raft once a log entry commits. It never
// returns an error value directly to the caller's Apply; errors are
// encoded into the Response's Err field so the dispatcher sees them as an
// ordinary failed response, matching the wire protocol's one-frame-out
// contract.
func (f *FSM) Apply(log *raft.Log) interface{} {
	cmd, err := decodeCommand(log.Data)
	if err != nil {
		return fmt.Errorf("raftnode: fsm apply: %w", err)
	}

	f.mu.Lock()
	if entry, ok := f.dedup[cmd.ClientID]; ok && cmd.Request.RequestID <= entry.RequestID {
		f.mu.Unlock()
		return entry.Response
	}
	f.mu.Unlock()

	resp := f.execute(cmd.Request)

	f.mu.Lock()
	f.dedup[cmd.ClientID] = dedupEntry{RequestID: cmd.Request.RequestID, Response: resp}
	f.mu.Unlock()

	return resp
}

func (f *FSM) execute(req *streamproto.Request) *streamproto.Response {
	ctx := context.Background()
	switch req.Tag {
	case streamproto.TagExecute:
		payload := req.Payload.(streamproto.ExecutePayload)
		result, err := f.sql.Execute(ctx, streamproto.Statement{SQL: payload.SQL, Params: payload.Params})
		return responseFor(req, result, err)
	case streamproto.TagExecuteReturning:
		payload := req.Payload.(streamproto.ExecuteReturningPayload)
		result, err := f.sql.ExecuteReturning(ctx, streamproto.Statement{SQL: payload.SQL, Params: payload.Params})
		return responseFor(req, result, err)
	case streamproto.TagTransaction:
		payload := req.Payload.(streamproto.TransactionPayload)
		result, err := f.sql.Transaction(ctx, payload.Statements)
		return responseFor(req, result, err)
	case streamproto.TagBatch:
		payload := req.Payload.(streamproto.BatchPayload)
		affected, err := f.sql.Batch(ctx, payload.Statements)
		return responseFor(req, streamproto.BatchResult{AffectedRows: affected}, err)
	case streamproto.TagMigrate:
		payload := req.Payload.(streamproto.MigratePayload)
		applied, err := f.sql.Migrate(ctx, payload.Statements)
		return responseFor(req, streamproto.MigrateResult{Applied: applied}, err)
	case streamproto.TagKV:
		payload := req.Payload.(streamproto.KVPayload)
		result, err := f.cache.Apply(ctx, payload)
		return responseFor(req, result, err)
	case streamproto.TagBackup:
		payload := req.Payload.(streamproto.BackupPayload)
		if f.backup == nil {
			return errResponse(req, fmt.Errorf("raftnode: backup executor not configured"))
		}
		path, err := f.backup.Backup(ctx, payload.Storage)
		return responseFor(req, streamproto.BackupResult{Path: path}, err)
	default:
		return errResponse(req, fmt.Errorf("raftnode: fsm: unexpected write-category tag %v", req.Tag))
	}
}

func responseFor(req *streamproto.Request, payload streamproto.ResponsePayload, err error) *streamproto.Response {
	if err != nil {
		return errResponse(req, err)
	}
	return &streamproto.Response{RequestID: req.RequestID, Tag: req.Tag, Payload: payload}
}

func errResponse(req *streamproto.Request, err error) *streamproto.Response {
	return &streamproto.Response{RequestID: req.RequestID, Tag: req.Tag, Err: err.Error()}
}

// Snapshot captures the dedup table; the SQL/cache data itself is
// recovered by restoring the underlying sqlite file and LRU population
// separately, matching the reference's split between log-replicated
// metadata and the bulk data store.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := make(map[string]dedupEntry, len(f.dedup))
	for k, v := range f.dedup {
		snap[k] = v
	}
	return &fsmSnapshot{dedup: snap}, nil
}

// Restore replaces the dedup table from a prior snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	dedup, err := decodeDedupSnapshot(rc)
	if err != nil {
		return fmt.Errorf("raftnode: fsm restore: %w", err)
	}
	f.mu.Lock()
	f.dedup = dedup
	f.mu.Unlock()
	return nil
}

type fsmSnapshot struct {
	dedup map[string]dedupEntry
}

var _ raft.FSMSnapshot = (*fsmSnapshot)(nil)

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := encodeDedupSnapshot(sink, s.dedup); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
