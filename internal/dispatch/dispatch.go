// Package dispatch implements the Request Dispatcher: for each decoded
// request it selects the backend (Raft write, local read, cache, lock) and
// produces exactly one response record.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quoradb/quoradb/internal/apperrors"
	"github.com/quoradb/quoradb/internal/streamproto"
)

// RaftWriter submits a write-category request (Execute, ExecuteReturning,
// Transaction, Batch, Migrate, KV mutation, Backup) as a single Raft client
// write and returns the response the finite state machine produced. The
// Raft implementation itself is an external collaborator; this interface is
// the thin seam the dispatcher depends on.
type RaftWriter interface {
	Apply(ctx context.Context, clientID string, req *streamproto.Request) (*streamproto.Response, error)
}

// ReadExecutor serves Query (no consensus barrier) and QueryConsistent
// (linearizable read barrier, then local execution).
type ReadExecutor interface {
	Query(ctx context.Context, payload streamproto.QueryPayload) (streamproto.RowsResult, error)
	QueryConsistent(ctx context.Context, payload streamproto.QueryConsistentPayload) (streamproto.RowsResult, error)
}

// CacheReader serves the KVGet fast path: a local in-memory lookup that
// never touches Raft.
type CacheReader interface {
	Get(ctx context.Context, payload streamproto.KVGetPayload) (streamproto.KVGetResult, error)
}

// LockWaiter serves LockAwait by enqueueing on the lock state machine's
// request channel and awaiting resolution.
type LockWaiter interface {
	Await(ctx context.Context, payload streamproto.LockAwaitPayload) (streamproto.LockResult, error)
}

// Dispatcher holds the backend seams and turns a decoded Request into
// exactly one Response.
type Dispatcher struct {
	Raft   RaftWriter
	Reads  ReadExecutor
	Cache  CacheReader
	Locks  LockWaiter
	Logger *slog.Logger
}

// writeTags is the set of payload tags submitted as a single Raft client
// write, per spec §4.D.
var writeTags = map[streamproto.Tag]bool{
	streamproto.TagExecute:          true,
	streamproto.TagExecuteReturning: true,
	streamproto.TagTransaction:      true,
	streamproto.TagBatch:            true,
	streamproto.TagMigrate:          true,
	streamproto.TagKV:               true,
	streamproto.TagBackup:           true,
}

// Dispatch computes the response for req. It never returns nil: every path
// produces exactly one Response, matching the codec's one-frame-in
// one-frame-out contract.
func (d *Dispatcher) Dispatch(ctx context.Context, clientID string, req *streamproto.Request) *streamproto.Response {
	switch {
	case writeTags[req.Tag]:
		return d.dispatchWrite(ctx, clientID, req)
	case req.Tag == streamproto.TagQuery:
		payload, ok := req.Payload.(streamproto.QueryPayload)
		if !ok {
			return errorResponse(req, fmt.Errorf("dispatch: %w: Query payload has unexpected type %T", apperrors.ErrInvalidRequest, req.Payload))
		}
		rows, err := d.Reads.Query(ctx, payload)
		if err != nil {
			return errorResponse(req, err)
		}
		return &streamproto.Response{RequestID: req.RequestID, Tag: req.Tag, Payload: rows}
	case req.Tag == streamproto.TagQueryConsistent:
		payload, ok := req.Payload.(streamproto.QueryConsistentPayload)
		if !ok {
			return errorResponse(req, fmt.Errorf("dispatch: %w: QueryConsistent payload has unexpected type %T", apperrors.ErrInvalidRequest, req.Payload))
		}
		if b, ok := d.Raft.(interface{ VerifyLeader(context.Context) error }); ok {
			if err := b.VerifyLeader(ctx); err != nil {
				return errorResponse(req, err)
			}
		}
		rows, err := d.Reads.QueryConsistent(ctx, payload)
		if err != nil {
			return errorResponse(req, err)
		}
		return &streamproto.Response{RequestID: req.RequestID, Tag: req.Tag, Payload: rows}
	case req.Tag == streamproto.TagKVGet:
		if d.Cache == nil {
			return errorResponse(req, apperrors.ErrHandlerUnavailable)
		}
		payload, ok := req.Payload.(streamproto.KVGetPayload)
		if !ok {
			return errorResponse(req, fmt.Errorf("dispatch: %w: KVGet payload has unexpected type %T", apperrors.ErrInvalidRequest, req.Payload))
		}
		result, err := d.Cache.Get(ctx, payload)
		if err != nil {
			return errorResponse(req, err)
		}
		return &streamproto.Response{RequestID: req.RequestID, Tag: req.Tag, Payload: result}
	case req.Tag == streamproto.TagLockAwait:
		if d.Locks == nil {
			return errorResponse(req, apperrors.ErrHandlerUnavailable)
		}
		payload, ok := req.Payload.(streamproto.LockAwaitPayload)
		if !ok {
			return errorResponse(req, fmt.Errorf("dispatch: %w: LockAwait payload has unexpected type %T", apperrors.ErrInvalidRequest, req.Payload))
		}
		result, err := d.Locks.Await(ctx, payload)
		if err != nil {
			return errorResponse(req, err)
		}
		return &streamproto.Response{RequestID: req.RequestID, Tag: streamproto.TagLock, Payload: result}
	case req.Tag == streamproto.TagPing:
		return &streamproto.Response{RequestID: req.RequestID, Tag: streamproto.TagPing, Payload: streamproto.PingResult{}}
	default:
		// An unknown Tag is wire-supplied, attacker-controlled input — a
		// malformed request (§4.C), not an internal invariant violation, so
		// it gets an error response rather than taking the whole node down.
		return errorResponse(req, fmt.Errorf("dispatch: %w: unknown request tag %v", apperrors.ErrInvalidRequest, req.Tag))
	}
}

func (d *Dispatcher) dispatchWrite(ctx context.Context, clientID string, req *streamproto.Request) *streamproto.Response {
	resp, err := d.Raft.Apply(ctx, clientID, req)
	if err != nil {
		if d.Logger != nil {
			d.Logger.Warn("raft write failed", "tag", req.Tag.String(), "client_id", clientID, "error", err)
		}
		return errorResponse(req, err)
	}
	// §4.D / §7.5: a response variant mismatched to the request tag is a
	// fatal invariant violation, not a recoverable error — it signals a
	// codec or dispatcher bug that cannot be safely continued past.
	if resp.Tag != req.Tag {
		panic(fmt.Sprintf("dispatch: unreachable: raft response tag %v does not match request tag %v", resp.Tag, req.Tag))
	}
	return resp
}

func errorResponse(req *streamproto.Request, err error) *streamproto.Response {
	return &streamproto.Response{RequestID: req.RequestID, Tag: req.Tag, Err: err.Error()}
}
