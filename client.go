// Package quoradb is the embeddable client API for a quoradb cluster: the
// Leader Resolution & Retry Shim (component F) sitting above the Client
// Stream Manager (component E, internal/streamclient).
package quoradb

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quoradb/quoradb/internal/apperrors"
	"github.com/quoradb/quoradb/internal/dispatch"
	"github.com/quoradb/quoradb/internal/streamclient"
	"github.com/quoradb/quoradb/internal/streamproto"
)

// LeaderResolver is the narrow surface the retry shim needs from the local
// Raft binding: whether this process is currently the leader, and if not,
// the address of the node that is. Satisfied by *raftnode.Node.
type LeaderResolver interface {
	IsLeader() bool
	LeaderAPIAddr() string
}

// Dialer opens a transport connection to a leader's client-stream listener
// at addr. Passed through to streamclient.Manager unchanged.
type Dialer func(ctx context.Context, addr string, tlsConfig *tls.Config) (streamclient.Dialer, error)

// Option configures a Client at construction time.
type Option func(*Client)

// WithRateLimit bounds how fast Execute/Query/... may submit new requests,
// whether served by the local fast path or forwarded remotely.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// Client is the Leader Resolution & Retry Shim (spec §4.F). For every
// top-level operation it reads the cached leader identity, submits locally
// if this node is leader, or forwards through a streamclient.Manager
// otherwise; on a leader-change error it refreshes the cache and retries
// exactly once.
type Client struct {
	clientID string
	resolver LeaderResolver
	dial     Dialer
	secret   string
	tlsCfg   *tls.Config
	logger   *slog.Logger
	limiter  *rate.Limiter

	// Local dispatch seam: direct access to the backends a local-leader
	// fast path can serve without a network hop, per §12.3 ("is_leader_db_with_state
	// ... no network hop, not even to localhost"). Deliberately reimplements
	// dispatch.Dispatcher's switch rather than delegating to it, so that raw
	// sentinel errors (apperrors.ErrLeaderChanged, etc.) survive for
	// apperrors.IsRetryableLeaderError classification instead of being
	// flattened into dispatch.Response.Err strings.
	raft  dispatch.RaftWriter
	reads dispatch.ReadExecutor
	cache dispatch.CacheReader
	locks dispatch.LockWaiter

	// requestID is the per-Client, purely client-side monotonic counter
	// (§12.2). Shared with any streamclient.Manager built for a remote
	// leader via WithRequestIDCounter, so the local fast path and a
	// forwarded submission under the same ClientId never collide.
	requestID *atomic.Uint64

	remoteMu   sync.Mutex
	remote     *streamclient.Manager // non-nil once a remote leader has been dialed
	remoteAddr string                // leader address the current remote Manager is connected to
}

// New builds a Client bound to the local node's backends (served directly
// when this node is leader) and a dialer used to reach a remote leader
// otherwise. secret authenticates the handshake streamclient.Manager
// performs when forwarding.
func New(resolver LeaderResolver, raft dispatch.RaftWriter, reads dispatch.ReadExecutor, cache dispatch.CacheReader, locks dispatch.LockWaiter, dial Dialer, secret string, tlsCfg *tls.Config, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		clientID:  uuid.NewString(),
		resolver:  resolver,
		dial:      dial,
		secret:    secret,
		tlsCfg:    tlsCfg,
		logger:    logger,
		raft:      raft,
		reads:     reads,
		cache:     cache,
		locks:     locks,
		requestID: new(atomic.Uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close tears down any remote connection the Client has opened.
func (c *Client) Close() {
	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()
	if c.remote != nil {
		c.remote.Close()
	}
}

// Execute runs a modifying statement and returns the number of affected
// rows.
func (c *Client) Execute(ctx context.Context, sql string, params []streamproto.Value) (int64, error) {
	payload := streamproto.ExecutePayload{SQL: sql, Params: params}
	resp, err := c.call(ctx, streamproto.TagExecute, payload)
	if err != nil {
		return 0, err
	}
	return resp.(streamproto.ExecuteResult).AffectedRows, nil
}

// ExecuteReturning runs a statement carrying a RETURNING clause and returns
// the resulting rows.
func (c *Client) ExecuteReturning(ctx context.Context, sql string, params []streamproto.Value) ([]streamproto.Row, error) {
	payload := streamproto.ExecuteReturningPayload{SQL: sql, Params: params}
	resp, err := c.call(ctx, streamproto.TagExecuteReturning, payload)
	if err != nil {
		return nil, err
	}
	return resp.(streamproto.RowsResult).Rows, nil
}

// Transaction runs every statement as a single Raft log entry and returns
// the total affected row count.
func (c *Client) Transaction(ctx context.Context, stmts []streamproto.Statement) (int64, error) {
	payload := streamproto.TransactionPayload{Statements: stmts}
	resp, err := c.call(ctx, streamproto.TagTransaction, payload)
	if err != nil {
		return 0, err
	}
	return resp.(streamproto.TransactionResult).AffectedRows, nil
}

// Batch runs every statement independently within one Raft log entry and
// returns each statement's affected row count, in order.
func (c *Client) Batch(ctx context.Context, stmts []streamproto.Statement) ([]int64, error) {
	payload := streamproto.BatchPayload{Statements: stmts}
	resp, err := c.call(ctx, streamproto.TagBatch, payload)
	if err != nil {
		return nil, err
	}
	return resp.(streamproto.BatchResult).AffectedRows, nil
}

// Migrate applies a sequence of DDL statements and returns how many were
// newly applied (statements already recorded as applied are skipped).
func (c *Client) Migrate(ctx context.Context, statements []string) (int, error) {
	payload := streamproto.MigratePayload{Statements: statements}
	resp, err := c.call(ctx, streamproto.TagMigrate, payload)
	if err != nil {
		return 0, err
	}
	return resp.(streamproto.MigrateResult).Applied, nil
}

// Backup triggers a snapshot-and-archive of the named storage on the node
// that applies this request, returning the local path of the artifact it
// produced.
func (c *Client) Backup(ctx context.Context, storage string) (string, error) {
	payload := streamproto.BackupPayload{Storage: storage}
	resp, err := c.call(ctx, streamproto.TagBackup, payload)
	if err != nil {
		return "", err
	}
	return resp.(streamproto.BackupResult).Path, nil
}

// Put writes a key through the cache's Raft-backed finite state machine.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	payload := streamproto.KVPayload{Op: streamproto.KVOpPut, Key: key, Value: value}
	_, err := c.call(ctx, streamproto.TagKV, payload)
	return err
}

// Delete removes a key through the cache's Raft-backed finite state
// machine.
func (c *Client) Delete(ctx context.Context, key string) error {
	payload := streamproto.KVPayload{Op: streamproto.KVOpDelete, Key: key}
	_, err := c.call(ctx, streamproto.TagKV, payload)
	return err
}

// Query runs a read-only statement without a consensus barrier: it may
// observe a stale value on a lagging follower.
func (c *Client) Query(ctx context.Context, sql string, params []streamproto.Value) ([]streamproto.Row, error) {
	payload := streamproto.QueryPayload{SQL: sql, Params: params}
	resp, err := c.call(ctx, streamproto.TagQuery, payload)
	if err != nil {
		return nil, err
	}
	return resp.(streamproto.RowsResult).Rows, nil
}

// QueryConsistent runs a read-only statement behind a linearizable read
// barrier: the result reflects every write acknowledged before the call.
func (c *Client) QueryConsistent(ctx context.Context, sql string, params []streamproto.Value) ([]streamproto.Row, error) {
	payload := streamproto.QueryConsistentPayload{SQL: sql, Params: params}
	resp, err := c.call(ctx, streamproto.TagQueryConsistent, payload)
	if err != nil {
		return nil, err
	}
	return resp.(streamproto.RowsResult).Rows, nil
}

// KVGet reads a cached value directly, bypassing Raft (spec §4.D fast
// path).
func (c *Client) KVGet(ctx context.Context, key string) ([]byte, bool, error) {
	payload := streamproto.KVGetPayload{Key: key}
	resp, err := c.call(ctx, streamproto.TagKVGet, payload)
	if err != nil {
		return nil, false, err
	}
	result := resp.(streamproto.KVGetResult)
	return result.Value, result.Found, nil
}

// LockAwait blocks until the named lock resolves: acquired, or timed out.
func (c *Client) LockAwait(ctx context.Context, key string, mode streamproto.LockMode, timeoutMillis int64) (streamproto.LockState, error) {
	payload := streamproto.LockAwaitPayload{Key: key, Mode: mode, TimeoutMillis: timeoutMillis}
	resp, err := c.call(ctx, streamproto.TagLockAwait, payload)
	if err != nil {
		return 0, err
	}
	return resp.(streamproto.LockResult).State, nil
}

// Ping verifies a session is alive without touching any backend (§12.4).
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, streamproto.TagPing, streamproto.PingPayload{})
	return err
}

// call implements the retry shim (spec §4.F): attempt once, and on a
// retryable leader error, refresh the leader cache and retry exactly once.
func (c *Client) call(ctx context.Context, tag streamproto.Tag, payload streamproto.RequestPayload) (streamproto.ResponsePayload, error) {
	resp, err := c.attempt(ctx, tag, payload)
	if err == nil {
		return resp, nil
	}
	if !apperrors.IsRetryableLeaderError(err) {
		return nil, err
	}
	c.logger.Warn("leader error, retrying once", "tag", tag.String(), "error", err)
	return c.attempt(ctx, tag, payload)
}

// attempt performs one submission: locally, if this node is currently
// leader (§12.3's no-network-hop fast path), or forwarded to the cached
// leader through the Client Stream Manager otherwise.
func (c *Client) attempt(ctx context.Context, tag streamproto.Tag, payload streamproto.RequestPayload) (streamproto.ResponsePayload, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if c.resolver.IsLeader() {
		return c.dispatchLocal(ctx, tag, payload)
	}
	return c.dispatchRemote(ctx, tag, payload)
}

// dispatchLocal mirrors dispatch.Dispatcher.Dispatch's switch but returns
// raw Go errors instead of a streamproto.Response carrying a flattened
// Err string, so apperrors.IsRetryableLeaderError can classify the result.
func (c *Client) dispatchLocal(ctx context.Context, tag streamproto.Tag, payload streamproto.RequestPayload) (streamproto.ResponsePayload, error) {
	req := &streamproto.Request{RequestID: c.requestID.Add(1), Tag: tag, Payload: payload}

	switch tag {
	case streamproto.TagExecute, streamproto.TagExecuteReturning, streamproto.TagTransaction,
		streamproto.TagBatch, streamproto.TagMigrate, streamproto.TagKV, streamproto.TagBackup:
		resp, err := c.raft.Apply(ctx, c.clientID, req)
		if err != nil {
			return nil, err
		}
		if resp.Failed() {
			return nil, fmt.Errorf("quoradb: %s", resp.Err)
		}
		return resp.Payload, nil
	case streamproto.TagQuery:
		return c.reads.Query(ctx, payload.(streamproto.QueryPayload))
	case streamproto.TagQueryConsistent:
		if b, ok := c.raft.(interface{ VerifyLeader(context.Context) error }); ok {
			if err := b.VerifyLeader(ctx); err != nil {
				return nil, err
			}
		}
		return c.reads.QueryConsistent(ctx, payload.(streamproto.QueryConsistentPayload))
	case streamproto.TagKVGet:
		if c.cache == nil {
			return nil, apperrors.ErrHandlerUnavailable
		}
		return c.cache.Get(ctx, payload.(streamproto.KVGetPayload))
	case streamproto.TagLockAwait:
		if c.locks == nil {
			return nil, apperrors.ErrHandlerUnavailable
		}
		return c.locks.Await(ctx, payload.(streamproto.LockAwaitPayload))
	case streamproto.TagPing:
		return streamproto.PingResult{}, nil
	default:
		panic(fmt.Sprintf("quoradb: unreachable: unknown request tag %v", tag))
	}
}

// dispatchRemote forwards the request to the cached leader via the Client
// Stream Manager, (re)dialing it first if the leader identity has changed
// or no remote Manager exists yet.
func (c *Client) dispatchRemote(ctx context.Context, tag streamproto.Tag, payload streamproto.RequestPayload) (streamproto.ResponsePayload, error) {
	addr := c.resolver.LeaderAPIAddr()
	if addr == "" {
		return nil, apperrors.ErrLeaderUnknown
	}

	c.remoteMu.Lock()
	if c.remote == nil || c.remoteAddr != addr {
		if c.remote != nil {
			c.remote.Close()
		}
		mgr, err := c.dialRemote(addr)
		if err != nil {
			c.remoteMu.Unlock()
			return nil, err
		}
		c.remote = mgr
		c.remoteAddr = addr
	}
	remote := c.remote
	c.remoteMu.Unlock()

	return remote.Submit(ctx, tag, payload)
}

func (c *Client) dialRemote(addr string) (*streamclient.Manager, error) {
	dialer, err := c.dial(context.Background(), addr, c.tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("quoradb: dial leader %s: %w", addr, err)
	}
	return streamclient.New(dialer, c.secret, c.clientID, c.logger,
		streamclient.WithRequestIDCounter(c.requestID)), nil
}
