// Package cachestore implements the in-memory cache finite state machine
// backing the KV / KVGet payloads (§4.D): a bounded LRU guarded by a
// single-goroutine request channel, matching the "handler always running"
// invariant the dispatcher depends on for its fast KVGet path.
package cachestore

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quoradb/quoradb/internal/apperrors"
	"github.com/quoradb/quoradb/internal/streamproto"
)

type putRequest struct {
	key   string
	value []byte
	reply chan error
}

type deleteRequest struct {
	key   string
	reply chan error
}

type getRequest struct {
	key   string
	reply chan streamproto.KVGetResult
}

// Store is the cache state machine. Start must be running before Apply/Get
// are used; it is the loop of the single handler goroutine that owns the LRU,
// and the caller runs it in that goroutine.
type Store struct {
	puts    chan putRequest
	deletes chan deleteRequest
	gets    chan getRequest
	done    chan struct{}
	running atomic.Bool
	cache   *lru.Cache[string, []byte]
}

// New creates a cache bounded to size entries. size must be positive.
func New(size int) (*Store, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("cachestore: new: %w", err)
	}
	return &Store{
		puts:    make(chan putRequest),
		deletes: make(chan deleteRequest),
		gets:    make(chan getRequest),
		done:    make(chan struct{}),
		cache:   cache,
	}, nil
}

// Start runs the handler loop until ctx is canceled. Must be run in its own
// goroutine; Get/Apply calls after ctx is canceled return ErrHandlerUnavailable.
func (s *Store) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.puts:
			s.cache.Add(req.key, req.value)
			req.reply <- nil
		case req := <-s.deletes:
			s.cache.Remove(req.key)
			req.reply <- nil
		case req := <-s.gets:
			value, ok := s.cache.Get(req.key)
			req.reply <- streamproto.KVGetResult{Value: value, Found: ok}
		}
	}
}

// Apply mutates the cache according to payload.Op. Called from the cache
// FSM's Apply on raft commit, so it runs on the leader's (and every
// follower's) replicated state in lockstep.
func (s *Store) Apply(ctx context.Context, payload streamproto.KVPayload) (streamproto.KVResult, error) {
	if !s.running.Load() {
		return streamproto.KVResult{}, apperrors.ErrHandlerUnavailable
	}
	switch payload.Op {
	case streamproto.KVOpPut:
		reply := make(chan error, 1)
		select {
		case s.puts <- putRequest{key: payload.Key, value: payload.Value, reply: reply}:
		case <-s.done:
			return streamproto.KVResult{}, apperrors.ErrHandlerUnavailable
		case <-ctx.Done():
			return streamproto.KVResult{}, ctx.Err()
		}
		return streamproto.KVResult{}, <-reply
	case streamproto.KVOpDelete:
		reply := make(chan error, 1)
		select {
		case s.deletes <- deleteRequest{key: payload.Key, reply: reply}:
		case <-s.done:
			return streamproto.KVResult{}, apperrors.ErrHandlerUnavailable
		case <-ctx.Done():
			return streamproto.KVResult{}, ctx.Err()
		}
		return streamproto.KVResult{}, <-reply
	default:
		return streamproto.KVResult{}, fmt.Errorf("cachestore: apply: %w: unknown op %d", apperrors.ErrInvalidRequest, payload.Op)
	}
}

// Get serves the KVGet fast path: a direct LRU lookup through the handler
// goroutine, bypassing Raft entirely.
func (s *Store) Get(ctx context.Context, payload streamproto.KVGetPayload) (streamproto.KVGetResult, error) {
	if !s.running.Load() {
		return streamproto.KVGetResult{}, apperrors.ErrHandlerUnavailable
	}
	reply := make(chan streamproto.KVGetResult, 1)
	select {
	case s.gets <- getRequest{key: payload.Key, reply: reply}:
	case <-s.done:
		return streamproto.KVGetResult{}, apperrors.ErrHandlerUnavailable
	case <-ctx.Done():
		return streamproto.KVGetResult{}, ctx.Err()
	}
	return <-reply, nil
}
