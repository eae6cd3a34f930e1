// Package lockstore implements the LockAwait finite state machine: a
// per-key waiter queue behind a single request channel, mirroring the
// cache handler's "always-running goroutine" shape but resolving each
// waiter exactly once, either on acquisition or on timeout.
package lockstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/quoradb/quoradb/internal/apperrors"
	"github.com/quoradb/quoradb/internal/streamproto"
)

type awaitRequest struct {
	payload streamproto.LockAwaitPayload
	reply   chan streamproto.LockResult
}

type releaseRequest struct {
	key string
}

// lockState tracks one key's holder and its waiter queue. A waiter's reply
// channel is buffered to size 1, so a timeout can resolve it without the
// handler loop's involvement; handleRelease simply skips any waiter whose
// slot is already filled when it tries to hand the lock off.
type lockState struct {
	held    bool
	mode    streamproto.LockMode
	waiters []chan streamproto.LockResult
}

// Store is the lock state machine. Start must run in its own goroutine
// before Await/Release are used.
type Store struct {
	awaits   chan awaitRequest
	releases chan releaseRequest
	done     chan struct{}
	running  atomic.Bool
	locks    map[string]*lockState
}

// New creates an empty lock table.
func New() *Store {
	return &Store{
		awaits:   make(chan awaitRequest),
		releases: make(chan releaseRequest),
		done:     make(chan struct{}),
		locks:    make(map[string]*lockState),
	}
}

// Start runs the handler loop until ctx is canceled. All map mutation
// happens on this single goroutine; no locking is needed around s.locks.
func (s *Store) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.awaits:
			s.handleAwait(req)
		case req := <-s.releases:
			s.handleRelease(req.key)
		}
	}
}

func (s *Store) handleAwait(req awaitRequest) {
	st, ok := s.locks[req.payload.Key]
	if !ok {
		st = &lockState{}
		s.locks[req.payload.Key] = st
	}
	if !st.held {
		st.held = true
		st.mode = req.payload.Mode
		req.reply <- streamproto.LockResult{State: streamproto.LockStateAcquired}
		return
	}
	// Shared-mode holders can stack; exclusive requests always queue
	// behind the current holder regardless of its mode.
	if st.mode == streamproto.LockModeShared && req.payload.Mode == streamproto.LockModeShared {
		req.reply <- streamproto.LockResult{State: streamproto.LockStateAcquired}
		return
	}
	st.waiters = append(st.waiters, req.reply)
	if req.payload.TimeoutMillis > 0 {
		go s.timeoutWaiter(req.reply, time.Duration(req.payload.TimeoutMillis)*time.Millisecond)
	}
}

// timeoutWaiter delivers a timed-out resolution if reply is still
// unfilled when the deadline elapses. The non-blocking send is a no-op if
// handleRelease already filled the buffered slot with an acquisition.
func (s *Store) timeoutWaiter(reply chan streamproto.LockResult, after time.Duration) {
	timer := time.NewTimer(after)
	defer timer.Stop()
	select {
	case <-timer.C:
		select {
		case reply <- streamproto.LockResult{State: streamproto.LockStateTimedOut}:
		default:
		}
	case <-s.done:
	}
}

func (s *Store) handleRelease(key string) {
	st, ok := s.locks[key]
	if !ok || !st.held {
		return
	}
	for len(st.waiters) > 0 {
		next := st.waiters[0]
		st.waiters = st.waiters[1:]
		select {
		case next <- streamproto.LockResult{State: streamproto.LockStateAcquired}:
			return // handed off; key remains held, now by next
		default:
			continue // next already timed out; try the following waiter
		}
	}
	st.held = false
}

// Release marks key as no longer held by its current owner, promoting the
// next live waiter if any. Called on explicit unlock or connection
// teardown for keys the departing client held.
func (s *Store) Release(ctx context.Context, key string) error {
	if !s.running.Load() {
		return apperrors.ErrHandlerUnavailable
	}
	select {
	case s.releases <- releaseRequest{key: key}:
		return nil
	case <-s.done:
		return apperrors.ErrHandlerUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await enqueues a LockAwait request and blocks until it is acquired or
// times out. Safe to call from many goroutines concurrently.
func (s *Store) Await(ctx context.Context, payload streamproto.LockAwaitPayload) (streamproto.LockResult, error) {
	if !s.running.Load() {
		return streamproto.LockResult{}, apperrors.ErrHandlerUnavailable
	}
	reply := make(chan streamproto.LockResult, 1)
	select {
	case s.awaits <- awaitRequest{payload: payload, reply: reply}:
	case <-s.done:
		return streamproto.LockResult{}, apperrors.ErrHandlerUnavailable
	case <-ctx.Done():
		return streamproto.LockResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return streamproto.LockResult{}, ctx.Err()
	}
}
