// Package streamclient implements the Client Stream Manager (component
// E): the client-side peer of streamserver's session. It owns a
// long-lived outbound connection to the current leader, tracks in-flight
// requests by RequestId, and reconnects/re-sends across transport
// failures.
package streamclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/quoradb/quoradb/internal/apperrors"
	"github.com/quoradb/quoradb/internal/streamproto"
)

// Dialer opens a new transport connection to the leader's client-stream
// listener. Abstracted so tests can point at an httptest server.
type Dialer func(ctx context.Context) (*websocket.Conn, error)

type inflight struct {
	request *streamproto.Request
	reply   chan inflightResult
	sent    bool
}

type inflightResult struct {
	resp *streamproto.Response
	err  error
}

// Manager is the Client Stream Manager. One instance exists per
// configured leader connection; the retry shim (root client package)
// creates a new Manager whenever the cached leader identity changes.
type Manager struct {
	dial    Dialer
	secret  string
	logger  *slog.Logger
	limiter *rate.Limiter

	nextRequestID *atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	clientID string
	writeCh  chan []byte
	inFlight map[uint64]*inflight
	closed   bool

	connected chan struct{} // closed once the first connect+handshake succeeds
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithRateLimit bounds how fast Submit may enqueue new requests, adapted
// from the reference's ThrottledWriter submit-side limiter.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(m *Manager) { m.limiter = limiter }
}

// WithRequestIDCounter shares a single RequestId source across this
// Manager and another submitter using the same ClientId — the root
// client's local-leader fast path, in particular — so the two never
// assign overlapping RequestIds for the same (ClientId) dedup scope (§3
// "RequestId ... unique per client session"). Without this option each
// Manager owns its own counter, which is correct in isolation.
func WithRequestIDCounter(counter *atomic.Uint64) Option {
	return func(m *Manager) { m.nextRequestID = counter }
}

// New creates a Manager and starts its connection supervisor. dial is
// called once per (re)connection attempt; secret authenticates the
// handshake. clientID may be empty on first use — the server assigns one,
// which is then reused across every later reconnect from this Manager.
func New(dial Dialer, secret string, clientID string, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		dial:          dial,
		secret:        secret,
		clientID:      clientID,
		logger:        logger,
		inFlight:      make(map[uint64]*inflight),
		connected:     make(chan struct{}),
		nextRequestID: new(atomic.Uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.supervise()
	return m
}

// ClientID returns the identity assigned by the server, valid once the
// first connection completes its handshake.
func (m *Manager) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

// Close tears the Manager down: closes the active connection and fails
// every pending Submit with ErrSessionClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	pending := make([]*inflight, 0, len(m.inFlight))
	for _, e := range m.inFlight {
		pending = append(pending, e)
	}
	m.inFlight = make(map[uint64]*inflight)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, e := range pending {
		e.reply <- inflightResult{err: apperrors.ErrSessionClosed}
	}
}

// Submit assigns a RequestId, enqueues the request frame, and blocks
// until a matching response arrives, the context is canceled, or the
// Manager closes. Cancellation drops the one-shot slot but never cancels
// the backend operation already committed on the leader.
func (m *Manager) Submit(ctx context.Context, tag streamproto.Tag, payload streamproto.RequestPayload) (streamproto.ResponsePayload, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	select {
	case <-m.connected:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req := &streamproto.Request{RequestID: m.nextRequestID.Add(1), Tag: tag, Payload: payload}
	entry := &inflight{request: req, reply: make(chan inflightResult, 1)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, apperrors.ErrSessionClosed
	}
	m.inFlight[req.RequestID] = entry
	m.mu.Unlock()

	m.trySend(entry)

	select {
	case result := <-entry.reply:
		if result.err != nil {
			return nil, result.err
		}
		if result.resp.Failed() {
			return nil, fmt.Errorf("streamclient: %s", result.resp.Err)
		}
		return result.resp.Payload, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.inFlight, req.RequestID)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", apperrors.ErrCanceled, ctx.Err())
	}
}

// trySend serializes and posts req onto the active write channel if
// connected; if not currently connected the request stays registered in
// inFlight and is sent once the supervisor reconnects.
func (m *Manager) trySend(entry *inflight) {
	frame, err := streamproto.EncodeRequest(entry.request)
	if err != nil {
		entry.reply <- inflightResult{err: fmt.Errorf("streamclient: encode request: %w", err)}
		return
	}

	m.mu.Lock()
	writeCh := m.writeCh
	m.mu.Unlock()
	if writeCh == nil {
		return
	}
	select {
	case writeCh <- frame:
		m.mu.Lock()
		entry.sent = true
		m.mu.Unlock()
	default:
		// writer is backed up; leave sent=false so a reconnect (or the
		// next resend pass) retries it.
	}
}

// supervise owns the connect → run → reconnect loop for the Manager's
// lifetime, using an exponential backoff between attempts grounded in the
// reference's reconnect-with-backoff pattern.
func (m *Manager) supervise() {
	firstConnect := true
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever; the caller controls lifetime via Close

	for {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}

		conn, clientID, err := m.connectAndHandshake()
		if err != nil {
			m.logger.Warn("connect failed, retrying", "error", err)
			time.Sleep(bo.NextBackOff())
			continue
		}
		bo.Reset()

		m.mu.Lock()
		m.conn = conn
		m.clientID = clientID
		m.writeCh = make(chan []byte, 256)
		writeCh := m.writeCh
		m.mu.Unlock()

		if firstConnect {
			close(m.connected)
			firstConnect = false
		}

		m.resendUnconfirmed()

		m.runConnection(conn, writeCh)

		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
	}
}

// resendUnconfirmed re-sends every registered request whose frame was
// never confirmed sent on the prior connection (or was sent but no
// response arrived before the break). Re-sending duplicates is safe
// because the Raft FSM deduplicates by (ClientId, RequestId).
func (m *Manager) resendUnconfirmed() {
	m.mu.Lock()
	pending := make([]*inflight, 0, len(m.inFlight))
	for _, e := range m.inFlight {
		pending = append(pending, e)
	}
	m.mu.Unlock()

	for _, e := range pending {
		m.trySend(e)
	}
}

// runConnection starts the reader/writer pair for one connection and
// blocks until either breaks.
func (m *Manager) runConnection(conn *websocket.Conn, writeCh chan []byte) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for frame := range writeCh {
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		resp, err := streamproto.DecodeResponse(data)
		if err != nil {
			m.logger.Warn("malformed response frame", "error", err)
			continue
		}
		m.complete(resp)
	}

	conn.Close()
	m.mu.Lock()
	if m.writeCh == writeCh {
		close(writeCh)
		m.writeCh = nil
	}
	m.mu.Unlock()
	<-writerDone
}

// connectAndHandshake dials a fresh transport connection and performs the
// client side of the HMAC challenge (streamproto.HandshakeRequest/Response),
// mirroring streamserver's Handshaking state. clientID is empty on this
// Manager's very first connection; the server assigns one, which is then
// reused on every subsequent reconnect so the leader's ClientBuffer resumes
// the same identity.
func (m *Manager) connectAndHandshake() (*websocket.Conn, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := m.dial(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("streamclient: dial: %w", err)
	}

	m.mu.Lock()
	clientID := m.clientID
	m.mu.Unlock()

	nonce, err := streamproto.NewClientNonce()
	if err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("streamclient: generate nonce: %w", err)
	}
	mac := streamproto.SignNonce(m.secret, nonce, clientID)
	reqBytes, err := streamproto.EncodeHandshakeRequest(streamproto.HandshakeRequest{
		ClientID: clientID,
		Nonce:    nonce,
		MAC:      mac,
	})
	if err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("streamclient: encode handshake request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, reqBytes); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("streamclient: write handshake request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("streamclient: read handshake response: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	resp, err := streamproto.DecodeHandshakeResponse(data)
	if err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("streamclient: decode handshake response: %w", err)
	}
	if !resp.OK {
		conn.Close()
		return nil, "", fmt.Errorf("streamclient: handshake rejected: %s", resp.Reason)
	}
	return conn, resp.ClientID, nil
}

func (m *Manager) complete(resp *streamproto.Response) {
	m.mu.Lock()
	entry, ok := m.inFlight[resp.RequestID]
	if ok {
		delete(m.inFlight, resp.RequestID)
	}
	m.mu.Unlock()
	if !ok {
		return // already delivered, or a response for a canceled Submit
	}
	entry.reply <- inflightResult{resp: resp}
}
