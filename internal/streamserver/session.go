// Package streamserver implements the Server Stream Session (component
// C): one instance per accepted WebSocket connection, carrying it through
// Handshaking, Draining, Running and Closing.
package streamserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quoradb/quoradb/internal/clientbuf"
	"github.com/quoradb/quoradb/internal/dispatch"
	"github.com/quoradb/quoradb/internal/streamproto"
)

// writeChanSize bounds how many computed-but-unsent responses a session
// holds in memory before a slow writer applies backpressure; it does not
// bound the ClientBuffer, which is unbounded by design.
const writeChanSize = 256

const (
	closeReasonInvalidHandshake = "Invalid Handshake"
	closeReasonInvalidRequest   = "Invalid Request"
)

// session runs the AwaitingUpgrade → Handshaking → Draining → Running →
// Closing → Closed state machine for one accepted connection.
type session struct {
	conn       *websocket.Conn
	secret     string
	buffers    *clientbuf.Registry
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	tracker    *Tracker

	clientID string
	ts       *trackedSession

	writeCh  chan []byte
	draining bool
	drainMu  sync.Mutex
	reqWG    sync.WaitGroup
}

func newSession(conn *websocket.Conn, secret string, buffers *clientbuf.Registry, dispatcher *dispatch.Dispatcher, logger *slog.Logger, tracker *Tracker) *session {
	return &session{
		conn:       conn,
		secret:     secret,
		buffers:    buffers,
		dispatcher: dispatcher,
		logger:     logger,
		tracker:    tracker,
		writeCh:    make(chan []byte, writeChanSize),
	}
}

// run drives the full session lifecycle. It returns once the connection is
// fully torn down (Closed).
func (s *session) run() {
	defer s.conn.Close()

	if err := s.handshake(); err != nil {
		s.logger.Warn("handshake failed", "error", err)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReasonInvalidHandshake),
			time.Now().Add(time.Second))
		return
	}

	if !s.drain() {
		// Draining failed to flush a buffered frame; the frame was
		// re-enqueued and the session terminates without entering Running.
		return
	}

	if s.tracker != nil {
		s.ts = s.tracker.register(s.clientID)
		defer s.tracker.unregister(s.clientID)
	}

	s.runWriter()
	s.runReader() // blocks until the reader observes a terminal condition
}

// handshake performs the Handshaking state: read the client's challenge,
// verify it against the shared secret, and report the resolved ClientID.
func (s *session) handshake() error {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}
	req, err := decodeHandshakeRequest(data)
	if err != nil {
		return err
	}
	clientID, err := verifyHandshake(s.secret, req)
	if err != nil {
		respBytes, encErr := encodeHandshakeResponse(handshakeResponse{OK: false, Reason: err.Error()})
		if encErr == nil {
			s.conn.WriteMessage(websocket.BinaryMessage, respBytes)
		}
		return err
	}
	s.clientID = clientID

	respBytes, err := encodeHandshakeResponse(handshakeResponse{OK: true, ClientID: clientID})
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, respBytes)
}

// drain flushes this ClientId's buffered frames before accepting new
// requests. On a send failure it re-enqueues the frame at the front of
// the buffer and reports false so run() tears the session down without
// ever entering Running — correctness requires no response is lost, even
// at the cost of re-draining on the next reconnect.
func (s *session) drain() bool {
	buf := s.buffers.Get(s.clientID)
	for {
		frame, ok := buf.TryPop()
		if !ok {
			return true
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			buf.PushFront(frame)
			s.logger.Warn("drain failed, frame re-enqueued", "client_id", s.clientID, "error", err)
			return false
		}
	}
}

// runWriter starts the writer goroutine that serializes writeCh onto the
// connection during Running, and switches to buffering once Closing
// begins (set via beginClosing).
func (s *session) runWriter() {
	go func() {
		for frame := range s.writeCh {
			if s.isDraining() {
				s.buffers.Get(s.clientID).Push(frame)
				continue
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.buffers.Get(s.clientID).Push(frame)
				s.beginClosing("write error: " + err.Error())
			}
		}
	}()
}

// runReader consumes inbound frames during Running. Each request frame
// spawns an independent task (tracked by reqWG) that computes the
// response and posts it to writeCh; the reader itself never blocks on
// dispatch. It returns once the connection breaks.
func (s *session) runReader() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.beginClosing("read error: " + err.Error())
			break
		}
		if msgType != websocket.BinaryMessage {
			s.beginClosing("non-binary frame")
			break
		}
		req, err := streamproto.DecodeRequest(data)
		if err != nil {
			s.logger.Warn("malformed request frame", "client_id", s.clientID, "error", err)
			s.beginClosing("malformed request: " + err.Error())
			break
		}

		s.reqWG.Add(1)
		go s.handleRequest(req)
	}

	s.reqWG.Wait()
	close(s.writeCh)
}

func (s *session) handleRequest(req *streamproto.Request) {
	defer s.reqWG.Done()
	if s.ts != nil {
		s.ts.inFlight.Add(1)
		defer s.ts.inFlight.Add(-1)
	}
	resp := s.dispatcher.Dispatch(context.Background(), s.clientID, req)
	frame, err := streamproto.EncodeResponse(resp)
	if err != nil {
		s.logger.Error("failed to encode response", "client_id", s.clientID, "request_id", req.RequestID, "error", err)
		return
	}
	s.writeCh <- frame
}

func (s *session) isDraining() bool {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	return s.draining
}

// beginClosing transitions the session into Closing. It is idempotent;
// only the first caller sends the Close control frame. Subsequent writer
// sends are redirected into the ClientBuffer until reqWG drains and
// writeCh closes.
func (s *session) beginClosing(reason string) {
	s.drainMu.Lock()
	alreadyClosing := s.draining
	s.draining = true
	s.drainMu.Unlock()
	if alreadyClosing {
		return
	}
	s.logger.Info("session closing", "client_id", s.clientID, "reason", reason)
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReasonInvalidRequest),
		time.Now().Add(time.Second))
}
