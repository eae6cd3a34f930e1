package streamserver

import (
	"sync"
	"sync/atomic"
	"time"
)

// SessionInfo is a point-in-time snapshot of one connected session, used by
// the observability API's sessions endpoint.
type SessionInfo struct {
	ClientID          string
	ConnectedAt       time.Time
	InFlightRequests  int64
	BufferedResponses int64
}

// Tracker records every currently Running session so the observability API
// can snapshot them without reaching into session internals. The zero value
// is ready to use.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
}

type trackedSession struct {
	clientID    string
	connectedAt time.Time
	inFlight    atomic.Int64
}

func (t *Tracker) register(clientID string) *trackedSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	ts := &trackedSession{clientID: clientID, connectedAt: time.Now()}
	t.sessions[clientID] = ts
	return ts
}

func (t *Tracker) unregister(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, clientID)
}

// Snapshot returns the currently connected sessions. bufferedFor reports the
// undelivered response count for a ClientId from the ClientBuffer registry,
// since a session's own buffer only fills once it starts Closing.
func (t *Tracker) Snapshot(bufferedFor func(clientID string) int) []SessionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SessionInfo, 0, len(t.sessions))
	for _, ts := range t.sessions {
		out = append(out, SessionInfo{
			ClientID:          ts.clientID,
			ConnectedAt:       ts.connectedAt,
			InFlightRequests:  ts.inFlight.Load(),
			BufferedResponses: int64(bufferedFor(ts.clientID)),
		})
	}
	return out
}

// Count reports how many sessions are currently Running.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
