// Package health implements the node's observability HTTP API (SPEC_FULL
// §13): health, metrics and sessions endpoints guarded by an IP/CIDR ACL,
// adapted from the teacher's internal/server/observability package and
// trimmed to this domain (no embedded SPA, no JSONL session history).
package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/quoradb/quoradb/internal/streamserver"
)

// Version is set via -ldflags at build time.
var Version = "dev"

var startTime = time.Now()

// RaftStatus is the narrow seam this package needs from internal/raftnode,
// avoiding a direct dependency on the concrete *raftnode.Node type.
type RaftStatus interface {
	IsLeader() bool
	LeaderAPIAddr() string
	Stats() map[string]string
}

// SessionSource reports currently connected client-stream sessions; backed
// by *streamserver.Tracker in production.
type SessionSource interface {
	Snapshot(bufferedFor func(clientID string) int) []streamserver.SessionInfo
	Count() int
}

// BufferSource reports the Per-Client Buffer Registry's undelivered frame
// counts; backed by *clientbuf.Registry in production.
type BufferSource interface {
	Len(clientID string) int
	ClientIDs() []string
}

// NewRouter builds the observability API's http.Handler, with the ACL
// middleware applied to every route.
func NewRouter(raft RaftStatus, sessions SessionSource, buffers BufferSource, acl *ACL) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", makeHealthHandler(raft))
	mux.HandleFunc("GET /api/v1/metrics", makeMetricsHandler(raft, sessions, buffers))
	mux.HandleFunc("GET /api/v1/sessions", makeSessionsHandler(sessions, buffers))
	return acl.Middleware(mux)
}

func raftHealth(raft RaftStatus) RaftHealth {
	stats := raft.Stats()
	return RaftHealth{
		State:        stats["state"],
		IsLeader:     raft.IsLeader(),
		LeaderAddr:   raft.LeaderAPIAddr(),
		AppliedIndex: stats["applied_index"],
		LastLogIndex: stats["last_log_index"],
		Term:         stats["term"],
	}
}

// makeHealthHandler mirrors the original's network/api.rs::health: it
// inspects running_state/current_leader and reports "no leader elected"
// distinctly from a generic failure rather than collapsing both to one
// status string.
func makeHealthHandler(raft RaftStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rh := raftHealth(raft)

		status := http.StatusOK
		body := HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: Version,
			Go:      runtime.Version(),
			Raft:    rh,
			Runtime: runtimeStats(),
		}

		if rh.LeaderAddr == "" && !rh.IsLeader {
			status = http.StatusServiceUnavailable
			body.Status = "leader_unknown"
		}

		writeJSON(w, status, body)
	}
}

func runtimeStats() *RuntimeStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return &RuntimeStats{
		GoRoutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / (1024 * 1024),
		HeapSysMB:   float64(mem.HeapSys) / (1024 * 1024),
		GCCycles:    mem.NumGC,
		CPUCores:    runtime.NumCPU(),
	}
}

func makeMetricsHandler(raft RaftStatus, sessions SessionSource, buffers BufferSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		byClient := make(map[string]int)
		total := 0
		for _, id := range buffers.ClientIDs() {
			n := buffers.Len(id)
			if n > 0 {
				byClient[id] = n
				total += n
			}
		}
		writeJSON(w, http.StatusOK, MetricsResponse{
			ActiveSessions:   sessions.Count(),
			BufferedByClient: byClient,
			TotalBuffered:    total,
			Raft:             raftHealth(raft),
		})
	}
}

func makeSessionsHandler(sessions SessionSource, buffers BufferSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := sessions.Snapshot(buffers.Len)
		out := make([]SessionSummary, 0, len(snap))
		for _, s := range snap {
			out = append(out, SessionSummary{
				ClientID:          s.ClientID,
				ConnectedAt:       s.ConnectedAt.Format(time.RFC3339),
				InFlightRequests:  s.InFlightRequests,
				BufferedResponses: s.BufferedResponses,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
