package health

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status    string         `json:"status"` // ok | leader_unknown
	Uptime    string         `json:"uptime"`
	Version   string         `json:"version"`
	Go        string         `json:"go"`
	Raft      RaftHealth     `json:"raft"`
	Resources *ResourceStats `json:"resources,omitempty"`
	Runtime   *RuntimeStats  `json:"runtime,omitempty"`
}

// RaftHealth mirrors the fields the original hiqlite health() handler
// inspects: running_state and current_leader, surfaced distinctly so a
// caller can tell "no leader yet" from a generic failure.
type RaftHealth struct {
	State      string `json:"state"`
	IsLeader   bool   `json:"is_leader"`
	LeaderAddr string `json:"leader_addr,omitempty"`
	AppliedIndex string `json:"applied_index,omitempty"`
	LastLogIndex string `json:"last_log_index,omitempty"`
	Term         string `json:"term,omitempty"`
}

// RuntimeStats reports Go process-level runtime metrics.
type RuntimeStats struct {
	GoRoutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	HeapSysMB   float64 `json:"heap_sys_mb"`
	GCCycles    uint32  `json:"gc_cycles"`
	CPUCores    int     `json:"cpu_cores"`
}

// MetricsResponse is returned by GET /api/v1/metrics.
type MetricsResponse struct {
	ActiveSessions     int        `json:"active_sessions"`
	BufferedByClient   map[string]int `json:"buffered_by_client,omitempty"`
	TotalBuffered      int        `json:"total_buffered"`
	Raft               RaftHealth `json:"raft"`
}

// SessionSummary is one entry of GET /api/v1/sessions.
type SessionSummary struct {
	ClientID          string `json:"client_id"`
	ConnectedAt       string `json:"connected_at"`
	InFlightRequests  int64  `json:"in_flight_requests"`
	BufferedResponses int64  `json:"buffered_responses"`
}
