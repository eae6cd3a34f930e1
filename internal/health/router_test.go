package health

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quoradb/quoradb/internal/streamserver"
)

type fakeRaft struct {
	isLeader   bool
	leaderAddr string
	stats      map[string]string
}

func (f *fakeRaft) IsLeader() bool        { return f.isLeader }
func (f *fakeRaft) LeaderAPIAddr() string { return f.leaderAddr }
func (f *fakeRaft) Stats() map[string]string {
	if f.stats == nil {
		return map[string]string{}
	}
	return f.stats
}

type fakeSessions struct {
	snapshot []streamserver.SessionInfo
}

func (f *fakeSessions) Snapshot(bufferedFor func(string) int) []streamserver.SessionInfo {
	return f.snapshot
}
func (f *fakeSessions) Count() int { return len(f.snapshot) }

type fakeBuffers struct {
	lens map[string]int
}

func (f *fakeBuffers) Len(clientID string) int { return f.lens[clientID] }
func (f *fakeBuffers) ClientIDs() []string {
	ids := make([]string, 0, len(f.lens))
	for id := range f.lens {
		ids = append(ids, id)
	}
	return ids
}

func allowAllACL(t *testing.T) *ACL {
	t.Helper()
	_, cidr, err := net.ParseCIDR("0.0.0.0/0")
	if err != nil {
		t.Fatalf("parse cidr: %v", err)
	}
	return NewACL([]*net.IPNet{cidr})
}

func TestHealthHandler_ReportsLeaderUnknown(t *testing.T) {
	raft := &fakeRaft{isLeader: false, leaderAddr: ""}
	router := NewRouter(raft, &fakeSessions{}, &fakeBuffers{}, allowAllACL(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "leader_unknown" {
		t.Fatalf("expected leader_unknown status, got %q", resp.Status)
	}
}

func TestHealthHandler_ReportsOKWhenLeaderKnown(t *testing.T) {
	raft := &fakeRaft{isLeader: true, leaderAddr: "127.0.0.1:9000", stats: map[string]string{"state": "Leader"}}
	router := NewRouter(raft, &fakeSessions{}, &fakeBuffers{}, allowAllACL(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || !resp.Raft.IsLeader {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestMetricsHandler_AggregatesBufferedCounts(t *testing.T) {
	raft := &fakeRaft{isLeader: true, leaderAddr: "127.0.0.1:9000"}
	sessions := &fakeSessions{snapshot: []streamserver.SessionInfo{{ClientID: "a"}, {ClientID: "b"}}}
	buffers := &fakeBuffers{lens: map[string]int{"a": 2, "c": 5}}
	router := NewRouter(raft, sessions, buffers, allowAllACL(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp MetricsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ActiveSessions != 2 {
		t.Fatalf("expected 2 active sessions, got %d", resp.ActiveSessions)
	}
	if resp.TotalBuffered != 7 {
		t.Fatalf("expected 7 total buffered, got %d", resp.TotalBuffered)
	}
}

func TestSessionsHandler_ListsConnectedSessions(t *testing.T) {
	raft := &fakeRaft{isLeader: true}
	sessions := &fakeSessions{snapshot: []streamserver.SessionInfo{{ClientID: "client-1", InFlightRequests: 3}}}
	buffers := &fakeBuffers{lens: map[string]int{}}
	router := NewRouter(raft, sessions, buffers, allowAllACL(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp []SessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].ClientID != "client-1" || resp[0].InFlightRequests != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRouter_DeniesOutsideACL(t *testing.T) {
	_, cidr, _ := net.ParseCIDR("10.0.0.0/8")
	acl := NewACL([]*net.IPNet{cidr})
	router := NewRouter(&fakeRaft{}, &fakeSessions{}, &fakeBuffers{}, acl)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
