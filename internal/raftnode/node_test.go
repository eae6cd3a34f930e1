package raftnode

import (
	"context"
	"testing"
	"time"

	"github.com/quoradb/quoradb/internal/config"
	"github.com/quoradb/quoradb/internal/streamproto"
)

func singleNodeConfig(t *testing.T, raftAddr string) *config.NodeConfig {
	t.Helper()
	return &config.NodeConfig{
		Node: config.NodeInfo{
			ID:      "node-1",
			Listen:  "127.0.0.1:0",
			DataDir: t.TempDir(),
		},
		Cluster: []config.ClusterMember{
			{ID: "node-1", APIAddr: raftAddr, ClientAddr: "127.0.0.1:19201"},
		},
		Secret: "test-secret",
	}
}

func waitForLeader(t *testing.T, n *Node) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n.IsLeader() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("node never became leader")
}

func TestNode_SingleNodeBootstrapBecomesLeader(t *testing.T) {
	sql := &fakeSQL{executeFn: func(ctx context.Context, stmt streamproto.Statement) (streamproto.ExecuteResult, error) {
		return streamproto.ExecuteResult{AffectedRows: 1}, nil
	}}
	fsm := NewFSM(sql, &fakeCache{}, nil)
	cfg := singleNodeConfig(t, "127.0.0.1:18201")

	n, err := New(cfg, fsm, "127.0.0.1:18201", nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer n.Shutdown()

	waitForLeader(t, n)

	if got := n.LeaderAPIAddr(); got != "127.0.0.1:19201" {
		t.Fatalf("expected LeaderAPIAddr to resolve to the client-stream address, got %q", got)
	}
}

func TestNode_ApplyCommitsThroughFSM(t *testing.T) {
	sql := &fakeSQL{executeFn: func(ctx context.Context, stmt streamproto.Statement) (streamproto.ExecuteResult, error) {
		return streamproto.ExecuteResult{AffectedRows: 7}, nil
	}}
	fsm := NewFSM(sql, &fakeCache{}, nil)
	cfg := singleNodeConfig(t, "127.0.0.1:18202")

	n, err := New(cfg, fsm, "127.0.0.1:18202", nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer n.Shutdown()
	waitForLeader(t, n)

	req := &streamproto.Request{RequestID: 1, Tag: streamproto.TagExecute, Payload: streamproto.ExecutePayload{SQL: "INSERT"}}
	resp, err := n.Apply(context.Background(), "client-1", req)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if resp.Failed() {
		t.Fatalf("unexpected error response: %s", resp.Err)
	}
	result := resp.Payload.(streamproto.ExecuteResult)
	if result.AffectedRows != 7 {
		t.Fatalf("expected 7 affected rows, got %d", result.AffectedRows)
	}
}
