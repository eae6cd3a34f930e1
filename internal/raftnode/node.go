// Package raftnode adapts github.com/hashicorp/raft into the
// dispatch.RaftWriter seam the Request Dispatcher and the Leader
// Resolution & Retry Shim depend on. The consensus algorithm itself is an
// external collaborator, explicitly out of scope for this core; this
// package is the thin binding layer around it, grounded on the pack's
// gumlog reference's setupRaft wiring.
package raftnode

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/quoradb/quoradb/internal/apperrors"
	"github.com/quoradb/quoradb/internal/config"
	"github.com/quoradb/quoradb/internal/streamproto"
)

const applyTimeout = 10 * time.Second

// Node wraps a *raft.Raft instance and the FSM it drives.
type Node struct {
	raft        *raft.Raft
	fsm         *FSM
	transport   *raft.NetworkTransport
	clientAddrs map[raft.ServerID]string // raft server ID -> client-stream advertise address
}

// New wires a Raft instance per cfg: BoltDB stable store, file snapshot
// store, a TCP network transport (optionally TLS-wrapped), and
// raft.DefaultConfig() overridden by cfg.Raft where set.
func New(cfg *config.NodeConfig, fsm *FSM, raftBindAddr string, tlsConfig *tls.Config) (*Node, error) {
	raftDir := filepath.Join(cfg.Node.DataDir, "raft")
	if err := os.MkdirAll(raftDir, 0o755); err != nil {
		return nil, fmt.Errorf("raftnode: create data dir: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "stable.bolt"))
	if err != nil {
		return nil, fmt.Errorf("raftnode: open stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(raftDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftnode: open snapshot store: %w", err)
	}

	streamLayer, err := newTCPStreamLayer(raftBindAddr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("raftnode: listen %s: %w", raftBindAddr, err)
	}

	transport := raft.NewNetworkTransport(streamLayer, 3, 10*time.Second, os.Stderr)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.Node.ID)
	if cfg.Raft.HeartbeatTimeout != 0 {
		raftConfig.HeartbeatTimeout = cfg.Raft.HeartbeatTimeout
	}
	if cfg.Raft.ElectionTimeout != 0 {
		raftConfig.ElectionTimeout = cfg.Raft.ElectionTimeout
	}
	if cfg.Raft.CommitTimeout != 0 {
		raftConfig.CommitTimeout = cfg.Raft.CommitTimeout
	}
	if cfg.Raft.SnapshotInterval != 0 {
		raftConfig.SnapshotInterval = cfg.Raft.SnapshotInterval
	}

	r, err := raft.NewRaft(raftConfig, fsm, stableStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("raftnode: new raft: %w", err)
	}

	hasState, err := raft.HasExistingState(stableStore, stableStore, snapshotStore)
	if err != nil {
		return nil, fmt.Errorf("raftnode: check existing state: %w", err)
	}
	if !hasState {
		servers := make([]raft.Server, 0, len(cfg.Cluster))
		for _, m := range cfg.Cluster {
			servers = append(servers, raft.Server{ID: raft.ServerID(m.ID), Address: raft.ServerAddress(m.APIAddr)})
		}
		if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
			return nil, fmt.Errorf("raftnode: bootstrap cluster: %w", err)
		}
	}

	clientAddrs := make(map[raft.ServerID]string, len(cfg.Cluster))
	for _, m := range cfg.Cluster {
		clientAddrs[raft.ServerID(m.ID)] = m.ClientAddr
	}

	return &Node{raft: r, fsm: fsm, transport: transport, clientAddrs: clientAddrs}, nil
}

// Apply satisfies dispatch.RaftWriter: it submits a write-category request
// as a single Raft log entry and waits for the FSM's committed response.
// Non-leader nodes return ErrNotLeader without contacting the cluster; the
// retry shim (component F) is responsible for re-resolving the leader and
// forwarding there.
func (n *Node) Apply(ctx context.Context, clientID string, req *streamproto.Request) (*streamproto.Response, error) {
	if n.raft.State() != raft.Leader {
		return nil, apperrors.ErrNotLeader
	}

	data, err := encodeCommand(command{ClientID: clientID, Request: req})
	if err != nil {
		return nil, err
	}

	timeout := applyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrLeadershipLost || err == raft.ErrNotLeader || err == raft.ErrRaftShutdown {
			return nil, apperrors.ErrLeaderChanged
		}
		return nil, fmt.Errorf("raftnode: apply: %w", err)
	}

	switch resp := future.Response().(type) {
	case *streamproto.Response:
		return resp, nil
	case error:
		return nil, fmt.Errorf("raftnode: fsm apply: %w", resp)
	default:
		return nil, fmt.Errorf("raftnode: unexpected fsm response type %T", resp)
	}
}

// IsLeader reports whether this node currently believes itself to be the
// Raft leader — the retry shim's in-process fast path (SPEC_FULL §12.3),
// which never touches the network even to localhost.
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// LeaderAPIAddr returns the currently known leader's client-stream
// advertise address — where its streamserver WebSocket listener can be
// reached — or "" if no leader is known. raft.LeaderWithID's own address
// is the Raft network-transport address, which speaks the Raft RPC
// protocol, not WebSocket, so it is only used here to look up the
// leader's ID in cfg.Cluster's client_addr mapping.
func (n *Node) LeaderAPIAddr() string {
	_, id := n.raft.LeaderWithID()
	if id == "" {
		return ""
	}
	return n.clientAddrs[id]
}

// VerifyLeader issues a linearizable read barrier: it blocks until every
// write committed before this call is visible locally, without adding a
// new log entry. Used by QueryConsistent before a local read.
func (n *Node) VerifyLeader(ctx context.Context) error {
	if n.raft.State() != raft.Leader {
		return apperrors.ErrNotLeader
	}
	future := n.raft.VerifyLeader()
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftnode: verify leader: %w", err)
	}
	return nil
}

// AddVoter adds a new voting member to the cluster; called when
// provisioning a new node beyond the static bootstrap list.
func (n *Node) AddVoter(id, addr string) error {
	return n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 0).Error()
}

// Shutdown stops the Raft instance and releases its transport.
func (n *Node) Shutdown() error {
	if err := n.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("raftnode: shutdown: %w", err)
	}
	return n.transport.Close()
}

// Stats exposes raft.Raft.Stats(); the health endpoint reports a subset of it.
func (n *Node) Stats() map[string]string {
	return n.raft.Stats()
}
