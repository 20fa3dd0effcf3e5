// Transport wraps hashicorp/raft the same way cuemby-warren's pkg/manager
// wraps it for cluster state: NewTCPTransport, FileSnapshotStore, a bbolt
// log/stable store, Bootstrap for a fresh single-node cluster, Join for an
// already-bootstrapped node waiting to be added as a voter, and Propose as
// the write path internal/dispatch calls instead of touching raft.Raft
// directly. See the package doc in fsm.go for why Raft (leader-based)
// stands in for the spec's leaderless design.
package consensus

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/metrics"
)

// Config holds the Raft tuning parameters, grounded on manager.go's
// Bootstrap/Join (500ms heartbeat/election timeouts, tuned for LAN/edge
// rather than raft's WAN-conservative defaults).
type Config struct {
	NodeID           string
	BindAddr         string
	DataDir          string
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	ApplyTimeout     time.Duration
}

// Transport is the consensus handle internal/dispatch and cmd/strata hold.
type Transport struct {
	cfg  Config
	raft *raft.Raft
	fsm  *FSM
}

// New builds the Raft transport (TCP transport, bbolt log/stable stores,
// file snapshot store) and constructs the raft.Raft instance, but neither
// bootstraps nor joins a cluster — callers call Bootstrap or Join next,
// mirroring manager.go's NewManager/Bootstrap split.
func New(cfg Config, fsm *FSM) (*Transport, error) {
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 500 * time.Millisecond
	}
	if cfg.ElectionTimeout == 0 {
		cfg.ElectionTimeout = 500 * time.Millisecond
	}
	if cfg.ApplyTimeout == 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.HeartbeatTimeout = cfg.HeartbeatTimeout
	raftConfig.ElectionTimeout = cfg.ElectionTimeout
	raftConfig.LeaderLeaseTimeout = cfg.HeartbeatTimeout / 2

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, apierr.Fatal(err, "resolve raft bind address %s", cfg.BindAddr)
	}
	tcpTransport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, apierr.Fatal(err, "create raft tcp transport")
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, apierr.Fatal(err, "create raft snapshot store")
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, apierr.Fatal(err, "create raft log store")
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, apierr.Fatal(err, "create raft stable store")
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, tcpTransport)
	if err != nil {
		return nil, apierr.Fatal(err, "create raft instance")
	}

	return &Transport{cfg: cfg, raft: r, fsm: fsm}, nil
}

// Bootstrap forms a brand-new single-node cluster with this node as the
// only voter, per manager.go's Bootstrap.
func (t *Transport) Bootstrap() error {
	cfg := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(t.cfg.NodeID), Address: raft.ServerAddress(t.cfg.BindAddr)},
		},
	}
	future := t.raft.BootstrapCluster(cfg)
	if err := future.Error(); err != nil {
		return apierr.Fatal(err, "bootstrap raft cluster")
	}
	return nil
}

// Join starts this node's raft instance without bootstrapping a
// configuration of its own; the node stays idle until an external call
// (the leader's AddVoter, driven by internal/grpcapi's join RPC, the
// out-of-scope transport layer's concern per spec §1) adds it as a voter.
// This mirrors manager.go's Join, minus the RPC dial itself — that belongs
// to the transport, not this package.
func (t *Transport) Join() error {
	return nil
}

// AddVoter adds nodeID at addr as a voter; only the current leader can do
// this, per manager.go's AddVoter.
func (t *Transport) AddVoter(nodeID, addr string) error {
	if !t.IsLeader() {
		return apierr.Unavailable("not the leader, current leader is %s", t.LeaderAddr())
	}
	future := t.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return apierr.Unavailable("add voter %s: %v", nodeID, err)
	}
	return nil
}

// RemoveServer removes nodeID from the cluster configuration.
func (t *Transport) RemoveServer(nodeID string) error {
	if !t.IsLeader() {
		return apierr.Unavailable("not the leader, current leader is %s", t.LeaderAddr())
	}
	future := t.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return apierr.Unavailable("remove server %s: %v", nodeID, err)
	}
	return nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (t *Transport) IsLeader() bool {
	return t.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's bind address, empty if unknown.
func (t *Transport) LeaderAddr() string {
	addr, _ := t.raft.LeaderWithID()
	return string(addr)
}

// Stats mirrors manager.go's GetRaftStats, exported for internal/metrics
// collection and the GetStats command.
func (t *Transport) Stats() map[string]string {
	return t.raft.Stats()
}

// Propose submits payload (a tag byte plus codec-encoded body, per spec
// §4.I) to the replicated log and blocks until it commits, per spec §4.H's
// "propose, then agree through pre-accept/accept/commit" — under Raft this
// is a single Raft.Apply call, since Raft already performs the equivalent
// of pre-accept+accept+commit internally. Returns apierr.Unavailable if the
// cluster can't reach quorum within ctx's deadline (spec §7's "Unavailable:
// consensus stalled below quorum").
func (t *Transport) Propose(ctx context.Context, payload []byte) (uint64, []byte, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftProposeDuration)

	timeout := t.cfg.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	future := t.raft.Apply(payload, timeout)
	if err := future.Error(); err != nil {
		return 0, nil, apierr.Unavailable("propose transaction: %v", err)
	}

	result, ok := future.Response().(ApplyResult)
	if !ok {
		return 0, nil, apierr.Fatal(nil, "propose transaction: fsm returned unexpected response type")
	}
	if result.Err != nil {
		return result.EventID, result.Result, result.Err
	}
	return result.EventID, result.Result, nil
}

// Shutdown stops the Raft instance, waiting for it to fully halt.
func (t *Transport) Shutdown() error {
	future := t.raft.Shutdown()
	if err := future.Error(); err != nil {
		return fmt.Errorf("consensus: shutdown: %w", err)
	}
	return nil
}
