package topology

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/cKV/lib/slot"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("topology")

var (
	refreshSuccess = metrics.NewCounter(`ckv_topology_refreshes_total{result="success"}`)
	refreshFailure = metrics.NewCounter(`ckv_topology_refreshes_total{result="failure"}`)
	movedApplied   = metrics.NewCounter(`ckv_topology_moved_applied_total`)
)

// ShardLister asks one node for the shard list of the cluster
type ShardLister interface {
	ClusterShards(ctx context.Context, addr string) ([]common.ShardInfo, error)
}

// Manager owns the slot to node map of one client.
//
// Readers never block: Resolve reads the current snapshot through an atomic
// pointer. Refresh builds a complete new snapshot and swaps it in, so concurrent
// refreshes end with the snapshot of the last one to finish.
type Manager struct {
	seeds     []string
	lister    ShardLister
	current   atomic.Pointer[Snapshot]
	refreshed atomic.Bool
	suspects  *xsync.MapOf[string, time.Time]
}

// NewManager creates a manager that discovers the cluster through the seeds.
// No request is sent before the first Refresh.
func NewManager(seeds []string, lister ShardLister) *Manager {
	m := &Manager{
		seeds:    append([]string(nil), seeds...),
		lister:   lister,
		suspects: xsync.NewMapOf[string, time.Time](),
	}
	m.current.Store(emptySnapshot())
	return m
}

// Refresh asks the known nodes, then the seeds, for the shard list and
// replaces the snapshot with the first valid answer. Suspect nodes are asked
// last. If no node answers, the previous snapshot is kept and the errors of
// all attempts are returned.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs *multierror.Error

	for _, addr := range m.candidates() {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}

		infos, err := m.lister.ClusterShards(ctx, addr)
		if err != nil {
			Logger.Debugf("Refresh via %s failed: %v", addr, err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}

		snap, err := NewSnapshot(infos)
		if err != nil {
			Logger.Warningf("Node %s reported an inconsistent layout: %v", addr, err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}

		m.current.Store(snap)
		m.refreshed.Store(true)
		m.suspects.Clear()
		refreshSuccess.Inc()
		Logger.Infof("Topology refreshed via %s: %d shards, %d/%d slots covered", addr, len(snap.shards), snap.Covered(), slot.Count)
		return nil
	}

	refreshFailure.Inc()
	if errs == nil {
		return fmt.Errorf("topology refresh failed: no seed nodes configured")
	}
	return fmt.Errorf("topology refresh failed: %w", errs.ErrorOrNil())
}

// Resolve returns the owner of a slot
func (m *Manager) Resolve(s uint16) (*Node, error) {
	if node := m.current.Load().Owner(s); node != nil {
		return node, nil
	}
	return nil, &TopologyError{Slot: s}
}

// ResolveKey returns the owner of the slot of a key
func (m *Manager) ResolveKey(key string) (*Node, error) {
	return m.Resolve(slot.Of(key))
}

// ApplyMoved rebinds a slot to the node at addr in the current snapshot.
// Unknown nodes are registered as primaries.
func (m *Manager) ApplyMoved(s uint16, addr string) (*Node, error) {
	if !slot.Valid(int(s)) {
		return nil, fmt.Errorf("invalid slot %d", s)
	}
	node, err := m.current.Load().rebind(s, addr)
	if err != nil {
		return nil, err
	}
	movedApplied.Inc()
	Logger.Debugf("Slot %d moved to %s", s, addr)
	return node, nil
}

// Snapshot returns the current snapshot
func (m *Manager) Snapshot() *Snapshot {
	return m.current.Load()
}

// Ready reports whether a refresh has succeeded at least once
func (m *Manager) Ready() bool {
	return m.refreshed.Load()
}

// AllNodes returns every known node
func (m *Manager) AllNodes() []*Node {
	return m.current.Load().collect(func(*Node) bool { return true })
}

// Primaries returns every known primary
func (m *Manager) Primaries() []*Node {
	return m.current.Load().collect(func(n *Node) bool { return n.Role == RolePrimary })
}

// Replicas returns every known replica
func (m *Manager) Replicas() []*Node {
	return m.current.Load().collect(func(n *Node) bool { return n.Role == RoleReplica })
}

// MarkSuspect flags a node after a connection failure. Suspect nodes are asked
// last on the next refresh. A successful refresh clears all marks.
func (m *Manager) MarkSuspect(addr string) {
	m.suspects.Store(addr, time.Now())
	Logger.Warningf("Node %s marked suspect", addr)
}

// IsSuspect reports whether a node was marked suspect since the last refresh
func (m *Manager) IsSuspect(addr string) bool {
	_, ok := m.suspects.Load(addr)
	return ok
}

// candidates returns the addresses to ask on refresh: healthy known nodes,
// then seeds, then suspects, each address once
func (m *Manager) candidates() []string {
	seen := make(map[string]bool)
	var healthy, suspect []string

	add := func(addr string) {
		if seen[addr] {
			return
		}
		seen[addr] = true
		if m.IsSuspect(addr) {
			suspect = append(suspect, addr)
		} else {
			healthy = append(healthy, addr)
		}
	}

	for _, n := range m.AllNodes() {
		add(n.Addr())
	}
	for _, s := range m.seeds {
		add(s)
	}
	return append(healthy, suspect...)
}
