package topology

import (
	"fmt"
	"github.com/ValentinKolb/cKV/lib/slot"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

// Role is the role of a node in its shard
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

func (r Role) String() string {
	if r == RoleReplica {
		return "replica"
	}
	return "primary"
}

// parseRole maps the role string of a ClusterShards reply to a Role
func parseRole(s string) Role {
	if s == "replica" || s == "slave" {
		return RoleReplica
	}
	return RolePrimary
}

// Node is a server node of the cluster
type Node struct {
	ID        string
	Host      string
	Port      int
	Role      Role
	PrimaryID string
	// Replicas is only set for primaries
	Replicas []*Node
}

// Addr returns host:port of the node, or the socket path for unix nodes
func (n *Node) Addr() string {
	if n.Port == 0 {
		return n.Host
	}
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

func (n *Node) String() string {
	if n.ID == "" {
		return fmt.Sprintf("%s(%s)", n.Addr(), n.Role)
	}
	return fmt.Sprintf("%s@%s(%s)", n.ID, n.Addr(), n.Role)
}

// SlotRange is an inclusive range of slots
type SlotRange struct {
	Start uint16
	End   uint16
}

// Contains reports whether s lies within the range
func (r SlotRange) Contains(s uint16) bool {
	return s >= r.Start && s <= r.End
}

// Len returns the number of slots in the range
func (r SlotRange) Len() int {
	return int(r.End) - int(r.Start) + 1
}

// Shard is a primary, its replicas and the slot ranges they serve
type Shard struct {
	Primary  *Node
	Replicas []*Node
	Ranges   []SlotRange
}

// TopologyError is returned when no owner is known for a slot
type TopologyError struct {
	Slot uint16
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("topology: no owner known for slot %d", e.Slot)
}

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

// Snapshot is one view of the cluster. The shard list is fixed once the
// snapshot is built. Slot owners can be rebound one at a time by a MOVED
// redirect; every slot is an atomic pointer so readers never see a torn entry.
type Snapshot struct {
	slots  [slot.Count]atomic.Pointer[Node]
	nodes  *xsync.MapOf[string, *Node] // by address
	shards []Shard
}

// emptySnapshot returns a snapshot without any owner
func emptySnapshot() *Snapshot {
	return &Snapshot{nodes: xsync.NewMapOf[string, *Node]()}
}

// NewSnapshot builds a snapshot from a ClusterShards reply. Overlapping or out
// of range slot ranges are rejected. Slots not covered by any shard have no owner.
func NewSnapshot(infos []common.ShardInfo) (*Snapshot, error) {
	snap := emptySnapshot()

	for i, info := range infos {
		var shard Shard

		// nodes
		for _, ni := range info.Nodes {
			node := &Node{
				ID:        ni.ID,
				Host:      ni.Host,
				Port:      ni.Port,
				Role:      parseRole(ni.Role),
				PrimaryID: ni.PrimaryID,
			}
			if node.Role == RolePrimary {
				if shard.Primary != nil {
					return nil, fmt.Errorf("shard %d reports more than one primary", i)
				}
				shard.Primary = node
			} else {
				shard.Replicas = append(shard.Replicas, node)
			}
		}
		if shard.Primary == nil {
			// a shard whose primary failed has no writable owner yet
			if len(info.Slots) > 0 {
				return nil, fmt.Errorf("shard %d owns slots but has no primary", i)
			}
			for _, r := range shard.Replicas {
				snap.nodes.Store(r.Addr(), r)
			}
			continue
		}
		shard.Primary.Replicas = shard.Replicas
		snap.nodes.Store(shard.Primary.Addr(), shard.Primary)
		for _, r := range shard.Replicas {
			snap.nodes.Store(r.Addr(), r)
		}

		// slots
		for _, rng := range info.Slots {
			if rng[0] < 0 || rng[1] > slot.Max || rng[0] > rng[1] {
				return nil, fmt.Errorf("shard %d reports invalid slot range %d-%d", i, rng[0], rng[1])
			}
			r := SlotRange{Start: uint16(rng[0]), End: uint16(rng[1])}
			for s := rng[0]; s <= rng[1]; s++ {
				if prev := snap.slots[s].Load(); prev != nil {
					return nil, fmt.Errorf("slot %d is claimed by %s and %s", s, prev.Addr(), shard.Primary.Addr())
				}
				snap.slots[s].Store(shard.Primary)
			}
			shard.Ranges = append(shard.Ranges, r)
		}

		snap.shards = append(snap.shards, shard)
	}

	return snap, nil
}

// Owner returns the owner of a slot or nil
func (s *Snapshot) Owner(sl uint16) *Node {
	if int(sl) >= slot.Count {
		return nil
	}
	return s.slots[sl].Load()
}

// Shards returns the shards the snapshot was built from
func (s *Snapshot) Shards() []Shard {
	return s.shards
}

// Node returns the node with the given address
func (s *Snapshot) Node(addr string) (*Node, bool) {
	return s.nodes.Load(addr)
}

// Covered returns the number of slots with an owner
func (s *Snapshot) Covered() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].Load() != nil {
			n++
		}
	}
	return n
}

// rebind points a slot to the node with the given address, registering
// the node as a primary if it is not known yet
func (s *Snapshot) rebind(sl uint16, addr string) (*Node, error) {
	node, ok := s.nodes.Load(addr)
	if !ok && strings.HasPrefix(addr, "/") {
		node, _ = s.nodes.LoadOrStore(addr, &Node{Host: addr, Role: RolePrimary})
	} else if !ok {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid node address %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid node port %q: %w", addr, err)
		}
		node, _ = s.nodes.LoadOrStore(addr, &Node{Host: host, Port: port, Role: RolePrimary})
	}
	s.slots[sl].Store(node)
	return node, nil
}

// collect returns the nodes matching the filter, sorted by address
func (s *Snapshot) collect(filter func(*Node) bool) []*Node {
	var out []*Node
	s.nodes.Range(func(_ string, n *Node) bool {
		if filter(n) {
			out = append(out, n)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Addr() < out[j].Addr() })
	return out
}
