package server

import (
	"fmt"
	"github.com/ValentinKolb/cKV/lib/slot"
	"github.com/ValentinKolb/cKV/lib/store/memstore"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/ValentinKolb/cKV/rpc/serializer"
	"github.com/ValentinKolb/cKV/rpc/transport"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// TransportFactory creates the server transport of one node
type TransportFactory func() transport.IRPCServerTransport

// DevCluster is a set of in-process nodes that behave like a cluster towards
// clients: every slot has exactly one primary, requests for foreign slots are
// answered with MOVED, and slots can be migrated between primaries, which
// produces ASK redirects while the migration is in progress.
//
// Nodes share the slot map directly instead of gossiping, and replicas hold
// no data.
type DevCluster struct {
	config    common.ServerConfig
	nodes     []*Node
	byAddr    map[string]*Node
	startedAt time.Time

	mu         sync.RWMutex
	owners     [slot.Count]*Node
	migrations map[uint16]*Node // slot -> importing node

	scriptsEnabled atomic.Bool
	wg             sync.WaitGroup
	closed         atomic.Bool
}

// NewDevCluster creates the nodes of a cluster and binds their listeners.
// The slots are split evenly across the shards. Call Start to accept connections.
//
// Usage:
//
//	c, err := server.NewDevCluster(
//		config,
//		tcp.NewTCPServerTransport,
//		serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//		panic(err)
//	}
//	c.Start()
//	defer c.Close()
func NewDevCluster(config common.ServerConfig, newTransport TransportFactory, ser serializer.IRPCSerializer) (*DevCluster, error) {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if config.Shards < 1 {
		return nil, fmt.Errorf("a cluster needs at least one shard, got %d", config.Shards)
	}
	if config.Shards > slot.Count {
		return nil, fmt.Errorf("a cluster can have at most %d shards, got %d", slot.Count, config.Shards)
	}
	if config.ReplicasPerShard < 0 {
		return nil, fmt.Errorf("replicas per shard must not be negative, got %d", config.ReplicasPerShard)
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.SocketDir != "" {
		dir, err := filepath.Abs(config.SocketDir)
		if err != nil {
			return nil, fmt.Errorf("invalid socket dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create socket dir: %w", err)
		}
		config.SocketDir = dir
	}

	c := &DevCluster{
		config:     config,
		byAddr:     make(map[string]*Node),
		startedAt:  time.Now(),
		migrations: make(map[uint16]*Node),
	}
	c.scriptsEnabled.Store(!config.DisableScripts)

	index := 0
	newNode := func(role string, primary *Node) (*Node, error) {
		tcfg := config.Transport
		tcfg.Endpoint = c.endpoint(index)
		tcfg.WriteTimeoutSecond = config.TimeoutSecond
		index++

		t := newTransport()
		if err := t.Listen(tcfg); err != nil {
			return nil, fmt.Errorf("node %d: %w", index-1, err)
		}

		n := &Node{
			ID:            strings.ReplaceAll(uuid.NewString(), "-", ""),
			Addr:          t.Addr(),
			Role:          role,
			primary:       primary,
			cluster:       c,
			store:         memstore.NewMemStore(),
			transport:     t,
			serializer:    ser,
			password:      config.Password,
			startedAt:     c.startedAt,
			loadedScripts: xsync.NewMapOf[string, scriptFunc](),
		}
		n.storeAdapter = NewStoreServerAdapter(n.store)
		n.scriptAdapter = NewScriptServerAdapter(n.store, n.loadedScripts, &c.scriptsEnabled)
		n.clusterAdpt = NewClusterServerAdapter(n)
		n.registerTransportHandler()

		c.nodes = append(c.nodes, n)
		c.byAddr[n.Addr] = n
		return n, nil
	}

	for shard := 0; shard < config.Shards; shard++ {
		primary, err := newNode("primary", nil)
		if err != nil {
			c.Close()
			return nil, err
		}
		for r := 0; r < config.ReplicasPerShard; r++ {
			replica, err := newNode("replica", primary)
			if err != nil {
				c.Close()
				return nil, err
			}
			primary.replicas = append(primary.replicas, replica)
		}

		start := shard * slot.Count / config.Shards
		end := (shard+1)*slot.Count/config.Shards - 1
		for s := start; s <= end; s++ {
			c.owners[s] = primary
		}
	}

	Logger.Infof("Created development cluster with %d nodes", len(c.nodes))
	Logger.Infof(config.String())
	return c, nil
}

// Start accepts connections on all nodes
func (c *DevCluster) Start() {
	for _, n := range c.nodes {
		c.wg.Add(1)
		go func(n *Node) {
			defer c.wg.Done()
			if err := n.transport.Serve(); err != nil {
				Logger.Errorf("Node %s stopped: %v", n.Addr, err)
			}
		}(n)
	}
}

// Wait blocks until all nodes stopped serving
func (c *DevCluster) Wait() {
	c.wg.Wait()
}

// Close stops all nodes
func (c *DevCluster) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	var errs *multierror.Error
	for _, n := range c.nodes {
		if err := n.transport.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", n.Addr, err))
		}
		if err := n.store.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", n.Addr, err))
		}
	}
	c.wg.Wait()
	return errs.ErrorOrNil()
}

// Seeds returns the addresses of all primaries
func (c *DevCluster) Seeds() []string {
	var out []string
	for _, n := range c.nodes {
		if n.IsPrimary() {
			out = append(out, n.Addr)
		}
	}
	return out
}

// Nodes returns all nodes in creation order
func (c *DevCluster) Nodes() []*Node {
	return append([]*Node(nil), c.nodes...)
}

// Node returns the node listening on addr
func (c *DevCluster) Node(addr string) (*Node, bool) {
	n, ok := c.byAddr[addr]
	return n, ok
}

// Owner returns the primary that owns a slot
func (c *DevCluster) Owner(s uint16) *Node {
	owner, _ := c.slotState(s)
	return owner
}

// SetScripting enables or disables script registration on all nodes.
// Scripts already registered stay available.
func (c *DevCluster) SetScripting(enabled bool) {
	c.scriptsEnabled.Store(enabled)
}

// Kill stops one node. Clients see connection errors, and the node is
// reported as failed by cluster replies.
func (c *DevCluster) Kill(addr string) error {
	n, ok := c.byAddr[addr]
	if !ok {
		return fmt.Errorf("unknown node %s", addr)
	}
	n.down.Store(true)
	return n.transport.Close()
}

// --------------------------------------------------------------------------
// Slot migration
// --------------------------------------------------------------------------

// BeginMigration starts moving a slot from its owner to the primary at
// targetAddr. Until FinishMigration the owner answers ASK for keys it does
// not hold and the target serves requests preceded by ASKING.
func (c *DevCluster) BeginMigration(s uint16, targetAddr string) error {
	target, ok := c.byAddr[targetAddr]
	if !ok || !target.IsPrimary() {
		return fmt.Errorf("%s is not a primary of this cluster", targetAddr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owners[s] == target {
		return fmt.Errorf("slot %d is already owned by %s", s, targetAddr)
	}
	if _, busy := c.migrations[s]; busy {
		return fmt.Errorf("slot %d is already migrating", s)
	}
	c.migrations[s] = target
	Logger.Infof("Slot %d migrating from %s to %s", s, c.owners[s].Addr, targetAddr)
	return nil
}

// MigrateKey moves one key of a migrating slot to the importing node
func (c *DevCluster) MigrateKey(key string) error {
	s := slot.Of(key)
	c.mu.RLock()
	source, target := c.owners[s], c.migrations[s]
	c.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("slot %d is not migrating", s)
	}
	return moveKeys(source, target, s, key)
}

// FinishMigration moves the remaining keys of the slot and hands ownership to
// the importing node. Afterwards the old owner answers MOVED.
func (c *DevCluster) FinishMigration(s uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := c.migrations[s]
	if !ok {
		return fmt.Errorf("slot %d is not migrating", s)
	}
	source := c.owners[s]

	if err := moveKeys(source, target, s, ""); err != nil {
		return err
	}

	c.owners[s] = target
	delete(c.migrations, s)
	Logger.Infof("Slot %d now owned by %s", s, target.Addr)
	return nil
}

// MoveSlot migrates a slot in one step
func (c *DevCluster) MoveSlot(s uint16, targetAddr string) error {
	if err := c.BeginMigration(s, targetAddr); err != nil {
		return err
	}
	return c.FinishMigration(s)
}

// moveKeys copies the keys of a slot (or only key, if set) and deletes them at the source
func moveKeys(source, target *Node, s uint16, key string) error {
	entries, err := source.store.DumpSlot(s)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if key != "" && e.Key != key {
			continue
		}
		if err := target.store.Restore(e); err != nil {
			return fmt.Errorf("restore %s on %s: %w", e.Key, target.Addr, err)
		}
		if _, err := source.store.Delete(e.Key); err != nil {
			return fmt.Errorf("delete %s on %s: %w", e.Key, source.Addr, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// slotState returns the owner of a slot and the importing node, if the slot migrates
func (c *DevCluster) slotState(s uint16) (owner, target *Node) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owners[s], c.migrations[s]
}

// shards builds the ClusterShards reply from the slot map
func (c *DevCluster) shards() []common.ShardInfo {
	c.mu.RLock()
	ranges := make(map[*Node][][2]int)
	for s := 0; s < slot.Count; {
		owner := c.owners[s]
		end := s
		for end+1 < slot.Count && c.owners[end+1] == owner {
			end++
		}
		if owner != nil {
			ranges[owner] = append(ranges[owner], [2]int{s, end})
		}
		s = end + 1
	}
	c.mu.RUnlock()

	var out []common.ShardInfo
	for _, n := range c.nodes {
		if !n.IsPrimary() {
			continue
		}
		info := common.ShardInfo{Slots: ranges[n], Nodes: []common.NodeInfo{n.info()}}
		if info.Slots == nil {
			info.Slots = [][2]int{}
		}
		for _, r := range n.replicas {
			info.Nodes = append(info.Nodes, r.info())
		}
		out = append(out, info)
	}
	return out
}

// endpoint returns the listen address of the node with the given index
func (c *DevCluster) endpoint(index int) string {
	if c.config.SocketDir != "" {
		return filepath.Join(c.config.SocketDir, fmt.Sprintf("ckv-node-%d.sock", index))
	}
	port := 0
	if c.config.BasePort > 0 {
		port = c.config.BasePort + index
	}
	return net.JoinHostPort(c.config.Host, strconv.Itoa(port))
}
