package topology

import (
	"context"
	"errors"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

// fakeLister answers ClusterShards from a fixed table and records the asked nodes
type fakeLister struct {
	mu      sync.Mutex
	replies map[string][]common.ShardInfo
	asked   []string
}

func (f *fakeLister) ClusterShards(_ context.Context, addr string) ([]common.ShardInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, addr)
	infos, ok := f.replies[addr]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return infos, nil
}

// threeShards splits the slot space across three primaries with one replica each
func threeShards() []common.ShardInfo {
	shard := func(start, end int, port int) common.ShardInfo {
		return common.ShardInfo{
			Slots: [][2]int{{start, end}},
			Nodes: []common.NodeInfo{
				{ID: "p" + string(rune('0'+port%10)), Host: "127.0.0.1", Port: port, Role: "primary"},
				{ID: "r" + string(rune('0'+port%10)), Host: "127.0.0.1", Port: port + 100, Role: "replica"},
			},
		}
	}
	return []common.ShardInfo{
		shard(0, 5460, 7000),
		shard(5461, 10922, 7001),
		shard(10923, 16383, 7002),
	}
}

func TestResolveBeforeRefresh(t *testing.T) {
	m := NewManager([]string{"127.0.0.1:7000"}, &fakeLister{})

	_, err := m.Resolve(42)
	var topoErr *TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.Equal(t, uint16(42), topoErr.Slot)
	assert.False(t, m.Ready())
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	lister := &fakeLister{replies: map[string][]common.ShardInfo{"127.0.0.1:7000": threeShards()}}
	m := NewManager([]string{"127.0.0.1:7000"}, lister)

	require.NoError(t, m.Refresh(context.Background()))
	assert.True(t, m.Ready())

	tests := []struct {
		slot uint16
		addr string
	}{
		{0, "127.0.0.1:7000"},
		{5460, "127.0.0.1:7000"},
		{5461, "127.0.0.1:7001"},
		{10922, "127.0.0.1:7001"},
		{10923, "127.0.0.1:7002"},
		{16383, "127.0.0.1:7002"},
	}
	for _, tt := range tests {
		node, err := m.Resolve(tt.slot)
		require.NoError(t, err)
		assert.Equal(t, tt.addr, node.Addr(), "slot %d", tt.slot)
		assert.Equal(t, RolePrimary, node.Role)
	}

	assert.Len(t, m.AllNodes(), 6)
	assert.Len(t, m.Primaries(), 3)
	assert.Len(t, m.Replicas(), 3)
	assert.Equal(t, 16384, m.Snapshot().Covered())

	primary, _ := m.Resolve(0)
	require.Len(t, primary.Replicas, 1)
	assert.Equal(t, "127.0.0.1:7100", primary.Replicas[0].Addr())
	assert.Equal(t, RoleReplica, primary.Replicas[0].Role)
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	lister := &fakeLister{replies: map[string][]common.ShardInfo{"127.0.0.1:7000": threeShards()}}
	m := NewManager([]string{"127.0.0.1:7000"}, lister)
	require.NoError(t, m.Refresh(context.Background()))
	before := m.Snapshot()

	// every node becomes unreachable
	lister.mu.Lock()
	lister.replies = nil
	lister.mu.Unlock()

	err := m.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:7000")
	assert.Contains(t, err.Error(), "127.0.0.1:7002")
	assert.Same(t, before, m.Snapshot())

	node, err := m.Resolve(100)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", node.Addr())
}

func TestRefreshTriesNextSeed(t *testing.T) {
	lister := &fakeLister{replies: map[string][]common.ShardInfo{"127.0.0.1:7001": threeShards()}}
	m := NewManager([]string{"127.0.0.1:6999", "127.0.0.1:7001"}, lister)

	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, []string{"127.0.0.1:6999", "127.0.0.1:7001"}, lister.asked)
}

func TestRefreshAsksSuspectsLast(t *testing.T) {
	lister := &fakeLister{replies: map[string][]common.ShardInfo{
		"127.0.0.1:7000": threeShards(),
		"127.0.0.1:7001": threeShards(),
	}}
	m := NewManager([]string{"127.0.0.1:7000"}, lister)
	require.NoError(t, m.Refresh(context.Background()))

	m.MarkSuspect("127.0.0.1:7000")
	assert.True(t, m.IsSuspect("127.0.0.1:7000"))

	lister.asked = nil
	require.NoError(t, m.Refresh(context.Background()))
	require.NotEmpty(t, lister.asked)
	assert.NotEqual(t, "127.0.0.1:7000", lister.asked[0])
	assert.False(t, m.IsSuspect("127.0.0.1:7000"))
}

func TestApplyMoved(t *testing.T) {
	lister := &fakeLister{replies: map[string][]common.ShardInfo{"127.0.0.1:7000": threeShards()}}
	m := NewManager([]string{"127.0.0.1:7000"}, lister)
	require.NoError(t, m.Refresh(context.Background()))

	t.Run("known node", func(t *testing.T) {
		node, err := m.ApplyMoved(100, "127.0.0.1:7002")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:7002", node.Addr())

		owner, err := m.Resolve(100)
		require.NoError(t, err)
		assert.Same(t, node, owner)

		// neighbours keep their owner
		owner, _ = m.Resolve(101)
		assert.Equal(t, "127.0.0.1:7000", owner.Addr())
	})

	t.Run("unknown node", func(t *testing.T) {
		node, err := m.ApplyMoved(200, "10.0.0.9:7100")
		require.NoError(t, err)
		assert.Equal(t, RolePrimary, node.Role)
		assert.Equal(t, 7100, node.Port)
		assert.Len(t, m.Primaries(), 4)
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := m.ApplyMoved(300, "not-an-address")
		assert.Error(t, err)
	})

	t.Run("before first refresh", func(t *testing.T) {
		fresh := NewManager(nil, &fakeLister{})
		_, err := fresh.ApplyMoved(5, "127.0.0.1:7000")
		require.NoError(t, err)
		node, err := fresh.Resolve(5)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:7000", node.Addr())
	})
}

func TestNewSnapshotValidation(t *testing.T) {
	primary := func(port int) []common.NodeInfo {
		return []common.NodeInfo{{Host: "127.0.0.1", Port: port, Role: "primary"}}
	}

	tests := []struct {
		name   string
		infos  []common.ShardInfo
		errMsg string
	}{
		{
			name: "overlap",
			infos: []common.ShardInfo{
				{Slots: [][2]int{{0, 100}}, Nodes: primary(7000)},
				{Slots: [][2]int{{100, 200}}, Nodes: primary(7001)},
			},
			errMsg: "slot 100 is claimed",
		},
		{
			name:   "out of range",
			infos:  []common.ShardInfo{{Slots: [][2]int{{0, 16384}}, Nodes: primary(7000)}},
			errMsg: "invalid slot range",
		},
		{
			name:   "reversed range",
			infos:  []common.ShardInfo{{Slots: [][2]int{{10, 5}}, Nodes: primary(7000)}},
			errMsg: "invalid slot range",
		},
		{
			name: "no primary",
			infos: []common.ShardInfo{{
				Slots: [][2]int{{0, 10}},
				Nodes: []common.NodeInfo{{Host: "127.0.0.1", Port: 7000, Role: "replica"}},
			}},
			errMsg: "no primary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSnapshot(tt.infos)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("gaps are allowed", func(t *testing.T) {
		snap, err := NewSnapshot([]common.ShardInfo{{Slots: [][2]int{{0, 99}}, Nodes: primary(7000)}})
		require.NoError(t, err)
		assert.Equal(t, 100, snap.Covered())
		assert.Nil(t, snap.Owner(100))
	})
}

func TestConcurrentResolveDuringRefresh(t *testing.T) {
	lister := &fakeLister{replies: map[string][]common.ShardInfo{"127.0.0.1:7000": threeShards()}}
	m := NewManager([]string{"127.0.0.1:7000"}, lister)
	require.NoError(t, m.Refresh(context.Background()))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := uint16(0); ; s = (s + 1) % 16384 {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := m.Resolve(s); err != nil {
					t.Errorf("resolve %d: %v", s, err)
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Refresh(context.Background()))
	}
	close(stop)
	wg.Wait()
}

func TestSnapshotUnixNodes(t *testing.T) {
	snap, err := NewSnapshot([]common.ShardInfo{{
		Slots: [][2]int{{0, 16383}},
		Nodes: []common.NodeInfo{{Host: "/tmp/ckv/node-0.sock", Role: "primary"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ckv/node-0.sock", snap.Owner(0).Addr())

	node, err := snap.rebind(1, "/tmp/ckv/node-1.sock")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ckv/node-1.sock", node.Addr())
}
