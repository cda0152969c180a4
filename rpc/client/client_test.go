package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/cKV/lib/lockmgr"
	"github.com/ValentinKolb/cKV/lib/router"
	"github.com/ValentinKolb/cKV/lib/slot"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/ValentinKolb/cKV/rpc/serializer"
	"github.com/ValentinKolb/cKV/rpc/server"
	"github.com/ValentinKolb/cKV/rpc/transport/tcp"
	"github.com/ValentinKolb/cKV/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

func startCluster(t *testing.T, config common.ServerConfig) *server.DevCluster {
	t.Helper()
	if config.Shards == 0 {
		config.Shards = 3
	}
	c, err := server.NewDevCluster(config, tcp.NewTCPServerTransport, serializer.NewBinarySerializer())
	require.NoError(t, err)
	c.Start()
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestClient(t *testing.T, cluster *server.DevCluster, modify ...func(*common.ClientConfig)) *ClusterClient {
	t.Helper()
	config := common.ClientConfig{
		Seeds:         cluster.Seeds()[:1],
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{ConnectionsPerEndpoint: 2},
	}
	for _, m := range modify {
		m(&config)
	}
	c, err := NewClusterClient(config, tcp.NewTCPClientTransport, serializer.NewBinarySerializer())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInvalidSeeds(t *testing.T) {
	_, err := NewClusterClient(common.ClientConfig{}, tcp.NewTCPClientTransport, serializer.NewBinarySerializer())
	assert.Error(t, err)

	_, err = NewClusterClient(common.ClientConfig{Seeds: []string{"nohost"}}, tcp.NewTCPClientTransport, serializer.NewBinarySerializer())
	assert.Error(t, err)
}

func TestSetGetAcrossShards(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		require.NoError(t, c.Set(ctx, key, []byte(key), 0))
	}
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		val, ok, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte(key), val)

		// the value lives on the owner of its slot
		_, present, _ := cluster.Owner(slot.Of(key)).Store().Get(key)
		assert.True(t, present)
	}

	deleted, err := c.Delete(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, deleted)
	ttl, err := c.PTTL(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(-2), ttl)

	// the whole layout was learned from a single seed
	assert.Len(t, c.Topology().Primaries(), 3)
}

func TestConcurrentRequests(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("g%d-%d", g, i)
				if err := c.Set(ctx, key, []byte("v"), 0); err != nil {
					errs <- err
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestMovedAfterMigration(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	s := slot.Of("foo")
	require.NoError(t, c.Set(ctx, "foo", []byte("bar"), 0))

	var target *server.Node
	for _, n := range cluster.Nodes() {
		if n.IsPrimary() && n != cluster.Owner(s) {
			target = n
			break
		}
	}
	require.NoError(t, cluster.MoveSlot(s, target.Addr))

	// the client still has the old owner and follows MOVED
	val, ok, err := c.Get(ctx, "foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("bar"), val)

	owner, err := c.Topology().Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, target.Addr, owner.Addr())
}

func TestAskDuringMigration(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	s := slot.Of("foo")
	source := cluster.Owner(s)
	require.NoError(t, c.Set(ctx, "foo", []byte("bar"), 0))

	var target *server.Node
	for _, n := range cluster.Nodes() {
		if n.IsPrimary() && n != source {
			target = n
			break
		}
	}
	require.NoError(t, cluster.BeginMigration(s, target.Addr))
	require.NoError(t, cluster.MigrateKey("foo"))

	val, ok, err := c.Get(ctx, "foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("bar"), val)

	// ASK does not change the slot map
	owner, err := c.Topology().Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, source.Addr, owner.Addr())

	require.NoError(t, cluster.FinishMigration(s))
	val, _, err = c.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, []byte("bar"), val)
}

func TestAuthentication(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{Password: "secret"})
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		c := newTestClient(t, cluster, func(cfg *common.ClientConfig) { cfg.Password = "secret" })
		require.NoError(t, c.Set(ctx, "foo", []byte("bar"), 0))
	})

	t.Run("provider", func(t *testing.T) {
		config := common.ClientConfig{Seeds: cluster.Seeds()}
		c, err := NewClusterClient(config, tcp.NewTCPClientTransport, serializer.NewBinarySerializer(),
			WithCredentials(common.StaticCredentials{Username: "default", Password: "secret"}))
		require.NoError(t, err)
		defer c.Close()
		require.NoError(t, c.Set(ctx, "foo", []byte("bar"), 0))
	})

	t.Run("wrong password", func(t *testing.T) {
		c := newTestClient(t, cluster, func(cfg *common.ClientConfig) { cfg.Password = "wrong" })
		err := c.Refresh(ctx)
		var srvErr *common.ServerError
		require.ErrorAs(t, err, &srvErr)
		assert.Equal(t, "WRONGPASS", srvErr.Prefix())
	})

	t.Run("missing", func(t *testing.T) {
		c := newTestClient(t, cluster)
		err := c.Refresh(ctx)
		var srvErr *common.ServerError
		require.ErrorAs(t, err, &srvErr)
		assert.Equal(t, "NOAUTH", srvErr.Prefix())
	})
}

func TestKilledNode(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "foo", []byte("bar"), 0))

	owner := cluster.Owner(slot.Of("foo"))
	require.NoError(t, cluster.Kill(owner.Addr))

	// nobody takes over the slot, the retry after the refresh fails as well
	_, _, err := c.Get(ctx, "foo")
	var connErr *router.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, owner.Addr, connErr.Addr)
	assert.True(t, c.Topology().IsSuspect(owner.Addr))

	// other shards keep working
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%d", i)
		if cluster.Owner(slot.Of(key)) == owner {
			continue
		}
		require.NoError(t, c.Set(ctx, key, []byte("v"), 0))
	}
}

func TestLocks(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{})
	c := newTestClient(t, cluster, func(cfg *common.ClientConfig) { cfg.LockSleepMillis = 10 })
	ctx := context.Background()

	lock1, err := c.Lock(ctx, "resource", lockmgr.WithTimeout(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, lockmgr.StrategyAtomic, lock1.Strategy())
	assert.Equal(t, lockmgr.SelectionAtomicAvailable, c.LockManager().Selection())

	lock2, err := c.Lock(ctx, "resource", lockmgr.WithTimeout(10*time.Second))
	require.NoError(t, err)

	ok, err := lock1.Acquire(ctx, lockmgr.NonBlocking())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock2.Acquire(ctx, lockmgr.BlockFor(50*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)

	extended, err := lock1.Extend(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, extended)
	ttl, err := c.PTTL(ctx, "resource")
	require.NoError(t, err)
	assert.Greater(t, ttl, int64(16000))

	require.NoError(t, lock1.Release(ctx))
	ok, err = lock2.Acquire(ctx, lockmgr.NonBlocking())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lock2.Release(ctx))
}

func TestLocksWithoutScripting(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{DisableScripts: true})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	l, err := c.Lock(ctx, "resource")
	require.NoError(t, err)
	assert.Equal(t, lockmgr.StrategyFallback, l.Strategy())

	require.NoError(t, l.Do(ctx, func(context.Context) error { return nil }))
}

func TestLockFollowsMigratedSlot(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	l, err := c.Lock(ctx, "resource", lockmgr.WithTimeout(time.Minute))
	require.NoError(t, err)
	ok, err := l.Acquire(ctx, lockmgr.NonBlocking())
	require.NoError(t, err)
	require.True(t, ok)

	s := slot.Of("resource")
	for _, n := range cluster.Nodes() {
		if n.IsPrimary() && n != cluster.Owner(s) {
			require.NoError(t, cluster.MoveSlot(s, n.Addr))
			break
		}
	}

	// the new owner got the scripts from the probe, the token moved with the key
	require.NoError(t, l.Release(ctx))
}

func TestClusterCommands(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{ReplicasPerShard: 1})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	for _, k := range []string{"{user1000}.a", "{user1000}.b"} {
		require.NoError(t, c.Set(ctx, k, []byte("v"), 0))
	}
	s := slot.Of("user1000")

	info, err := c.ClusterInfo(ctx)
	require.NoError(t, err)
	state, _ := info.Get("cluster_state")
	assert.Equal(t, "ok", state)

	keySlot, err := c.ClusterKeySlot(ctx, "{user1000}.a")
	require.NoError(t, err)
	assert.Equal(t, s, keySlot)

	count, err := c.ClusterCountKeysInSlot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	keys, err := c.ClusterGetKeysInSlot(ctx, s, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"{user1000}.a", "{user1000}.b"}, keys)

	shards, err := c.ClusterShards(ctx)
	require.NoError(t, err)
	assert.Len(t, shards, 3)

	for _, n := range cluster.Nodes() {
		id, err := c.ClusterMyID(ctx, n.Addr)
		require.NoError(t, err)
		assert.Equal(t, n.ID, id)

		links, err := c.ClusterLinks(ctx, n.Addr)
		require.NoError(t, err)
		assert.Len(t, links, 2*(len(cluster.Nodes())-1))
	}

	owner := cluster.Owner(s)
	replicas, err := c.ClusterReplicas(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, replicas, 1)
	assert.Equal(t, owner.ID, replicas[0].PrimaryID)

	// replicas are known to the topology manager
	assert.Len(t, c.Topology().Replicas(), 3)
	assert.Len(t, c.Topology().AllNodes(), 6)
}

func TestUnixTransport(t *testing.T) {
	config := common.ServerConfig{Shards: 2, SocketDir: t.TempDir()}
	cluster, err := server.NewDevCluster(config, unix.NewUnixServerTransport, serializer.NewGOBSerializer())
	require.NoError(t, err)
	cluster.Start()
	defer cluster.Close()

	c, err := NewClusterClient(common.ClientConfig{Seeds: cluster.Seeds()}, unix.NewUnixClientTransport, serializer.NewGOBSerializer())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%d", i)
		require.NoError(t, c.Set(ctx, key, []byte(key), 0))
		val, _, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte(key), val)
	}
}

func TestMultiNodePipeline(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	keys := []string{"x{foo}", "x{bar}", "x{baz}"}
	cmds := make([]router.Command, len(keys))
	for i, k := range keys {
		cmds[i] = router.Command{Target: router.ByKey(k), Req: common.NewSetRequest(k, []byte("1"), 0)}
	}

	results, err := c.Pipeline(ctx, cmds)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, k := range keys {
		assert.True(t, results[i].Reply.Ok, k)
		_, present, _ := cluster.Owner(slot.Of(k)).Store().Get(k)
		assert.True(t, present, k)
	}
}

func TestPipelineWithCrossSlotCommandSendsNothing(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	var cmds []router.Command
	for _, k := range []string{"x{foo}", "x{bar}", "x{baz}"} {
		cmds = append(cmds, router.Command{Target: router.ByKey(k), Req: common.NewSetRequest(k, []byte("1"), 0)})
	}
	cmds = append(cmds, router.Command{
		Target: router.ByKeys("list{baz}", "list{foo}"),
		Req:    common.NewSetRequest("list{baz}", []byte("1"), 0),
	})

	_, err := c.Pipeline(ctx, cmds)
	var crossErr *router.CrossSlotError
	require.ErrorAs(t, err, &crossErr)

	for _, k := range []string{"x{foo}", "x{bar}", "x{baz}"} {
		_, ok, err := c.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
}

func TestSameSlotPipelineFollowsMigratedSlot(t *testing.T) {
	cluster := startCluster(t, common.ServerConfig{})
	c := newTestClient(t, cluster)
	ctx := context.Background()

	s := slot.Of("fu")
	require.NoError(t, c.Set(ctx, "a{fu}", []byte("a1"), 0))

	var target *server.Node
	for _, n := range cluster.Nodes() {
		if n.IsPrimary() && n != cluster.Owner(s) {
			target = n
			break
		}
	}
	require.NoError(t, cluster.MoveSlot(s, target.Addr))

	results, err := c.Pipeline(ctx, []router.Command{
		{Target: router.ByKey("a{fu}"), Req: common.NewGetRequest("a{fu}")},
		{Target: router.ByKey("b{fu}"), Req: common.NewSetRequest("b{fu}", []byte("b1"), 0)},
	}, router.SameSlot())
	require.NoError(t, err)
	assert.Equal(t, []byte("a1"), results[0].Reply.Value)
	assert.True(t, results[1].Reply.Ok)

	_, present, _ := target.Store().Get("b{fu}")
	assert.True(t, present)
}
