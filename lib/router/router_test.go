package router

import (
	"context"
	"errors"
	"github.com/ValentinKolb/cKV/lib/slot"
	"github.com/ValentinKolb/cKV/lib/topology"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
)

const (
	nodeA = "127.0.0.1:7000"
	nodeB = "127.0.0.1:7001"
	nodeC = "127.0.0.1:7002"
)

var errRefused = errors.New("connection refused")

// call is one Exec invocation seen by the fake executor
type call struct {
	addr string
	reqs []common.MessageType
}

// fakeExecutor answers requests with a scripted handler and records every call
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []call
	handler func(addr string, req *common.Message, asking bool) (*common.Message, error)
}

func (f *fakeExecutor) Exec(_ context.Context, addr string, reqs ...*common.Message) ([]*common.Message, error) {
	c := call{addr: addr}
	for _, r := range reqs {
		c.reqs = append(c.reqs, r.MsgType)
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	var (
		out    []*common.Message
		asking bool
	)
	for _, r := range reqs {
		if r.MsgType == common.MsgTAsking {
			asking = true
			out = append(out, common.NewOkResponse(common.MsgTAsking, true))
			continue
		}
		resp, err := f.handler(addr, r, asking)
		if err != nil {
			return nil, err
		}
		asking = false
		out = append(out, resp)
	}
	return out, nil
}

func (f *fakeExecutor) addrs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.addr)
	}
	return out
}

func (f *fakeExecutor) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// fakeLister serves a three shard layout and counts refreshes
type fakeLister struct {
	refreshes atomic.Int32
	fail      atomic.Bool
}

func (f *fakeLister) ClusterShards(context.Context, string) ([]common.ShardInfo, error) {
	f.refreshes.Add(1)
	if f.fail.Load() {
		return nil, errRefused
	}
	node := func(port int) []common.NodeInfo {
		return []common.NodeInfo{{Host: "127.0.0.1", Port: port, Role: "primary"}}
	}
	return []common.ShardInfo{
		{Slots: [][2]int{{0, 5460}}, Nodes: node(7000)},
		{Slots: [][2]int{{5461, 10922}}, Nodes: node(7001)},
		{Slots: [][2]int{{10923, 16383}}, Nodes: node(7002)},
	}, nil
}

func newTestRouter(t *testing.T, handler func(addr string, req *common.Message, asking bool) (*common.Message, error), opts ...Option) (*Router, *fakeExecutor, *fakeLister) {
	t.Helper()
	lister := &fakeLister{}
	exec := &fakeExecutor{handler: handler}
	topo := topology.NewManager([]string{nodeA}, lister)
	return New(topo, exec, opts...), exec, lister
}

// ownerOf mirrors the layout of fakeLister
func ownerOf(s uint16) string {
	switch {
	case s <= 5460:
		return nodeA
	case s <= 10922:
		return nodeB
	default:
		return nodeC
	}
}

func okHandler(addr string, req *common.Message, _ bool) (*common.Message, error) {
	return common.NewValueResponse(req.MsgType, []byte(addr), true), nil
}

func TestRouteToOwner(t *testing.T) {
	r, exec, lister := newTestRouter(t, okHandler)

	for _, key := range []string{"foo", "bar", "hello", "{user1000}.following"} {
		resp, err := r.Route(context.Background(), ByKey(key), common.NewGetRequest(key))
		require.NoError(t, err)
		assert.Equal(t, ownerOf(slot.Of(key)), string(resp.Value), key)
	}

	// the first route refreshed lazily, later routes use the snapshot
	assert.Equal(t, int32(1), lister.refreshes.Load())
	assert.Len(t, exec.addrs(), 4)
}

func TestRouteBySlot(t *testing.T) {
	r, _, _ := newTestRouter(t, okHandler)

	resp, err := r.Route(context.Background(), BySlot(16000), common.NewClusterCountKeysRequest(16000))
	require.NoError(t, err)
	assert.Equal(t, nodeC, string(resp.Value))
}

func TestMovedIsRemembered(t *testing.T) {
	// slot 12182 ("foo") is owned by C in the refreshed layout but was moved to A
	fooSlot := slot.Of("foo")
	require.Equal(t, uint16(12182), fooSlot)

	r, exec, lister := newTestRouter(t, func(addr string, req *common.Message, _ bool) (*common.Message, error) {
		if addr != nodeA {
			return common.NewMovedResponse(fooSlot, nodeA), nil
		}
		return common.NewValueResponse(req.MsgType, []byte("bar"), true), nil
	})

	resp, err := r.Route(context.Background(), ByKey("foo"), common.NewGetRequest("foo"))
	require.NoError(t, err)
	assert.Equal(t, "bar", string(resp.Value))
	assert.Equal(t, []string{nodeC, nodeA}, exec.addrs())

	// the next request goes straight to the new owner without another MOVED
	exec.reset()
	_, err = r.Route(context.Background(), ByKey("foo"), common.NewGetRequest("foo"))
	require.NoError(t, err)
	assert.Equal(t, []string{nodeA}, exec.addrs())

	// no full refresh was needed
	assert.Equal(t, int32(1), lister.refreshes.Load())

	owner, err := r.Topology().Resolve(fooSlot)
	require.NoError(t, err)
	assert.Equal(t, nodeA, owner.Addr())
}

func TestAskIsOneShot(t *testing.T) {
	fooSlot := slot.Of("foo")

	r, exec, _ := newTestRouter(t, func(addr string, req *common.Message, asking bool) (*common.Message, error) {
		switch {
		case addr == nodeC:
			return common.NewAskResponse(fooSlot, nodeB), nil
		case addr == nodeB && asking:
			return common.NewValueResponse(req.MsgType, []byte("migrated"), true), nil
		default:
			return common.NewMovedResponse(fooSlot, nodeC), nil
		}
	})

	resp, err := r.Route(context.Background(), ByKey("foo"), common.NewGetRequest("foo"))
	require.NoError(t, err)
	assert.Equal(t, "migrated", string(resp.Value))

	// ASKING and the request travel together over one connection
	require.Len(t, exec.calls, 2)
	assert.Equal(t, nodeB, exec.calls[1].addr)
	assert.Equal(t, []common.MessageType{common.MsgTAsking, common.MsgTGet}, exec.calls[1].reqs)

	// the slot map is untouched
	owner, err := r.Topology().Resolve(fooSlot)
	require.NoError(t, err)
	assert.Equal(t, nodeC, owner.Addr())
}

func TestRedirectAfterAskIsRoutingError(t *testing.T) {
	fooSlot := slot.Of("foo")

	r, _, _ := newTestRouter(t, func(addr string, req *common.Message, asking bool) (*common.Message, error) {
		if addr == nodeC {
			return common.NewAskResponse(fooSlot, nodeB), nil
		}
		return common.NewMovedResponse(fooSlot, nodeC), nil
	})

	_, err := r.Route(context.Background(), ByKey("foo"), common.NewGetRequest("foo"))
	var routingErr *RoutingError
	require.ErrorAs(t, err, &routingErr)
	assert.Equal(t, fooSlot, routingErr.Slot)
	assert.Contains(t, routingErr.Reason, "after ASK")
}

func TestRedirectBudget(t *testing.T) {
	fooSlot := slot.Of("foo")

	// A and C keep sending the request to each other
	r, exec, _ := newTestRouter(t, func(addr string, req *common.Message, _ bool) (*common.Message, error) {
		if addr == nodeA {
			return common.NewMovedResponse(fooSlot, nodeC), nil
		}
		return common.NewMovedResponse(fooSlot, nodeA), nil
	}, WithMaxRedirects(3))

	_, err := r.Route(context.Background(), ByKey("foo"), common.NewGetRequest("foo"))
	var routingErr *RoutingError
	require.ErrorAs(t, err, &routingErr)
	assert.Equal(t, 3, routingErr.Redirects)
	// first attempt plus three redirects
	assert.Len(t, exec.addrs(), 4)
}

func TestConnectionFailureRefreshesAndRetriesOnce(t *testing.T) {
	var failures atomic.Int32

	r, exec, lister := newTestRouter(t, func(addr string, req *common.Message, _ bool) (*common.Message, error) {
		if failures.Add(1) == 1 {
			return nil, errRefused
		}
		return common.NewValueResponse(req.MsgType, []byte(addr), true), nil
	})

	resp, err := r.Route(context.Background(), ByKey("foo"), common.NewGetRequest("foo"))
	require.NoError(t, err)
	assert.Equal(t, nodeC, string(resp.Value))
	assert.Len(t, exec.addrs(), 2)
	// the lazy refresh and the refresh after the failure
	assert.Equal(t, int32(2), lister.refreshes.Load())
}

func TestSecondConnectionFailureSurfaces(t *testing.T) {
	r, exec, _ := newTestRouter(t, func(string, *common.Message, bool) (*common.Message, error) {
		return nil, errRefused
	})

	_, err := r.Route(context.Background(), ByKey("foo"), common.NewGetRequest("foo"))
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, nodeC, connErr.Addr)
	assert.ErrorIs(t, err, errRefused)
	assert.Len(t, exec.addrs(), 2)
	assert.True(t, r.Topology().IsSuspect(nodeC))
}

func TestServerErrorReply(t *testing.T) {
	r, _, _ := newTestRouter(t, func(string, *common.Message, bool) (*common.Message, error) {
		return common.NewErrorResponse("NOSCRIPT no matching script"), nil
	})

	_, err := r.Route(context.Background(), ByKey("foo"), common.NewEvalShaRequest("abc", "foo"))
	var srvErr *common.ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, "NOSCRIPT", srvErr.Prefix())
}

func TestTopologyUnavailable(t *testing.T) {
	r, exec, lister := newTestRouter(t, okHandler)
	lister.fail.Store(true)

	_, err := r.Route(context.Background(), ByKey("foo"), common.NewGetRequest("foo"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errRefused)
	assert.Empty(t, exec.addrs())
}

func TestBroadcast(t *testing.T) {
	r, _, _ := newTestRouter(t, func(addr string, req *common.Message, _ bool) (*common.Message, error) {
		if addr == nodeB {
			return nil, errRefused
		}
		return common.NewPayloadResponse(req.MsgType, addr), nil
	})

	replies, err := r.Broadcast(context.Background(), common.NewClusterMyIDRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), nodeB)
	require.Len(t, replies, 2)
	assert.Contains(t, replies, nodeA)
	assert.Contains(t, replies, nodeC)
}

func TestRouteNodeDoesNotFollowRedirects(t *testing.T) {
	r, exec, _ := newTestRouter(t, func(string, *common.Message, bool) (*common.Message, error) {
		return common.NewMovedResponse(1, nodeB), nil
	})

	_, err := r.RouteNode(context.Background(), nodeA, common.NewGetRequest("x"))
	var srvErr *common.ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, "MOVED", srvErr.Prefix())
	assert.Equal(t, []string{nodeA}, exec.addrs())
}
