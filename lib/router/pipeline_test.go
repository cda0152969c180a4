package router

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/cKV/lib/slot"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync/atomic"
	"testing"
)

// keyOwnedBy returns a key whose slot is owned by addr in the test layout
func keyOwnedBy(t *testing.T, addr string) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("key-%d", i)
		if ownerOf(slot.Of(key)) == addr {
			return key
		}
	}
	t.Fatalf("no key for %s", addr)
	return ""
}

func getCommands(keys ...string) []Command {
	cmds := make([]Command, len(keys))
	for i, k := range keys {
		cmds[i] = Command{Target: ByKey(k), Req: common.NewGetRequest(k)}
	}
	return cmds
}

func TestPipelineGroupsByNode(t *testing.T) {
	r, exec, _ := newTestRouter(t, okHandler)

	keys := []string{"x{foo}", "x{bar}", "x{baz}", keyOwnedBy(t, nodeB), "y{foo}"}
	results, err := r.Pipeline(context.Background(), getCommands(keys...))
	require.NoError(t, err)
	require.Len(t, results, len(keys))

	owners := make(map[string]int)
	for i, k := range keys {
		owner := ownerOf(slot.Of(k))
		owners[owner]++
		require.NoError(t, results[i].Err)
		assert.Equal(t, owner, string(results[i].Reply.Value), "reply %d", i)
	}

	// one Exec per node carrying all of its commands
	require.Len(t, exec.calls, len(owners))
	for _, c := range exec.calls {
		assert.Len(t, c.reqs, owners[c.addr], c.addr)
	}
}

func TestPipelineFollowsMoved(t *testing.T) {
	fooSlot := slot.Of("foo")
	other := keyOwnedBy(t, nodeB)

	r, exec, lister := newTestRouter(t, func(addr string, req *common.Message, _ bool) (*common.Message, error) {
		if slot.Of(req.Key) == fooSlot && addr != nodeA {
			return common.NewMovedResponse(fooSlot, nodeA), nil
		}
		return common.NewValueResponse(req.MsgType, []byte(addr), true), nil
	})

	results, err := r.Pipeline(context.Background(), getCommands("foo", other))
	require.NoError(t, err)
	assert.Equal(t, nodeA, string(results[0].Reply.Value))
	assert.Equal(t, nodeB, string(results[1].Reply.Value))

	owner, err := r.Topology().Resolve(fooSlot)
	require.NoError(t, err)
	assert.Equal(t, nodeA, owner.Addr())
	assert.Equal(t, int32(1), lister.refreshes.Load())

	// the moved slot is grouped with the new owner right away
	exec.reset()
	_, err = r.Pipeline(context.Background(), getCommands("foo", "x{foo}"))
	require.NoError(t, err)
	assert.Equal(t, []string{nodeA}, exec.addrs())
}

func TestPipelineAsk(t *testing.T) {
	fooSlot := slot.Of("foo")

	r, _, _ := newTestRouter(t, func(addr string, req *common.Message, asking bool) (*common.Message, error) {
		switch {
		case slot.Of(req.Key) != fooSlot:
			return common.NewValueResponse(req.MsgType, []byte(addr), true), nil
		case addr == nodeC:
			return common.NewAskResponse(fooSlot, nodeB), nil
		case addr == nodeB && asking:
			return common.NewValueResponse(req.MsgType, []byte("migrated"), true), nil
		default:
			return common.NewMovedResponse(fooSlot, nodeC), nil
		}
	})

	results, err := r.Pipeline(context.Background(), getCommands("x{bar}", "foo"))
	require.NoError(t, err)
	assert.Equal(t, nodeA, string(results[0].Reply.Value))
	assert.Equal(t, "migrated", string(results[1].Reply.Value))

	owner, err := r.Topology().Resolve(fooSlot)
	require.NoError(t, err)
	assert.Equal(t, nodeC, owner.Addr())
}

func TestPipelineCrossSlotCommand(t *testing.T) {
	r, exec, lister := newTestRouter(t, okHandler)

	cmds := getCommands("x{foo}", "x{bar}", "x{baz}")
	cmds = append(cmds, Command{
		Target: ByKeys("list{baz}", "list{foo}"),
		Req:    common.NewSetRequest("list{baz}", []byte("v"), 0),
	})

	_, err := r.Pipeline(context.Background(), cmds)
	var crossErr *CrossSlotError
	require.ErrorAs(t, err, &crossErr)
	assert.Contains(t, err.Error(), "don't hash to the same slot")

	// nothing was sent, not even the first refresh
	assert.Empty(t, exec.addrs())
	assert.Zero(t, lister.refreshes.Load())

	// co-located keys are fine
	_, err = r.Pipeline(context.Background(), []Command{{
		Target: ByKeys("a{fu}", "b{fu}"),
		Req:    common.NewGetRequest("a{fu}"),
	}})
	require.NoError(t, err)
}

func TestRouteCrossSlotKeys(t *testing.T) {
	r, exec, _ := newTestRouter(t, okHandler)

	_, err := r.Route(context.Background(), ByKeys("a{foo}", "a{bar}"), common.NewGetRequest("a{foo}"))
	var crossErr *CrossSlotError
	require.ErrorAs(t, err, &crossErr)
	assert.Equal(t, []uint16{slot.Of("foo"), slot.Of("bar")}, crossErr.Slots)
	assert.Empty(t, exec.addrs())
}

func TestPipelineSameSlot(t *testing.T) {
	r, exec, _ := newTestRouter(t, okHandler)

	keys := []string{"a{fu}", "b{fu}", "c{fu}"}
	results, err := r.Pipeline(context.Background(), getCommands(keys...), SameSlot())
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Len(t, exec.calls, 1)
	assert.Len(t, exec.calls[0].reqs, 3)

	exec.reset()
	_, err = r.Pipeline(context.Background(), getCommands(append(keys, "a{bar}")...), SameSlot())
	var crossErr *CrossSlotError
	require.ErrorAs(t, err, &crossErr)
	assert.Empty(t, exec.addrs())
}

func TestPipelineErrorsPerCommand(t *testing.T) {
	r, _, _ := newTestRouter(t, func(addr string, req *common.Message, _ bool) (*common.Message, error) {
		if req.Key == "b" {
			return common.NewErrorResponse("WRONGTYPE Operation against a key holding the wrong kind of value"), nil
		}
		return common.NewValueResponse(req.MsgType, []byte(addr), true), nil
	})

	results, err := r.Pipeline(context.Background(), getCommands("a", "b", "c"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command 1")

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[2].Err)
	var srvErr *common.ServerError
	require.ErrorAs(t, results[1].Err, &srvErr)
	assert.Equal(t, "WRONGTYPE", srvErr.Prefix())
}

func TestPipelineConnectionFailure(t *testing.T) {
	var failures atomic.Int32
	keyB := keyOwnedBy(t, nodeB)

	r, _, lister := newTestRouter(t, func(addr string, req *common.Message, _ bool) (*common.Message, error) {
		if addr == nodeB && failures.Add(1) == 1 {
			return nil, errRefused
		}
		return common.NewValueResponse(req.MsgType, []byte(addr), true), nil
	})

	results, err := r.Pipeline(context.Background(), getCommands("x{bar}", keyB))
	require.NoError(t, err)
	assert.Equal(t, nodeB, string(results[1].Reply.Value))
	// the lazy refresh and the refresh after the failure
	assert.Equal(t, int32(2), lister.refreshes.Load())

	// a node that stays down fails only its own commands
	r, _, _ = newTestRouter(t, func(addr string, req *common.Message, _ bool) (*common.Message, error) {
		if addr == nodeB {
			return nil, errRefused
		}
		return common.NewValueResponse(req.MsgType, []byte(addr), true), nil
	})
	results, err = r.Pipeline(context.Background(), getCommands("x{bar}", keyB))
	require.Error(t, err)
	assert.NoError(t, results[0].Err)
	var connErr *ConnectionError
	require.ErrorAs(t, results[1].Err, &connErr)
	assert.Equal(t, nodeB, connErr.Addr)
}
