package server

import (
	"fmt"
	"github.com/ValentinKolb/cKV/lib/slot"
	"github.com/ValentinKolb/cKV/rpc/common"
	"strconv"
)

// NewClusterServerAdapter creates the adapter for the cluster introspection commands of a node
func NewClusterServerAdapter(n *Node) IRPCServerAdapter {
	return &clusterServerAdapter{node: n}
}

type clusterServerAdapter struct {
	node *Node
}

func (adapter *clusterServerAdapter) Handle(req *common.Message) *common.Message {
	n := adapter.node
	c := n.cluster

	switch req.MsgType {
	case common.MsgTClusterShards:
		return common.NewPayloadResponse(req.MsgType, c.shards())

	case common.MsgTClusterInfo:
		return common.NewPayloadResponse(req.MsgType, adapter.info())

	case common.MsgTClusterKeySlot:
		return common.NewIntResponse(req.MsgType, int64(slot.Of(req.Key)))

	case common.MsgTClusterCountKeys:
		if !slot.Valid(int(req.Int)) {
			return common.NewErrorResponse("ERR Invalid slot")
		}
		count, err := n.store.CountKeysInSlot(uint16(req.Int))
		if err != nil {
			return storeError(err)
		}
		return common.NewIntResponse(req.MsgType, int64(count))

	case common.MsgTClusterGetKeys:
		if !slot.Valid(int(req.Int)) {
			return common.NewErrorResponse("ERR Invalid slot")
		}
		if req.Count < 0 {
			return common.NewErrorResponse("ERR Invalid number of keys")
		}
		keys, err := n.store.KeysInSlot(uint16(req.Int), int(req.Count))
		if err != nil {
			return storeError(err)
		}
		return common.NewPayloadResponse(req.MsgType, keys)

	case common.MsgTClusterLinks:
		return common.NewPayloadResponse(req.MsgType, adapter.links())

	case common.MsgTClusterMyID:
		return common.NewValueResponse(req.MsgType, []byte(n.ID), true)

	case common.MsgTClusterReplicas:
		for _, p := range c.nodes {
			if p.ID != req.Key {
				continue
			}
			if !p.IsPrimary() {
				return common.NewErrorResponse(fmt.Sprintf("ERR The specified node %s is not a master", req.Key))
			}
			replicas := make([]common.NodeInfo, 0, len(p.replicas))
			for _, r := range p.replicas {
				replicas = append(replicas, r.info())
			}
			return common.NewPayloadResponse(req.MsgType, replicas)
		}
		return common.NewErrorResponse(fmt.Sprintf("ERR Unknown node %s", req.Key))

	default:
		return common.NewErrorResponse(fmt.Sprintf("ERR unsupported message type for cluster: %s", req.MsgType))
	}
}

// info returns the CLUSTER INFO fields
func (adapter *clusterServerAdapter) info() map[string]string {
	c := adapter.node.cluster

	assigned := 0
	primaries := make(map[*Node]bool)
	c.mu.RLock()
	for _, owner := range c.owners {
		if owner != nil {
			assigned++
			primaries[owner] = true
		}
	}
	c.mu.RUnlock()

	failed := 0
	for _, n := range c.nodes {
		if n.down.Load() {
			failed++
		}
	}

	state := "ok"
	if assigned < slot.Count {
		state = "fail"
	}

	return map[string]string{
		"cluster_enabled":        "1",
		"cluster_state":          state,
		"cluster_slots_assigned": strconv.Itoa(assigned),
		"cluster_slots_ok":       strconv.Itoa(assigned),
		"cluster_slots_fail":     strconv.Itoa(slot.Count - assigned),
		"cluster_known_nodes":    strconv.Itoa(len(c.nodes)),
		"cluster_size":           strconv.Itoa(len(primaries)),
		"cluster_failed_nodes":   strconv.Itoa(failed),
	}
}

// links returns one outgoing and one incoming link per other node
func (adapter *clusterServerAdapter) links() []common.LinkInfo {
	n := adapter.node
	created := n.startedAt.UnixMilli()

	var out []common.LinkInfo
	for _, other := range n.cluster.nodes {
		if other == n || other.down.Load() {
			continue
		}
		out = append(out,
			common.LinkInfo{Direction: "to", Node: other.ID, CreatedAt: created, Events: "r"},
			common.LinkInfo{Direction: "from", Node: other.ID, CreatedAt: created, Events: "r"},
		)
	}
	if out == nil {
		out = []common.LinkInfo{}
	}
	return out
}
