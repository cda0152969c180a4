package server

import (
	"fmt"
	"github.com/ValentinKolb/cKV/lib/slot"
	"github.com/ValentinKolb/cKV/lib/store"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/ValentinKolb/cKV/rpc/serializer"
	"github.com/ValentinKolb/cKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("server")

// Node is one node of a development cluster. Primaries serve the slots the
// cluster assigns to them, replicas only redirect.
type Node struct {
	ID   string
	Addr string
	Role string // "primary" or "replica"

	primary  *Node
	replicas []*Node

	cluster    *DevCluster
	store      store.IStore
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	password   string
	startedAt  time.Time
	down       atomic.Bool

	loadedScripts *xsync.MapOf[string, scriptFunc]
	storeAdapter  IRPCServerAdapter
	scriptAdapter IRPCServerAdapter
	clusterAdpt   IRPCServerAdapter
}

// Store returns the store of the node
func (n *Node) Store() store.IStore {
	return n.store
}

// IsPrimary reports whether the node is a primary
func (n *Node) IsPrimary() bool {
	return n.Role == "primary"
}

// FlushScripts forgets all registered scripts, as a restarted node would
func (n *Node) FlushScripts() {
	n.loadedScripts.Clear()
}

// info returns the description of the node used in cluster replies
func (n *Node) info() common.NodeInfo {
	ni := common.NodeInfo{ID: n.ID, Role: n.Role, Health: "online"}
	if host, port, err := net.SplitHostPort(n.Addr); err == nil && !strings.HasPrefix(n.Addr, "/") {
		ni.Host = host
		ni.Port, _ = strconv.Atoi(port)
	} else {
		ni.Host = n.Addr
	}
	if n.primary != nil {
		ni.PrimaryID = n.primary.ID
	}
	if n.down.Load() {
		ni.Health = "failed"
	}
	return ni
}

// --------------------------------------------------------------------------
// Request handling
// --------------------------------------------------------------------------

// registerTransportHandler connects the node to its transport
func (n *Node) registerTransportHandler() {
	n.transport.RegisterHandler(func(sess *transport.Session, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Decode the request
		if err := n.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("ERR failed to deserialize request: %s", err))
		} else {
			respMsg = n.Handle(sess, &msg)
		}

		// Return result
		val, err := n.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("Failed to serialize response: %v", err)
			val, _ = n.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("ERR failed to serialize response: %s", err)))
		}
		return val
	})
}

// Handle processes one request of a session. It is exported so nodes can be
// driven in-process without a transport.
func (n *Node) Handle(sess *transport.Session, req *common.Message) *common.Message {
	if req.MsgType == common.MsgTAuth {
		return n.auth(sess, req)
	}
	if n.password != "" && !sess.Authenticated() {
		return common.NewErrorResponse("NOAUTH Authentication required.")
	}

	if req.MsgType == common.MsgTAsking {
		sess.SetAsking()
		return common.NewOkResponse(common.MsgTAsking, true)
	}
	asking := sess.ConsumeAsking()

	if req.Keyed() {
		if redirect := n.checkSlot(req.Key, asking); redirect != nil {
			return redirect
		}
		if req.MsgType == common.MsgTEvalSha {
			return n.scriptAdapter.Handle(req)
		}
		return n.storeAdapter.Handle(req)
	}

	switch req.MsgType {
	case common.MsgTScriptLoad:
		return n.scriptAdapter.Handle(req)
	case common.MsgTClusterShards, common.MsgTClusterInfo, common.MsgTClusterKeySlot,
		common.MsgTClusterCountKeys, common.MsgTClusterGetKeys, common.MsgTClusterLinks,
		common.MsgTClusterMyID, common.MsgTClusterReplicas:
		return n.clusterAdpt.Handle(req)
	default:
		return common.NewErrorResponse(fmt.Sprintf("ERR unknown command '%s'", req.MsgType))
	}
}

// auth checks the password of an AUTH request. The username is accepted as
// is, nodes only know a single password.
func (n *Node) auth(sess *transport.Session, req *common.Message) *common.Message {
	if n.password == "" {
		return common.NewErrorResponse("ERR AUTH called without any password configured")
	}
	if len(req.Args) != 2 || string(req.Args[1]) != n.password {
		return common.NewErrorResponse("WRONGPASS invalid username-password pair or user is disabled.")
	}
	sess.SetAuthenticated()
	return common.NewOkResponse(common.MsgTAuth, true)
}

// checkSlot returns a redirect if the node must not serve the key
func (n *Node) checkSlot(key string, asking bool) *common.Message {
	s := slot.Of(key)
	owner, target := n.cluster.slotState(s)

	if owner == nil {
		return common.NewErrorResponse(fmt.Sprintf("CLUSTERDOWN Hash slot %d not served", s))
	}

	// replicas always send the client to the primary
	if !n.IsPrimary() {
		return common.NewMovedResponse(s, owner.Addr)
	}

	if owner == n {
		// keys that already left a migrating slot are served by the target
		if target != nil {
			if _, ok, _ := n.store.Get(key); !ok {
				return common.NewAskResponse(s, target.Addr)
			}
		}
		return nil
	}

	// importing node, the client was sent here by ASK
	if target == n && asking {
		return nil
	}

	return common.NewMovedResponse(s, owner.Addr)
}
