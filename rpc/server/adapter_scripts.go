package server

import (
	"fmt"
	"github.com/ValentinKolb/cKV/lib/store"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
	"strconv"
	"sync/atomic"
	"time"
)

// scriptFunc is the native implementation of a catalog script
type scriptFunc func(s store.IStore, key string, args [][]byte) *common.Message

// catalog maps the digests of the supported scripts to their implementation.
// Nodes do not embed an interpreter; only these scripts can be loaded.
var catalog = map[string]scriptFunc{
	common.ScriptSHA(common.ScriptCompareAndDelete): compareAndDelete,
	common.ScriptSHA(common.ScriptCompareAndExtend): compareAndExtend,
}

// NewScriptServerAdapter creates the adapter for ScriptLoad and EvalSha.
// loaded is the set of digests registered on the node, enabled toggles
// script registration.
func NewScriptServerAdapter(s store.IStore, loaded *xsync.MapOf[string, scriptFunc], enabled *atomic.Bool) IRPCServerAdapter {
	return &scriptServerAdapter{store: s, loaded: loaded, enabled: enabled}
}

type scriptServerAdapter struct {
	store   store.IStore
	loaded  *xsync.MapOf[string, scriptFunc]
	enabled *atomic.Bool
}

func (adapter *scriptServerAdapter) Handle(req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTScriptLoad:
		if !adapter.enabled.Load() {
			return common.NewErrorResponse("ERR scripting is disabled on this node")
		}
		sha := common.ScriptSHA(req.Script)
		fn, ok := catalog[sha]
		if !ok {
			return common.NewErrorResponse("ERR unsupported script")
		}
		adapter.loaded.Store(sha, fn)
		return common.NewValueResponse(req.MsgType, []byte(sha), true)

	case common.MsgTEvalSha:
		fn, ok := adapter.loaded.Load(req.Script)
		if !ok {
			return common.NewErrorResponse("NOSCRIPT No matching script. Please use SCRIPT LOAD.")
		}
		return fn(adapter.store, req.Key, req.Args)

	default:
		return common.NewErrorResponse(fmt.Sprintf("ERR unsupported message type for scripts: %s", req.MsgType))
	}
}

// compareAndDelete implements common.ScriptCompareAndDelete
func compareAndDelete(s store.IStore, key string, args [][]byte) *common.Message {
	if len(args) != 1 {
		return common.NewErrorResponse("ERR wrong number of arguments for compare-and-delete")
	}
	deleted, err := s.CompareAndDelete(key, args[0])
	if err != nil {
		return storeError(err)
	}
	return common.NewIntResponse(common.MsgTEvalSha, boolToInt(deleted))
}

// compareAndExtend implements common.ScriptCompareAndExtend
func compareAndExtend(s store.IStore, key string, args [][]byte) *common.Message {
	if len(args) != 2 {
		return common.NewErrorResponse("ERR wrong number of arguments for compare-and-extend")
	}
	ms, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil || ms < 0 {
		return common.NewErrorResponse("ERR value is not an integer or out of range")
	}
	extended, err := s.CompareAndExtend(key, args[0], time.Duration(ms)*time.Millisecond)
	if err != nil {
		return storeError(err)
	}
	return common.NewIntResponse(common.MsgTEvalSha, boolToInt(extended))
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
