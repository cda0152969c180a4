package server

import (
	"fmt"
	"github.com/ValentinKolb/cKV/lib/store"
	"github.com/ValentinKolb/cKV/rpc/common"
	"time"
)

// NewStoreServerAdapter creates the adapter for plain keyed commands
func NewStoreServerAdapter(s store.IStore) IRPCServerAdapter {
	return &storeServerAdapter{store: s}
}

type storeServerAdapter struct {
	store store.IStore
}

func (adapter *storeServerAdapter) Handle(req *common.Message) *common.Message {
	// Check for nil store
	if adapter.store == nil {
		return common.NewErrorResponse("ERR handler: store is nil")
	}

	ttl := time.Duration(req.TTL) * time.Millisecond

	// Handle different message types
	switch req.MsgType {
	case common.MsgTSet:
		if err := adapter.store.Set(req.Key, req.Value, ttl); err != nil {
			return storeError(err)
		}
		return common.NewOkResponse(req.MsgType, true)
	case common.MsgTSetIfAbsent:
		written, err := adapter.store.SetIfAbsent(req.Key, req.Value, ttl)
		if err != nil {
			return storeError(err)
		}
		return common.NewOkResponse(req.MsgType, written)
	case common.MsgTGet:
		val, ok, err := adapter.store.Get(req.Key)
		if err != nil {
			return storeError(err)
		}
		return common.NewValueResponse(req.MsgType, val, ok)
	case common.MsgTDelete:
		deleted, err := adapter.store.Delete(req.Key)
		if err != nil {
			return storeError(err)
		}
		return common.NewOkResponse(req.MsgType, deleted)
	case common.MsgTPExpire:
		updated, err := adapter.store.PExpire(req.Key, ttl)
		if err != nil {
			return storeError(err)
		}
		return common.NewOkResponse(req.MsgType, updated)
	case common.MsgTPTTL:
		remaining, err := adapter.store.PTTL(req.Key)
		if err != nil {
			return storeError(err)
		}
		return common.NewTTLResponse(remaining)
	default:
		return common.NewErrorResponse(fmt.Sprintf("ERR unsupported message type for store: %s", req.MsgType))
	}
}

// storeError converts a store error into an error reply
func storeError(err error) *common.Message {
	return common.NewErrorResponse(fmt.Sprintf("ERR %s", err))
}
