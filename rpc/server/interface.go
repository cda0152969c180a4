package server

import (
	"github.com/ValentinKolb/cKV/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters of a node.
// Each adapter serves one group of message types against the node's resources.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// If an error occurs, it should be set in the response
	Handle(req *common.Message) (resp *common.Message)
}
