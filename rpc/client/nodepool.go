package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/ValentinKolb/cKV/rpc/serializer"
	"github.com/ValentinKolb/cKV/rpc/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
)

var (
	Logger = logger.GetLogger("rpc")
)

// TransportFactory creates the client transport for one node
type TransportFactory func() transport.IRPCClientTransport

// NodePool keeps one client transport per node and sends requests over
// leased connections. It implements router.Executor and topology.ShardLister.
type NodePool struct {
	config       common.ClientConfig
	newTransport TransportFactory
	serializer   serializer.IRPCSerializer
	credentials  common.CredentialProvider

	nodes    *xsync.MapOf[string, transport.IRPCClientTransport]
	connectM sync.Mutex
	closed   atomic.Bool
}

// NewNodePool creates an empty pool. Transports are connected on first use.
// If credentials is nil, the credentials of the config are used (if any).
func NewNodePool(config common.ClientConfig, newTransport TransportFactory, ser serializer.IRPCSerializer, credentials common.CredentialProvider) *NodePool {
	if credentials == nil {
		credentials = common.CredentialsFromConfig(config)
	}
	return &NodePool{
		config:       config,
		newTransport: newTransport,
		serializer:   ser,
		credentials:  credentials,
		nodes:        xsync.NewMapOf[string, transport.IRPCClientTransport](),
	}
}

// Exec sends the requests in order over one leased connection to addr.
// A fresh connection is authenticated first if the pool has credentials; a
// rejected AUTH is returned as the reply of every request.
func (p *NodePool) Exec(ctx context.Context, addr string, reqs ...*common.Message) ([]*common.Message, error) {
	if timeout := p.config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t, err := p.transport(addr)
	if err != nil {
		return nil, err
	}

	conn, err := t.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	if p.credentials != nil && !conn.Authenticated() {
		resp, err := p.auth(ctx, conn)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			out := make([]*common.Message, len(reqs))
			for i := range out {
				out[i] = resp
			}
			return out, nil
		}
	}

	out := make([]*common.Message, 0, len(reqs))
	for _, req := range reqs {
		resp, err := p.send(ctx, conn, req)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// ClusterShards asks the node at addr for the shard list
func (p *NodePool) ClusterShards(ctx context.Context, addr string) ([]common.ShardInfo, error) {
	resps, err := p.Exec(ctx, addr, common.NewClusterShardsRequest())
	if err != nil {
		return nil, err
	}
	if err := resps[0].AsError(); err != nil {
		return nil, err
	}
	return common.DecodePayload[[]common.ShardInfo](resps[0])
}

// Close closes the transports of all nodes
func (p *NodePool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	var errs *multierror.Error
	p.nodes.Range(func(addr string, t transport.IRPCClientTransport) bool {
		if err := t.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", addr, err))
		}
		return true
	})
	p.nodes.Clear()
	return errs.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// transport returns the transport of a node and connects it on first use
func (p *NodePool) transport(addr string) (transport.IRPCClientTransport, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("node pool is closed")
	}
	if t, ok := p.nodes.Load(addr); ok {
		return t, nil
	}

	p.connectM.Lock()
	defer p.connectM.Unlock()
	if t, ok := p.nodes.Load(addr); ok {
		return t, nil
	}

	if !common.ValidAddr(addr) {
		return nil, fmt.Errorf("invalid node address %q", addr)
	}
	t := p.newTransport()
	if err := t.Connect(addr, p.config); err != nil {
		return nil, err
	}
	p.nodes.Store(addr, t)
	return t, nil
}

// auth authenticates a connection. It returns the reply if the node rejected the credentials.
func (p *NodePool) auth(ctx context.Context, conn transport.IRPCConn) (*common.Message, error) {
	creds, err := p.credentials.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	if creds.Empty() {
		return nil, nil
	}

	resp, err := p.send(ctx, conn, common.NewAuthRequest(creds.Username, creds.Password))
	if err != nil {
		return nil, err
	}
	if resp.AsError() != nil {
		return resp, nil
	}
	conn.SetAuthenticated()
	return nil, nil
}

// send serializes a request, sends it over conn and deserializes the reply
func (p *NodePool) send(ctx context.Context, conn transport.IRPCConn, req *common.Message) (*common.Message, error) {
	reqBytes, err := p.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := conn.Send(ctx, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := p.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize %s reply: %w", req.MsgType, err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType && resp.MsgType != common.MsgTError {
		return nil, fmt.Errorf("unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}
	return resp, nil
}
