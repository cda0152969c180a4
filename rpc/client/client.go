package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/cKV/lib/lockmgr"
	"github.com/ValentinKolb/cKV/lib/router"
	"github.com/ValentinKolb/cKV/lib/topology"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/ValentinKolb/cKV/rpc/serializer"
	"time"
)

// ClusterClient ties the node pool, the topology manager, the router and the
// lock manager together. It is safe for concurrent use.
type ClusterClient struct {
	config common.ClientConfig
	pool   *NodePool
	topo   *topology.Manager
	router *router.Router
	locks  lockmgr.ILockManager
}

// Option configures a ClusterClient
type Option func(*clientOptions)

type clientOptions struct {
	credentials common.CredentialProvider
	selection   lockmgr.Selection
}

// WithCredentials authenticates connections with a custom provider instead of
// the username and password of the config
func WithCredentials(p common.CredentialProvider) Option {
	return func(o *clientOptions) { o.credentials = p }
}

// WithLockSelection seeds the lock strategy cache and skips the probe
func WithLockSelection(sel lockmgr.Selection) Option {
	return func(o *clientOptions) { o.selection = sel }
}

// NewClusterClient creates a client for the cluster reachable through the seeds
// of config. No request is sent before the first operation.
//
// Usage:
//
//	c, err := client.NewClusterClient(config, tcp.NewTCPClientTransport, serializer.NewBinarySerializer())
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	resp, err := c.Route(ctx, router.ByKey("foo"), common.NewGetRequest("foo"))
func NewClusterClient(config common.ClientConfig, newTransport TransportFactory, ser serializer.IRPCSerializer, opts ...Option) (*ClusterClient, error) {
	if len(config.Seeds) == 0 {
		return nil, fmt.Errorf("no seed nodes provided")
	}
	for _, seed := range config.Seeds {
		if !common.ValidAddr(seed) {
			return nil, fmt.Errorf("invalid seed address %q", seed)
		}
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	pool := NewNodePool(config, newTransport, ser, o.credentials)
	topo := topology.NewManager(config.Seeds, pool)
	r := router.New(topo, pool, router.WithMaxRedirects(config.MaxRedirects))

	return &ClusterClient{
		config: config,
		pool:   pool,
		topo:   topo,
		router: r,
		locks: lockmgr.NewLockManager(r,
			lockmgr.WithDefaultSleep(time.Duration(config.LockSleepMillis)*time.Millisecond),
			lockmgr.WithSelection(o.selection),
		),
	}, nil
}

// Route sends a request to the owner of the target slot (see router.Router.Route)
func (c *ClusterClient) Route(ctx context.Context, target router.Target, req *common.Message) (*common.Message, error) {
	return c.router.Route(ctx, target, req)
}

// Pipeline sends a batch of commands grouped by owning node (see router.Router.Pipeline)
func (c *ClusterClient) Pipeline(ctx context.Context, cmds []router.Command, opts ...router.PipelineOption) ([]router.Result, error) {
	return c.router.Pipeline(ctx, cmds, opts...)
}

// RouteNode sends a request to one node without following redirects
func (c *ClusterClient) RouteNode(ctx context.Context, addr string, req *common.Message) (*common.Message, error) {
	return c.router.RouteNode(ctx, addr, req)
}

// Refresh reloads the cluster layout
func (c *ClusterClient) Refresh(ctx context.Context) error {
	return c.topo.Refresh(ctx)
}

// Topology returns the topology manager of the client
func (c *ClusterClient) Topology() *topology.Manager {
	return c.topo
}

// Lock creates a lock on the key name (see lockmgr.ILockManager.NewLock)
func (c *ClusterClient) Lock(ctx context.Context, name string, opts ...lockmgr.LockOption) (lockmgr.ILock, error) {
	return c.locks.NewLock(ctx, name, opts...)
}

// LockManager returns the lock manager of the client
func (c *ClusterClient) LockManager() lockmgr.ILockManager {
	return c.locks
}

// Close closes all connections
func (c *ClusterClient) Close() error {
	return c.pool.Close()
}

// --------------------------------------------------------------------------
// Keyed commands
// --------------------------------------------------------------------------

// Get returns the value of a key
func (c *ClusterClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := c.router.Route(ctx, router.ByKey(key), common.NewGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

// Set sets a key, a ttl of zero means no expiry
func (c *ClusterClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.router.Route(ctx, router.ByKey(key), common.NewSetRequest(key, value, ttl))
	return err
}

// Delete deletes a key and reports whether it existed
func (c *ClusterClient) Delete(ctx context.Context, key string) (bool, error) {
	resp, err := c.router.Route(ctx, router.ByKey(key), common.NewDeleteRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// PTTL returns the remaining time to live of a key in milliseconds,
// -1 if the key has no expiry and -2 if it does not exist
func (c *ClusterClient) PTTL(ctx context.Context, key string) (int64, error) {
	resp, err := c.router.Route(ctx, router.ByKey(key), common.NewPTTLRequest(key))
	if err != nil {
		return 0, err
	}
	return resp.TTL, nil
}

// --------------------------------------------------------------------------
// Cluster introspection
// --------------------------------------------------------------------------

// ClusterInfo returns the cluster state fields reported by the owner of slot 0
func (c *ClusterClient) ClusterInfo(ctx context.Context) (common.Fields, error) {
	resp, err := c.router.Route(ctx, router.BySlot(0), common.NewClusterInfoRequest())
	if err != nil {
		return common.Fields{}, err
	}
	return common.DecodePayload[common.Fields](resp)
}

// ClusterKeySlot asks the cluster for the slot of a key
func (c *ClusterClient) ClusterKeySlot(ctx context.Context, key string) (uint16, error) {
	resp, err := c.router.Route(ctx, router.ByKey(key), common.NewClusterKeySlotRequest(key))
	if err != nil {
		return 0, err
	}
	return uint16(resp.Int), nil
}

// ClusterCountKeysInSlot returns the number of keys the owner of a slot holds in it
func (c *ClusterClient) ClusterCountKeysInSlot(ctx context.Context, s uint16) (int, error) {
	resp, err := c.router.Route(ctx, router.BySlot(s), common.NewClusterCountKeysRequest(s))
	if err != nil {
		return 0, err
	}
	return int(resp.Int), nil
}

// ClusterGetKeysInSlot returns up to count keys of a slot
func (c *ClusterClient) ClusterGetKeysInSlot(ctx context.Context, s uint16, count int) ([]string, error) {
	resp, err := c.router.Route(ctx, router.BySlot(s), common.NewClusterGetKeysRequest(s, count))
	if err != nil {
		return nil, err
	}
	return common.DecodePayload[[]string](resp)
}

// ClusterLinks returns the cluster bus links of the node at addr
func (c *ClusterClient) ClusterLinks(ctx context.Context, addr string) ([]common.LinkInfo, error) {
	resp, err := c.router.RouteNode(ctx, addr, common.NewClusterLinksRequest())
	if err != nil {
		return nil, err
	}
	return common.DecodePayload[[]common.LinkInfo](resp)
}

// ClusterMyID returns the id of the node at addr
func (c *ClusterClient) ClusterMyID(ctx context.Context, addr string) (string, error) {
	resp, err := c.router.RouteNode(ctx, addr, common.NewClusterMyIDRequest())
	if err != nil {
		return "", err
	}
	return string(resp.Value), nil
}

// ClusterShards returns the shard list reported by the owner of slot 0
func (c *ClusterClient) ClusterShards(ctx context.Context) ([]common.ShardInfo, error) {
	resp, err := c.router.Route(ctx, router.BySlot(0), common.NewClusterShardsRequest())
	if err != nil {
		return nil, err
	}
	return common.DecodePayload[[]common.ShardInfo](resp)
}

// ClusterReplicas returns the replicas of the primary with the given id
func (c *ClusterClient) ClusterReplicas(ctx context.Context, nodeID string) ([]common.NodeInfo, error) {
	resp, err := c.router.Route(ctx, router.BySlot(0), common.NewClusterReplicasRequest(nodeID))
	if err != nil {
		return nil, err
	}
	return common.DecodePayload[[]common.NodeInfo](resp)
}
