// Package client implements the cluster client. It connects the routing and
// locking core (lib/topology, lib/router, lib/lockmgr) to the transport and
// serialization layers.
//
// Key Components:
//
//   - NodePool: keeps one transport.IRPCClientTransport per node address and
//     sends requests over leased connections. It implements router.Executor
//     (requests of one Exec share a connection, which ASKING relies on) and
//     topology.ShardLister. Fresh connections are authenticated with the
//     configured common.CredentialProvider before the first request.
//
//   - ClusterClient: the facade used by the CLI. It exposes Route and
//     RouteNode, locks (Lock), a few keyed commands and the cluster
//     introspection commands.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Seeds:         []string{"127.0.0.1:7000"},
//	  TimeoutSecond: 5,
//	  Transport:     common.ClientTransportConfig{ConnectionsPerEndpoint: 4},
//	}
//
//	c, err := client.NewClusterClient(config, tcp.NewTCPClientTransport, serializer.NewBinarySerializer())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	_ = c.Set(ctx, "mykey", []byte("myvalue"), 0)
//	value, exists, _ := c.Get(ctx, "mykey")
//
//	l, _ := c.Lock(ctx, "mylock", lockmgr.WithTimeout(30*time.Second))
//	if ok, _ := l.Acquire(ctx); ok {
//	  defer l.Release(ctx)
//	}
//
// Performance Considerations:
//
//   - ConnectionsPerEndpoint bounds the requests in flight per node. A request
//     that finds all connections leased waits until one is released.
//
//   - The choice of serializer significantly affects performance. The binary serializer
//     provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	ClusterClient and NodePool are safe for concurrent use.
package client
