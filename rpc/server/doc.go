// Package server implements an in-process development cluster. It is used by
// the serve command and by the end-to-end tests of the client.
//
// A DevCluster creates one Node per primary and replica and binds a server
// transport for each of them. The nodes share the slot map directly, so there
// is no gossip: every node knows the owner of every slot at all times.
//
// Key Components:
//
//   - DevCluster: creates the nodes, splits the slots evenly across the
//     primaries and drives slot migrations (BeginMigration, MigrateKey,
//     FinishMigration, MoveSlot). Kill stops a single node so clients can be
//     tested against connection failures.
//
//   - Node: decodes requests and checks authentication, the ASKING flag of the
//     session and slot ownership before handing the request to an adapter.
//     Requests for foreign slots are answered with MOVED, requests for keys
//     that already left a migrating slot with ASK.
//
//   - IRPCServerAdapter: the adapters translate requests into calls on the
//     node's store.IStore (NewStoreServerAdapter), evaluate registered scripts
//     (NewScriptServerAdapter) and answer cluster introspection requests
//     (NewClusterServerAdapter).
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Host:             "127.0.0.1",
//	  BasePort:         7000,
//	  Shards:           3,
//	  ReplicasPerShard: 1,
//	}
//
//	c, err := server.NewDevCluster(config, tcp.NewTCPServerTransport, serializer.NewBinarySerializer())
//	if err != nil {
//	  log.Fatalf("Cluster error: %v", err)
//	}
//	c.Start()
//	defer c.Close()
//
// Scripts:
//
//	Nodes do not embed an interpreter. ScriptLoad only accepts the scripts of
//	the lock manager (see common.ScriptCompareAndDelete and
//	common.ScriptCompareAndExtend) and evaluates them natively. EvalSha for a
//	digest that was not loaded on the node fails with NOSCRIPT.
//
// Thread Safety:
//
//	Nodes handle requests of different connections concurrently. Requests of
//	one connection are handled in order, which the ASKING flag relies on.
package server
