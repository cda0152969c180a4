// Package rpc provides the communication layer between the cluster client and
// the nodes of a hash-slot partitioned key-value cluster.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, redirect parsing, configuration
//     structures, and logging.
//
//   - transport: Framed request/response transports with per-connection
//     sessions (TCP, Unix sockets).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: The node pool and the ClusterClient, which wires the topology
//     manager, the router and the lock manager together.
//
//   - server: An in-process development cluster whose nodes answer with
//     MOVED and ASK like a real cluster does.
package rpc
