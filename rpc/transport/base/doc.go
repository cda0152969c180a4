// Package base provides the protocol-agnostic core of the client and server
// transports. The tcp and unix packages extend it with protocol-specific
// connectors.
//
// Frames carry a request ID and a length:
//
//	| requestID uint64 | length uint32 | payload |
//
// Client side:
//
//   - Every node gets its own clientTransport with at most
//     ConnectionsPerEndpoint connections. Lease hands out one connection for
//     exclusive use; callers that find all connections leased wait until one
//     is released or their context is done.
//   - Each connection runs a reader goroutine that correlates responses by
//     request ID. A response that arrives after its request timed out is
//     dropped, and the connection is discarded on release.
//   - Connections are created lazily and a broken connection is replaced on
//     the next lease. There is no retry at this level; retries belong to the
//     router, which knows whether a request may be repeated.
//
// Server side:
//
//   - One goroutine per connection reads and answers requests strictly in
//     order, so a one-shot flag set by one request (ASKING) applies to the
//     next request of the same connection.
//   - Read buffers are pooled with a sync.Pool.
package base
