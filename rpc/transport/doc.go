// Package transport defines the interfaces of the framed request/response
// transport between the cluster client and the nodes.
//
// The client side leases one connection per request cycle. The number of
// connections per node bounds the number of requests in flight to that node;
// a request that cannot lease a connection waits until one is released.
//
// The server side processes the requests of one connection in order and keeps
// a Session per connection, which carries the one-shot ASKING flag and the
// authentication state.
//
// Implementations live in the sub packages tcp and unix, both built on base.
package transport
