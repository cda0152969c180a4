package transport

import (
	"context"
	"github.com/ValentinKolb/cKV/rpc/common"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// Session is the state a node keeps per client connection
type Session struct {
	ID         uint64
	RemoteAddr string

	asking        atomic.Bool
	authenticated atomic.Bool
}

// NewSession creates the session of a new connection
func NewSession(id uint64, remoteAddr string) *Session {
	return &Session{ID: id, RemoteAddr: remoteAddr}
}

// SetAsking flags the session so that the next request may be served for an importing slot
func (s *Session) SetAsking() {
	s.asking.Store(true)
}

// ConsumeAsking returns the asking flag and clears it. The flag is valid for one request only.
func (s *Session) ConsumeAsking() bool {
	return s.asking.Swap(false)
}

// SetAuthenticated marks the session as authenticated
func (s *Session) SetAuthenticated() {
	s.authenticated.Store(true)
}

// Authenticated reports whether the session passed AUTH
func (s *Session) Authenticated() bool {
	return s.authenticated.Load()
}

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the session of the connection and a request as parameters and returns a response
type ServerHandleFunc func(sess *Session, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer of a node
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called for every request, in order per connection
	RegisterHandler(handler ServerHandleFunc)
	// Listen binds the listener without accepting connections yet
	Listen(config common.ServerTransportConfig) error
	// Addr returns the bound address (valid after Listen)
	Addr() string
	// Serve accepts connections until Close is called
	Serve() error
	// Close stops the listener and all open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the client side of the transport for one node.
// It owns a bounded pool of connections to the endpoint.
type IRPCClientTransport interface {
	// Connect initializes the transport with the given endpoint and configuration
	Connect(endpoint string, config common.ClientConfig) error
	// Lease returns a connection for exclusive use. It blocks until a connection
	// is available or the context is done.
	Lease(ctx context.Context) (IRPCConn, error)
	// Close closes all connections
	Close() error
}

// IRPCConn is a leased connection. Requests sent over one lease are processed
// by the node in order.
type IRPCConn interface {
	// Send sends a request to the node and returns the response
	Send(ctx context.Context, req []byte) (resp []byte, err error)
	// Authenticated reports whether AUTH already succeeded on this connection
	Authenticated() bool
	// SetAuthenticated records a successful AUTH
	SetAuthenticated()
	// Release returns the connection to the pool. Broken connections are discarded.
	Release()
}
