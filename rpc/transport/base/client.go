package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/ValentinKolb/cKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

// ErrTransportClosed is returned by Lease after Close
var ErrTransportClosed = errors.New("transport closed")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection based on the provided configuration
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// clientConnection represents a single net connection
type clientConnection struct {
	conn          net.Conn
	stopCh        chan struct{} // Close signal for the reader goroutine
	requestChans  *xsync.MapOf[uint64, chan responseResult]
	connMu        sync.Mutex // Protects writes to the connection
	broken        atomic.Bool
	closeOnce     sync.Once
	authenticated bool
	parent        *clientTransport
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	endpoint      string
	slots         chan struct{}           // counting semaphore, one slot per connection
	idle          chan *clientConnection // connections that are not leased
	nextRequestID atomic.Uint64          // Atomic counter for unique request IDs
	stopping      atomic.Bool
	connsMu       sync.Mutex
	conns         map[*clientConnection]struct{}
}

// lease is a connection handed out by Lease
type lease struct {
	c        *clientConnection
	released atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
		conns:     make(map[*clientConnection]struct{}),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(endpoint string, config common.ClientConfig) error {
	if endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}

	t.config = config
	t.endpoint = endpoint
	t.stopping.Store(false)

	// Set default value for ConnectionsPerEndpoint
	connectionsPerEP := 1
	if config.Transport.ConnectionsPerEndpoint > 0 {
		connectionsPerEP = config.Transport.ConnectionsPerEndpoint
	}
	t.slots = make(chan struct{}, connectionsPerEP)
	t.idle = make(chan *clientConnection, connectionsPerEP)

	// Dial the first connection eagerly so an unreachable node fails fast.
	// The remaining connections are created on demand.
	c, err := t.dial()
	if err != nil {
		return err
	}
	t.idle <- c

	Logger.Infof("Connected to %s using %s transport (max %d connections)", endpoint, t.connector.GetName(), connectionsPerEP)
	return nil
}

func (t *clientTransport) Lease(ctx context.Context) (transport.IRPCConn, error) {
	if t.stopping.Load() {
		return nil, ErrTransportClosed
	}

	// Acquire a slot, this bounds the requests in flight
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Reuse an idle connection if possible
	var c *clientConnection
	select {
	case c = <-t.idle:
		if c.broken.Load() {
			t.discard(c)
			c = nil
		}
	default:
	}

	if c == nil {
		var err error
		if c, err = t.dial(); err != nil {
			<-t.slots
			return nil, err
		}
	}

	return &lease{c: c}, nil
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)

	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	for c := range t.conns {
		c.close()
	}
	t.conns = make(map[*clientConnection]struct{})
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCConn)
// --------------------------------------------------------------------------

func (l *lease) Send(ctx context.Context, req []byte) ([]byte, error) {
	if l.released.Load() {
		return nil, fmt.Errorf("connection already released")
	}
	return l.c.send(ctx, req)
}

func (l *lease) Authenticated() bool {
	return l.c.authenticated
}

func (l *lease) SetAuthenticated() {
	l.c.authenticated = true
}

func (l *lease) Release() {
	if l.released.Swap(true) {
		return
	}
	t := l.c.parent
	if l.c.broken.Load() || t.stopping.Load() {
		t.discard(l.c)
	} else {
		select {
		case t.idle <- l.c:
		default:
			t.discard(l.c)
		}
	}
	<-t.slots
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// dial establishes a new connection to the endpoint and starts its reader
func (t *clientTransport) dial() (*clientConnection, error) {
	conn, err := t.connector.Connect(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", t.endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %v", t.endpoint, err)
	}

	c := &clientConnection{
		conn:         conn,
		stopCh:       make(chan struct{}),
		requestChans: xsync.NewMapOf[uint64, chan responseResult](),
		parent:       t,
	}

	t.connsMu.Lock()
	t.conns[c] = struct{}{}
	t.connsMu.Unlock()

	go c.readResponses()
	return c, nil
}

// discard closes a connection and forgets it
func (t *clientTransport) discard(c *clientConnection) {
	t.connsMu.Lock()
	delete(t.conns, c)
	t.connsMu.Unlock()
	c.close()
}

// send writes one request and waits for the matching response
func (c *clientConnection) send(ctx context.Context, req []byte) ([]byte, error) {
	if c.broken.Load() {
		return nil, fmt.Errorf("connection to %s is broken", c.parent.endpoint)
	}

	requestID := c.parent.nextRequestID.Add(1)
	timeout := c.parent.config.Timeout()

	// Create and register a channel for the response
	respCh := make(chan responseResult, 1)
	c.requestChans.Store(requestID, respCh)
	defer c.requestChans.Delete(requestID)

	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	c.connMu.Lock()
	err := writeFrame(c.conn, requestID, req)
	c.connMu.Unlock()

	if err != nil {
		c.broken.Store(true)
		return nil, err
	}

	// Wait for response or timeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-timeoutCh:
		// the response may still arrive later, the connection can not be reused
		c.broken.Store(true)
		return nil, fmt.Errorf("request to %s timed out after %s", c.parent.endpoint, timeout)
	case <-ctx.Done():
		c.broken.Store(true)
		return nil, ctx.Err()
	}
}

// readResponses reads responses in a loop and distributes them to waiting requests.
// It exits on the first read error and fails all pending requests.
func (c *clientConnection) readResponses() {
	for {
		requestID, data, err := readFrame(c.conn, nil)
		if err != nil {
			c.broken.Store(true)
			select {
			case <-c.stopCh:
				// closed locally
			default:
				Logger.Debugf("Connection to %s lost: %v", c.parent.endpoint, err)
			}
			c.requestChans.Range(func(id uint64, ch chan responseResult) bool {
				deliver(ch, responseResult{nil, fmt.Errorf("error reading response: %v", err)})
				return true
			})
			return
		}

		if respCh, found := c.requestChans.Load(requestID); found {
			deliver(respCh, responseResult{data, nil})
		} else {
			Logger.Warningf("Received response for unknown request ID %d from %s", requestID, c.parent.endpoint)
		}
	}
}

// close stops the reader goroutine and closes the net connection
func (c *clientConnection) close() {
	c.closeOnce.Do(func() {
		c.broken.Store(true)
		close(c.stopCh)
		c.conn.Close()
	})
}

// deliver hands a result to a waiting request without blocking
func deliver(ch chan responseResult, r responseResult) {
	select {
	case ch <- r:
	default:
	}
}
