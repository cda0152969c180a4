package unix

import (
	"fmt"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/ValentinKolb/cKV/rpc/transport"
	"github.com/ValentinKolb/cKV/rpc/transport/base"
	"net"
	"os"
)

const (
	defaultBufferSize = 64 * 1024 // 64 KB
)

// serverConnector implements the IServerConnector interface for Unix sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "unix"
}

func (c *serverConnector) Listen(config common.ServerTransportConfig) (net.Listener, error) {
	socketPath := config.Endpoint

	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %v", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %v", err)
	}

	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.ServerTransportConfig) error {
	return applyBuffers(conn, config.SocketConf)
}

// applyBuffers sets the socket buffer sizes of a unix connection, zero keeps
// the system default
func applyBuffers(conn net.Conn, conf common.SocketConf) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	if conf.ReadBufferSize > 0 {
		if err := uc.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return fmt.Errorf("failed to set read buffer: %w", err)
		}
	}
	if conf.WriteBufferSize > 0 {
		if err := uc.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return fmt.Errorf("failed to set write buffer: %w", err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewUnixServerTransport creates a new Unix server transport with the default buffer size
func NewUnixServerTransport() transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, defaultBufferSize)
}
