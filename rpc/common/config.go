package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Transport configuration structs
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific settings
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ClientTransportConfig configures the connections to one node
type ClientTransportConfig struct {
	// ConnectionsPerEndpoint bounds the number of requests in flight per node
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
}

// ServerTransportConfig configures the listener of a node
type ServerTransportConfig struct {
	// Endpoint is the address to listen on (host:port or a socket path)
	Endpoint string
	// WriteTimeoutSecond bounds writing one response (0 = none)
	WriteTimeoutSecond int64
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	// Seeds are the nodes asked for the cluster layout on the first refresh
	Seeds         []string
	TimeoutSecond int
	// MaxRedirects bounds how many MOVED redirects one request follows
	MaxRedirects int
	// Username and Password are sent with AUTH on every new connection (if set)
	Username string
	Password string
	// LockSleepMillis is the default poll interval of blocking lock acquisition
	LockSleepMillis int
	Transport       ClientTransportConfig
}

// Timeout returns the request timeout (0 = none)
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Max Redirects", strconv.Itoa(c.MaxRedirects))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))
	addField("Lock Sleep", fmt.Sprintf("%d ms", c.LockSleepMillis))
	if c.Username != "" || c.Password != "" {
		addField("Auth", fmt.Sprintf("user=%q password=<hidden>", c.Username))
	}

	// Seeds
	addSection("Seeds")
	for i, seed := range c.Seeds {
		addField(strconv.Itoa(i), seed)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures a development cluster
type ServerConfig struct {
	// Host and BasePort of the first node, node i listens on BasePort+i
	Host     string
	BasePort int
	// SocketDir is used instead of Host/BasePort for unix transports
	SocketDir string

	// Cluster layout
	Shards           int
	ReplicasPerShard int

	// Node behaviour
	Password       string
	DisableScripts bool
	TimeoutSecond  int64

	Transport ServerTransportConfig

	// Observability
	MetricsEndpoint string
	LogLevel        string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Listener settings
	addSection("Nodes")
	if c.SocketDir != "" {
		addField("Socket Dir", c.SocketDir)
	} else {
		addField("Host", c.Host)
		addField("Base Port", strconv.Itoa(c.BasePort))
	}
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Layout
	addSection("Cluster Layout")
	addField("Shards", strconv.Itoa(c.Shards))
	addField("Replicas Per Shard", strconv.Itoa(c.ReplicasPerShard))
	addField("Scripts", fmt.Sprintf("%t", !c.DisableScripts))
	addField("Auth", fmt.Sprintf("%t", c.Password != ""))

	// Logging configuration
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	return sb.String()
}
