package util

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/cKV/rpc/client"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/ValentinKolb/cKV/rpc/serializer"
	"github.com/ValentinKolb/cKV/rpc/server"
	"github.com/ValentinKolb/cKV/rpc/transport/tcp"
	"github.com/ValentinKolb/cKV/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupRPCClientFlags adds common cluster connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "seeds"
	cmd.PersistentFlags().String(key, "127.0.0.1:7000", WrapString("Comma-separated list of cluster nodes used to discover the slot layout (host:port or socket path)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of one request"))

	key = "max-redirects"
	cmd.PersistentFlags().Int(key, 5, WrapString("How many MOVED redirects one request may follow"))

	key = "username"
	cmd.PersistentFlags().String(key, "", WrapString("Username sent with AUTH (optional)"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("Password sent with AUTH on every new connection (empty disables AUTH)"))

	key = "lock-sleep"
	cmd.PersistentFlags().Int(key, 100, WrapString("Default poll interval of blocking lock acquisition (in ms)"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per node"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the transport (in seconds, only for tcp)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("ckv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	var seeds []string
	for _, seed := range strings.Split(viper.GetString("seeds"), ",") {
		if seed = strings.TrimSpace(seed); seed != "" {
			seeds = append(seeds, seed)
		}
	}

	conf := &common.ClientConfig{
		Seeds:           seeds,
		TimeoutSecond:   viper.GetInt("timeout"),
		MaxRedirects:    viper.GetInt("max-redirects"),
		Username:        viper.GetString("username"),
		Password:        viper.GetString("password"),
		LockSleepMillis: viper.GetInt("lock-sleep"),
		Transport: common.ClientTransportConfig{
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}

	return conf
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetClientTransport returns the factory for the configured client transport
func GetClientTransport() (client.TransportFactory, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport, nil
	case "unix":
		return unix.NewUnixClientTransport, nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport returns the factory for the configured server transport
func GetServerTransport() (server.TransportFactory, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport, nil
	case "unix":
		return unix.NewUnixServerTransport, nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// NewClusterClient creates a cluster client from the configuration
func NewClusterClient() (*client.ClusterClient, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := GetClientTransport()
	if err != nil {
		return nil, err
	}
	return client.NewClusterClient(*GetClientConfig(), t, s)
}

// CommandContext returns the context of a command invocation. It is cancelled
// on SIGINT and SIGTERM so blocking commands release what they hold.
func CommandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
