package serve

import (
	"context"
	"errors"
	"fmt"
	cmdUtil "github.com/ValentinKolb/cKV/cmd/util"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/ValentinKolb/cKV/rpc/server"
	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net/http"
	"strings"
	"time"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a local development cluster",
		Long: `Start a local development cluster. Every shard gets one primary and the configured number of replicas,
the slots are split evenly across the primaries. The configuration can be set via command line flags or environment variables.
The format of the environment variables is CKV_<flag> (e.g. CKV_SHARDS=6)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "host"
	ServeCmd.Flags().String(key, "127.0.0.1", cmdUtil.WrapString("Host the nodes listen on (tcp only)"))

	key = "base-port"
	ServeCmd.Flags().Int(key, 7000, cmdUtil.WrapString("Port of the first node, node i listens on base-port+i. 0 picks free ports (tcp only)"))

	key = "socket-dir"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Directory for the node sockets (unix only)"))

	key = "shards"
	ServeCmd.Flags().Int(key, 3, cmdUtil.WrapString("Number of shards, each shard has one primary"))

	key = "replicas"
	ServeCmd.Flags().Int(key, 0, cmdUtil.WrapString("Number of replicas per shard. Replicas hold no data and redirect to their primary"))

	key = "password"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Password clients must send with AUTH (empty disables authentication)"))

	key = "disable-scripts"
	ServeCmd.Flags().Bool(key, false, cmdUtil.WrapString("Reject script registration, clients fall back to non-atomic lock release"))

	key = "timeout"
	ServeCmd.Flags().Int64(key, 5, cmdUtil.WrapString("Write timeout of one response in seconds"))

	key = "transport-write-buffer"
	ServeCmd.Flags().Int(key, 512, cmdUtil.WrapString("The size of the write buffer of a connection (in KB)"))

	key = "transport-read-buffer"
	ServeCmd.Flags().Int(key, 512, cmdUtil.WrapString("The size of the read buffer of a connection (in KB)"))

	key = "transport-tcp-nodelay"
	ServeCmd.Flags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (tcp only)"))

	key = "transport-tcp-keepalive"
	ServeCmd.Flags().Int(key, 0, cmdUtil.WrapString("The keepalive interval in seconds (tcp only)"))

	key = "transport-tcp-linger"
	ServeCmd.Flags().Int(key, 0, cmdUtil.WrapString("The linger time in seconds (tcp only)"))

	key = "metrics-endpoint"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Address to serve Prometheus metrics on (e.g. 127.0.0.1:9100, empty disables it)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Host = viper.GetString("host")
	serveCmdConfig.BasePort = viper.GetInt("base-port")
	serveCmdConfig.SocketDir = viper.GetString("socket-dir")
	serveCmdConfig.Shards = viper.GetInt("shards")
	serveCmdConfig.ReplicasPerShard = viper.GetInt("replicas")
	serveCmdConfig.Password = viper.GetString("password")
	serveCmdConfig.DisableScripts = viper.GetBool("disable-scripts")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}

	// the transport decides how nodes are addressed
	switch viper.GetString("transport") {
	case "unix":
		if serveCmdConfig.SocketDir == "" {
			return fmt.Errorf("the unix transport needs --socket-dir")
		}
	case "tcp":
		serveCmdConfig.SocketDir = ""
	}

	return nil
}

// run starts the development cluster and blocks until it is interrupted
func run(cmd *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	cluster, err := server.NewDevCluster(*serveCmdConfig, t, s)
	if err != nil {
		return err
	}
	cluster.Start()

	if serveCmdConfig.MetricsEndpoint != "" {
		srv := serveMetrics(serveCmdConfig.MetricsEndpoint)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	fmt.Printf("cluster ready, seeds: %s\n", strings.Join(cluster.Seeds(), ","))

	ctx, cancel := cmdUtil.CommandContext(cmd)
	defer cancel()
	<-ctx.Done()

	fmt.Println("shutting down")
	return cluster.Close()
}

// serveMetrics exposes the metrics of the process in Prometheus format
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Errorf("Metrics endpoint stopped: %v", err)
		}
	}()
	server.Logger.Infof("Serving metrics on http://%s/metrics", addr)
	return srv
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("ckv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

}
