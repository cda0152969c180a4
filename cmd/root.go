package cmd

import (
	"fmt"
	"github.com/ValentinKolb/cKV/cmd/cluster"
	"github.com/ValentinKolb/cKV/cmd/kv"
	"github.com/ValentinKolb/cKV/cmd/lock"
	"github.com/ValentinKolb/cKV/cmd/serve"
	"github.com/ValentinKolb/cKV/cmd/util"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ckv",
		Short: "cluster-aware key-value client",
		Long: fmt.Sprintf(`cKV (v%s)

A client for hash-slot partitioned key-value clusters written in Go.
It follows MOVED and ASK redirects, keeps a local copy of the slot
layout and offers distributed locks on top of the cluster.`, Version),
		SilenceUsage:       true,
		PersistentPreRunE:  setupLogging,
		PersistentPostRunE: printMetrics,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of cKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cKV v%s\n", Version)
		},
	}
)

func init() {
	// run the root hooks before and after the hooks of the command groups
	cobra.EnableTraverseRunHooks = true

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(cluster.ClusterCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	key = "print-metrics"
	RootCmd.PersistentFlags().Bool(key, false, util.WrapString("Print the collected metrics in Prometheus format after the command finished"))
}

// setupLogging applies the log level to all loggers
func setupLogging(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// printMetrics writes the metrics of the run to stderr if requested
func printMetrics(_ *cobra.Command, _ []string) error {
	if viper.GetBool("print-metrics") {
		metrics.WritePrometheus(os.Stderr, false)
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
