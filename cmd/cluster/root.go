package cluster

import (
	"github.com/ValentinKolb/cKV/cmd/util"
	"github.com/ValentinKolb/cKV/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.ClusterClient

	// ClusterCommands represents the cluster introspection command group
	ClusterCommands = &cobra.Command{
		Use:                "cluster",
		Short:              "Inspect the slot layout and the nodes of the cluster",
		PersistentPreRunE:  setupClusterClient,
		PersistentPostRunE: closeClusterClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the cluster command
	util.SetupRPCClientFlags(ClusterCommands)

	// Add subcommands
	ClusterCommands.AddCommand(infoCmd)
	ClusterCommands.AddCommand(shardsCmd)
	ClusterCommands.AddCommand(nodesCmd)
	ClusterCommands.AddCommand(keySlotCmd)
	ClusterCommands.AddCommand(countKeysCmd)
	ClusterCommands.AddCommand(getKeysCmd)
	ClusterCommands.AddCommand(linksCmd)
	ClusterCommands.AddCommand(myIDCmd)
	ClusterCommands.AddCommand(replicasCmd)
}

// setupClusterClient initializes the cluster client
func setupClusterClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcClient, err = util.NewClusterClient()
	return err
}

// closeClusterClient closes all node connections
func closeClusterClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}
