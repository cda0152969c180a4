package cluster

import (
	"fmt"
	"github.com/ValentinKolb/cKV/cmd/util"
	"github.com/ValentinKolb/cKV/lib/slot"
	"github.com/spf13/cobra"
	"strconv"
	"time"
)

var (
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints the cluster state as seen by one node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			fields, err := rpcClient.ClusterInfo(ctx)
			if err != nil {
				return err
			}
			for _, k := range fields.Keys() {
				v, _ := fields.Get(k)
				fmt.Printf("%s:%s\n", k, v)
			}
			return nil
		},
	}
	shardsCmd = &cobra.Command{
		Use:   "shards",
		Short: "Prints the slot ranges and nodes of every shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			shards, err := rpcClient.ClusterShards(ctx)
			if err != nil {
				return err
			}
			for i, shard := range shards {
				fmt.Printf("shard %d\n", i)
				for _, r := range shard.Slots {
					fmt.Printf("  slots %d-%d\n", r[0], r[1])
				}
				for _, n := range shard.Nodes {
					fmt.Printf("  %-8s %s %s (%s)\n", n.Role, n.ID, n.Addr(), n.Health)
				}
			}
			return nil
		},
	}
	nodesCmd = &cobra.Command{
		Use:   "nodes",
		Short: "Loads the slot layout and prints the nodes the client knows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			if err := rpcClient.Refresh(ctx); err != nil {
				return err
			}
			topo := rpcClient.Topology()
			for _, n := range topo.AllNodes() {
				fmt.Printf("%s suspect=%t\n", n, topo.IsSuspect(n.Addr()))
			}
			return nil
		},
	}
	keySlotCmd = &cobra.Command{
		Use:   "keyslot [key]",
		Short: "Prints the slot of a key",
		Long:  "Prints the slot of a key, once computed locally and once as reported by the cluster.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			key := args[0]
			remote, err := rpcClient.ClusterKeySlot(ctx, key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, slot=%d, cluster=%d\n", key, slot.Of(key), remote)
			return nil
		},
	}
	countKeysCmd = &cobra.Command{
		Use:   "countkeys [slot]",
		Short: "Counts the keys of a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			s, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			n, err := rpcClient.ClusterCountKeysInSlot(ctx, s)
			if err != nil {
				return err
			}
			fmt.Printf("slot=%d, keys=%d\n", s, n)
			return nil
		},
	}
	getKeysCmd = &cobra.Command{
		Use:   "getkeys [slot] [count]",
		Short: "Lists up to count keys of a slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			s, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			count, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("count must be a number: %w", err)
			}
			keys, err := rpcClient.ClusterGetKeysInSlot(ctx, s, count)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
	linksCmd = &cobra.Command{
		Use:   "links [node]",
		Short: "Prints the peer links of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			links, err := rpcClient.ClusterLinks(ctx, args[0])
			if err != nil {
				return err
			}
			for _, l := range links {
				fmt.Printf("%-4s %s since=%s events=%s\n", l.Direction, l.Node, time.UnixMilli(l.CreatedAt).Format(time.RFC3339), l.Events)
			}
			return nil
		},
	}
	myIDCmd = &cobra.Command{
		Use:   "myid [node]",
		Short: "Prints the id of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			id, err := rpcClient.ClusterMyID(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	replicasCmd = &cobra.Command{
		Use:   "replicas [node-id]",
		Short: "Lists the replicas of a primary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			replicas, err := rpcClient.ClusterReplicas(ctx, args[0])
			if err != nil {
				return err
			}
			for _, n := range replicas {
				fmt.Printf("%s %s (%s)\n", n.ID, n.Addr(), n.Health)
			}
			return nil
		},
	}
)

// parseSlot parses and validates a slot argument
func parseSlot(arg string) (uint16, error) {
	s, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("slot must be a number: %w", err)
	}
	if !slot.Valid(s) {
		return 0, fmt.Errorf("slot must be between 0 and %d", slot.Max)
	}
	return uint16(s), nil
}
