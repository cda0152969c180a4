package kv

import (
	"fmt"
	"github.com/ValentinKolb/cKV/cmd/util"
	"github.com/spf13/cobra"
	"time"
)

var (
	setTTL time.Duration

	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			key := args[0]
			value := args[1]
			if err := rpcClient.Set(ctx, key, []byte(value), setTTL); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			key := args[0]
			resp, ok, err := rpcClient.Get(ctx, key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, resp=%s\n", key, ok, resp)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			key := args[0]
			deleted, err := rpcClient.Delete(ctx, key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, deleted=%t\n", key, deleted)
			return nil
		},
	}
	ttlCmd = &cobra.Command{
		Use:   "ttl [key]",
		Short: "Prints the remaining time to live of a key",
		Long:  "Prints the remaining time to live of a key in milliseconds. -1 means the key has no expiry, -2 that it does not exist.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd)
			defer cancel()

			key := args[0]
			ttl, err := rpcClient.PTTL(ctx, key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, pttl=%d\n", key, ttl)
			return nil
		},
	}
)

func init() {
	setCmd.Flags().DurationVar(&setTTL, "ttl", 0, util.WrapString("Time to live of the key (e.g. 30s, 0 for no expiry)"))
}
