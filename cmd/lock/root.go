package lock

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/cKV/cmd/util"
	"github.com/ValentinKolb/cKV/lib/lockmgr"
	"github.com/ValentinKolb/cKV/rpc/client"
	"github.com/spf13/cobra"
	"os"
	"os/exec"
	"time"
)

var (
	rpcClient *client.ClusterClient

	lockTimeout     time.Duration
	blockingTimeout time.Duration
	lockStrategy    string
	holdFor         time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [name]",
		Short: "Acquire a lock and leave it to expire",
		Long:  "Acquire a lock and exit without releasing it. The lock is freed by its timeout, so a timeout is required.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// holdCmd represents the hold command
	holdCmd = &cobra.Command{
		Use:   "hold [name]",
		Short: "Acquire a lock, hold it and release it",
		Long:  "Acquire a lock, keep it for the given duration (or until interrupted) and release it. The lock is extended while it is held.",
		Args:  cobra.ExactArgs(1),
		RunE:  runHold,
	}

	// runCmd represents the run command
	runCmd = &cobra.Command{
		Use:   "run [name] -- [command...]",
		Short: "Run a command while holding a lock",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runExec,
	}

	// statusCmd represents the status command
	statusCmd = &cobra.Command{
		Use:   "status [name]",
		Short: "Report whether a lock is held and its remaining time",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(holdCmd)
	LockCommands.AddCommand(runCmd)
	LockCommands.AddCommand(statusCmd)

	// Add common RPC flags to the lock command
	util.SetupRPCClientFlags(LockCommands)

	// Add flags shared by all lock commands
	LockCommands.PersistentFlags().DurationVar(&lockTimeout, "lock-timeout", 30*time.Second, util.WrapString("Expiry of the lock key (0 for no expiry)"))
	LockCommands.PersistentFlags().DurationVar(&blockingTimeout, "wait", 0, util.WrapString("How long to wait for a held lock (0 waits forever, negative makes a single attempt)"))
	LockCommands.PersistentFlags().StringVar(&lockStrategy, "strategy", "auto", util.WrapString("Release strategy (auto, atomic, fallback)"))

	// Add flags specific to hold
	holdCmd.Flags().DurationVar(&holdFor, "for", 0, util.WrapString("How long to hold the lock (0 holds until interrupted)"))
}

// setupLockClient initializes the cluster client
func setupLockClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcClient, err = util.NewClusterClient()
	return err
}

// closeLockClient closes all node connections
func closeLockClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	if lockTimeout <= 0 {
		return fmt.Errorf("acquire needs a lock timeout, use hold or run for locks without expiry")
	}

	ctx, cancel := util.CommandContext(cmd)
	defer cancel()

	l, acquired, err := acquire(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	fmt.Printf("acquired=%t, strategy=%s, expiresIn=%s\n", acquired, l.Strategy(), lockTimeout)
	return nil
}

// runHold handles the hold lock command
func runHold(cmd *cobra.Command, args []string) error {
	ctx, cancel := util.CommandContext(cmd)
	defer cancel()

	l, acquired, err := acquire(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		fmt.Println("acquired=false")
		return nil
	}
	fmt.Printf("acquired=true, strategy=%s\n", l.Strategy())

	err = keepAlive(ctx, l, holdFor)
	if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
		return fmt.Errorf("failed to release lock: %w", rerr)
	}
	fmt.Println("released=true")
	return err
}

// runExec handles the run command
func runExec(cmd *cobra.Command, args []string) error {
	ctx, cancel := util.CommandContext(cmd)
	defer cancel()

	l, acquired, err := acquire(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("lock %s is held by someone else", args[0])
	}

	child := exec.CommandContext(ctx, args[1], args[2:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	done := make(chan error, 1)
	go func() { done <- child.Run() }()

	// extend the lock until the child exits
	holdCtx, stopHold := context.WithCancel(ctx)
	go func() { _ = keepAlive(holdCtx, l, 0) }()

	err = <-done
	stopHold()
	if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
		return fmt.Errorf("failed to release lock: %w", rerr)
	}
	return err
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := util.CommandContext(cmd)
	defer cancel()

	ttl, err := rpcClient.PTTL(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("locked=%t, pttl=%d\n", ttl != -2, ttl)
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// acquire creates the lock with the command flags and tries to take it
func acquire(ctx context.Context, name string) (lockmgr.ILock, bool, error) {
	strategy, err := parseStrategy(lockStrategy)
	if err != nil {
		return nil, false, err
	}

	opts := []lockmgr.LockOption{
		lockmgr.WithTokenScope(lockmgr.ScopeInstance),
		lockmgr.WithStrategy(strategy),
	}
	if lockTimeout > 0 {
		opts = append(opts, lockmgr.WithTimeout(lockTimeout))
	}

	l, err := rpcClient.Lock(ctx, name, opts...)
	if err != nil {
		return nil, false, err
	}

	var acquireOpts []lockmgr.AcquireOption
	if blockingTimeout < 0 {
		acquireOpts = append(acquireOpts, lockmgr.NonBlocking())
	} else {
		acquireOpts = append(acquireOpts, lockmgr.BlockFor(blockingTimeout))
	}

	acquired, err := l.Acquire(ctx, acquireOpts...)
	return l, acquired, err
}

// keepAlive extends the lock at half its timeout until d elapsed (0 = until
// ctx is done). Locks without expiry are only waited on.
func keepAlive(ctx context.Context, l lockmgr.ILock, d time.Duration) error {
	var deadline <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}

	var tick <-chan time.Time
	if lockTimeout > 0 {
		ticker := time.NewTicker(lockTimeout / 2)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-tick:
			ok, err := l.Extend(ctx, lockTimeout/2)
			if err != nil {
				return fmt.Errorf("failed to extend lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("lock %s was lost", l.Name())
			}
		}
	}
}

// parseStrategy maps the strategy flag to a lockmgr.Strategy
func parseStrategy(s string) (lockmgr.Strategy, error) {
	switch s {
	case "auto":
		return lockmgr.StrategyAuto, nil
	case "atomic":
		return lockmgr.StrategyAtomic, nil
	case "fallback":
		return lockmgr.StrategyFallback, nil
	default:
		return 0, fmt.Errorf("invalid strategy %s (expected one of: auto, atomic, fallback)", s)
	}
}
