package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/cKV/cmd/util"
	"github.com/ValentinKolb/cKV/lib/lockmgr"
	"github.com/ValentinKolb/cKV/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for cKV clusters",
		Long:    "Runs a set of parallel benchmarks against the cluster. Keys are spread over all slots so every primary is exercised.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// perfTest is one benchmark. setup runs before the timer starts, op is
// measured and cleanup runs after the benchmark.
type perfTest struct {
	name    string
	setup   func(ctx context.Context, keys []string)
	op      func(ctx context.Context, key string, i int) error
	cleanup func(ctx context.Context, keys []string)
}

// perfResult is the outcome of one benchmark
type perfResult struct {
	bench   testing.BenchmarkResult
	latency gometrics.Timer
	errors  gometrics.Counter
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := util.CommandContext(cmd)
	defer cancel()

	fmt.Println("Performance testing tool for cKV clusters")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// load the slot layout before the first timer starts
	if err := rpcClient.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load the cluster layout: %w", err)
	}

	fmt.Println("staring tests...")

	registry := gometrics.NewRegistry()
	results := make(map[string]perfResult)
	var order []string

	for _, test := range perfTests() {
		if shouldSkip(test.name) {
			printResult(test.name, perfResult{})
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res := runPerfTest(ctx, test, registry)
		results[test.name] = res
		order = append(order, test.name)
		printResult(test.name, res)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, order, results, util.GetClientConfig()); err != nil {
			return err
		}
	}

	return nil
}

// perfTests returns all benchmarks in execution order
func perfTests() []perfTest {
	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	fill := func(ctx context.Context, keys []string) {
		for _, k := range keys {
			if err := rpcClient.Set(ctx, k, value, 0); err != nil {
				log.Printf("error setting key %s: %v\n", k, err)
			}
		}
	}
	wipe := func(ctx context.Context, keys []string) {
		for _, k := range keys {
			if _, err := rpcClient.Delete(ctx, k); err != nil {
				log.Printf("error deleting key %s: %v\n", k, err)
			}
		}
	}

	return []perfTest{
		{
			name: "set",
			op: func(ctx context.Context, key string, _ int) error {
				return rpcClient.Set(ctx, key, value, 0)
			},
			cleanup: wipe,
		},
		{
			name: "set-large",
			op: func(ctx context.Context, key string, _ int) error {
				return rpcClient.Set(ctx, key, largeValue, 0)
			},
			cleanup: wipe,
		},
		{
			name:  "get",
			setup: fill,
			op: func(ctx context.Context, key string, _ int) error {
				_, _, err := rpcClient.Get(ctx, key)
				return err
			},
			cleanup: wipe,
		},
		{
			name:  "delete",
			setup: fill,
			op: func(ctx context.Context, key string, _ int) error {
				_, err := rpcClient.Delete(ctx, key)
				return err
			},
			cleanup: wipe,
		},
		{
			name:  "mixed",
			setup: fill,
			op: func(ctx context.Context, key string, i int) error {
				var err error
				switch i % 4 {
				case 0:
					err = rpcClient.Set(ctx, key, value, 0)
				case 1:
					_, _, err = rpcClient.Get(ctx, key)
				case 2:
					_, err = rpcClient.PTTL(ctx, key)
				case 3:
					_, err = rpcClient.Delete(ctx, key)
				}
				return err
			},
			cleanup: wipe,
		},
		{
			name: "lock",
			op: func(ctx context.Context, key string, _ int) error {
				l, err := rpcClient.Lock(ctx, key, lockmgr.WithTimeout(10*time.Second), lockmgr.WithTokenScope(lockmgr.ScopeInstance))
				if err != nil {
					return err
				}
				ok, err := l.Acquire(ctx, lockmgr.NonBlocking())
				if err != nil || !ok {
					return err
				}
				return l.Release(ctx)
			},
			cleanup: wipe,
		},
	}
}

// runPerfTest runs one benchmark and records the latency of every operation
func runPerfTest(ctx context.Context, test perfTest, registry gometrics.Registry) perfResult {
	res := perfResult{
		latency: gometrics.GetOrRegisterTimer(test.name+".latency", registry),
		errors:  gometrics.GetOrRegisterCounter(test.name+".errors", registry),
	}
	keys := getKeys(test.name)

	res.bench = testing.Benchmark(func(b *testing.B) {
		if test.setup != nil {
			test.setup(ctx, keys)
		}
		if test.cleanup != nil {
			b.Cleanup(func() { test.cleanup(ctx, keys) })
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				err := test.op(ctx, keys[counter%len(keys)], counter)
				res.latency.UpdateSince(start)
				if err != nil {
					res.errors.Inc(1)
					log.Printf("(%s) - error: %v\n", test.name, err)
				}
				counter++
			}
		})
	})

	return res
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of one benchmark
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result perfResult) {
	if result.bench.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	ps := result.latency.Percentiles([]float64{0.5, 0.99})

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p99=%s errors=%d\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(ps[0]), time.Duration(ps[1]), result.errors.Count())
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, order []string, results map[string]perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50Ns", "P99Ns", "Errors",
		"Seeds", "TimeoutSec", "MaxRedirects", "ConnectionsPerEndpoint",
		"Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, test := range order {
		result := results[test]
		nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1)
		opsPerSec := 1.0 / (nsPerOp / 1e9)
		ps := result.latency.Percentiles([]float64{0.5, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			strconv.FormatInt(result.errors.Count(), 10),
			strings.Join(config.Seeds, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.MaxRedirects),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
