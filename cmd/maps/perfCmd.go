package maps

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/mapstore"
	"github.com/ValentinKolb/dPersist/lib/metrics"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dPersist servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfBatchSize        = 10
	perfSkip             = make([]string, 0)

	// perfSink collects the results as seen by the client
	perfSink *metrics.RegistrySink
)

// perfMap is the name the client side results are recorded under
const perfMap = "perf"

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. store,load)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the store-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "batch"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of entries per batch for the load-all and store-all tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfBatchSize = max(viper.GetInt("batch"), 1)
	perfSkip = util.SplitList(viper.GetString("skip"))

	return nil
}

// perfTest is one benchmark. prepare runs before the timer starts and op is
// called with the n-th key of the test.
type perfTest struct {
	name    string
	op      metrics.Op
	opAt    func(n int) metrics.Op // overrides op for tests mixing operations
	prepare func(keys []string)
	run     func(keys []string, n int) mapstore.Result
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dPersist servers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// every run uses its own keys, so runs against the same map do not interfere
	runId := uuid.NewString()
	perfSink = metrics.NewRegistrySink(nil)

	value := "test"
	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)
	storeEach := func(keys []string) {
		record(metrics.OpStore, rpcMapStore.StoreAll(entriesOf(keys, value)))
	}

	tests := []perfTest{
		{
			name: "store",
			op:   metrics.OpStore,
			run: func(keys []string, n int) mapstore.Result {
				return rpcMapStore.Store(keys[n%len(keys)], value)
			},
		},
		{
			name: "store-large",
			op:   metrics.OpStore,
			run: func(keys []string, n int) mapstore.Result {
				return rpcMapStore.Store(keys[n%len(keys)], largeValue)
			},
		},
		{
			name:    "load",
			op:      metrics.OpLoad,
			prepare: storeEach,
			run: func(keys []string, n int) mapstore.Result {
				_, _, res := rpcMapStore.Load(keys[n%len(keys)])
				return res
			},
		},
		{
			name: "load-miss",
			op:   metrics.OpLoad,
			run: func(keys []string, n int) mapstore.Result {
				_, _, res := rpcMapStore.Load(keys[n%len(keys)])
				return res
			},
		},
		{
			name: "store-all",
			op:   metrics.OpStore,
			run: func(keys []string, n int) mapstore.Result {
				return rpcMapStore.StoreAll(entriesOf(batchOf(keys, n), value))
			},
		},
		{
			name:    "load-all",
			op:      metrics.OpLoad,
			prepare: storeEach,
			run: func(keys []string, n int) mapstore.Result {
				_, res := rpcMapStore.LoadAll(batchOf(keys, n))
				return res
			},
		},
		{
			name:    "delete",
			op:      metrics.OpDelete,
			prepare: storeEach,
			run: func(keys []string, n int) mapstore.Result {
				return rpcMapStore.Delete(keys[n%len(keys)])
			},
		},
		{
			name:    "mixed",
			opAt:    func(n int) metrics.Op { return []metrics.Op{metrics.OpStore, metrics.OpLoad, metrics.OpDelete}[n%3] },
			prepare: storeEach,
			run: func(keys []string, n int) mapstore.Result {
				key := keys[n%len(keys)]
				switch n % 3 {
				case 0:
					return rpcMapStore.Store(key, value)
				case 1:
					_, _, res := rpcMapStore.Load(key)
					return res
				default:
					return rpcMapStore.Delete(key)
				}
			},
		},
	}

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, test := range tests {
		if slices.Contains(perfSkip, test.name) {
			results[test.name] = testing.BenchmarkResult{}
			printBenchResult(test.name, testing.BenchmarkResult{})
			continue
		}
		result := benchmark(runId, test)
		results[test.name] = result
		printBenchResult(test.name, result)
	}

	printSummary()

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// benchmark runs one test in parallel and removes its keys afterward
func benchmark(runId string, test perfTest) testing.BenchmarkResult {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("__perf-%s-%s-%d", runId, test.name, i)
	}

	return testing.Benchmark(func(b *testing.B) {
		if test.prepare != nil {
			test.prepare(keys)
		}

		b.Cleanup(func() {
			if res := rpcMapStore.DeleteAll(keys); !res.OK() {
				fmt.Printf("(%s) - error deleting keys: %v\n", test.name, res.Err())
			}
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				op := test.op
				if test.opAt != nil {
					op = test.opAt(counter)
				}
				res := test.run(keys, counter)
				record(op, res)
				if !res.OK() {
					fmt.Printf("(%s) - error: %v\n", test.name, res.Err())
				}
				counter++
			}
		})
	})
}

func record(op metrics.Op, res mapstore.Result) {
	perfSink.Record(perfMap, op, res.Attempted, res.Succeeded, res.OK())
	if res.BadKeys > 0 {
		perfSink.BadKeys(perfMap, res.BadKeys)
	}
}

// batchOf returns perfBatchSize keys starting at the n-th batch
func batchOf(keys []string, n int) []string {
	batch := make([]string, 0, perfBatchSize)
	for i := 0; i < perfBatchSize; i++ {
		batch = append(batch, keys[(n*perfBatchSize+i)%len(keys)])
	}
	return batch
}

func entriesOf(keys []string, value string) map[string]string {
	entries := make(map[string]string, len(keys))
	for _, k := range keys {
		entries[k] = value
	}
	return entries
}

// printBenchResult prints the result of a benchmark test in a formatted way
func printBenchResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// printSummary prints the item counters of all tests
func printSummary() {
	counts := perfSink.Counts(perfMap)

	fmt.Println()
	fmt.Println("Summary (items as reported by the server):")
	for _, op := range []metrics.Op{metrics.OpLoad, metrics.OpStore, metrics.OpDelete} {
		c := counts.Of(op)
		fmt.Printf("%-10scalls=%d failed=%d attempted=%d succeeded=%d\n",
			op, c.Calls, c.FailedCalls, c.Attempted, c.Succeeded)
	}
	if counts.BadKeys > 0 {
		fmt.Printf("%-10s%d\n", "bad keys", counts.BadKeys)
	}
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count", "Batch Size",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		nsPerOp, opsPerSec, skipped := 0.0, 0.0, "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfBatchSize),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
