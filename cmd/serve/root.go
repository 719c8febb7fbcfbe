package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/mapstore"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dPersist server",
		Long:    `Start the dPersist server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DPERSIST_<flag> (e.g. DPERSIST_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

// propertyFlags maps the named flags to the property they set.
// A flag only overwrites the property if it was given explicitly.
var propertyFlags = []struct {
	flag     string
	property string
	usage    string
}{
	{"table", mapstore.PropTable, "Name of the table backing each map (default: the map name)"},
	{"column-family", mapstore.PropColumnFamily, "Column family of the value cells"},
	{"column-qualifier", mapstore.PropColumnQualifier, "Column qualifier of the value cells"},
	{"pool-size", mapstore.PropPoolSize, "Number of pooled table handles per table"},
	{"pool-acquire-timeout", mapstore.PropAcquireTimeout, "How long an operation waits for a pooled handle (e.g. 5s)"},
	{"key-prefix-date", mapstore.PropPrefixDate, "Whether keys are bucketed (true/false)"},
	{"key-buckets", mapstore.PropBuckets, "Number of key buckets"},
	{"allow-load", mapstore.PropAllowLoad, "Whether load is enabled (true/false)"},
	{"allow-load-all", mapstore.PropAllowLoadAll, "Whether loadAll and loadAllKeys are enabled (true/false)"},
	{"allow-delete", mapstore.PropAllowDelete, "Whether delete and deleteAll are enabled (true/false)"},
	{"scan-batch", mapstore.PropScanBatch, "Rows fetched per scan round trip"},
	{"scan-decode-keys", mapstore.PropScanDecodeKeys, "Whether loadAllKeys returns decoded keys instead of row ids (true/false)"},

	{"redis-url", "redis.url", "URL of the redis server (redis backend)"},
	{"redis-key-prefix", "redis.key.prefix", "Prefix of all redis keys (redis backend)"},
	{"redis-max-conns", "redis.max.conns", "Size of the redis connection pool (redis backend)"},
	{"dynamodb-region", "dynamodb.region", "AWS region (dynamodb backend)"},
	{"dynamodb-endpoint", "dynamodb.endpoint", "Custom endpoint, e.g. a local dynamodb (dynamodb backend)"},
	{"dynamodb-table-prefix", "dynamodb.table.prefix", "Prefix of all table names (dynamodb backend)"},
	{"dynamodb-consistent-read", "dynamodb.consistent.read", "Whether reads are strongly consistent (dynamodb backend)"},
}

func init() {
	// add flags
	key := "maps"
	ServeCmd.PersistentFlags().String(key, "100=default", cmdUtil.WrapString("Comma-separated list of maps to serve. Format: ID=NAME, the ID is the shard id clients use to address the map"))

	key = "backend"
	ServeCmd.PersistentFlags().String(key, common.BackendMemory, cmdUtil.WrapString("The durable store behind the maps (memory, dynamodb, redis)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Directory for the snapshot of the memory backend. Without it the memory backend is not persisted"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for writing responses"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/dpersist.sock, ...)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Number of requests processed concurrently per connection (tcp and unix)"))

	key = "buffer-size"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Size of the request buffers in KB (tcp and unix, 0 uses the transport default)"))

	key = "observability"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address for the /metrics and /health endpoints (e.g. 0.0.0.0:9090). Disabled if empty"))

	key = "prop"
	ServeCmd.PersistentFlags().StringSlice(key, nil, cmdUtil.WrapString("Additional map store or backend properties as key=value (e.g. --prop mapstore.pool.size=8 --prop redis.url=redis://localhost:6379)"))

	for _, f := range propertyFlags {
		ServeCmd.PersistentFlags().String(f.flag, "", cmdUtil.WrapString(f.usage+" ("+f.property+")"))
	}

	cmdUtil.SetupSocketFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	shards, err := cmdUtil.ParseMaps(viper.GetString("maps"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	// --prop first, the named flags win
	props, err := cmdUtil.ParseProperties(viper.GetStringSlice("prop"))
	if err != nil {
		return err
	}
	for _, f := range propertyFlags {
		if v := viper.GetString(f.flag); v != "" {
			props[f.property] = v
		}
	}
	serveCmdConfig.Properties = props

	serveCmdConfig.Backend = viper.GetString("backend")
	switch serveCmdConfig.Backend {
	case common.BackendMemory, common.BackendDynamoDB, common.BackendRedis:
	default:
		return fmt.Errorf("invalid backend %s (expected one of: memory, dynamodb, redis)", serveCmdConfig.Backend)
	}

	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.ObservabilityEndpoint = viper.GetString("observability")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		SocketConf:     cmdUtil.GetSocketConf(),
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		BufferSize:     viper.GetInt("buffer-size") * 1024,
	}

	return nil
}

// run starts the dPersist server and stops it on SIGINT or SIGTERM
func run(cmd *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- serv.Serve()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	if err := serv.Shutdown(); err != nil {
		server.Logger.Warningf("shutdown: %v", err)
	}
	return <-done
}
