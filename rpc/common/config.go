package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dPersist/lib/mapstore"
)

// --------------------------------------------------------------------------
// Socket configuration (shared by server and client transports)
// --------------------------------------------------------------------------

// SocketConf holds the socket options applied to tcp connections.
type SocketConf struct {
	TCPNoDelay      bool // Disable Nagle's algorithm
	TCPKeepAliveSec int  // Keep-alive period, 0 disables keep-alive
	TCPLingerSec    int  // SO_LINGER, 0 keeps the OS default
	WriteBufferSize int  // Socket write buffer, 0 keeps the OS default
	ReadBufferSize  int  // Socket read buffer, 0 keeps the OS default
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// Backend names accepted by ServerConfig.Backend
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

// ServerShard is one map hosted by the server. Clients address the map by its shard id.
type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// MapName is the name of the map the shard persists
	MapName string
}

// ServerTransportConfig holds the transport settings of the server.
type ServerTransportConfig struct {
	SocketConf
	Endpoint       string // Address (tcp, http) or socket path (unix)
	WorkersPerConn int    // Concurrent requests per connection
	BufferSize     int    // Size of the pooled request buffers
}

// ServerConfig holds all configuration parameters of the map store server.
type ServerConfig struct {
	// The maps hosted by this server
	Shards []ServerShard

	// Durable store backend (memory, dynamodb, redis)
	Backend string
	// Properties handed to every map store (mapstore.*) and to the backend
	// (properties prefixed with the backend name, e.g. redis.url)
	Properties mapstore.Properties
	// DataDir is where the memory backend keeps its snapshot (empty = no snapshot)
	DataDir string

	// Request timeout
	TimeoutSecond int64

	// Transport settings
	Transport ServerTransportConfig

	// ObservabilityEndpoint serves /metrics and /health (empty = disabled)
	ObservabilityEndpoint string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Observability", orNone(c.ObservabilityEndpoint))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Backend
	addSection("Backend")
	addField("Type", c.Backend)
	addField("Data Directory", orNone(c.DataDir))
	for _, name := range c.Properties.Names() {
		addField(name, c.Properties[name])
	}

	// Shards
	addSection("Maps")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), shard.MapName)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the transport settings of the client.
type ClientTransportConfig struct {
	SocketConf
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
}

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
