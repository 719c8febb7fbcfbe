// Package server implements the RPC server of dPersist. It hosts one map store
// adapter per shard and serves the map store operations of all of them over a
// single transport.
//
// The package focuses on:
//   - Server-side RPC request handling for map store operations
//   - Adapter pattern to decouple the map store from RPC mechanisms
//   - Creating the durable store backend (memory, dynamodb or redis)
//   - Serving metrics and health over HTTP
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes incoming requests against a mapstore.IMapStore.
//
//   - NewIMapStoreServerAdapter: Factory function creating an adapter that translates
//     RPC requests to mapstore.IMapStore method calls.
//
//   - NewBackend: Creates the table backend named in the server config. Backend
//     settings are read from the properties prefixed with the backend name
//     (e.g. "redis.url" or "dynamodb.region").
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, MapName: "users"},
//	    {ShardID: 200, MapName: "orders"},
//	  },
//	  Backend:       common.BackendRedis,
//	  Properties:    mapstore.Properties{"redis.url": "redis://localhost:6379/0"},
//	  TimeoutSecond: 5,
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  ObservabilityEndpoint: "0.0.0.0:9090",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Observability:
//
//	GET /metrics            Prometheus text format of all map store counters
//	GET /health             200 if every map is healthy, 503 otherwise
//	GET /health/{shardId}   health of a single map
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent requests
//	across multiple connections. Serve should be called only once, Shutdown may
//	be called from any goroutine.
package server
