// Package client implements the RPC client of the map store server.
// It provides an implementation of the mapstore.IMapStore interface
// that forwards every operation to a remote server via RPC.
//
// The package focuses on:
//   - Transparent RPC access to a remote map store
//   - Integration with the transport and serialization layers
//   - Turning transport and protocol errors into IOFailure results
//
// Key Components:
//
//   - NewRPCMapStore: Factory function that creates a client implementing the
//     IRPCMapStore interface (mapstore.IMapStore plus Health and Close). The shard
//     id selects the map on the server.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:8080"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	// Create the map store client for shard 100
//	users, _ := client.NewRPCMapStore(100, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	defer users.Close()
//
//	// Use the map store
//	res := users.Store("42", `{"name":"ada"}`)
//	value, found, res := users.Load("42")
//
// Result semantics:
//
//	A call that never reached the map store (connection lost, timeout, unknown shard)
//	returns a result with code RetCIOFailure and no succeeded items. Results of calls
//	that reached the map store are returned unchanged, including malformed-key results.
//
// Thread Safety:
//
//	The client is thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
