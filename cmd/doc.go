// Package cmd implements the command-line interface for dPersist. It provides
// a hierarchical command structure with operations for running the server and
// interacting with its maps as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Command for starting and configuring the dPersist server
//   - maps: Commands for map store operations (load, store, delete, ...) and a benchmark
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as an environment variable DPERSIST_<FLAG>
// (e.g. DPERSIST_REDIS_URL), .env and .env.local are loaded on start.
//
// See dpersist -help for a list of all commands.
package cmd
