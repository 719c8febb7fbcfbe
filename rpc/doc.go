// Package rpc provides the remote procedure call layer of dPersist. It lets
// clients use the map stores hosted by a dPersist server across process and
// network boundaries.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: RPC client implementing the mapstore.IMapStore interface,
//     allowing applications to use remote map stores transparently.
//
//   - server: RPC server components that host the map stores and handle
//     incoming requests.
package rpc
