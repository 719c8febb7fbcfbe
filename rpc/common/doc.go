// Package common provides core data structures and utilities shared across
// the RPC layer of dPersist. It defines the wire protocol, the configuration
// structures and the logging setup used by the other packages.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication between client and
//     server, with a flexible structure that adapts to the different map store
//     operations. Includes factory methods for every request and response and
//     converters back to mapstore.Result and entry maps.
//
//   - MessageType: Enumeration defining all supported operation types, the map
//     store operations plus success, error and custom control messages.
//
//   - ServerConfig: Configuration for a server, including the hosted maps, the
//     backend, the map store properties and the transport settings.
//
//   - ClientConfig: Configuration for client components, controlling connection
//     parameters, timeouts, and retry behavior.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger registry, with helpers to set the level of all dPersist loggers.
package common
