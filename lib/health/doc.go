// Package health tracks the outcome of the most recent mutating map-store
// operation (store, storeAll, delete, deleteAll) for liveness probes.
//
// A Tracker starts unset, which counts as healthy, and is flipped by every
// mutating operation. Loads and malformed keys never change it. Handler
// exposes a tracker over HTTP.
package health
