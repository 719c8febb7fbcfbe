// Package keycodec maps logical map keys to row identifiers of the durable store.
//
// Identity keeps the key bytes as they are. Bucketed is meant for
// time-ordered numeric ids: it prefixes the key with a one-byte bucket derived
// from the id, so monotonically increasing ids are written to non-adjacent
// regions of the store instead of a single hot one. Keys that are not
// unsigned decimal numbers fail with an error wrapping ErrMalformedKey.
package keycodec
