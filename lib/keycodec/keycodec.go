package keycodec

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	DefaultBuckets = 16  // Bucket count used when none is configured
	MaxBuckets     = 256 // The bucket is stored in a single byte
)

// ErrMalformedKey is returned (wrapped) when a key cannot be encoded.
var ErrMalformedKey = errors.New("malformed key")

// Codec turns a logical map key into the row identifier used against the
// durable store. Encoding is deterministic for the lifetime of a codec.
type Codec interface {
	// Encode returns the row identifier of the key.
	Encode(key string) ([]byte, error)
	// Decode returns the logical key of a row identifier.
	Decode(row []byte) (string, error)
}

// --------------------------------------------------------------------------
// Identity
// --------------------------------------------------------------------------

type identity struct{}

// Identity returns the codec whose row identifier is the raw bytes of the key.
func Identity() Codec {
	return identity{}
}

func (identity) Encode(key string) ([]byte, error) {
	return []byte(key), nil
}

func (identity) Decode(row []byte) (string, error) {
	return string(row), nil
}

// --------------------------------------------------------------------------
// Bucketed
// --------------------------------------------------------------------------

type bucketed struct {
	buckets uint64
}

// Bucketed returns the codec for time-ordered numeric keys. The key is parsed
// as an unsigned decimal id and the row identifier is one bucket byte
// (id mod buckets) followed by the key bytes, so consecutive ids land in
// different regions of the store.
func Bucketed(buckets int) (Codec, error) {
	if buckets <= 0 || buckets > MaxBuckets {
		return nil, fmt.Errorf("bucket count must be in [1, %d], got %d", MaxBuckets, buckets)
	}
	return bucketed{buckets: uint64(buckets)}, nil
}

func (b bucketed) Encode(key string) ([]byte, error) {
	id, err := parseID(key)
	if err != nil {
		return nil, err
	}
	row := make([]byte, 0, len(key)+1)
	row = append(row, byte(id%b.buckets))
	return append(row, key...), nil
}

func (b bucketed) Decode(row []byte) (string, error) {
	if len(row) < 2 {
		return "", fmt.Errorf("%w: row %x is too short to carry a bucket", ErrMalformedKey, row)
	}
	key := string(row[1:])
	id, err := parseID(key)
	if err != nil {
		return "", err
	}
	if uint64(row[0]) != id%b.buckets {
		return "", fmt.Errorf("%w: row %x has bucket %d, expected %d", ErrMalformedKey, row, row[0], id%b.buckets)
	}
	return key, nil
}

// parseID parses a key as an unsigned decimal id. Signs and whitespace are rejected.
func parseID(key string) (uint64, error) {
	id, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a numeric id", ErrMalformedKey, key)
	}
	return id, nil
}
