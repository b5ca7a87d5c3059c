package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrCacheMiss is returned when a key is not found in cache
	ErrCacheMiss = errors.New("cache miss")
	// ErrConflict is returned when an optimistic transaction kept losing
	// to concurrent writers until its retries ran out
	ErrConflict = errors.New("cache transaction conflict")
)

// ReadWriter is the subset of cache operations available both directly and
// inside an Atomic transaction.
type ReadWriter interface {
	// Get decodes the value stored at key into dest. Returns ErrCacheMiss
	// when the key does not exist.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value; a zero ttl falls back to Options.DefaultTTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Cache defines the interface for cache operations
type Cache interface {
	ReadWriter

	// Exists checks if a key exists in cache
	Exists(ctx context.Context, key string) (bool, error)

	// Atomic runs fn as an optimistic transaction over keys. Reads inside fn
	// see the watched values; writes are applied only if none of the keys
	// changed in the meantime, otherwise fn is re-run.
	Atomic(ctx context.Context, fn func(ctx context.Context, rw ReadWriter) error, keys ...string) error

	// Ping checks if cache is available
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// Codec defines the interface for encoding/decoding cache values
type Codec interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte, dest interface{}) error
}

// JSONCodec implements Codec using JSON encoding
type JSONCodec struct{}

// Encode encodes a value to JSON bytes
func (c *JSONCodec) Encode(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

// Decode decodes JSON bytes to a value
func (c *JSONCodec) Decode(data []byte, dest interface{}) error {
	return json.Unmarshal(data, dest)
}

// Options represents cache configuration options
type Options struct {
	// DefaultTTL is applied when Set is called with a zero ttl. Zero means
	// keys never expire.
	DefaultTTL time.Duration

	// MaxTxRetries bounds how often Atomic re-runs after a conflict
	MaxTxRetries int

	// TxRetryDelay is the first pause after a conflict. Later pauses double
	// up to TxRetryMaxDelay and are fully jittered.
	TxRetryDelay    time.Duration
	TxRetryMaxDelay time.Duration

	// Namespace is a prefix for all cache keys
	Namespace string

	// Codec is the encoder/decoder for cache values
	Codec Codec
}

// DefaultOptions returns default cache options
func DefaultOptions() *Options {
	return &Options{
		DefaultTTL:      0,
		MaxTxRetries:    10,
		TxRetryDelay:    5 * time.Millisecond,
		TxRetryMaxDelay: 200 * time.Millisecond,
		Namespace:       "",
		Codec:           &JSONCodec{},
	}
}
