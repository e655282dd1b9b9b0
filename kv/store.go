package kv

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is the error returned when the key requested is not found.
	ErrKeyNotFound = errors.New("key not found")
	// ErrBucketNotFound is the error returned when the bucket cannot be found.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrTxNotWritable is the error returned when an mutable operation is called during
	// a non-writable transaction.
	ErrTxNotWritable = errors.New("transaction is not writable")
)

// IsNotFound reports whether err means a missing key or bucket.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrBucketNotFound)
}

// Store is the ordered key value store the kv DocumentStore is built on.
// Both transaction kinds see a consistent view of every bucket.
type Store interface {
	// View runs fn in a read-only transaction.
	View(context.Context, func(Tx) error) error
	// Update runs fn in a read-write transaction.
	Update(context.Context, func(Tx) error) error
}

// Tx is a transaction in the store.
type Tx interface {
	// Bucket returns the bucket named b. Writable transactions create the
	// bucket if it does not exist; read transactions return
	// ErrBucketNotFound instead.
	Bucket(b []byte) (Bucket, error)
	// Context returns the context the transaction was opened with.
	Context() context.Context
}

// Bucket is a sorted set of keys inside a store. Values returned by Get
// and by cursors are only valid until the transaction ends.
type Bucket interface {
	// Get returns a key within this bucket. Errors if key does not exist.
	Get(key []byte) ([]byte, error)
	// ForwardCursor returns an ascending cursor starting at the first key
	// greater than or equal to seek.
	ForwardCursor(seek []byte, opts ...CursorOption) (ForwardCursor, error)
	// Put should error if the transaction it was called in is not writable.
	Put(key, value []byte) error
	// Delete should error if the transaction it was called in is not writable.
	Delete(key []byte) error
}

// ForwardCursor ranges over the keys of a bucket in ascending order.
type ForwardCursor interface {
	// Next returns the next pair, or nil keys when exhausted.
	Next() (k, v []byte)
	// Err reports an iteration failure once Next returned nil.
	Err() error
	// Close releases the cursor.
	Close() error
}
