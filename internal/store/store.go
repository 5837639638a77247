package store

import "errors"

var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrBucketExists   = errors.New("bucket already exists")
	ErrBucketName     = errors.New("invalid bucket name")
)

// Store is the bucketed key-value backend behind one named database.
// Buckets are created and dropped only inside Upgrade, which also bumps
// the schema version; data operations never create buckets implicitly.
// Implementations: bbolt (on disk) and memory (tests, dry runs).
type Store interface {
	// Get returns a copy of the value, or nil if the key is absent.
	Get(bucket, key []byte) ([]byte, error)
	Set(bucket, key, value []byte) error
	// Delete is a no-op for an absent key.
	Delete(bucket, key []byte) error
	// ForEach visits entries in key order. The slices are only valid
	// for the duration of fn.
	ForEach(bucket []byte, fn func(key, value []byte) error) error

	// Buckets returns the bucket names in sorted order.
	Buckets() ([]string, error)
	// Version returns the schema version, 0 for a fresh store.
	Version() (uint64, error)
	// Upgrade runs fn atomically and records version on success.
	// An error from fn rolls back every schema change it made.
	Upgrade(version uint64, fn func(Schema) error) error

	Close() error
}

// Schema mutates the bucket layout inside an Upgrade.
type Schema interface {
	HasBucket(name []byte) bool
	CreateBucket(name []byte) error
	DeleteBucket(name []byte) error
	Buckets() []string
}

// ReservedBucket holds backend metadata and is invisible to callers.
const ReservedBucket = "\x00meta"

// CheckBucketName rejects empty and reserved bucket names.
func CheckBucketName(name []byte) error {
	if len(name) == 0 || string(name) == ReservedBucket {
		return ErrBucketName
	}
	return nil
}
