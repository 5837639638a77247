package idb

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"idbpersist/internal/store"
)

// Database is one connection to a named database. Its object store list
// is fixed when the open completes.
type Database struct {
	id      uuid.UUID
	backing *backing
	version uint64

	mu     sync.Mutex
	names  []string
	schema store.Schema // non-nil only while an upgrade runs
	closed bool
}

func newDatabase(b *backing, version uint64) *Database {
	return &Database{
		id:      uuid.New(),
		backing: b,
		version: version,
	}
}

func (db *Database) Name() string    { return db.backing.name }
func (db *Database) Version() uint64 { return db.version }

// ID identifies the connection in logs.
func (db *Database) ID() string { return db.id.String() }

// ObjectStoreNames returns the sorted store names visible to this
// connection.
func (db *Database) ObjectStoreNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.schema != nil {
		return db.schema.Buckets()
	}
	return slices.Clone(db.names)
}

func (db *Database) HasObjectStore(name string) bool {
	return slices.Contains(db.ObjectStoreNames(), name)
}

// CreateObjectStore adds a store. Only valid inside an upgrade listener.
func (db *Database) CreateObjectStore(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.schema == nil {
		return fmt.Errorf("%w: create object store outside an upgrade", ErrInvalidState)
	}
	return schemaErr(db.schema.CreateBucket([]byte(name)), name)
}

// DeleteObjectStore drops a store and its records. Only valid inside an
// upgrade listener.
func (db *Database) DeleteObjectStore(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.schema == nil {
		return fmt.Errorf("%w: delete object store outside an upgrade", ErrInvalidState)
	}
	return schemaErr(db.schema.DeleteBucket([]byte(name)), name)
}

// Transaction starts a transaction over storeNames.
func (db *Database) Transaction(mode Mode, storeNames ...string) (*Transaction, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	switch {
	case db.closed:
		return nil, fmt.Errorf("%w: connection closed", ErrInvalidState)
	case db.schema != nil:
		return nil, fmt.Errorf("%w: upgrade in progress", ErrInvalidState)
	case len(storeNames) == 0:
		return nil, ErrInvalidAccess
	case mode != ReadOnly && mode != ReadWrite:
		return nil, fmt.Errorf("%w: invalid mode %d", ErrInvalidAccess, mode)
	}

	scope := make([]string, 0, len(storeNames))
	for _, name := range storeNames {
		if !slices.Contains(db.names, name) {
			return nil, fmt.Errorf("%w: %q in database %q", ErrNotFound, name, db.backing.name)
		}
		if !slices.Contains(scope, name) {
			scope = append(scope, name)
		}
	}
	return newTransaction(db, mode, scope), nil
}

// Close marks the connection closed. Transactions already started keep
// running; new ones are refused.
func (db *Database) Close() {
	db.mu.Lock()
	db.closed = true
	db.mu.Unlock()
}

func (db *Database) beginUpgrade(sc store.Schema) {
	db.mu.Lock()
	db.schema = sc
	db.mu.Unlock()
}

func (db *Database) endUpgrade() {
	db.mu.Lock()
	db.schema = nil
	db.mu.Unlock()
}

func schemaErr(err error, name string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrBucketExists):
		return fmt.Errorf("%w: %q", ErrConstraint, name)
	case errors.Is(err, store.ErrBucketNotFound):
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	case errors.Is(err, store.ErrBucketName):
		return fmt.Errorf("%w: object store %q", ErrInvalidName, name)
	default:
		return err
	}
}
