// Package persist adapts an idb database to the asynchronous key-value
// storage contract used by state persistence middleware: read a record
// at startup to hydrate state, write it on every change, remove it on
// clear.
//
// Every call opens the database, runs one request in its own transaction
// and waits for it. Nothing is cached between calls. Methods are safe for
// concurrent use; to run one without waiting, call it in a goroutine.
package persist

import (
	"errors"
	"fmt"

	"idbpersist/pkg/idb"
)

var ErrEmptyName = errors.New("database name and store name must not be empty")

// PersistStorage is the storage capability persistence middleware needs.
// Values are opaque structured data, typically {"state": ..., "version": n}.
type PersistStorage interface {
	// GetItem returns a copy of the stored value, or nil if name was never
	// written. Scalars and unnamed container types come back as stored;
	// structs come back as map[string]any.
	GetItem(name string) (any, error)
	// SetItem returns once the write is committed.
	SetItem(name string, value any) error
	// RemoveItem returns once the delete is committed.
	RemoveItem(name string) error
}

// Storage keeps records in one object store of one database.
type Storage struct {
	factory      Factory
	databaseName string
	storeName    string
}

var _ PersistStorage = (*Storage)(nil)

// NewStorage returns a Storage over storeName in databaseName. Nothing is
// opened until the first call.
func NewStorage(factory Factory, databaseName, storeName string) (*Storage, error) {
	if databaseName == "" || storeName == "" {
		return nil, ErrEmptyName
	}
	return &Storage{
		factory:      factory,
		databaseName: databaseName,
		storeName:    storeName,
	}, nil
}

func (s *Storage) DatabaseName() string { return s.databaseName }
func (s *Storage) StoreName() string    { return s.storeName }

func (s *Storage) GetItem(name string) (any, error) {
	st, err := s.objectStore(idb.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("get item %q: %w", name, err)
	}
	v, err := Promisify[any](st.Get(name)).Wait()
	if err != nil {
		return nil, fmt.Errorf("get item %q: %w", name, err)
	}
	return v, nil
}

// GetItemInto decodes the value stored under name into dst, a non-nil
// pointer, keeping the destination's types (structs, typed slices and
// maps). It reports false and leaves dst untouched if name was never
// written.
func (s *Storage) GetItemInto(name string, dst any) (bool, error) {
	st, err := s.objectStore(idb.ReadOnly)
	if err != nil {
		return false, fmt.Errorf("get item %q: %w", name, err)
	}
	found, err := Promisify[bool](st.GetInto(name, dst)).Wait()
	if err != nil {
		return false, fmt.Errorf("get item %q: %w", name, err)
	}
	return found, nil
}

func (s *Storage) SetItem(name string, value any) error {
	st, err := s.objectStore(idb.ReadWrite)
	if err != nil {
		return fmt.Errorf("set item %q: %w", name, err)
	}
	if _, err := Promisify[any](st.Put(value, name)).Wait(); err != nil {
		return fmt.Errorf("set item %q: %w", name, err)
	}
	return nil
}

func (s *Storage) RemoveItem(name string) error {
	st, err := s.objectStore(idb.ReadWrite)
	if err != nil {
		return fmt.Errorf("remove item %q: %w", name, err)
	}
	if _, err := Promisify[any](st.Delete(name)).Wait(); err != nil {
		return fmt.Errorf("remove item %q: %w", name, err)
	}
	return nil
}

// objectStore opens the database and starts a fresh transaction scoped to
// the single store.
func (s *Storage) objectStore(mode idb.Mode) (*idb.ObjectStore, error) {
	db, err := OpenDatabase(s.factory, s.databaseName, s.storeName).Wait()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, errors.New("open succeeded without a database")
	}
	tx, err := db.Transaction(mode, s.storeName)
	if err != nil {
		return nil, err
	}
	return tx.ObjectStore(s.storeName)
}
