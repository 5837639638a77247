// Package idb is an embedded, versioned key-value database with named
// object stores and request/listener style operations.
//
// A Factory opens databases by name and version. Opening at a higher
// version than the stored one runs a schema upgrade, during which the
// upgrade listeners may create or delete object stores. Data is read and
// written through transactions scoped to object stores; every operation
// returns a *Request that settles exactly once.
package idb

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"idbpersist/internal/logging"
	"idbpersist/internal/store"
	boltstore "idbpersist/internal/store/bolt"
	"idbpersist/internal/store/memory"
)

var logger = logging.For("idb")

var errFactoryClosed = fmt.Errorf("%w: factory closed", ErrInvalidState)

// Factory opens databases. Backing stores are shared by every connection
// to the same database name and stay open until Close.
type Factory struct {
	openStore func(name string) (store.Store, error)
	group     singleflight.Group

	mu     sync.Mutex
	dbs    map[string]*backing
	closed bool
}

// backing is the shared state of one named database.
type backing struct {
	name string
	st   store.Store
	// schema serializes opens, upgrades and deletes of this database.
	schema sync.Mutex
}

func newFactory(openStore func(name string) (store.Store, error)) *Factory {
	return &Factory{
		openStore: openStore,
		dbs:       make(map[string]*backing),
	}
}

// NewBoltFactory stores each database in its own bbolt file under dir.
func NewBoltFactory(dir string) *Factory {
	return newFactory(func(name string) (store.Store, error) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return boltstore.Open(filepath.Join(dir, url.PathEscape(name)+".db"))
	})
}

// NewMemoryFactory keeps every database in memory.
func NewMemoryFactory() *Factory {
	return newFactory(func(string) (store.Store, error) {
		return memory.New(), nil
	})
}

// Open requests a connection to the named database at version. setup
// funcs run before the request is dispatched; that is where upgrade
// listeners must be registered.
//
// Upgrade listeners run while the database's schema lock is held and must
// not wait on another open of the same database.
func (f *Factory) Open(name string, version uint64, setup ...func(*OpenRequest)) *OpenRequest {
	req := NewOpenRequest()
	for _, fn := range setup {
		fn(req)
	}
	switch {
	case name == "":
		req.fail(ErrInvalidName)
		return req
	case version == 0:
		req.fail(ErrInvalidVersion)
		return req
	}
	go func() {
		db, err := f.open(req, name, version)
		if err != nil {
			req.fail(err)
			return
		}
		req.succeed(db)
	}()
	return req
}

func (f *Factory) open(req *OpenRequest, name string, version uint64) (*Database, error) {
	b, err := f.backing(name)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	b.schema.Lock()
	defer b.schema.Unlock()

	current, err := b.st.Version()
	if err != nil {
		return nil, fmt.Errorf("open %q: reading version: %w", name, err)
	}
	if version < current {
		return nil, fmt.Errorf("%w: open %q at version %d, stored version is %d", ErrVersion, name, version, current)
	}

	db := newDatabase(b, version)
	if version > current {
		err := b.st.Upgrade(version, func(sc store.Schema) error {
			ev := &VersionChangeEvent{OldVersion: current, NewVersion: version, Database: db}
			db.beginUpgrade(sc)
			defer db.endUpgrade()
			req.fireUpgrade(ev)
			return ev.abortErr
		})
		if err != nil {
			return nil, fmt.Errorf("upgrade %q to version %d: %w", name, version, err)
		}
		logger.Debug("upgraded database", "database", name, "old_version", current, "new_version", version)
	}

	names, err := b.st.Buckets()
	if err != nil {
		return nil, fmt.Errorf("open %q: listing object stores: %w", name, err)
	}
	db.mu.Lock()
	db.names = names
	db.mu.Unlock()
	logger.Debug("opened database", "database", name, "version", version, "conn", db.ID())
	return db, nil
}

// backing returns the shared store for name, opening it once even under
// concurrent first opens.
func (f *Factory) backing(name string) (*backing, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, errFactoryClosed
	}
	if b, ok := f.dbs[name]; ok {
		f.mu.Unlock()
		return b, nil
	}
	f.mu.Unlock()

	v, err, _ := f.group.Do(name, func() (any, error) {
		f.mu.Lock()
		if b, ok := f.dbs[name]; ok {
			f.mu.Unlock()
			return b, nil
		}
		f.mu.Unlock()

		st, err := f.openStore(name)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.closed {
			_ = st.Close()
			return nil, errFactoryClosed
		}
		b := &backing{name: name, st: st}
		f.dbs[name] = b
		logger.Debug("opened backing store", "database", name)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*backing), nil
}

// DeleteDatabase drops every object store of name and resets its version
// to 0. The request succeeds with nil.
func (f *Factory) DeleteDatabase(name string) *Request {
	if name == "" {
		return failedRequest(ErrInvalidName)
	}
	req := NewRequest()
	go func() {
		if err := f.deleteDatabase(name); err != nil {
			req.Fail(err)
			return
		}
		req.Succeed(nil)
	}()
	return req
}

func (f *Factory) deleteDatabase(name string) error {
	b, err := f.backing(name)
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	b.schema.Lock()
	defer b.schema.Unlock()

	err = b.st.Upgrade(0, func(sc store.Schema) error {
		for _, n := range sc.Buckets() {
			if err := sc.DeleteBucket([]byte(n)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	logger.Debug("deleted database", "database", name)
	return nil
}

// Close releases every backing store. Pending and later opens fail with
// ErrInvalidState.
func (f *Factory) Close() error {
	f.mu.Lock()
	f.closed = true
	dbs := f.dbs
	f.dbs = make(map[string]*backing)
	f.mu.Unlock()

	var errs []error
	for name, b := range dbs {
		b.schema.Lock()
		if err := b.st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
		b.schema.Unlock()
	}
	return errors.Join(errs...)
}
