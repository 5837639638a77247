package idb

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"idbpersist/internal/clone"
	"idbpersist/internal/store"
)

// Mode is the access mode of a transaction.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Transaction scopes requests to a fixed set of object stores. Requests
// issued on one transaction run in issue order; each one commits on its
// own before it settles.
type Transaction struct {
	db    *Database
	mode  Mode
	scope []string

	mu   sync.Mutex
	tail chan struct{} // closed when the last queued request has settled
}

func newTransaction(db *Database, mode Mode, scope []string) *Transaction {
	return &Transaction{db: db, mode: mode, scope: scope}
}

func (tx *Transaction) Mode() Mode { return tx.mode }

func (tx *Transaction) ObjectStoreNames() []string {
	return slices.Clone(tx.scope)
}

// ObjectStore returns a handle to a store in the transaction's scope.
func (tx *Transaction) ObjectStore(name string) (*ObjectStore, error) {
	if !slices.Contains(tx.scope, name) {
		return nil, fmt.Errorf("%w: %q is not in the transaction scope", ErrNotFound, name)
	}
	return &ObjectStore{tx: tx, name: name, bucket: []byte(name)}, nil
}

// run queues op behind every request issued before it.
func (tx *Transaction) run(op func(st store.Store) (any, error)) *Request {
	req := NewRequest()
	done := make(chan struct{})

	tx.mu.Lock()
	prev := tx.tail
	tx.tail = done
	tx.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		result, err := op(tx.db.backing.st)
		if err != nil {
			req.Fail(err)
			return
		}
		req.Succeed(result)
	}()
	return req
}

// ObjectStore is a store handle bound to one transaction. Keys are strings.
type ObjectStore struct {
	tx     *Transaction
	name   string
	bucket []byte
}

func (s *ObjectStore) Name() string { return s.name }

// Get succeeds with the decoded value stored under key, or nil when the
// key is absent.
func (s *ObjectStore) Get(key string) *Request {
	return s.tx.run(func(st store.Store) (any, error) {
		data, err := st.Get(s.bucket, encodeKey(key))
		if err != nil {
			return nil, s.storeErr("get", err)
		}
		if data == nil {
			return nil, nil
		}
		v, err := clone.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("get %q from %q: %w", key, s.name, err)
		}
		return v, nil
	})
}

// GetInto decodes the value stored under key into dst, a non-nil
// pointer. It succeeds with true, or with false and dst untouched when
// the key is absent. A stored value that does not fit dst fails with
// ErrDataClone.
func (s *ObjectStore) GetInto(key string, dst any) *Request {
	return s.tx.run(func(st store.Store) (any, error) {
		data, err := st.Get(s.bucket, encodeKey(key))
		if err != nil {
			return nil, s.storeErr("get", err)
		}
		if data == nil {
			return false, nil
		}
		if err := clone.DecodeInto(data, dst); err != nil {
			return nil, fmt.Errorf("%w: get %q from %q: %w", ErrDataClone, key, s.name, err)
		}
		return true, nil
	})
}

// Put stores a clone of value under key, replacing any previous record.
// It succeeds with the key once the write is committed. The value is
// cloned before Put returns, so later changes by the caller are not seen.
func (s *ObjectStore) Put(value any, key string) *Request {
	if err := s.writable(); err != nil {
		return failedRequest(err)
	}
	data, err := clone.Encode(value)
	if err != nil {
		return failedRequest(fmt.Errorf("%w: %w", ErrDataClone, err))
	}
	return s.tx.run(func(st store.Store) (any, error) {
		if err := st.Set(s.bucket, encodeKey(key), data); err != nil {
			return nil, s.storeErr("put", err)
		}
		return key, nil
	})
}

// Delete removes the record under key. Deleting an absent key succeeds.
func (s *ObjectStore) Delete(key string) *Request {
	if err := s.writable(); err != nil {
		return failedRequest(err)
	}
	return s.tx.run(func(st store.Store) (any, error) {
		if err := st.Delete(s.bucket, encodeKey(key)); err != nil {
			return nil, s.storeErr("delete", err)
		}
		return nil, nil
	})
}

// Count succeeds with the number of records as an int.
func (s *ObjectStore) Count() *Request {
	return s.tx.run(func(st store.Store) (any, error) {
		n := 0
		err := st.ForEach(s.bucket, func(k, _ []byte) error {
			if _, ok := decodeKey(k); ok {
				n++
			}
			return nil
		})
		if err != nil {
			return nil, s.storeErr("count", err)
		}
		return n, nil
	})
}

// GetAllKeys succeeds with the keys in ascending order as a []string.
func (s *ObjectStore) GetAllKeys() *Request {
	return s.tx.run(func(st store.Store) (any, error) {
		keys := []string{}
		err := st.ForEach(s.bucket, func(k, _ []byte) error {
			if key, ok := decodeKey(k); ok {
				keys = append(keys, key)
			}
			return nil
		})
		if err != nil {
			return nil, s.storeErr("list keys", err)
		}
		return keys, nil
	})
}

func (s *ObjectStore) writable() error {
	if s.tx.mode != ReadWrite {
		return fmt.Errorf("%w: store %q", ErrReadOnly, s.name)
	}
	return nil
}

func (s *ObjectStore) storeErr(op string, err error) error {
	if errors.Is(err, store.ErrBucketNotFound) {
		return fmt.Errorf("%s in %q: %w: %w", op, s.name, ErrNotFound, err)
	}
	return fmt.Errorf("%s in %q: %w", op, s.name, err)
}

// Record keys carry a type tag so the empty string is a valid key.
const stringKey byte = 's'

func encodeKey(key string) []byte {
	b := make([]byte, 0, len(key)+1)
	b = append(b, stringKey)
	return append(b, key...)
}

func decodeKey(b []byte) (string, bool) {
	if len(b) == 0 || b[0] != stringKey {
		return "", false
	}
	return string(b[1:]), true
}
