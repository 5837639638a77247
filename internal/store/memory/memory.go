// Package memory is an in-process store.Store. Nothing survives Close.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"idbpersist/internal/store"
)

// Store implements store.Store with nested maps behind one RWMutex.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
	version uint64
	closed  bool
}

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory store closed")

func New() *Store {
	return &Store{buckets: make(map[string]map[string][]byte)}
}

func (s *Store) Get(bucket, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.bucket(bucket)
	if err != nil {
		return nil, err
	}
	v, ok := b[string(key)]
	if !ok {
		return nil, nil
	}
	return clone(v), nil
}

func (s *Store) Set(bucket, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	b[string(key)] = clone(value)
	return nil
}

func (s *Store) Delete(bucket, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	delete(b, string(key))
	return nil
}

func (s *Store) ForEach(bucket []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), b[k]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Buckets() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return sortedNames(s.buckets), nil
}

func (s *Store) Version() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.version, nil
}

// Upgrade applies fn to a scratch copy of the bucket layout and swaps it
// in only when fn succeeds.
func (s *Store) Upgrade(version uint64, fn func(store.Schema) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	sc := &schema{buckets: make(map[string]map[string][]byte, len(s.buckets))}
	for name, b := range s.buckets {
		sc.buckets[name] = b
	}
	if err := fn(sc); err != nil {
		return err
	}
	s.buckets = sc.buckets
	s.version = version
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	return nil
}

// bucket must be called with s.mu held.
func (s *Store) bucket(name []byte) (map[string][]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := store.CheckBucketName(name); err != nil {
		return nil, err
	}
	b, ok := s.buckets[string(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrBucketNotFound, name)
	}
	return b, nil
}

type schema struct {
	buckets map[string]map[string][]byte
}

func (s *schema) HasBucket(name []byte) bool {
	_, ok := s.buckets[string(name)]
	return ok
}

func (s *schema) CreateBucket(name []byte) error {
	if err := store.CheckBucketName(name); err != nil {
		return err
	}
	if s.HasBucket(name) {
		return fmt.Errorf("%w: %q", store.ErrBucketExists, name)
	}
	s.buckets[string(name)] = make(map[string][]byte)
	return nil
}

func (s *schema) DeleteBucket(name []byte) error {
	if err := store.CheckBucketName(name); err != nil {
		return err
	}
	if !s.HasBucket(name) {
		return fmt.Errorf("%w: %q", store.ErrBucketNotFound, name)
	}
	delete(s.buckets, string(name))
	return nil
}

func (s *schema) Buckets() []string {
	return sortedNames(s.buckets)
}

func sortedNames(buckets map[string]map[string][]byte) []string {
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clone(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
