package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"idbpersist/internal/store"
)

var (
	metaBucket = []byte(store.ReservedBucket)
	versionKey = []byte("version")
)

// OpenTimeout bounds the wait for the file lock held by another process.
const OpenTimeout = time.Second

// Store implements store.Store using bbolt (embedded B+ tree).
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database at the given path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	return &Store{db: db}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) Get(bucket, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := dataBucket(tx, bucket)
		if err != nil {
			return err
		}
		if v := b.Get(key); v != nil {
			val = make([]byte, len(v))
			copy(val, v)
		}
		return nil
	})
	return val, err
}

func (s *Store) Set(bucket, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := dataBucket(tx, bucket)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

func (s *Store) Delete(bucket, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := dataBucket(tx, bucket)
		if err != nil {
			return err
		}
		return b.Delete(key)
	})
}

func (s *Store) ForEach(bucket []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b, err := dataBucket(tx, bucket)
		if err != nil {
			return err
		}
		return b.ForEach(fn)
	})
}

func (s *Store) Buckets() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		names = bucketNames(tx)
		return nil
	})
	return names, err
}

func (s *Store) Version() (uint64, error) {
	var version uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		version = readVersion(tx)
		return nil
	})
	return version, err
}

func (s *Store) Upgrade(version uint64, fn func(store.Schema) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := fn(&schema{tx: tx}); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return fmt.Errorf("creating meta bucket: %w", err)
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], version)
		return meta.Put(versionKey, buf[:])
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func dataBucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	if err := store.CheckBucketName(name); err != nil {
		return nil, err
	}
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("%w: %q", store.ErrBucketNotFound, name)
	}
	return b, nil
}

func readVersion(tx *bolt.Tx) uint64 {
	meta := tx.Bucket(metaBucket)
	if meta == nil {
		return 0
	}
	v := meta.Get(versionKey)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func bucketNames(tx *bolt.Tx) []string {
	var names []string
	_ = tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
		if string(name) != store.ReservedBucket {
			names = append(names, string(name))
		}
		return nil
	})
	sort.Strings(names)
	return names
}

// schema is the store.Schema view of a bbolt write transaction.
type schema struct {
	tx *bolt.Tx
}

func (s *schema) HasBucket(name []byte) bool {
	return store.CheckBucketName(name) == nil && s.tx.Bucket(name) != nil
}

func (s *schema) CreateBucket(name []byte) error {
	if err := store.CheckBucketName(name); err != nil {
		return err
	}
	if _, err := s.tx.CreateBucket(name); err != nil {
		if errors.Is(err, bolt.ErrBucketExists) {
			return fmt.Errorf("%w: %q", store.ErrBucketExists, name)
		}
		return fmt.Errorf("creating bucket: %w", err)
	}
	return nil
}

func (s *schema) DeleteBucket(name []byte) error {
	if err := store.CheckBucketName(name); err != nil {
		return err
	}
	if err := s.tx.DeleteBucket(name); err != nil {
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("%w: %q", store.ErrBucketNotFound, name)
		}
		return fmt.Errorf("deleting bucket: %w", err)
	}
	return nil
}

func (s *schema) Buckets() []string {
	return bucketNames(s.tx)
}
