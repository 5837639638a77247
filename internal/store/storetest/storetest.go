// Package storetest holds behavior checks shared by every store.Store
// backend. Each backend's tests call Run with its own constructor.
package storetest

import (
	"errors"
	"testing"

	"idbpersist/internal/store"
)

var testBucket = []byte("test-bucket")

// Run exercises a backend. newStore must return an empty store; Run
// closes it.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"FreshVersion", testFreshVersion},
		{"UpgradeCreatesBucket", testUpgradeCreatesBucket},
		{"UpgradeRollback", testUpgradeRollback},
		{"CreateExistingBucket", testCreateExistingBucket},
		{"DeleteBucket", testDeleteBucket},
		{"ReservedBucket", testReservedBucket},
		{"SetAndGet", testSetAndGet},
		{"GetNonexistentBucket", testGetNonexistentBucket},
		{"SetNonexistentBucket", testSetNonexistentBucket},
		{"GetNonexistentKey", testGetNonexistentKey},
		{"SetOverwrite", testSetOverwrite},
		{"Delete", testDelete},
		{"DeleteMissingKey", testDeleteMissingKey},
		{"ForEachOrdered", testForEachOrdered},
		{"GetReturnsCopy", testGetReturnsCopy},
		{"MultipleBuckets", testMultipleBuckets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func withBuckets(t *testing.T, s store.Store, version uint64, names ...string) {
	t.Helper()
	err := s.Upgrade(version, func(sc store.Schema) error {
		for _, n := range names {
			if err := sc.CreateBucket([]byte(n)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testFreshVersion(t *testing.T, s store.Store) {
	v, err := s.Version()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("fresh Version() = %d, want 0", v)
	}
	names, err := s.Buckets()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("fresh Buckets() = %v, want none", names)
	}
}

func testUpgradeCreatesBucket(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, "b", "a")

	v, _ := s.Version()
	if v != 1 {
		t.Fatalf("Version() = %d, want 1", v)
	}
	names, _ := s.Buckets()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("Buckets() = %v, want [a b]", names)
	}
}

func testUpgradeRollback(t *testing.T, s store.Store) {
	boom := errors.New("boom")
	err := s.Upgrade(1, func(sc store.Schema) error {
		if err := sc.CreateBucket(testBucket); err != nil {
			return err
		}
		if !sc.HasBucket(testBucket) {
			t.Error("bucket should be visible inside the upgrade")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Upgrade error = %v, want boom", err)
	}
	v, _ := s.Version()
	if v != 0 {
		t.Fatalf("Version() after rollback = %d, want 0", v)
	}
	names, _ := s.Buckets()
	if len(names) != 0 {
		t.Fatalf("Buckets() after rollback = %v, want none", names)
	}
}

func testCreateExistingBucket(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, string(testBucket))
	err := s.Upgrade(2, func(sc store.Schema) error {
		return sc.CreateBucket(testBucket)
	})
	if !errors.Is(err, store.ErrBucketExists) {
		t.Fatalf("expected ErrBucketExists, got %v", err)
	}
}

func testDeleteBucket(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, string(testBucket))
	if err := s.Set(testBucket, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	err := s.Upgrade(2, func(sc store.Schema) error {
		return sc.DeleteBucket(testBucket)
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(testBucket, []byte("k")); !errors.Is(err, store.ErrBucketNotFound) {
		t.Fatalf("expected ErrBucketNotFound after delete, got %v", err)
	}

	err = s.Upgrade(3, func(sc store.Schema) error {
		return sc.DeleteBucket(testBucket)
	})
	if !errors.Is(err, store.ErrBucketNotFound) {
		t.Fatalf("deleting a missing bucket: got %v", err)
	}
}

func testReservedBucket(t *testing.T, s store.Store) {
	err := s.Upgrade(1, func(sc store.Schema) error {
		return sc.CreateBucket([]byte(store.ReservedBucket))
	})
	if !errors.Is(err, store.ErrBucketName) {
		t.Fatalf("expected ErrBucketName for reserved bucket, got %v", err)
	}
	err = s.Upgrade(1, func(sc store.Schema) error {
		return sc.CreateBucket(nil)
	})
	if !errors.Is(err, store.ErrBucketName) {
		t.Fatalf("expected ErrBucketName for empty bucket, got %v", err)
	}
}

func testSetAndGet(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, string(testBucket))
	if err := s.Set(testBucket, []byte("key1"), []byte("val1")); err != nil {
		t.Fatal(err)
	}
	val, err := s.Get(testBucket, []byte("key1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "val1" {
		t.Fatalf("expected val1, got %q", val)
	}
}

func testGetNonexistentBucket(t *testing.T, s store.Store) {
	_, err := s.Get([]byte("no-bucket"), []byte("key"))
	if !errors.Is(err, store.ErrBucketNotFound) {
		t.Fatalf("expected ErrBucketNotFound, got %v", err)
	}
}

func testSetNonexistentBucket(t *testing.T, s store.Store) {
	err := s.Set([]byte("no-bucket"), []byte("key"), []byte("v"))
	if !errors.Is(err, store.ErrBucketNotFound) {
		t.Fatalf("Set must not create buckets implicitly, got %v", err)
	}
}

func testGetNonexistentKey(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, string(testBucket))
	val, err := s.Get(testBucket, []byte("missing"))
	if err != nil {
		t.Fatal(err)
	}
	if val != nil {
		t.Fatalf("expected nil for missing key, got %q", val)
	}
}

func testSetOverwrite(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, string(testBucket))
	if err := s.Set(testBucket, []byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(testBucket, []byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}
	val, _ := s.Get(testBucket, []byte("k"))
	if string(val) != "v2" {
		t.Fatalf("expected v2 after overwrite, got %q", val)
	}
}

func testDelete(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, string(testBucket))
	if err := s.Set(testBucket, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(testBucket, []byte("k")); err != nil {
		t.Fatal(err)
	}
	val, err := s.Get(testBucket, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if val != nil {
		t.Fatalf("expected nil after delete, got %q", val)
	}
}

func testDeleteMissingKey(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, string(testBucket))
	if err := s.Delete(testBucket, []byte("never-set")); err != nil {
		t.Fatal(err)
	}
}

func testForEachOrdered(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, string(testBucket))
	for _, k := range []string{"c", "a", "b"} {
		if err := s.Set(testBucket, []byte(k), []byte("val-"+k)); err != nil {
			t.Fatal(err)
		}
	}
	var got []string
	err := s.ForEach(testBucket, func(k, v []byte) error {
		if string(v) != "val-"+string(k) {
			t.Errorf("key %q: value %q", k, v)
		}
		got = append(got, string(k))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("ForEach order = %v, want [a b c]", got)
	}
}

func testGetReturnsCopy(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, string(testBucket))
	if err := s.Set(testBucket, []byte("k"), []byte("original")); err != nil {
		t.Fatal(err)
	}
	val, _ := s.Get(testBucket, []byte("k"))
	val[0] = 'X'

	again, _ := s.Get(testBucket, []byte("k"))
	if string(again) != "original" {
		t.Fatal("mutating a returned value should not affect the store")
	}
}

func testMultipleBuckets(t *testing.T, s store.Store) {
	withBuckets(t, s, 1, "bucket1", "bucket2")
	b1, b2 := []byte("bucket1"), []byte("bucket2")

	if err := s.Set(b1, []byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(b2, []byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}
	v1, _ := s.Get(b1, []byte("k"))
	v2, _ := s.Get(b2, []byte("k"))
	if string(v1) != "v1" || string(v2) != "v2" {
		t.Fatal("buckets should be isolated")
	}
}
