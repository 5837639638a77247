package persist

import (
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"idbpersist/internal/logging"
	"idbpersist/pkg/idb"
)

// recordingFactory keeps every open request issued through it.
type recordingFactory struct {
	*idb.Factory

	mu   sync.Mutex
	reqs []*idb.OpenRequest
}

func (f *recordingFactory) Open(name string, version uint64, setup ...func(*idb.OpenRequest)) *idb.OpenRequest {
	req := f.Factory.Open(name, version, setup...)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return req
}

// watchingFactory registers an extra upgrade listener after the caller's
// own setup, so it runs after every listener the caller added.
type watchingFactory struct {
	*idb.Factory
	watch func(*idb.OpenRequest, *idb.VersionChangeEvent)
}

func (f *watchingFactory) Open(name string, version uint64, setup ...func(*idb.OpenRequest)) *idb.OpenRequest {
	setup = append(setup, func(r *idb.OpenRequest) {
		r.OnUpgradeNeeded(func(ev *idb.VersionChangeEvent) { f.watch(r, ev) })
	})
	return f.Factory.Open(name, version, setup...)
}

// failingFactory fails every open with err.
type failingFactory struct {
	err error
}

func (f failingFactory) Open(string, uint64, ...func(*idb.OpenRequest)) *idb.OpenRequest {
	req := idb.NewOpenRequest()
	req.Fail(f.err)
	return req
}

// factories runs fn against the memory and bbolt engines.
func factories(t *testing.T, fn func(t *testing.T, f *idb.Factory)) {
	t.Run("memory", func(t *testing.T) {
		f := idb.NewMemoryFactory()
		t.Cleanup(func() { _ = f.Close() })
		fn(t, f)
	})
	t.Run("bolt", func(t *testing.T) {
		f := idb.NewBoltFactory(t.TempDir())
		t.Cleanup(func() { _ = f.Close() })
		fn(t, f)
	})
}

func TestOpenDatabaseCreatesStore(t *testing.T) {
	factories(t, func(t *testing.T, f *idb.Factory) {
		db, err := OpenDatabase(f, "db1", "s1").Wait()
		if err != nil {
			t.Fatal(err)
		}
		if db.Version() != SchemaVersion {
			t.Fatalf("Version() = %d, want %d", db.Version(), SchemaVersion)
		}
		if names := db.ObjectStoreNames(); !slices.Equal(names, []string{"s1"}) {
			t.Fatalf("ObjectStoreNames() = %v, want [s1]", names)
		}
	})
}

func TestOpenDatabaseIdempotent(t *testing.T) {
	factories(t, func(t *testing.T, f *idb.Factory) {
		rf := &recordingFactory{Factory: f}
		for i := 0; i < 3; i++ {
			db, err := OpenDatabase(rf, "db1", "s1").Wait()
			if err != nil {
				t.Fatalf("open %d: %v", i, err)
			}
			if names := db.ObjectStoreNames(); !slices.Equal(names, []string{"s1"}) {
				t.Fatalf("open %d: ObjectStoreNames() = %v", i, names)
			}
		}
		for i, req := range rf.reqs {
			if n := req.UpgradeListeners(); n != 0 {
				t.Fatalf("open %d left %d upgrade listeners", i, n)
			}
		}
	})
}

func TestOpenDatabaseListenerRemovesItselfDuringUpgrade(t *testing.T) {
	factories(t, func(t *testing.T, f *idb.Factory) {
		var (
			calls     int
			remaining int
			hadStore  bool
		)
		wf := &watchingFactory{Factory: f, watch: func(r *idb.OpenRequest, ev *idb.VersionChangeEvent) {
			calls++
			remaining = r.UpgradeListeners()
			hadStore = ev.Database.HasObjectStore("s1")
		}}
		if _, err := OpenDatabase(wf, "db1", "s1").Wait(); err != nil {
			t.Fatal(err)
		}
		if calls != 1 {
			t.Fatalf("watcher ran %d times, want 1", calls)
		}
		if !hadStore {
			t.Fatal("store missing when the later listener ran")
		}
		if remaining != 1 {
			t.Fatalf("%d upgrade listeners registered mid-upgrade, want 1 (the watcher)", remaining)
		}
	})
}

func TestOpenDatabaseLogsStoreCreationOnce(t *testing.T) {
	c := logging.CaptureForTest()
	defer c.Restore()

	f := idb.NewMemoryFactory()
	defer f.Close()
	for i := 0; i < 2; i++ {
		if _, err := OpenDatabase(f, "db1", "s1").Wait(); err != nil {
			t.Fatal(err)
		}
	}

	created := 0
	for _, r := range c.Records() {
		if r.Level == slog.LevelDebug && r.Message == "created object store" {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("store creation logged %d times, want 1", created)
	}
	if v, ok := c.Attr("created object store", "store"); !ok || v.String() != "s1" {
		t.Fatalf("store attr = %v, %v", v, ok)
	}
}

func TestOpenDatabaseVersionConflict(t *testing.T) {
	factories(t, func(t *testing.T, f *idb.Factory) {
		// Another writer created the store at a higher version already.
		req := f.Open("db1", 2, func(r *idb.OpenRequest) {
			r.OnUpgradeNeeded(func(ev *idb.VersionChangeEvent) {
				if err := ev.Database.CreateObjectStore("s1"); err != nil {
					ev.Abort(err)
				}
			})
		})
		if _, err := Promisify[*idb.Database](req).Wait(); err != nil {
			t.Fatal(err)
		}

		_, err := OpenDatabase(f, "db1", "s1").Wait()
		if !errors.Is(err, idb.ErrVersion) {
			t.Fatalf("opening below the stored version: got %v, want ErrVersion", err)
		}
	})
}

func TestOpenDatabaseSkipsPresentStore(t *testing.T) {
	factories(t, func(t *testing.T, f *idb.Factory) {
		// The store already exists when the upgrade listener runs.
		req := f.Open("db1", SchemaVersion, func(r *idb.OpenRequest) {
			r.OnUpgradeNeeded(func(ev *idb.VersionChangeEvent) {
				if err := ev.Database.CreateObjectStore("s1"); err != nil {
					ev.Abort(err)
				}
			})
			r.OnUpgradeNeeded(func(ev *idb.VersionChangeEvent) {
				ensureStore(ev, "s1")
			})
		})
		db, err := Promisify[*idb.Database](req).Wait()
		if err != nil {
			t.Fatalf("open with the store already present: %v", err)
		}
		if names := db.ObjectStoreNames(); !slices.Equal(names, []string{"s1"}) {
			t.Fatalf("ObjectStoreNames() = %v, want [s1]", names)
		}
	})
}

func TestOpenDatabaseFailure(t *testing.T) {
	boom := errors.New("permission denied")
	_, err := OpenDatabase(failingFactory{err: boom}, "db1", "s1").Wait()
	if !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}

// A store name first requested after the database exists at version 1
// never appears.
func TestOpenDatabaseLateStoreName(t *testing.T) {
	factories(t, func(t *testing.T, f *idb.Factory) {
		if _, err := OpenDatabase(f, "db1", "first").Wait(); err != nil {
			t.Fatal(err)
		}
		db, err := OpenDatabase(f, "db1", "second").Wait()
		if err != nil {
			t.Fatal(err)
		}
		if db.HasObjectStore("second") {
			t.Fatal("second store should not be created without a version change")
		}
	})
}

func TestOpenDatabaseBoltFile(t *testing.T) {
	dir := t.TempDir()
	f := idb.NewBoltFactory(dir)
	defer f.Close()

	if _, err := OpenDatabase(f, "db1", "s1").Wait(); err != nil {
		t.Fatal(err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.db"))
	if len(matches) != 1 || filepath.Base(matches[0]) != "db1.db" {
		t.Fatalf("database files = %v, want [db1.db]", matches)
	}
}
