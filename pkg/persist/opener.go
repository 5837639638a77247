package persist

import (
	"fmt"
	"sync"

	"idbpersist/internal/logging"
	"idbpersist/pkg/idb"
)

var logger = logging.For("persist")

// SchemaVersion is the only database version this package opens. Stores
// are created on the upgrade to it, so a store name first requested after
// a database already exists at this version is never created.
const SchemaVersion = 1

// Factory opens databases; *idb.Factory implements it.
type Factory interface {
	Open(name string, version uint64, setup ...func(*idb.OpenRequest)) *idb.OpenRequest
}

// OpenDatabase opens databaseName at SchemaVersion, creating storeName
// during the upgrade if the database does not have it yet. Repeated calls
// are idempotent.
func OpenDatabase(factory Factory, databaseName, storeName string) *Future[*idb.Database] {
	req := factory.Open(databaseName, SchemaVersion, func(r *idb.OpenRequest) {
		var (
			once   sync.Once
			remove func()
		)
		remove = r.OnUpgradeNeeded(func(ev *idb.VersionChangeEvent) {
			once.Do(func() {
				defer remove()
				ensureStore(ev, storeName)
			})
		})
	})
	return Promisify[*idb.Database](req)
}

func ensureStore(ev *idb.VersionChangeEvent, storeName string) {
	db := ev.Database
	if db.HasObjectStore(storeName) {
		return
	}
	if err := db.CreateObjectStore(storeName); err != nil {
		ev.Abort(fmt.Errorf("create object store %q: %w", storeName, err))
		return
	}
	logger.Debug("created object store", "database", db.Name(), "store", storeName)
}
