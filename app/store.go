package app

import (
	"fmt"
	"runtime"

	crawshawsqlitex "crawshaw.io/sqlite/sqlitex"

	"github.com/deliverkit/verifier/config"
	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/db/crawshaw"
	"github.com/deliverkit/verifier/db/zombiezen"
)

// NewStore opens the db.Db backend cfg.DBDriver names. Both backends
// share the single-reserved-writer-connection design, so multi-owner
// writes serialize at the connection rather than racing in WAL.
func NewStore(cfg *config.Config) (db.Db, error) {
	switch cfg.DBDriver {
	case "crawshaw":
		pool, err := crawshawsqlitex.Open("file:"+cfg.DBPath, 0, runtime.NumCPU())
		if err != nil {
			return nil, fmt.Errorf("app: open crawshaw pool: %w", err)
		}
		store, err := crawshaw.New(pool)
		if err != nil {
			closeCrawshawPool(pool)
			return nil, fmt.Errorf("app: crawshaw.New: %w", err)
		}
		return store, nil
	case "zombiezen", "":
		store, err := zombiezen.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("app: zombiezen.New: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: unknown db driver %q", cfg.DBDriver)
	}
}

func closeCrawshawPool(pool *crawshawsqlitex.Pool) {
	_ = pool.Close()
}
