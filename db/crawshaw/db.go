// Package crawshaw implements db.Db on top of crawshaw.io/sqlite, a
// cgo-backed SQLite driver. Writes are serialized through a single
// reserved pool connection (rwCh); reads use the pool directly so
// concurrent verifier workers never block each other.
package crawshaw

import (
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/deliverkit/verifier/db"
)

type Db struct {
	pool *sqlitex.Pool
	rwCh chan *sqlite.Conn
}

var _ db.Db = (*Db)(nil)

// New wraps an existing pool provided by the caller and reserves one
// connection from it as the single writer.
func New(pool *sqlitex.Pool) (*Db, error) {
	if pool == nil {
		return nil, fmt.Errorf("crawshaw: provided pool cannot be nil")
	}
	conn := pool.Get(nil)
	if conn == nil {
		return nil, fmt.Errorf("crawshaw: failed to reserve writer connection from pool")
	}
	ch := make(chan *sqlite.Conn, 1)
	ch <- conn

	return &Db{pool: pool, rwCh: ch}, nil
}

func (d *Db) writer() *sqlite.Conn {
	return <-d.rwCh
}

func (d *Db) putWriter(conn *sqlite.Conn) {
	d.rwCh <- conn
}

// Close returns the reserved writer connection to the pool. It does not
// close the pool itself, since the pool's lifecycle is owned by the caller.
func (d *Db) Close() error {
	conn := <-d.rwCh
	d.pool.Put(conn)
	return nil
}

func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	if sqliteErr, ok := err.(sqlite.Error); ok && sqliteErr.Code == sqlite.SQLITE_CONSTRAINT_UNIQUE {
		return db.ErrDuplicateRequest
	}
	return err
}
