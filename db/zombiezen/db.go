// Package zombiezen implements db.Db on top of zombiezen.com/go/sqlite,
// a pure-Go cgo-free SQLite driver. All writes go through a single
// reserved connection (rwCh) to serialize them; reads use the pool so
// concurrent verifier workers never block each other.
package zombiezen

import (
	"context"
	"fmt"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/deliverkit/verifier/db"
)

type Db struct {
	pool *sqlitex.Pool
	rwCh chan *sqlite.Conn
}

var _ db.Db = (*Db)(nil)

// New opens (or creates) the SQLite file at path in WAL mode and
// reserves one pooled connection as the single writer.
func New(path string) (*Db, error) {
	poolSize := runtime.NumCPU()
	p, err := sqlitex.NewPool(fmt.Sprintf("file:%s", path), sqlitex.PoolOptions{
		PoolSize: poolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("zombiezen: open pool: %w", err)
	}

	conn, err := p.Take(context.Background())
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("zombiezen: reserve writer conn: %w", err)
	}
	ch := make(chan *sqlite.Conn, 1)
	ch <- conn

	return &Db{pool: p, rwCh: ch}, nil
}

func (d *Db) writer() *sqlite.Conn {
	return <-d.rwCh
}

func (d *Db) putWriter(conn *sqlite.Conn) {
	d.rwCh <- conn
}

func (d *Db) Close() error {
	conn := <-d.rwCh
	d.pool.Put(conn)
	return d.pool.Close()
}

func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
		return db.ErrDuplicateRequest
	}
	return err
}
