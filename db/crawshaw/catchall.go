package crawshaw

import (
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/deliverkit/verifier/db"
)

func (d *Db) UpsertCatchAll(e db.CatchAllCacheEntry) error {
	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Exec(conn,
		`INSERT INTO catch_all_cache (domain, catch_all, confidence, test_count, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			catch_all = excluded.catch_all,
			confidence = excluded.confidence,
			test_count = test_count + 1,
			expires_at = excluded.expires_at`,
		nil, e.Domain, boolToInt(e.CatchAll), e.Confidence, e.TestCount,
		db.TimeFormat(e.ExpiresAt), db.TimeFormat(nowIfZero(e.CreatedAt)))
}

func (d *Db) GetCatchAll(domain string) (db.CatchAllCacheEntry, error) {
	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	var e db.CatchAllCacheEntry
	found := false
	err := sqlitex.Exec(conn,
		`SELECT domain, catch_all, confidence, test_count, expires_at, created_at
		FROM catch_all_cache WHERE domain = ?`,
		func(stmt *sqlite.Stmt) error {
			found = true
			expiresAt, err := db.TimeParse(stmt.GetText("expires_at"))
			if err != nil {
				return fmt.Errorf("crawshaw: parse expires_at: %w", err)
			}
			createdAt, err := db.TimeParse(stmt.GetText("created_at"))
			if err != nil {
				return fmt.Errorf("crawshaw: parse created_at: %w", err)
			}
			e.Domain = stmt.GetText("domain")
			e.CatchAll = stmt.GetInt64("catch_all") != 0
			e.Confidence = int(stmt.GetInt64("confidence"))
			e.TestCount = int(stmt.GetInt64("test_count"))
			e.ExpiresAt = expiresAt
			e.CreatedAt = createdAt
			return nil
		}, domain)
	if err != nil {
		return db.CatchAllCacheEntry{}, err
	}
	if !found {
		return db.CatchAllCacheEntry{}, db.ErrNotFound
	}
	return e, nil
}

func (d *Db) CleanCatchAll(now string) error {
	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Exec(conn, `DELETE FROM catch_all_cache WHERE expires_at <= ?`, nil, now)
}
