package crawshaw

import (
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/deliverkit/verifier/db"
)

func (d *Db) UpsertAntiGreylist(e db.AntiGreylistEntry) error {
	emailsJSON, err := db.MarshalEmails(e.Emails)
	if err != nil {
		return fmt.Errorf("crawshaw: marshal antigreylist emails: %w", err)
	}

	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Exec(conn,
		`INSERT INTO antigreylisting (request_id, emails, response_url, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			emails = excluded.emails,
			attempts = excluded.attempts,
			next_retry_at = excluded.next_retry_at`,
		nil, e.RequestID, emailsJSON, e.ResponseURL, e.Attempts,
		db.TimeFormat(e.NextRetryAt), db.TimeFormat(nowIfZero(e.CreatedAt)))
}

func (d *Db) GetAntiGreylist(requestID string) (db.AntiGreylistEntry, error) {
	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	var e db.AntiGreylistEntry
	found := false
	err := sqlitex.Exec(conn,
		`SELECT request_id, emails, response_url, attempts, next_retry_at, created_at
		FROM antigreylisting WHERE request_id = ?`,
		func(stmt *sqlite.Stmt) error {
			found = true
			return scanAntiGreylist(stmt, &e)
		}, requestID)
	if err != nil {
		return db.AntiGreylistEntry{}, err
	}
	if !found {
		return db.AntiGreylistEntry{}, db.ErrNotFound
	}
	return e, nil
}

func (d *Db) DeleteAntiGreylist(requestID string) error {
	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Exec(conn, `DELETE FROM antigreylisting WHERE request_id = ?`, nil, requestID)
}

func (d *Db) ListRetryReady(now string) ([]db.AntiGreylistEntry, error) {
	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	var out []db.AntiGreylistEntry
	err := sqlitex.Exec(conn,
		`SELECT request_id, emails, response_url, attempts, next_retry_at, created_at
		FROM antigreylisting WHERE next_retry_at <= ? ORDER BY next_retry_at ASC`,
		func(stmt *sqlite.Stmt) error {
			var e db.AntiGreylistEntry
			if err := scanAntiGreylist(stmt, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		}, now)
	return out, err
}

func (d *Db) IncrementAntiGreylistAttempts(requestID string, nextRetryAt string) error {
	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Exec(conn,
		`UPDATE antigreylisting SET attempts = attempts + 1, next_retry_at = ? WHERE request_id = ?`,
		nil, nextRetryAt, requestID)
}

func scanAntiGreylist(stmt *sqlite.Stmt, e *db.AntiGreylistEntry) error {
	emails, err := db.UnmarshalEmails(stmt.GetText("emails"))
	if err != nil {
		return fmt.Errorf("crawshaw: unmarshal antigreylist emails: %w", err)
	}
	nextRetryAt, err := db.TimeParse(stmt.GetText("next_retry_at"))
	if err != nil {
		return fmt.Errorf("crawshaw: parse next_retry_at: %w", err)
	}
	createdAt, err := db.TimeParse(stmt.GetText("created_at"))
	if err != nil {
		return fmt.Errorf("crawshaw: parse created_at: %w", err)
	}
	e.RequestID = stmt.GetText("request_id")
	e.Emails = emails
	e.ResponseURL = stmt.GetText("response_url")
	e.Attempts = int(stmt.GetInt64("attempts"))
	e.NextRetryAt = nextRetryAt
	e.CreatedAt = createdAt
	return nil
}
