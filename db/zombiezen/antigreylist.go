package zombiezen

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/deliverkit/verifier/db"
)

func (d *Db) UpsertAntiGreylist(e db.AntiGreylistEntry) error {
	emailsJSON, err := db.MarshalEmails(e.Emails)
	if err != nil {
		return fmt.Errorf("zombiezen: marshal antigreylist emails: %w", err)
	}

	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Execute(conn,
		`INSERT INTO antigreylisting (request_id, emails, response_url, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			emails = excluded.emails,
			attempts = excluded.attempts,
			next_retry_at = excluded.next_retry_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				e.RequestID, emailsJSON, e.ResponseURL, e.Attempts,
				db.TimeFormat(e.NextRetryAt), db.TimeFormat(nowIfZero(e.CreatedAt)),
			},
		})
}

func (d *Db) GetAntiGreylist(requestID string) (db.AntiGreylistEntry, error) {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return db.AntiGreylistEntry{}, err
	}
	defer d.pool.Put(conn)

	var e db.AntiGreylistEntry
	found := false
	err = sqlitex.Execute(conn,
		`SELECT request_id, emails, response_url, attempts, next_retry_at, created_at
		FROM antigreylisting WHERE request_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{requestID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return scanAntiGreylist(stmt, &e)
			},
		})
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

	return sqlitex.Execute(conn, `DELETE FROM antigreylisting WHERE request_id = ?`, &sqlitex.ExecOptions{
		Args: []any{requestID},
	})
}

func (d *Db) ListRetryReady(now string) ([]db.AntiGreylistEntry, error) {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return nil, err
	}
	defer d.pool.Put(conn)

	var out []db.AntiGreylistEntry
	err = sqlitex.Execute(conn,
		`SELECT request_id, emails, response_url, attempts, next_retry_at, created_at
		FROM antigreylisting WHERE next_retry_at <= ? ORDER BY next_retry_at ASC`,
		&sqlitex.ExecOptions{
			Args: []any{now},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var e db.AntiGreylistEntry
				if err := scanAntiGreylist(stmt, &e); err != nil {
					return err
				}
				out = append(out, e)
				return nil
			},
		})
	return out, err
}

func (d *Db) IncrementAntiGreylistAttempts(requestID string, nextRetryAt string) error {
	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Execute(conn,
		`UPDATE antigreylisting SET attempts = attempts + 1, next_retry_at = ? WHERE request_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{nextRetryAt, requestID},
		})
}

func scanAntiGreylist(stmt *sqlite.Stmt, e *db.AntiGreylistEntry) error {
	emails, err := db.UnmarshalEmails(stmt.GetText("emails"))
	if err != nil {
		return fmt.Errorf("zombiezen: unmarshal antigreylist emails: %w", err)
	}
	nextRetryAt, err := db.TimeParse(stmt.GetText("next_retry_at"))
	if err != nil {
		return fmt.Errorf("zombiezen: parse next_retry_at: %w", err)
	}
	createdAt, err := db.TimeParse(stmt.GetText("created_at"))
	if err != nil {
		return fmt.Errorf("zombiezen: parse created_at: %w", err)
	}
	e.RequestID = stmt.GetText("request_id")
	e.Emails = emails
	e.ResponseURL = stmt.GetText("response_url")
	e.Attempts = int(stmt.GetInt64("attempts"))
	e.NextRetryAt = nextRetryAt
	e.CreatedAt = createdAt
	return nil
}
