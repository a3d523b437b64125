package zombiezen

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/deliverkit/verifier/db"
)

func (d *Db) UpsertArchive(e db.ArchiveEntry) error {
	emailsJSON, err := db.MarshalEmails(e.Emails)
	if err != nil {
		return fmt.Errorf("zombiezen: marshal archive emails: %w", err)
	}
	resultJSON, err := jsonMarshal(e.Result)
	if err != nil {
		return fmt.Errorf("zombiezen: marshal archive result: %w", err)
	}

	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Execute(conn,
		`INSERT INTO controller_archive (request_id, emails, result, response_url, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET result = excluded.result`,
		&sqlitex.ExecOptions{
			Args: []any{e.RequestID, emailsJSON, resultJSON, e.ResponseURL, db.TimeFormat(nowIfZero(e.CreatedAt))},
		})
}

func (d *Db) GetArchive(requestID string) (db.ArchiveEntry, error) {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return db.ArchiveEntry{}, err
	}
	defer d.pool.Put(conn)

	var e db.ArchiveEntry
	found := false
	err = sqlitex.Execute(conn,
		`SELECT request_id, emails, result, response_url, created_at FROM controller_archive WHERE request_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{requestID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return scanArchive(stmt, &e)
			},
		})
	if err != nil {
		return db.ArchiveEntry{}, err
	}
	if !found {
		return db.ArchiveEntry{}, db.ErrNotFound
	}
	return e, nil
}

func (d *Db) DeleteArchive(requestID string) error {
	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Execute(conn, `DELETE FROM controller_archive WHERE request_id = ?`, &sqlitex.ExecOptions{
		Args: []any{requestID},
	})
}

func (d *Db) ListArchive() ([]db.ArchiveEntry, error) {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return nil, err
	}
	defer d.pool.Put(conn)

	var out []db.ArchiveEntry
	err = sqlitex.Execute(conn,
		`SELECT request_id, emails, result, response_url, created_at FROM controller_archive ORDER BY created_at ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var e db.ArchiveEntry
				if err := scanArchive(stmt, &e); err != nil {
					return err
				}
				out = append(out, e)
				return nil
			},
		})
	return out, err
}

func scanArchive(stmt *sqlite.Stmt, e *db.ArchiveEntry) error {
	emails, err := db.UnmarshalEmails(stmt.GetText("emails"))
	if err != nil {
		return fmt.Errorf("zombiezen: unmarshal archive emails: %w", err)
	}
	var result map[string]db.VerificationObj
	if err := jsonUnmarshal(stmt.GetText("result"), &result); err != nil {
		return fmt.Errorf("zombiezen: unmarshal archive result: %w", err)
	}
	createdAt, err := db.TimeParse(stmt.GetText("created_at"))
	if err != nil {
		return fmt.Errorf("zombiezen: parse created_at: %w", err)
	}
	e.RequestID = stmt.GetText("request_id")
	e.Emails = emails
	e.Result = result
	e.ResponseURL = stmt.GetText("response_url")
	e.CreatedAt = createdAt
	return nil
}
