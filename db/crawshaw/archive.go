package crawshaw

import (
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/deliverkit/verifier/db"
)

func (d *Db) UpsertArchive(e db.ArchiveEntry) error {
	emailsJSON, err := db.MarshalEmails(e.Emails)
	if err != nil {
		return fmt.Errorf("crawshaw: marshal archive emails: %w", err)
	}
	resultJSON, err := jsonMarshal(e.Result)
	if err != nil {
		return fmt.Errorf("crawshaw: marshal archive result: %w", err)
	}

	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Exec(conn,
		`INSERT INTO controller_archive (request_id, emails, result, response_url, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET result = excluded.result`,
		nil, e.RequestID, emailsJSON, resultJSON, e.ResponseURL, db.TimeFormat(nowIfZero(e.CreatedAt)))
}

func (d *Db) GetArchive(requestID string) (db.ArchiveEntry, error) {
	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	var e db.ArchiveEntry
	found := false
	err := sqlitex.Exec(conn,
		`SELECT request_id, emails, result, response_url, created_at FROM controller_archive WHERE request_id = ?`,
		func(stmt *sqlite.Stmt) error {
			found = true
			return scanArchive(stmt, &e)
		}, requestID)
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

	return sqlitex.Exec(conn, `DELETE FROM controller_archive WHERE request_id = ?`, nil, requestID)
}

func (d *Db) ListArchive() ([]db.ArchiveEntry, error) {
	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	var out []db.ArchiveEntry
	err := sqlitex.Exec(conn,
		`SELECT request_id, emails, result, response_url, created_at FROM controller_archive ORDER BY created_at ASC`,
		func(stmt *sqlite.Stmt) error {
			var e db.ArchiveEntry
			if err := scanArchive(stmt, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	return out, err
}

func scanArchive(stmt *sqlite.Stmt, e *db.ArchiveEntry) error {
	emails, err := db.UnmarshalEmails(stmt.GetText("emails"))
	if err != nil {
		return fmt.Errorf("crawshaw: unmarshal archive emails: %w", err)
	}
	var result map[string]db.VerificationObj
	if err := jsonUnmarshal(stmt.GetText("result"), &result); err != nil {
		return fmt.Errorf("crawshaw: unmarshal archive result: %w", err)
	}
	createdAt, err := db.TimeParse(stmt.GetText("created_at"))
	if err != nil {
		return fmt.Errorf("crawshaw: parse created_at: %w", err)
	}
	e.RequestID = stmt.GetText("request_id")
	e.Emails = emails
	e.Result = result
	e.ResponseURL = stmt.GetText("response_url")
	e.CreatedAt = createdAt
	return nil
}
