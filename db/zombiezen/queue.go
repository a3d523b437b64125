package zombiezen

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/deliverkit/verifier/db"
)

func (d *Db) AddRequest(req db.Request) error {
	if req.RequestID == "" || len(req.Emails) == 0 {
		return db.ErrMissingFields
	}

	emailsJSON, err := db.MarshalEmails(req.Emails)
	if err != nil {
		return fmt.Errorf("zombiezen: marshal emails: %w", err)
	}

	conn := d.writer()
	defer d.putWriter(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO queue (request_id, payload, enqueued_at) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{req.RequestID, emailsJSON, db.TimeFormat(nowIfZero(req.EnqueuedAt))},
		})
	if err != nil {
		return mapConstraintErr(err)
	}
	return nil
}

func (d *Db) PeekRequest() (db.Request, error) {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return db.Request{}, err
	}
	defer d.pool.Put(conn)

	var req db.Request
	found := false
	err = sqlitex.Execute(conn,
		`SELECT request_id, payload, enqueued_at FROM queue ORDER BY rowid ASC LIMIT 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return scanRequest(stmt, &req)
			},
		})
	if err != nil {
		return db.Request{}, err
	}
	if !found {
		return db.Request{}, db.ErrQueueEmpty
	}
	return req, nil
}

func (d *Db) RemoveRequest(requestID string) error {
	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Execute(conn, `DELETE FROM queue WHERE request_id = ?`, &sqlitex.ExecOptions{
		Args: []any{requestID},
	})
}

func (d *Db) HasRequest(requestID string) (bool, error) {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return false, err
	}
	defer d.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM queue WHERE request_id = ? LIMIT 1`, &sqlitex.ExecOptions{
		Args: []any{requestID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found, err
}

func (d *Db) QueueEmpty() (bool, error) {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return false, err
	}
	defer d.pool.Put(conn)

	empty := true
	err = sqlitex.Execute(conn, `SELECT 1 FROM queue LIMIT 1`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			empty = false
			return nil
		},
	})
	return empty, err
}

func (d *Db) ListQueued() ([]db.Request, error) {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return nil, err
	}
	defer d.pool.Put(conn)

	var reqs []db.Request
	err = sqlitex.Execute(conn,
		`SELECT request_id, payload, enqueued_at FROM queue ORDER BY rowid ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var req db.Request
				if err := scanRequest(stmt, &req); err != nil {
					return err
				}
				reqs = append(reqs, req)
				return nil
			},
		})
	return reqs, err
}

func scanRequest(stmt *sqlite.Stmt, req *db.Request) error {
	emails, err := db.UnmarshalEmails(stmt.GetText("payload"))
	if err != nil {
		return fmt.Errorf("zombiezen: unmarshal payload: %w", err)
	}
	enqueuedAt, err := db.TimeParse(stmt.GetText("enqueued_at"))
	if err != nil {
		return fmt.Errorf("zombiezen: parse enqueued_at: %w", err)
	}
	req.RequestID = stmt.GetText("request_id")
	req.Emails = emails
	req.EnqueuedAt = enqueuedAt
	return nil
}

func (d *Db) UpsertAssignment(a db.Assignment) error {
	emailsJSON, err := db.MarshalEmails(a.Request.Emails)
	if err != nil {
		return fmt.Errorf("zombiezen: marshal emails: %w", err)
	}
	payload := fmt.Sprintf(`{"request_id":%q,"emails":%s,"response_url":%q}`,
		a.Request.RequestID, emailsJSON, a.Request.ResponseURL)

	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Execute(conn,
		`INSERT INTO controller_assignments (worker_index, request, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(worker_index) DO UPDATE SET request = excluded.request, created_at = excluded.created_at`,
		&sqlitex.ExecOptions{
			Args: []any{a.WorkerIndex, payload, db.TimeFormat(nowIfZero(a.CreatedAt))},
		})
}

func (d *Db) DeleteAssignment(workerIndex int) error {
	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Execute(conn, `DELETE FROM controller_assignments WHERE worker_index = ?`, &sqlitex.ExecOptions{
		Args: []any{workerIndex},
	})
}

func (d *Db) GetAssignment(workerIndex int) (db.Assignment, error) {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return db.Assignment{}, err
	}
	defer d.pool.Put(conn)

	var a db.Assignment
	found := false
	err = sqlitex.Execute(conn,
		`SELECT worker_index, request, created_at FROM controller_assignments WHERE worker_index = ?`,
		&sqlitex.ExecOptions{
			Args: []any{workerIndex},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return scanAssignment(stmt, &a)
			},
		})
	if err != nil {
		return db.Assignment{}, err
	}
	if !found {
		return db.Assignment{}, db.ErrNotFound
	}
	return a, nil
}

func (d *Db) ListAssignments() ([]db.Assignment, error) {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return nil, err
	}
	defer d.pool.Put(conn)

	var out []db.Assignment
	err = sqlitex.Execute(conn,
		`SELECT worker_index, request, created_at FROM controller_assignments ORDER BY worker_index ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var a db.Assignment
				if err := scanAssignment(stmt, &a); err != nil {
					return err
				}
				out = append(out, a)
				return nil
			},
		})
	return out, err
}

func scanAssignment(stmt *sqlite.Stmt, a *db.Assignment) error {
	var req struct {
		RequestID   string   `json:"request_id"`
		Emails      []string `json:"emails"`
		ResponseURL string   `json:"response_url"`
	}
	if err := jsonUnmarshal(stmt.GetText("request"), &req); err != nil {
		return fmt.Errorf("zombiezen: unmarshal assignment request: %w", err)
	}
	createdAt, err := db.TimeParse(stmt.GetText("created_at"))
	if err != nil {
		return fmt.Errorf("zombiezen: parse created_at: %w", err)
	}
	a.WorkerIndex = int(stmt.GetInt64("worker_index"))
	a.Request = db.Request{RequestID: req.RequestID, Emails: req.Emails, ResponseURL: req.ResponseURL}
	a.CreatedAt = createdAt
	return nil
}
