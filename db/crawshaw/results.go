package crawshaw

import (
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/deliverkit/verifier/db"
)

func (d *Db) UpsertResults(r db.ResultsRow) error {
	resultsJSON, err := jsonMarshal(r.Results)
	if err != nil {
		return fmt.Errorf("crawshaw: marshal results: %w", err)
	}

	conn := d.writer()
	defer d.putWriter(conn)

	return sqlitex.Exec(conn,
		`INSERT INTO controller_results (
			request_id, status, verifying, greylist_found, greylist_found_at,
			blacklist_found, blacklist_found_at, results, total_emails, completed_emails,
			webhook_sent, webhook_attempts, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status = excluded.status,
			verifying = excluded.verifying,
			greylist_found = excluded.greylist_found,
			greylist_found_at = excluded.greylist_found_at,
			blacklist_found = excluded.blacklist_found,
			blacklist_found_at = excluded.blacklist_found_at,
			results = excluded.results,
			completed_emails = excluded.completed_emails,
			webhook_sent = excluded.webhook_sent,
			webhook_attempts = excluded.webhook_attempts,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		nil,
		r.RequestID, r.Status, boolToInt(r.Verifying),
		boolToInt(r.GreylistFound), db.TimeFormat(r.GreylistFoundAt),
		boolToInt(r.BlacklistFound), db.TimeFormat(r.BlacklistFoundAt),
		resultsJSON, r.TotalEmails, r.CompletedEmails,
		boolToInt(r.WebhookSent), r.WebhookAttempts,
		db.TimeFormat(nowIfZero(r.CreatedAt)), db.TimeFormat(nowIfZero(r.UpdatedAt)),
		db.TimeFormat(r.CompletedAt))
}

func (d *Db) GetResults(requestID string) (db.ResultsRow, error) {
	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	var r db.ResultsRow
	found := false
	err := sqlitex.Exec(conn, selectResultsSQL+` WHERE request_id = ?`,
		func(stmt *sqlite.Stmt) error {
			found = true
			return scanResults(stmt, &r)
		}, requestID)
	if err != nil {
		return db.ResultsRow{}, err
	}
	if !found {
		return db.ResultsRow{}, db.ErrNotFound
	}
	return r, nil
}

func (d *Db) ListResultsByStatus(status string) ([]db.ResultsRow, error) {
	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	var out []db.ResultsRow
	err := sqlitex.Exec(conn, selectResultsSQL+` WHERE status = ? ORDER BY created_at ASC`,
		func(stmt *sqlite.Stmt) error {
			var r db.ResultsRow
			if err := scanResults(stmt, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		}, status)
	return out, err
}

const selectResultsSQL = `SELECT
	request_id, status, verifying, greylist_found, greylist_found_at,
	blacklist_found, blacklist_found_at, results, total_emails, completed_emails,
	webhook_sent, webhook_attempts, created_at, updated_at, completed_at
	FROM controller_results`

func scanResults(stmt *sqlite.Stmt, r *db.ResultsRow) error {
	var results []db.VerificationObj
	if err := jsonUnmarshal(stmt.GetText("results"), &results); err != nil {
		return fmt.Errorf("crawshaw: unmarshal results: %w", err)
	}
	greylistAt, err := db.TimeParse(stmt.GetText("greylist_found_at"))
	if err != nil {
		return fmt.Errorf("crawshaw: parse greylist_found_at: %w", err)
	}
	blacklistAt, err := db.TimeParse(stmt.GetText("blacklist_found_at"))
	if err != nil {
		return fmt.Errorf("crawshaw: parse blacklist_found_at: %w", err)
	}
	createdAt, err := db.TimeParse(stmt.GetText("created_at"))
	if err != nil {
		return fmt.Errorf("crawshaw: parse created_at: %w", err)
	}
	updatedAt, err := db.TimeParse(stmt.GetText("updated_at"))
	if err != nil {
		return fmt.Errorf("crawshaw: parse updated_at: %w", err)
	}
	completedAt, err := db.TimeParse(stmt.GetText("completed_at"))
	if err != nil {
		return fmt.Errorf("crawshaw: parse completed_at: %w", err)
	}

	r.RequestID = stmt.GetText("request_id")
	r.Status = stmt.GetText("status")
	r.Verifying = stmt.GetInt64("verifying") != 0
	r.GreylistFound = stmt.GetInt64("greylist_found") != 0
	r.GreylistFoundAt = greylistAt
	r.BlacklistFound = stmt.GetInt64("blacklist_found") != 0
	r.BlacklistFoundAt = blacklistAt
	r.Results = results
	r.TotalEmails = int(stmt.GetInt64("total_emails"))
	r.CompletedEmails = int(stmt.GetInt64("completed_emails"))
	r.WebhookSent = stmt.GetInt64("webhook_sent") != 0
	r.WebhookAttempts = int(stmt.GetInt64("webhook_attempts"))
	r.CreatedAt = createdAt
	r.UpdatedAt = updatedAt
	r.CompletedAt = completedAt
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
