package zombiezen

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/deliverkit/verifier/db"
)

// WriteLogBatch inserts a batch of operational log records over a
// connection owned by the caller (the logging Daemon holds its own
// dedicated connection rather than going through the Db pool).
func WriteLogBatch(conn *sqlite.Conn, batch []db.Log) error {
	if len(batch) == 0 {
		return nil
	}

	err := sqlitex.Execute(conn, "BEGIN", nil)
	if err != nil {
		return fmt.Errorf("zombiezen: begin log batch: %w", err)
	}

	for _, l := range batch {
		err = sqlitex.Execute(conn,
			`INSERT INTO verification_events (level, message, json_data, created) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{l.Level, l.Message, l.JsonData, l.Created},
			})
		if err != nil {
			_ = sqlitex.Execute(conn, "ROLLBACK", nil)
			return fmt.Errorf("zombiezen: insert log entry: %w", err)
		}
	}

	if err := sqlitex.Execute(conn, "COMMIT", nil); err != nil {
		return fmt.Errorf("zombiezen: commit log batch: %w", err)
	}
	return nil
}
