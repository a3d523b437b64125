package log

import "zombiezen.com/go/sqlite"

// OpenLogConn opens a dedicated connection to the batch-logging
// daemon's own SQLite file, creating it if needed. The Daemon holds
// this connection for its entire lifetime rather than borrowing one
// from the engine's primary store, so a slow log flush never contends
// with a verification worker's writes.
func OpenLogConn(dbPath string) (*sqlite.Conn, error) {
	return sqlite.OpenConn(dbPath, sqlite.OpenReadWrite|sqlite.OpenCreate)
}
