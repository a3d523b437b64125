package crawshaw

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// Migrate applies fsys's schema against this Db's writer connection.
// Called once at startup, before any other operation.
func (d *Db) Migrate(fsys fs.FS) error {
	conn := d.writer()
	defer d.putWriter(conn)
	return ApplyMigrations(conn, fsys)
}

// ApplyMigrations executes every .sql file under fsys against conn,
// mirroring the zombiezen backend's walk-and-execute behavior so both
// drivers bootstrap an identical schema.
func ApplyMigrations(conn *sqlite.Conn, fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}

		sqlBytes, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("could not read embedded migration file %s: %w", path, err)
		}

		if err := sqlitex.ExecScript(conn, string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to execute migration file %s: %w", path, err)
		}
		return nil
	})
}
