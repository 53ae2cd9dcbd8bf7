// Package database provides SQLite connectivity for node snapshot storage.
//
// It opens the database with WAL mode and a busy timeout, limits the pool to
// a single writer, and applies embedded schema migrations tracked in a
// schema_migrations table.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
package database
