// Package database provides the SQLite connection used by the snapshot store.
//
// Open creates the database file (and its directory) with WAL mode and a
// busy timeout, and Migrate applies versioned .up.sql files from any fs.FS:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Each migration runs in its own transaction
// and is recorded in schema_migrations.
package database
