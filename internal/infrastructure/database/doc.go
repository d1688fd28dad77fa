// Package database opens the SQLite database that holds the write audit
// trail and applies its schema migrations.
//
// The connection is configured with WAL mode (optional), a busy timeout
// and foreign keys, and capped at a single open connection. All queries
// use ? placeholders.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are files VERSION_description.up.sql with an optional
// matching .down.sql, read from the root of any fs.FS. Applied versions
// are recorded in schema_migrations.
package database
