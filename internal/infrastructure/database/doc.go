// Package database provides SQLite connectivity and schema migrations for
// targetd.
//
// The only persistent state is per-run-configuration selection intent
// (see package selection); device lists and compatibility verdicts are
// always rebuilt from live sources.
//
// Usage:
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
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are additive-only.
package database
