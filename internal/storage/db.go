package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open connects to the embedded crawl database at path, applying any
// outstanding migrations before returning. A single connection is kept
// open (MaxOpenConns(1)) because the embedded deployment is a single
// writer coordinating through one sqlite file; WAL mode still lets
// concurrent readers proceed against that same file from other processes.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, step := range migrations {
		var applied int
		err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, step.name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", step.name, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", step.name, err)
		}
		if _, err := tx.Exec(step.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", step.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, step.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", step.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", step.name, err)
		}
	}

	return nil
}
