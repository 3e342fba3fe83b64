package database

import (
	"database/sql"
	"fmt"
	"log"
)

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// migrate brings the database schema up to the latest version.
func migrate(conn *sql.DB) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(conn, m); err != nil {
			return err
		}
		current = m.Version
	}
	return nil
}

func applyMigration(conn *sql.DB, m Migration) error {
	log.Printf("applying migration %d: %s", m.Version, m.Description)

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}

	// modernc/sqlite does not allow user_version inside the transaction;
	// the DDL is idempotent so a crash before this line just re-runs it.
	return setSchemaVersion(conn, m.Version)
}

func setSchemaVersion(conn *sql.DB, version int) error {
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("setting schema version %d: %w", version, err)
	}
	return nil
}
