package session

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// NewSQLiteRepo opens (or creates) the SQLite session store at path and
// applies migrations.
func NewSQLiteRepo(path string) (Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// modernc's driver is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)

	repo := &sqlRepo{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, nil
}
