package session

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver
)

// NewPostgresRepo connects to the Postgres session store and applies
// migrations.
func NewPostgresRepo(dsn string) (Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &sqlRepo{db: db, postgres: true}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, nil
}
