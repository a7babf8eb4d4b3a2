package session

import (
	"fmt"
	"strings"

	"gamgui/internal/config"
)

// NewRepository selects the session store from configuration. Test mode
// keeps everything in memory.
func NewRepository(cfg *config.Config) (Repository, error) {
	if cfg.TestMode {
		return NewMemRepo(), nil
	}
	switch strings.ToLower(cfg.Store) {
	case config.StorePostgres, "postgresql":
		if cfg.StoreDSN == "" {
			return nil, fmt.Errorf("postgres connection string is required")
		}
		return NewPostgresRepo(cfg.StoreDSN)
	case config.StoreSQLite, "sqlite3", "":
		dsn := cfg.StoreDSN
		if dsn == "" {
			dsn = ".gamgui.db"
		}
		return NewSQLiteRepo(dsn)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Store)
	}
}
