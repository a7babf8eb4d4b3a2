package config

import "fmt"

// Backend selector values.
const (
	BackendKubernetes = "kubernetes"
	BackendDocker     = "docker"
	BackendSimulated  = "simulated"
)

// Store selector values.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

var validBackends = map[string]bool{
	BackendKubernetes: true,
	BackendDocker:     true,
	BackendSimulated:  true,
}

var validStores = map[string]bool{
	StoreSQLite:   true,
	StorePostgres: true,
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if !validBackends[c.Backend] {
		return fmt.Errorf("invalid backend %q (want kubernetes, docker or simulated)", c.Backend)
	}
	if !validStores[c.Store] {
		return fmt.Errorf("invalid store type %q (want sqlite or postgres)", c.Store)
	}
	if c.Store == StorePostgres && c.StoreDSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres store")
	}
	if c.SessionImage == "" {
		return fmt.Errorf("session.image must not be empty")
	}
	if c.CreateTimeout <= 0 {
		return fmt.Errorf("session.create_timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("session.command_timeout must be positive")
	}
	if c.GatewayBuffer <= 0 {
		return fmt.Errorf("gateway.buffer must be positive")
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("reaper.interval must be positive")
	}
	return nil
}
