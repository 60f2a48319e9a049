package engine

import (
	"fmt"
	"strings"

	"github.com/loykin/kvmigrate/internal/engine/connector"
	"github.com/loykin/kvmigrate/internal/engine/memory"
	"github.com/loykin/kvmigrate/internal/engine/postgresql"
	"github.com/loykin/kvmigrate/internal/engine/sqlite"
)

// Re-export the connector contract so callers depend on one package.

type Engine = connector.Engine
type Conn = connector.Conn
type Tx = connector.Tx
type StoreTx = connector.StoreTx
type Record = connector.Record
type StoreOptions = connector.StoreOptions
type IndexSpec = connector.IndexSpec

// Driver names accepted by Config.
const (
	DriverMemory     = "memory"
	DriverSqlite     = "sqlite"
	DriverPostgresql = "postgresql"
)

// DriverConfig is the per-driver configuration surface.
type DriverConfig interface {
	ToMap() map[string]interface{}
}

// Config selects and configures a storage engine backend.
type Config struct {
	Driver       string `mapstructure:"driver"`
	DriverConfig DriverConfig
}

// SqliteConfig and PostgresConfig alias the backend config types.
type SqliteConfig = sqlite.Config
type PostgresConfig = postgresql.Config

// Connect opens the configured backend. An empty driver defaults to the
// in-memory engine.
func (c *Config) Connect() (Engine, error) {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	cfg := map[string]interface{}{}
	if c.DriverConfig != nil {
		cfg = c.DriverConfig.ToMap()
	}
	switch driver {
	case DriverMemory, "":
		return memory.New(), nil
	case DriverSqlite, "sqlite3":
		return sqlite.Connect(cfg)
	case DriverPostgresql, "postgres", "pg":
		return postgresql.Connect(cfg)
	default:
		return nil, fmt.Errorf("unsupported engine driver: %s", c.Driver)
	}
}
