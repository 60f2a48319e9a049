package postgresql

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/loykin/kvmigrate/internal/common"
	"github.com/loykin/kvmigrate/internal/engine/connector"
	"github.com/loykin/kvmigrate/internal/engine/sqldb"
)

// Dialect implements the SQL dialect for PostgreSQL.
type Dialect struct{}

func NewDialect() *Dialect { return &Dialect{} }

// Name returns the driver name for logging
func (d *Dialect) Name() string { return "postgresql" }

// Ph returns PostgreSQL-style placeholders ($1, $2, ...)
func (d *Dialect) Ph(n int) string { return fmt.Sprintf("$%d", n) }

// LockSQL takes a transaction-scoped advisory lock on the database name so
// concurrent opens for the same name queue behind the running upgrade.
func (d *Dialect) LockSQL() string {
	return "SELECT pg_advisory_xact_lock(hashtext($1))"
}

// EnsureStatements returns PostgreSQL-specific table creation statements
func (d *Dialect) EnsureStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS kv_meta (db TEXT PRIMARY KEY, version INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS kv_applied (db TEXT NOT NULL, version INTEGER NOT NULL, applied_at TEXT NOT NULL, PRIMARY KEY(db, version))`,
		`CREATE TABLE IF NOT EXISTS kv_stores (db TEXT NOT NULL, name TEXT NOT NULL, key_path TEXT NOT NULL DEFAULT '', auto_increment SMALLINT NOT NULL DEFAULT 0, seq BIGINT NOT NULL DEFAULT 0, pos INTEGER NOT NULL, PRIMARY KEY(db, name))`,
		`CREATE TABLE IF NOT EXISTS kv_indexes (db TEXT NOT NULL, store TEXT NOT NULL, name TEXT NOT NULL, property TEXT NOT NULL, is_unique SMALLINT NOT NULL DEFAULT 0, pos INTEGER NOT NULL, PRIMARY KEY(db, store, name))`,
		`CREATE TABLE IF NOT EXISTS kv_records (db TEXT NOT NULL, store TEXT NOT NULL, key TEXT NOT NULL, doc TEXT NOT NULL, pos INTEGER NOT NULL, PRIMARY KEY(db, store, key))`,
	}
}

// Connect opens a PostgreSQL engine from a generic config map.
func Connect(config map[string]interface{}) (connector.Engine, error) {
	var cfg Config
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode postgresql config: %w", err)
	}
	return Open(&cfg)
}

// Open opens a PostgreSQL engine via the pgx stdlib driver.
func Open(cfg *Config) (connector.Engine, error) {
	db, err := sql.Open("pgx", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	common.GetLogger().WithEngine("postgresql").Debug("PostgreSQL connection established")
	return sqldb.New(db, NewDialect())
}
