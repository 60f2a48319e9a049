package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/kvmigrate/internal/common"
	"github.com/loykin/kvmigrate/internal/engine/connector"
	"github.com/loykin/kvmigrate/internal/engine/sqldb"
	_ "modernc.org/sqlite"
)

// Dialect implements the SQL dialect for SQLite.
type Dialect struct{}

func NewDialect() *Dialect { return &Dialect{} }

// Name returns the driver name for logging
func (d *Dialect) Name() string { return "sqlite" }

// Ph returns SQLite-style placeholders (?)
func (d *Dialect) Ph(_ int) string { return "?" }

// LockSQL is empty: the single-writer connection pool already serializes
// upgrade transactions.
func (d *Dialect) LockSQL() string { return "" }

// EnsureStatements returns SQLite-specific table creation statements
func (d *Dialect) EnsureStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS kv_meta (db TEXT PRIMARY KEY, version INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS kv_applied (db TEXT NOT NULL, version INTEGER NOT NULL, applied_at TEXT NOT NULL, PRIMARY KEY(db, version))`,
		`CREATE TABLE IF NOT EXISTS kv_stores (db TEXT NOT NULL, name TEXT NOT NULL, key_path TEXT NOT NULL DEFAULT '', auto_increment INTEGER NOT NULL DEFAULT 0, seq INTEGER NOT NULL DEFAULT 0, pos INTEGER NOT NULL, PRIMARY KEY(db, name))`,
		`CREATE TABLE IF NOT EXISTS kv_indexes (db TEXT NOT NULL, store TEXT NOT NULL, name TEXT NOT NULL, property TEXT NOT NULL, is_unique INTEGER NOT NULL DEFAULT 0, pos INTEGER NOT NULL, PRIMARY KEY(db, store, name))`,
		`CREATE TABLE IF NOT EXISTS kv_records (db TEXT NOT NULL, store TEXT NOT NULL, key TEXT NOT NULL, doc TEXT NOT NULL, pos INTEGER NOT NULL, PRIMARY KEY(db, store, key))`,
	}
}

// Connect opens a SQLite engine from a generic config map.
func Connect(config map[string]interface{}) (connector.Engine, error) {
	var cfg Config
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode sqlite config: %w", err)
	}
	return Open(&cfg)
}

// Open opens a SQLite engine at the configured path or DSN.
func Open(cfg *Config) (connector.Engine, error) {
	db, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// SQLite allows only one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	common.GetLogger().WithEngine("sqlite").Debug("SQLite connection established")
	return sqldb.New(db, NewDialect())
}
