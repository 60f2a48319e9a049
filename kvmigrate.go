package kvmigrate

import (
	"context"

	"github.com/loykin/kvmigrate/internal/common"
	"github.com/loykin/kvmigrate/internal/engine"
	imig "github.com/loykin/kvmigrate/internal/migration"
	"github.com/loykin/kvmigrate/internal/schema"
)

// Re-export commonly used types for public API

// Record is one schemaless store document.
type Record = imig.Record

// RecordMapper transforms one old-shape record into one new-shape record.
type RecordMapper = imig.RecordMapper

// VersionMigration captures one schema version's incremental delta.
type VersionMigration = imig.VersionMigration

// StoreConfig and IndexConfig are the immutable shape declarations.
type StoreConfig = schema.StoreConfig
type IndexConfig = schema.IndexConfig

// StoreBuilder and IndexBuilder are the fluent construction surface.
type StoreBuilder = schema.StoreBuilder
type IndexBuilder = schema.IndexBuilder

// Database binds a name, a target version and the ordered migration list.
type Database = imig.Database

// Connection is an open database at its target version.
type Connection = imig.Connection

// MigrationError is the aggregated error reported by a failed open.
type MigrationError = imig.Error

// Engine is the injectable storage engine contract.
type Engine = engine.Engine

// EngineConfig selects and configures an engine backend.
type EngineConfig = engine.Config

// SqliteConfig and PostgresConfig configure the SQL-backed engines.
type SqliteConfig = engine.SqliteConfig
type PostgresConfig = engine.PostgresConfig

// Error kinds, matched with errors.Is.
var (
	ErrConfigConflict       = imig.ErrConfigConflict
	ErrDuplicateStoreName   = imig.ErrDuplicateStoreName
	ErrMissingStore         = imig.ErrMissingStore
	ErrMapper               = imig.ErrMapper
	ErrDowngradeUnsupported = imig.ErrDowngradeUnsupported
	ErrEngine               = imig.ErrEngine
)

// New declares a database at targetVersion over the given engine.
func New(name string, targetVersion int, migrations []*VersionMigration, eng Engine) *Database {
	return imig.New(name, targetVersion, migrations, eng)
}

// Open is shorthand for New followed by Open.
func Open(ctx context.Context, name string, targetVersion int, migrations []*VersionMigration, eng Engine) (*Connection, error) {
	return New(name, targetVersion, migrations, eng).Open(ctx)
}

// NewVersionMigration starts the delta declaration of one schema version.
func NewVersionMigration(version int) *VersionMigration {
	return imig.NewVersionMigration(version)
}

// CreateStore starts a standalone store builder, for configs passed to
// UpdateStore.
func CreateStore() *StoreBuilder {
	return schema.NewStore()
}

// LoadMigrationsFromDir reads versioned NNN_description.yaml migration files.
func LoadMigrationsFromDir(dir string) ([]*VersionMigration, error) {
	return imig.LoadFromDir(dir)
}

// Logger re-exports so embedders can redirect kvmigrate logging.
type Logger = common.Logger
type LogLevel = common.LogLevel

const (
	LogLevelError = common.LogLevelError
	LogLevelWarn  = common.LogLevelWarn
	LogLevelInfo  = common.LogLevelInfo
	LogLevelDebug = common.LogLevelDebug
)

func NewLogger(level LogLevel) *Logger     { return common.NewLogger(level) }
func NewJSONLogger(level LogLevel) *Logger { return common.NewJSONLogger(level) }
func SetDefaultLogger(l *Logger)           { common.SetDefaultLogger(l) }
