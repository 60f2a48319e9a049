package config

import (
	"fmt"
	"os"

	"github.com/loykin/kvmigrate/internal/common"
	"github.com/loykin/kvmigrate/internal/engine"
	"gopkg.in/yaml.v3"
)

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // error, warn, info, debug
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

type EngineConfig struct {
	Driver   string                `mapstructure:"driver" yaml:"driver"`
	SQLite   engine.SqliteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres engine.PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

type DatabaseConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Version int    `mapstructure:"version" yaml:"version"`
}

// ConfigDoc is the top-level CLI configuration document.
type ConfigDoc struct {
	MigrateDir string         `mapstructure:"migrate_dir" yaml:"migrate_dir"`
	Database   DatabaseConfig `mapstructure:"database" yaml:"database"`
	Engine     EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Logging    LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// Load reads and decodes the YAML config at path.
func (d *ConfigDoc) Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, d); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ToEngineConfig builds the typed engine configuration.
func (d *ConfigDoc) ToEngineConfig() *engine.Config {
	cfg := &engine.Config{Driver: d.Engine.Driver}
	switch cfg.Driver {
	case engine.DriverSqlite, "sqlite3":
		sq := d.Engine.SQLite
		cfg.DriverConfig = &sq
	case engine.DriverPostgresql, "postgres", "pg":
		pg := d.Engine.Postgres
		cfg.DriverConfig = &pg
	}
	return cfg
}

// ApplyLogging installs the configured default logger.
func (d *ConfigDoc) ApplyLogging() {
	level := common.ParseLogLevel(d.Logging.Level)
	var logger *common.Logger
	if d.Logging.Format == "json" {
		logger = common.NewJSONLogger(level)
	} else {
		logger = common.NewLogger(level)
	}
	common.SetDefaultLogger(logger)
}
