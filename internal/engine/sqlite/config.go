package sqlite

import "fmt"

const (
	busyTimeoutMS    = 5000
	foreignKeysParam = "_fk=1"
)

// Config holds SQLite engine settings. DSN wins over Path when both are set;
// Path is expanded into a file DSN with the usual pragmas.
type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// ToMap exposes the config as a generic map for the driver loader.
func (c *Config) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"path": c.Path,
		"dsn":  c.DSN,
	}
}

func (c *Config) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Path != "" {
		return fmt.Sprintf("file:%s?_busy_timeout=%d&%s", c.Path, busyTimeoutMS, foreignKeysParam)
	}
	// in-memory database, shared across connections of this process
	return "file::memory:?mode=memory&cache=shared"
}
