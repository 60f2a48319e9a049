package schema

import "fmt"

// IndexConfig describes one secondary index on a store. Immutable once the
// migration plan is finalized.
type IndexConfig struct {
	Name           string
	SourceProperty string
	Unique         bool
}

// StoreConfig describes one record collection. PrimaryKeyPath empty means the
// store has no key path; keys then come from the auto-increment generator.
type StoreConfig struct {
	Name           string
	PrimaryKeyPath string
	AutoIncrement  bool
	Indexes        []IndexConfig
}

// Validate checks invariants a single store must hold on its own: a non-empty
// name and index names unique within the store.
func (c StoreConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("store has no name")
	}
	seen := make(map[string]struct{}, len(c.Indexes))
	for _, ix := range c.Indexes {
		if ix.Name == "" {
			return fmt.Errorf("store %q declares an unnamed index", c.Name)
		}
		if _, dup := seen[ix.Name]; dup {
			return fmt.Errorf("store %q declares index %q twice", c.Name, ix.Name)
		}
		seen[ix.Name] = struct{}{}
	}
	return nil
}

// clone returns a defensive copy so finished configs never alias builder
// state.
func (c StoreConfig) clone() StoreConfig {
	out := c
	out.Indexes = append([]IndexConfig(nil), c.Indexes...)
	return out
}
