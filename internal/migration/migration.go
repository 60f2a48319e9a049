package migration

import (
	"fmt"

	"github.com/loykin/kvmigrate/internal/engine/connector"
	"github.com/loykin/kvmigrate/internal/schema"
)

// Record is one schemaless store document.
type Record = connector.Record

// RecordMapper transforms one old-shape record into one new-shape record
// during a store update. Mappers must be pure; a returned error aborts the
// whole upgrade transaction.
type RecordMapper func(Record) (Record, error)

// IdentityMapper returns the input record unchanged.
func IdentityMapper(r Record) (Record, error) { return r, nil }

// StoreUpdate pairs the target shape of an updated store with the mapper
// applied to every existing record.
type StoreUpdate struct {
	Target schema.StoreConfig
	Mapper RecordMapper
}

// VersionMigration captures the incremental schema delta of exactly one
// version: stores to create, stores to delete and stores to update. It lives
// for one open call and is consumed by the migration engine.
type VersionMigration struct {
	Version int

	newStores []*schema.StoreBuilder
	added     []schema.StoreConfig

	deleted     []string
	updated     map[string]StoreUpdate
	updateOrder []string
}

func NewVersionMigration(version int) *VersionMigration {
	return &VersionMigration{Version: version, updated: map[string]StoreUpdate{}}
}

// CreateStore opens a builder for a store this version introduces. The
// finished config is snapshotted when the migration is validated.
func (m *VersionMigration) CreateStore() *schema.StoreBuilder {
	b := schema.NewStore()
	m.newStores = append(m.newStores, b)
	return b
}

// AddStore registers an already-built config as a new store of this version.
func (m *VersionMigration) AddStore(cfg schema.StoreConfig) {
	m.added = append(m.added, cfg)
}

// DeleteStore marks a store for removal in this version. A name may hold only
// one role per version.
func (m *VersionMigration) DeleteStore(name string) error {
	if role, taken := m.roleOf(name); taken {
		return newError(ErrConfigConflict, m.Version, name,
			fmt.Errorf("store already declared as %s", role))
	}
	m.deleted = append(m.deleted, name)
	return nil
}

// UpdateStore records a structural update of oldName toward target, remapping
// every record through mapper. A nil mapper defaults to identity.
func (m *VersionMigration) UpdateStore(oldName string, target schema.StoreConfig, mapper RecordMapper) error {
	if role, taken := m.roleOf(oldName); taken {
		return newError(ErrConfigConflict, m.Version, oldName,
			fmt.Errorf("store already declared as %s", role))
	}
	if mapper == nil {
		mapper = IdentityMapper
	}
	m.updated[oldName] = StoreUpdate{Target: target, Mapper: mapper}
	m.updateOrder = append(m.updateOrder, oldName)
	return nil
}

// NewStores materializes the configs of every store this version creates, in
// declaration order.
func (m *VersionMigration) NewStores() []schema.StoreConfig {
	out := make([]schema.StoreConfig, 0, len(m.added)+len(m.newStores))
	out = append(out, m.added...)
	for _, b := range m.newStores {
		out = append(out, b.Config())
	}
	return out
}

// DeletedStores returns the names marked for deletion, in declaration order.
func (m *VersionMigration) DeletedStores() []string {
	return append([]string(nil), m.deleted...)
}

// Update is one update declaration keyed by the store's old name.
type Update struct {
	OldName string
	StoreUpdate
}

// Updates returns the update declarations, in declaration order.
func (m *VersionMigration) Updates() []Update {
	out := make([]Update, 0, len(m.updateOrder))
	for _, name := range m.updateOrder {
		out = append(out, Update{name, m.updated[name]})
	}
	return out
}

func (m *VersionMigration) roleOf(name string) (string, bool) {
	for _, cfg := range m.NewStores() {
		if cfg.Name == name {
			return "new", true
		}
	}
	for _, d := range m.deleted {
		if d == name {
			return "deleted", true
		}
	}
	if _, ok := m.updated[name]; ok {
		return "updated", true
	}
	return "", false
}

// validate runs the assembly-time checks: positive version, no duplicate
// store names among new stores, no name holding two roles, and index names
// unique within each owning store. It never touches the storage engine.
func (m *VersionMigration) validate() error {
	if m.Version <= 0 {
		return newError(ErrConfigConflict, m.Version, "",
			fmt.Errorf("version must be a positive integer"))
	}
	seen := map[string]string{}
	claim := func(name, role string) error {
		if prev, ok := seen[name]; ok {
			return newError(ErrConfigConflict, m.Version, name,
				fmt.Errorf("declared both %s and %s", prev, role))
		}
		seen[name] = role
		return nil
	}
	for _, cfg := range m.NewStores() {
		if err := cfg.Validate(); err != nil {
			return newError(ErrConfigConflict, m.Version, cfg.Name, err)
		}
		if err := claim(cfg.Name, "new"); err != nil {
			return err
		}
	}
	for _, name := range m.deleted {
		if err := claim(name, "deleted"); err != nil {
			return err
		}
	}
	for _, name := range m.updateOrder {
		if err := claim(name, "updated"); err != nil {
			return err
		}
		u := m.updated[name]
		if err := u.Target.Validate(); err != nil {
			return newError(ErrConfigConflict, m.Version, name, err)
		}
	}
	return nil
}
