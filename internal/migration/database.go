package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/kvmigrate/internal/common"
	"github.com/loykin/kvmigrate/internal/engine/connector"
	"github.com/loykin/kvmigrate/internal/schema"
)

// Database binds a database name, a target version and the ordered list of
// version migrations that define the schema history. Open brings the
// persisted database from whatever version it is at up to Version, applying
// exactly the deltas in between inside one upgrade transaction.
type Database struct {
	Name       string
	Version    int
	Migrations []*VersionMigration
	Engine     connector.Engine
}

func New(name string, version int, migrations []*VersionMigration, eng connector.Engine) *Database {
	return &Database{Name: name, Version: version, Migrations: migrations, Engine: eng}
}

// Connection is an open database at its target version.
type Connection struct {
	name    string
	version int
	conn    connector.Conn
}

func (c *Connection) Name() string { return c.name }
func (c *Connection) Version() int { return c.version }
func (c *Connection) Close() error { return c.conn.Close() }

// Stores lists live stores in creation order.
func (c *Connection) Stores() ([]string, error) {
	names, err := c.conn.StoreNames()
	if err != nil {
		return nil, newError(ErrEngine, 0, "", err)
	}
	return names, nil
}

// ScanAll reads every record of a store in insertion order.
func (c *Connection) ScanAll(store string) ([]Record, error) {
	recs, err := c.conn.ScanAll(store)
	if err != nil {
		if errors.Is(err, connector.ErrStoreMissing) {
			return nil, newError(ErrMissingStore, 0, store, err)
		}
		return nil, newError(ErrEngine, 0, store, err)
	}
	return recs, nil
}

// Open validates the migration list, opens the underlying engine and replays
// every pending migration in ascending version order inside one upgrade
// transaction. On any failure the transaction is rolled back and the database
// is left exactly as it was before the call.
func (d *Database) Open(ctx context.Context) (*Connection, error) {
	logger := common.GetLogger().WithComponent("migration").WithDatabase(d.Name)

	// assembly-time validation, before any transaction may begin
	if err := validateList(d.Migrations); err != nil {
		return nil, err
	}

	conn, err := d.Engine.Open(ctx, d.Name, d.Version)
	if err != nil {
		return nil, newError(ErrEngine, 0, "", fmt.Errorf("open database %q: %w", d.Name, err))
	}
	stored := conn.StoredVersion()

	switch {
	case stored == d.Version:
		logger.Debug("database already at target version", "version", d.Version)
		return &Connection{name: d.Name, version: d.Version, conn: conn}, nil
	case stored > d.Version:
		_ = conn.Close()
		return nil, newError(ErrDowngradeUnsupported, d.Version, "",
			fmt.Errorf("stored version %d is above target %d", stored, d.Version))
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, newError(ErrEngine, 0, "", fmt.Errorf("begin upgrade transaction: %w", err))
	}
	abort := func(ferr error) (*Connection, error) {
		_ = tx.Rollback()
		_ = conn.Close()
		return nil, ferr
	}

	applied, err := tx.Applied()
	if err != nil {
		return abort(newError(ErrEngine, 0, "", fmt.Errorf("read applied versions: %w", err)))
	}
	plan := planUp(d.Migrations, stored, d.Version, applied)
	logger.Info("applying migrations", "from", stored, "to", d.Version, "pending", len(plan))

	for _, m := range plan {
		logger.WithVersion(m.Version).Debug("applying migration")
		if err := applyMigration(tx, m); err != nil {
			logger.WithVersion(m.Version).Error("migration failed, rolling back", "error", err)
			return abort(err)
		}
		if err := tx.RecordApplied(m.Version); err != nil {
			return abort(newError(ErrEngine, m.Version, "", fmt.Errorf("record applied version: %w", err)))
		}
	}
	if err := tx.SetVersion(d.Version); err != nil {
		return abort(newError(ErrEngine, d.Version, "", fmt.Errorf("set stored version: %w", err)))
	}
	if err := tx.Commit(); err != nil {
		_ = conn.Close()
		return nil, newError(ErrEngine, d.Version, "", fmt.Errorf("commit upgrade transaction: %w", err))
	}
	logger.Info("migrations applied", "version", d.Version)
	return &Connection{name: d.Name, version: d.Version, conn: conn}, nil
}

// AppliedVersions reports the applied-migrations marker without running any
// migration. It opens its own short-lived transaction.
func (d *Database) AppliedVersions(ctx context.Context) (int, []int, error) {
	conn, err := d.Engine.Open(ctx, d.Name, d.Version)
	if err != nil {
		return 0, nil, newError(ErrEngine, 0, "", err)
	}
	defer func() { _ = conn.Close() }()
	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, nil, newError(ErrEngine, 0, "", err)
	}
	defer func() { _ = tx.Rollback() }()
	applied, err := tx.Applied()
	if err != nil {
		return 0, nil, newError(ErrEngine, 0, "", err)
	}
	return conn.StoredVersion(), applied, nil
}

// applyMigration replays one version's delta against the open transaction:
// new stores first, then deletions, then updates, each in declaration order.
func applyMigration(tx connector.Tx, m *VersionMigration) error {
	for _, cfg := range m.NewStores() {
		exists, err := tx.HasStore(cfg.Name)
		if err != nil {
			return newError(ErrEngine, m.Version, cfg.Name, err)
		}
		if exists {
			return newError(ErrDuplicateStoreName, m.Version, cfg.Name,
				fmt.Errorf("store already exists in the live database"))
		}
		if _, err := createStore(tx, m.Version, cfg); err != nil {
			return err
		}
	}
	for _, name := range m.DeletedStores() {
		if err := tx.DeleteStore(name); err != nil {
			if errors.Is(err, connector.ErrStoreMissing) {
				return newError(ErrMissingStore, m.Version, name, err)
			}
			return newError(ErrEngine, m.Version, name, err)
		}
	}
	for _, u := range m.Updates() {
		if err := applyUpdate(tx, m.Version, u); err != nil {
			return err
		}
	}
	return nil
}

func createStore(tx connector.Tx, version int, cfg schema.StoreConfig) (connector.StoreTx, error) {
	st, err := tx.CreateStore(cfg.Name, connector.StoreOptions{
		KeyPath:       cfg.PrimaryKeyPath,
		AutoIncrement: cfg.AutoIncrement,
	})
	if err != nil {
		if errors.Is(err, connector.ErrStoreExists) {
			return nil, newError(ErrDuplicateStoreName, version, cfg.Name, err)
		}
		return nil, newError(ErrEngine, version, cfg.Name, err)
	}
	for _, ix := range cfg.Indexes {
		spec := connector.IndexSpec{Name: ix.Name, Property: ix.SourceProperty, Unique: ix.Unique}
		if err := st.CreateIndex(spec); err != nil {
			return nil, newError(ErrEngine, version, cfg.Name, err)
		}
	}
	return st, nil
}

// applyUpdate reads old records before any structural change so existing data
// is never dropped by a failed alteration; this order is observable under
// partial failure and is covered by tests.
func applyUpdate(tx connector.Tx, version int, u Update) error {
	old, err := tx.Store(u.OldName)
	if err != nil {
		if errors.Is(err, connector.ErrStoreMissing) {
			return newError(ErrMissingStore, version, u.OldName, err)
		}
		return newError(ErrEngine, version, u.OldName, err)
	}
	records, err := old.ScanAll()
	if err != nil {
		return newError(ErrEngine, version, u.OldName, err)
	}

	mapped, err := mapRecords(version, u.OldName, u.Mapper, records)
	if err != nil {
		return err
	}

	if u.Target.Name != u.OldName {
		exists, err := tx.HasStore(u.Target.Name)
		if err != nil {
			return newError(ErrEngine, version, u.Target.Name, err)
		}
		if exists {
			return newError(ErrDuplicateStoreName, version, u.Target.Name,
				fmt.Errorf("update target already exists in the live database"))
		}
		dst, err := createStore(tx, version, u.Target)
		if err != nil {
			return err
		}
		if err := dst.PutAll(mapped); err != nil {
			return newError(ErrEngine, version, u.Target.Name, err)
		}
		if err := tx.DeleteStore(u.OldName); err != nil {
			return newError(ErrEngine, version, u.OldName, err)
		}
		return nil
	}

	if err := alterIndexes(old, u.Target.Indexes); err != nil {
		return newError(ErrEngine, version, u.OldName, err)
	}
	if err := old.Clear(); err != nil {
		return newError(ErrEngine, version, u.OldName, err)
	}
	if err := old.PutAll(mapped); err != nil {
		return newError(ErrEngine, version, u.OldName, err)
	}
	return nil
}

// alterIndexes reconciles a store's live indexes with the target list: drops
// indexes that disappeared or changed shape, then creates missing ones in
// declared order.
func alterIndexes(st connector.StoreTx, target []schema.IndexConfig) error {
	want := make(map[string]connector.IndexSpec, len(target))
	for _, ix := range target {
		want[ix.Name] = connector.IndexSpec{Name: ix.Name, Property: ix.SourceProperty, Unique: ix.Unique}
	}
	live, err := st.Indexes()
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(live))
	for _, ix := range live {
		w, ok := want[ix.Name]
		if ok && w == ix {
			keep[ix.Name] = struct{}{}
			continue
		}
		if err := st.DeleteIndex(ix.Name); err != nil {
			return err
		}
	}
	for _, ix := range target {
		if _, ok := keep[ix.Name]; ok {
			continue
		}
		spec := connector.IndexSpec{Name: ix.Name, Property: ix.SourceProperty, Unique: ix.Unique}
		if err := st.CreateIndex(spec); err != nil {
			return err
		}
	}
	return nil
}

func mapRecords(version int, store string, mapper RecordMapper, records []Record) ([]Record, error) {
	out := make([]Record, 0, len(records))
	for i, r := range records {
		mr, err := safeMap(mapper, r)
		if err != nil {
			return nil, newError(ErrMapper, version, store, fmt.Errorf("record %d: %w", i, err))
		}
		out = append(out, mr)
	}
	return out, nil
}

// safeMap shields the upgrade transaction from a panicking mapper; a panic is
// reported the same way as a returned error.
func safeMap(mapper RecordMapper, r Record) (out Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("mapper panic: %v", p)
		}
	}()
	return mapper(connector.CloneRecord(r))
}
