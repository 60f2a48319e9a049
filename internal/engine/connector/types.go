package connector

import (
	"context"
	"errors"
)

// Record is a single schemaless document held by a store. Values are the
// result of JSON decoding: strings, float64, bool, nil, []any and
// map[string]any.
type Record = map[string]interface{}

// StoreOptions captures the key generation settings of a store.
type StoreOptions struct {
	// KeyPath is the gjson path of the primary key inside each record.
	// Empty means the store has no key path and keys are generated.
	KeyPath       string
	AutoIncrement bool
}

// IndexSpec describes one secondary index over a store property.
type IndexSpec struct {
	Name     string
	Property string
	Unique   bool
}

// Sentinel errors reported by storage engines. Callers match them with
// errors.Is and translate them into their own taxonomy.
var (
	ErrStoreExists     = errors.New("store already exists")
	ErrStoreMissing    = errors.New("store not found")
	ErrIndexExists     = errors.New("index already exists")
	ErrIndexMissing    = errors.New("index not found")
	ErrNoKey           = errors.New("record has no usable primary key")
	ErrUniqueViolation = errors.New("unique index constraint violated")
)

// Engine opens named databases. Implementations are safe to share across
// goroutines; at most one upgrade transaction per database name may be in
// flight at a time and concurrent opens for the same name queue behind it.
type Engine interface {
	// Open connects to the named database. The returned connection reports
	// the version persisted in engine metadata (0 for a fresh database).
	Open(ctx context.Context, name string, version int) (Conn, error)

	Close() error
}

// Conn is an open connection to one database.
type Conn interface {
	StoredVersion() int

	// StoreNames lists live stores in creation order.
	StoreNames() ([]string, error)

	// ScanAll reads every record of a store in insertion order. Returns
	// ErrStoreMissing when the store does not exist.
	ScanAll(store string) ([]Record, error)

	// Begin starts the exclusive upgrade transaction for this database.
	Begin(ctx context.Context) (Tx, error)

	Close() error
}

// Tx is an upgrade transaction. All structural and data changes made through
// it become visible atomically on Commit; Rollback discards everything.
type Tx interface {
	HasStore(name string) (bool, error)
	CreateStore(name string, opts StoreOptions) (StoreTx, error)
	DeleteStore(name string) error
	Store(name string) (StoreTx, error)

	// SetVersion persists the database version in engine metadata.
	SetVersion(v int) error
	// RecordApplied marks one migration version as applied. The marker is
	// kept separately from the numeric version so sparse migration lists
	// stay distinguishable from missed ones.
	RecordApplied(v int) error
	Applied() ([]int, error)

	Commit() error
	Rollback() error
}

// StoreTx is a handle on one store inside an upgrade transaction.
type StoreTx interface {
	Name() string
	Options() StoreOptions

	CreateIndex(spec IndexSpec) error
	DeleteIndex(name string) error
	Indexes() ([]IndexSpec, error)

	ScanAll() ([]Record, error)
	PutAll(records []Record) error
	Clear() error
}
