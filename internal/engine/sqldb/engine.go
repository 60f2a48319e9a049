package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/loykin/kvmigrate/internal/common"
	"github.com/loykin/kvmigrate/internal/engine/connector"
)

// Dialect abstracts the small SQL differences between backends. Booleans are
// stored as 0/1 integers on both so scanning stays uniform.
type Dialect interface {
	// Name is the driver name used for logging.
	Name() string
	// Ph renders the placeholder for a 1-based argument position.
	Ph(n int) string
	// EnsureStatements returns the DDL creating the engine tables.
	EnsureStatements() []string
	// LockSQL returns a statement taking the per-database upgrade lock, or
	// empty when the connection model already serializes writers.
	LockSQL() string
}

// Engine is a storage engine persisted through database/sql. One Engine holds
// any number of named databases inside a shared set of tables, scoped by a
// db column.
type Engine struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open *sql.DB and ensures the engine schema exists.
func New(db *sql.DB, dialect Dialect) (*Engine, error) {
	e := &Engine{db: db, dialect: dialect}
	if err := e.ensure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) ensure() error {
	logger := common.GetLogger().WithEngine(e.dialect.Name())
	for i, q := range e.dialect.EnsureStatements() {
		if _, err := e.db.Exec(q); err != nil {
			logger.Error("failed to create table in schema setup", "error", err, "table_index", i+1)
			return fmt.Errorf("failed to create table %d in schema setup: %w", i+1, err)
		}
	}
	logger.Debug("engine schema ensured")
	return nil
}

func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) Open(ctx context.Context, name string, _ int) (connector.Conn, error) {
	version, err := e.storedVersion(ctx, name)
	if err != nil {
		return nil, err
	}
	return &conn{eng: e, name: name, stored: version}, nil
}

func (e *Engine) storedVersion(ctx context.Context, name string) (int, error) {
	q := fmt.Sprintf("SELECT version FROM kv_meta WHERE db = %s", e.dialect.Ph(1))
	var v int
	err := e.db.QueryRowContext(ctx, q, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read stored version: %w", err)
	}
	return v, nil
}

type conn struct {
	eng    *Engine
	name   string
	stored int
}

func (c *conn) StoredVersion() int { return c.stored }

func (c *conn) StoreNames() ([]string, error) {
	q := fmt.Sprintf("SELECT name FROM kv_stores WHERE db = %s ORDER BY pos", c.eng.dialect.Ph(1))
	rows, err := c.eng.db.Query(q, c.name)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (c *conn) ScanAll(store string) ([]connector.Record, error) {
	d := c.eng.dialect
	var exists int
	q := fmt.Sprintf("SELECT 1 FROM kv_stores WHERE db = %s AND name = %s", d.Ph(1), d.Ph(2))
	err := c.eng.db.QueryRow(q, c.name, store).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", connector.ErrStoreMissing, store)
	}
	if err != nil {
		return nil, fmt.Errorf("check store %q: %w", store, err)
	}
	q = fmt.Sprintf("SELECT doc FROM kv_records WHERE db = %s AND store = %s ORDER BY pos", d.Ph(1), d.Ph(2))
	rows, err := c.eng.db.Query(q, c.name, store)
	if err != nil {
		return nil, fmt.Errorf("scan store %q: %w", store, err)
	}
	defer func() { _ = rows.Close() }()
	var out []connector.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		rec, err := connector.UnmarshalRecord([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (c *conn) Begin(ctx context.Context) (connector.Tx, error) {
	sqlTx, err := c.eng.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upgrade transaction: %w", err)
	}
	if lock := c.eng.dialect.LockSQL(); lock != "" {
		if _, err := sqlTx.Exec(lock, c.name); err != nil {
			_ = sqlTx.Rollback()
			return nil, fmt.Errorf("acquire upgrade lock: %w", err)
		}
	}
	return &tx{conn: c, tx: sqlTx}, nil
}

func (c *conn) Close() error { return nil }

type tx struct {
	conn *conn
	tx   *sql.Tx
}

func (t *tx) d() Dialect   { return t.conn.eng.dialect }
func (t *tx) name() string { return t.conn.name }

func (t *tx) HasStore(name string) (bool, error) {
	q := fmt.Sprintf("SELECT 1 FROM kv_stores WHERE db = %s AND name = %s", t.d().Ph(1), t.d().Ph(2))
	var one int
	err := t.tx.QueryRow(q, t.name(), name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check store %q: %w", name, err)
	}
	return true, nil
}

func (t *tx) CreateStore(name string, opts connector.StoreOptions) (connector.StoreTx, error) {
	exists, err := t.HasStore(name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", connector.ErrStoreExists, name)
	}
	auto := 0
	if opts.AutoIncrement {
		auto = 1
	}
	q := fmt.Sprintf(
		"INSERT INTO kv_stores(db, name, key_path, auto_increment, seq, pos) "+
			"VALUES(%s, %s, %s, %s, 0, (SELECT COALESCE(MAX(pos), 0) + 1 FROM kv_stores WHERE db = %s))",
		t.d().Ph(1), t.d().Ph(2), t.d().Ph(3), t.d().Ph(4), t.d().Ph(5))
	if _, err := t.tx.Exec(q, t.name(), name, opts.KeyPath, auto, t.name()); err != nil {
		return nil, fmt.Errorf("create store %q: %w", name, err)
	}
	return &storeTx{tx: t, store: name, opts: opts}, nil
}

func (t *tx) DeleteStore(name string) error {
	exists, err := t.HasStore(name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", connector.ErrStoreMissing, name)
	}
	for _, table := range []string{"kv_records", "kv_indexes"} {
		q := fmt.Sprintf("DELETE FROM %s WHERE db = %s AND store = %s", table, t.d().Ph(1), t.d().Ph(2))
		if _, err := t.tx.Exec(q, t.name(), name); err != nil {
			return fmt.Errorf("delete store %q: %w", name, err)
		}
	}
	q := fmt.Sprintf("DELETE FROM kv_stores WHERE db = %s AND name = %s", t.d().Ph(1), t.d().Ph(2))
	if _, err := t.tx.Exec(q, t.name(), name); err != nil {
		return fmt.Errorf("delete store %q: %w", name, err)
	}
	return nil
}

func (t *tx) Store(name string) (connector.StoreTx, error) {
	q := fmt.Sprintf("SELECT key_path, auto_increment FROM kv_stores WHERE db = %s AND name = %s",
		t.d().Ph(1), t.d().Ph(2))
	var keyPath string
	var auto int
	err := t.tx.QueryRow(q, t.name(), name).Scan(&keyPath, &auto)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", connector.ErrStoreMissing, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load store %q: %w", name, err)
	}
	return &storeTx{tx: t, store: name, opts: connector.StoreOptions{KeyPath: keyPath, AutoIncrement: auto != 0}}, nil
}

func (t *tx) SetVersion(v int) error {
	q := fmt.Sprintf(
		"INSERT INTO kv_meta(db, version) VALUES(%s, %s) ON CONFLICT(db) DO UPDATE SET version = excluded.version",
		t.d().Ph(1), t.d().Ph(2))
	if _, err := t.tx.Exec(q, t.name(), v); err != nil {
		return fmt.Errorf("set stored version: %w", err)
	}
	return nil
}

func (t *tx) RecordApplied(v int) error {
	q := fmt.Sprintf(
		"INSERT INTO kv_applied(db, version, applied_at) VALUES(%s, %s, %s) ON CONFLICT(db, version) DO NOTHING",
		t.d().Ph(1), t.d().Ph(2), t.d().Ph(3))
	if _, err := t.tx.Exec(q, t.name(), v, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record applied version %d: %w", v, err)
	}
	return nil
}

func (t *tx) Applied() ([]int, error) {
	q := fmt.Sprintf("SELECT version FROM kv_applied WHERE db = %s ORDER BY version", t.d().Ph(1))
	rows, err := t.tx.Query(q, t.name())
	if err != nil {
		return nil, fmt.Errorf("list applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return err
	}
	// refresh the cached version for callers holding the connection open
	v, err := t.conn.eng.storedVersion(context.Background(), t.conn.name)
	if err == nil {
		t.conn.stored = v
	}
	return nil
}

func (t *tx) Rollback() error { return t.tx.Rollback() }

type storeTx struct {
	tx    *tx
	store string
	opts  connector.StoreOptions
}

func (s *storeTx) Name() string                    { return s.store }
func (s *storeTx) Options() connector.StoreOptions { return s.opts }

func (s *storeTx) CreateIndex(spec connector.IndexSpec) error {
	d := s.tx.d()
	q := fmt.Sprintf("SELECT 1 FROM kv_indexes WHERE db = %s AND store = %s AND name = %s",
		d.Ph(1), d.Ph(2), d.Ph(3))
	var one int
	err := s.tx.tx.QueryRow(q, s.tx.name(), s.store, spec.Name).Scan(&one)
	if err == nil {
		return fmt.Errorf("%w: %s on store %s", connector.ErrIndexExists, spec.Name, s.store)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check index %q: %w", spec.Name, err)
	}
	if spec.Unique {
		recs, keys, err := s.load()
		if err != nil {
			return err
		}
		ordered := make([]connector.Record, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, recs[k])
		}
		if err := connector.ValidateUnique(ordered, spec); err != nil {
			return err
		}
	}
	uniq := 0
	if spec.Unique {
		uniq = 1
	}
	q = fmt.Sprintf(
		"INSERT INTO kv_indexes(db, store, name, property, is_unique, pos) "+
			"VALUES(%s, %s, %s, %s, %s, (SELECT COALESCE(MAX(pos), 0) + 1 FROM kv_indexes WHERE db = %s AND store = %s))",
		d.Ph(1), d.Ph(2), d.Ph(3), d.Ph(4), d.Ph(5), d.Ph(6), d.Ph(7))
	if _, err := s.tx.tx.Exec(q, s.tx.name(), s.store, spec.Name, spec.Property, uniq, s.tx.name(), s.store); err != nil {
		return fmt.Errorf("create index %q on store %q: %w", spec.Name, s.store, err)
	}
	return nil
}

func (s *storeTx) DeleteIndex(name string) error {
	d := s.tx.d()
	q := fmt.Sprintf("DELETE FROM kv_indexes WHERE db = %s AND store = %s AND name = %s",
		d.Ph(1), d.Ph(2), d.Ph(3))
	res, err := s.tx.tx.Exec(q, s.tx.name(), s.store, name)
	if err != nil {
		return fmt.Errorf("delete index %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s on store %s", connector.ErrIndexMissing, name, s.store)
	}
	return nil
}

func (s *storeTx) Indexes() ([]connector.IndexSpec, error) {
	d := s.tx.d()
	q := fmt.Sprintf("SELECT name, property, is_unique FROM kv_indexes WHERE db = %s AND store = %s ORDER BY pos",
		d.Ph(1), d.Ph(2))
	rows, err := s.tx.tx.Query(q, s.tx.name(), s.store)
	if err != nil {
		return nil, fmt.Errorf("list indexes of store %q: %w", s.store, err)
	}
	defer func() { _ = rows.Close() }()
	var out []connector.IndexSpec
	for rows.Next() {
		var spec connector.IndexSpec
		var uniq int
		if err := rows.Scan(&spec.Name, &spec.Property, &uniq); err != nil {
			return nil, err
		}
		spec.Unique = uniq != 0
		out = append(out, spec)
	}
	return out, rows.Err()
}

func (s *storeTx) ScanAll() ([]connector.Record, error) {
	recs, keys, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]connector.Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, recs[k])
	}
	return out, nil
}

func (s *storeTx) PutAll(records []connector.Record) error {
	d := s.tx.d()
	existing, existingKeys, err := s.load()
	if err != nil {
		return err
	}
	seq, err := s.seq()
	if err != nil {
		return err
	}

	staged := make([]connector.Record, 0, len(records))
	stagedKeys := make([]string, 0, len(records))
	for _, r := range records {
		rec := connector.CloneRecord(r)
		key, found, err := connector.KeyFor(rec, s.opts)
		if err != nil {
			return err
		}
		switch {
		case found:
			if s.opts.AutoIncrement {
				seq = connector.AdvanceSeq(seq, key)
			}
		case !s.opts.AutoIncrement:
			return fmt.Errorf("%w: store %s has no key generator", connector.ErrNoKey, s.store)
		default:
			seq++
			if s.opts.KeyPath != "" {
				if err := connector.InjectKey(rec, s.opts, seq); err != nil {
					return err
				}
			}
			key = strconv.FormatInt(seq, 10)
		}
		staged = append(staged, rec)
		stagedKeys = append(stagedKeys, key)
	}

	specs, err := s.Indexes()
	if err != nil {
		return err
	}
	final := connector.PreviewMerge(existingKeys, existing, stagedKeys, staged)
	for _, spec := range specs {
		if err := connector.ValidateUnique(final, spec); err != nil {
			return err
		}
	}

	insert := fmt.Sprintf(
		"INSERT INTO kv_records(db, store, key, doc, pos) "+
			"VALUES(%s, %s, %s, %s, (SELECT COALESCE(MAX(pos), 0) + 1 FROM kv_records WHERE db = %s AND store = %s)) "+
			"ON CONFLICT(db, store, key) DO UPDATE SET doc = excluded.doc",
		d.Ph(1), d.Ph(2), d.Ph(3), d.Ph(4), d.Ph(5), d.Ph(6))
	for i, rec := range staged {
		doc, err := connector.MarshalRecord(rec)
		if err != nil {
			return err
		}
		if _, err := s.tx.tx.Exec(insert, s.tx.name(), s.store, stagedKeys[i], string(doc), s.tx.name(), s.store); err != nil {
			return fmt.Errorf("put record into store %q: %w", s.store, err)
		}
	}

	q := fmt.Sprintf("UPDATE kv_stores SET seq = %s WHERE db = %s AND name = %s", d.Ph(1), d.Ph(2), d.Ph(3))
	if _, err := s.tx.tx.Exec(q, seq, s.tx.name(), s.store); err != nil {
		return fmt.Errorf("advance key generator of store %q: %w", s.store, err)
	}
	return nil
}

func (s *storeTx) Clear() error {
	d := s.tx.d()
	q := fmt.Sprintf("DELETE FROM kv_records WHERE db = %s AND store = %s", d.Ph(1), d.Ph(2))
	if _, err := s.tx.tx.Exec(q, s.tx.name(), s.store); err != nil {
		return fmt.Errorf("clear store %q: %w", s.store, err)
	}
	return nil
}

// load reads the store's records keyed and in insertion order.
func (s *storeTx) load() (map[string]connector.Record, []string, error) {
	d := s.tx.d()
	q := fmt.Sprintf("SELECT key, doc FROM kv_records WHERE db = %s AND store = %s ORDER BY pos",
		d.Ph(1), d.Ph(2))
	rows, err := s.tx.tx.Query(q, s.tx.name(), s.store)
	if err != nil {
		return nil, nil, fmt.Errorf("scan store %q: %w", s.store, err)
	}
	defer func() { _ = rows.Close() }()
	recs := map[string]connector.Record{}
	var keys []string
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, nil, err
		}
		rec, err := connector.UnmarshalRecord([]byte(doc))
		if err != nil {
			return nil, nil, err
		}
		recs[key] = rec
		keys = append(keys, key)
	}
	return recs, keys, rows.Err()
}

func (s *storeTx) seq() (int64, error) {
	d := s.tx.d()
	q := fmt.Sprintf("SELECT seq FROM kv_stores WHERE db = %s AND name = %s", d.Ph(1), d.Ph(2))
	var seq int64
	if err := s.tx.tx.QueryRow(q, s.tx.name(), s.store).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read key generator of store %q: %w", s.store, err)
	}
	return seq, nil
}
