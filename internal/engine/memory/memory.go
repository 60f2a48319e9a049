package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/loykin/kvmigrate/internal/engine/connector"
)

// Engine is an in-memory storage engine. It backs tests and short-lived
// embedding scenarios; all state is lost when the engine is garbage
// collected. One Engine holds any number of named databases.
type Engine struct {
	mu    sync.Mutex
	dbs   map[string]*database
	locks map[string]*sync.Mutex
}

func New() *Engine {
	return &Engine{
		dbs:   map[string]*database{},
		locks: map[string]*sync.Mutex{},
	}
}

type database struct {
	version int
	applied []int
	order   []string
	stores  map[string]*storeData
}

type storeData struct {
	opts    connector.StoreOptions
	indexes []connector.IndexSpec
	keys    []string
	recs    map[string]connector.Record
	seq     int64
}

func newDatabase() *database {
	return &database{stores: map[string]*storeData{}}
}

func (e *Engine) Open(_ context.Context, name string, _ int) (connector.Conn, error) {
	e.mu.Lock()
	db, ok := e.dbs[name]
	if !ok {
		db = newDatabase()
		e.dbs[name] = db
		e.locks[name] = &sync.Mutex{}
	}
	e.mu.Unlock()
	return &conn{eng: e, name: name, stored: db.version}, nil
}

func (e *Engine) Close() error { return nil }

func (e *Engine) get(name string) *database {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dbs[name]
}

// upgradeLock serializes upgrade transactions per database name; concurrent
// opens for the same name queue behind the holder.
func (e *Engine) upgradeLock(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locks[name]
}

type conn struct {
	eng    *Engine
	name   string
	stored int
}

func (c *conn) StoredVersion() int { return c.stored }

func (c *conn) StoreNames() ([]string, error) {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	db := c.eng.dbs[c.name]
	out := make([]string, len(db.order))
	copy(out, db.order)
	return out, nil
}

func (c *conn) ScanAll(store string) ([]connector.Record, error) {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	db := c.eng.dbs[c.name]
	sd, ok := db.stores[store]
	if !ok {
		return nil, fmt.Errorf("%w: %s", connector.ErrStoreMissing, store)
	}
	return sd.snapshotRecords(), nil
}

func (c *conn) Begin(_ context.Context) (connector.Tx, error) {
	c.eng.upgradeLock(c.name).Lock()
	c.eng.mu.Lock()
	shadow := c.eng.dbs[c.name].clone()
	c.eng.mu.Unlock()
	return &tx{conn: c, shadow: shadow}, nil
}

func (c *conn) Close() error { return nil }

// tx works on a deep copy of the database; Commit swaps the copy in, so a
// failed migration leaves the original state untouched.
type tx struct {
	conn   *conn
	shadow *database
	done   bool
}

func (t *tx) HasStore(name string) (bool, error) {
	_, ok := t.shadow.stores[name]
	return ok, nil
}

func (t *tx) CreateStore(name string, opts connector.StoreOptions) (connector.StoreTx, error) {
	if _, ok := t.shadow.stores[name]; ok {
		return nil, fmt.Errorf("%w: %s", connector.ErrStoreExists, name)
	}
	sd := &storeData{opts: opts, recs: map[string]connector.Record{}}
	t.shadow.stores[name] = sd
	t.shadow.order = append(t.shadow.order, name)
	return &storeTx{name: name, sd: sd}, nil
}

func (t *tx) DeleteStore(name string) error {
	if _, ok := t.shadow.stores[name]; !ok {
		return fmt.Errorf("%w: %s", connector.ErrStoreMissing, name)
	}
	delete(t.shadow.stores, name)
	for i, n := range t.shadow.order {
		if n == name {
			t.shadow.order = append(t.shadow.order[:i], t.shadow.order[i+1:]...)
			break
		}
	}
	return nil
}

func (t *tx) Store(name string) (connector.StoreTx, error) {
	sd, ok := t.shadow.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", connector.ErrStoreMissing, name)
	}
	return &storeTx{name: name, sd: sd}, nil
}

func (t *tx) SetVersion(v int) error {
	t.shadow.version = v
	return nil
}

func (t *tx) RecordApplied(v int) error {
	for _, a := range t.shadow.applied {
		if a == v {
			return nil
		}
	}
	t.shadow.applied = append(t.shadow.applied, v)
	sort.Ints(t.shadow.applied)
	return nil
}

func (t *tx) Applied() ([]int, error) {
	out := make([]int, len(t.shadow.applied))
	copy(out, t.shadow.applied)
	return out, nil
}

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.conn.eng.mu.Lock()
	t.conn.eng.dbs[t.conn.name] = t.shadow
	t.conn.eng.mu.Unlock()
	t.conn.stored = t.shadow.version
	t.conn.eng.upgradeLock(t.conn.name).Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.conn.eng.upgradeLock(t.conn.name).Unlock()
	return nil
}

type storeTx struct {
	name string
	sd   *storeData
}

func (s *storeTx) Name() string                    { return s.name }
func (s *storeTx) Options() connector.StoreOptions { return s.sd.opts }

func (s *storeTx) CreateIndex(spec connector.IndexSpec) error {
	for _, ix := range s.sd.indexes {
		if ix.Name == spec.Name {
			return fmt.Errorf("%w: %s on store %s", connector.ErrIndexExists, spec.Name, s.name)
		}
	}
	if err := connector.ValidateUnique(s.sd.snapshotRecords(), spec); err != nil {
		return err
	}
	s.sd.indexes = append(s.sd.indexes, spec)
	return nil
}

func (s *storeTx) DeleteIndex(name string) error {
	for i, ix := range s.sd.indexes {
		if ix.Name == name {
			s.sd.indexes = append(s.sd.indexes[:i], s.sd.indexes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s on store %s", connector.ErrIndexMissing, name, s.name)
}

func (s *storeTx) Indexes() ([]connector.IndexSpec, error) {
	out := make([]connector.IndexSpec, len(s.sd.indexes))
	copy(out, s.sd.indexes)
	return out, nil
}

func (s *storeTx) ScanAll() ([]connector.Record, error) {
	return s.sd.snapshotRecords(), nil
}

func (s *storeTx) PutAll(records []connector.Record) error {
	staged := make([]connector.Record, 0, len(records))
	stagedKeys := make([]string, 0, len(records))
	for _, r := range records {
		rec := connector.CloneRecord(r)
		key, found, err := connector.KeyFor(rec, s.sd.opts)
		if err != nil {
			return err
		}
		switch {
		case found:
			if s.sd.opts.AutoIncrement {
				s.sd.seq = connector.AdvanceSeq(s.sd.seq, key)
			}
		case !s.sd.opts.AutoIncrement:
			return fmt.Errorf("%w: store %s has no key generator", connector.ErrNoKey, s.name)
		default:
			s.sd.seq++
			if s.sd.opts.KeyPath != "" {
				if err := connector.InjectKey(rec, s.sd.opts, s.sd.seq); err != nil {
					return err
				}
			}
			key = strconv.FormatInt(s.sd.seq, 10)
		}
		staged = append(staged, rec)
		stagedKeys = append(stagedKeys, key)
	}
	// validate unique indexes against the post-put record set
	final := connector.PreviewMerge(s.sd.keys, s.sd.recs, stagedKeys, staged)
	for _, ix := range s.sd.indexes {
		if err := connector.ValidateUnique(final, ix); err != nil {
			return err
		}
	}
	for i, key := range stagedKeys {
		if _, exists := s.sd.recs[key]; !exists {
			s.sd.keys = append(s.sd.keys, key)
		}
		s.sd.recs[key] = staged[i]
	}
	return nil
}

func (s *storeTx) Clear() error {
	s.sd.keys = nil
	s.sd.recs = map[string]connector.Record{}
	return nil
}

func (sd *storeData) snapshotRecords() []connector.Record {
	out := make([]connector.Record, 0, len(sd.keys))
	for _, k := range sd.keys {
		out = append(out, connector.CloneRecord(sd.recs[k]))
	}
	return out
}

func (d *database) clone() *database {
	out := newDatabase()
	out.version = d.version
	out.applied = append([]int(nil), d.applied...)
	out.order = append([]string(nil), d.order...)
	for name, sd := range d.stores {
		cp := &storeData{
			opts:    sd.opts,
			indexes: append([]connector.IndexSpec(nil), sd.indexes...),
			keys:    append([]string(nil), sd.keys...),
			recs:    make(map[string]connector.Record, len(sd.recs)),
			seq:     sd.seq,
		}
		for k, r := range sd.recs {
			cp.recs[k] = connector.CloneRecord(r)
		}
		out.stores[name] = cp
	}
	return out
}
