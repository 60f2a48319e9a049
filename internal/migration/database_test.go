package migration

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/loykin/kvmigrate/internal/engine/connector"
	"github.com/loykin/kvmigrate/internal/engine/memory"
	"github.com/loykin/kvmigrate/internal/schema"
)

func mustOpen(t *testing.T, d *Database) *Connection {
	t.Helper()
	conn, err := d.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return conn
}

// v1 creates store A keyed by id with one byValue index.
func v1CreateA() *VersionMigration {
	m := NewVersionMigration(1)
	m.CreateStore().
		SetName("A").
		SetKeyPath("id").
		CreateIndex().SetName("byValue").SetProperty("v").SetUnique(false).End()
	return m
}

func seedA(t *testing.T, eng connector.Engine, records ...Record) {
	t.Helper()
	conn := mustOpen(t, New("db", 1, []*VersionMigration{v1CreateA()}, eng))
	defer func() { _ = conn.Close() }()
	tx, err := conn.conn.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin seed tx: %v", err)
	}
	st, err := tx.Store("A")
	if err != nil {
		t.Fatalf("store A: %v", err)
	}
	if err := st.PutAll(records); err != nil {
		t.Fatalf("seed put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}
}

func TestOpen_FreshDatabaseCreatesStores(t *testing.T) {
	eng := memory.New()
	conn := mustOpen(t, New("db", 1, []*VersionMigration{v1CreateA()}, eng))
	defer func() { _ = conn.Close() }()

	stores, err := conn.Stores()
	if err != nil || !reflect.DeepEqual(stores, []string{"A"}) {
		t.Fatalf("unexpected stores %v err=%v", stores, err)
	}
	if conn.Version() != 1 {
		t.Fatalf("expected version 1, got %d", conn.Version())
	}
}

func TestOpen_NoOpWhenAtTarget(t *testing.T) {
	eng := memory.New()
	mustOpen(t, New("db", 1, []*VersionMigration{v1CreateA()}, eng))

	mapperCalls := 0
	m2 := NewVersionMigration(1)
	// a migration list whose only entry is already applied: the mapper must
	// never run on a no-op open
	_ = m2.UpdateStore("A", schema.StoreConfig{Name: "A", PrimaryKeyPath: "id"}, func(r Record) (Record, error) {
		mapperCalls++
		return r, nil
	})
	conn := mustOpen(t, New("db", 1, []*VersionMigration{m2}, eng))
	defer func() { _ = conn.Close() }()
	if mapperCalls != 0 {
		t.Fatalf("no-op open invoked the mapper %d times", mapperCalls)
	}
}

func TestOpen_Downgrade(t *testing.T) {
	eng := memory.New()
	mustOpen(t, New("db", 2, []*VersionMigration{v1CreateA(), NewVersionMigration(2)}, eng))

	_, err := New("db", 1, []*VersionMigration{v1CreateA()}, eng).Open(context.Background())
	if !errors.Is(err, ErrDowngradeUnsupported) {
		t.Fatalf("expected ErrDowngradeUnsupported, got %v", err)
	}
}

func TestOpen_UpdateStoreMapsRecords(t *testing.T) {
	eng := memory.New()
	seedA(t, eng, Record{"id": float64(1), "v": "x"})

	m2 := NewVersionMigration(2)
	target := schema.StoreConfig{Name: "A", PrimaryKeyPath: "id"}
	_ = m2.UpdateStore("A", target, func(r Record) (Record, error) {
		return Record{"id": r["id"], "value": strings.ToUpper(r["v"].(string))}, nil
	})

	conn := mustOpen(t, New("db", 2, []*VersionMigration{v1CreateA(), m2}, eng))
	defer func() { _ = conn.Close() }()

	recs, err := conn.ScanAll("A")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []Record{{"id": float64(1), "value": "X"}}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestOpen_UpdateStoreRename(t *testing.T) {
	eng := memory.New()
	seedA(t, eng, Record{"id": float64(1), "v": "x"}, Record{"id": float64(2), "v": "y"})

	m2 := NewVersionMigration(2)
	target := schema.StoreConfig{Name: "B", PrimaryKeyPath: "id"}
	_ = m2.UpdateStore("A", target, nil)

	conn := mustOpen(t, New("db", 2, []*VersionMigration{v1CreateA(), m2}, eng))
	defer func() { _ = conn.Close() }()

	stores, _ := conn.Stores()
	if !reflect.DeepEqual(stores, []string{"B"}) {
		t.Fatalf("expected only B, got %v", stores)
	}
	recs, err := conn.ScanAll("B")
	if err != nil || len(recs) != 2 {
		t.Fatalf("unexpected B contents %v err=%v", recs, err)
	}
	if _, err := conn.ScanAll("A"); !errors.Is(err, ErrMissingStore) {
		t.Fatalf("expected ErrMissingStore for A, got %v", err)
	}
}

func TestOpen_IdentityUpdatePreservesRecords(t *testing.T) {
	eng := memory.New()
	seedA(t, eng,
		Record{"id": float64(1), "v": "x"},
		Record{"id": float64(2), "v": "y"},
	)
	before := scanStore(t, eng, "A")

	m2 := NewVersionMigration(2)
	target := schema.StoreConfig{Name: "A", PrimaryKeyPath: "id", Indexes: []schema.IndexConfig{
		{Name: "byValue", SourceProperty: "v"},
	}}
	_ = m2.UpdateStore("A", target, IdentityMapper)

	conn := mustOpen(t, New("db", 2, []*VersionMigration{v1CreateA(), m2}, eng))
	defer func() { _ = conn.Close() }()

	after, err := conn.ScanAll("A")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("identity update changed records:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestOpen_DeleteStore(t *testing.T) {
	eng := memory.New()
	m1 := NewVersionMigration(1)
	m1.CreateStore().SetName("store1").SetKeyPath("id")
	m1.CreateStore().SetName("store2").SetKeyPath("id")
	m2 := NewVersionMigration(2)
	_ = m2.DeleteStore("store1")

	conn := mustOpen(t, New("db", 2, []*VersionMigration{m1, m2}, eng))
	defer func() { _ = conn.Close() }()

	stores, _ := conn.Stores()
	if !reflect.DeepEqual(stores, []string{"store2"}) {
		t.Fatalf("expected exactly store2, got %v", stores)
	}
	if _, err := conn.ScanAll("store1"); !errors.Is(err, ErrMissingStore) {
		t.Fatalf("expected ErrMissingStore, got %v", err)
	}
}

func TestOpen_DuplicateStoreNameAtApply(t *testing.T) {
	eng := memory.New()
	mustOpen(t, New("db", 1, []*VersionMigration{v1CreateA()}, eng))

	m2 := NewVersionMigration(2)
	m2.CreateStore().SetName("A").SetKeyPath("id")
	_, err := New("db", 2, []*VersionMigration{v1CreateA(), m2}, eng).Open(context.Background())
	if !errors.Is(err, ErrDuplicateStoreName) {
		t.Fatalf("expected ErrDuplicateStoreName, got %v", err)
	}
}

func TestOpen_MissingStoreOnDelete(t *testing.T) {
	eng := memory.New()
	m1 := NewVersionMigration(1)
	_ = m1.DeleteStore("nope")
	_, err := New("db", 1, []*VersionMigration{m1}, eng).Open(context.Background())
	if !errors.Is(err, ErrMissingStore) {
		t.Fatalf("expected ErrMissingStore, got %v", err)
	}
}

func TestOpen_ConfigConflictBeforeAnyMutation(t *testing.T) {
	eng := memory.New()
	m1 := v1CreateA()
	m2 := NewVersionMigration(2)
	_ = m2.DeleteStore("A")
	// force the conflicting role directly to simulate a bad declaration
	m2.updated["A"] = StoreUpdate{Target: schema.StoreConfig{Name: "A"}, Mapper: IdentityMapper}
	m2.updateOrder = append(m2.updateOrder, "A")

	_, err := New("db", 2, []*VersionMigration{m1, m2}, eng).Open(context.Background())
	if !errors.Is(err, ErrConfigConflict) {
		t.Fatalf("expected ErrConfigConflict, got %v", err)
	}
	// nothing persisted: not even version 1
	conn, _ := eng.Open(context.Background(), "db", 2)
	if conn.StoredVersion() != 0 {
		t.Fatalf("conflict validation persisted version %d", conn.StoredVersion())
	}
	if names, _ := conn.StoreNames(); len(names) != 0 {
		t.Fatalf("conflict validation persisted stores %v", names)
	}
}

func TestOpen_MapperFailureRollsBackEverything(t *testing.T) {
	eng := memory.New()
	m1 := NewVersionMigration(1)
	m1.CreateStore().SetName("A").SetKeyPath("id")
	m1.CreateStore().SetName("other").SetKeyPath("id")
	conn := mustOpen(t, New("db", 1, []*VersionMigration{m1}, eng))
	_ = conn.Close()
	seedStore(t, eng, "A",
		Record{"id": float64(1), "v": "a"},
		Record{"id": float64(2), "v": "b"},
		Record{"id": float64(3), "v": "c"},
	)
	seedStore(t, eng, "other", Record{"id": float64(9), "v": "z"})

	beforeA := scanStore(t, eng, "A")
	beforeOther := scanStore(t, eng, "other")

	m2 := NewVersionMigration(2)
	calls := 0
	_ = m2.UpdateStore("A", schema.StoreConfig{Name: "A", PrimaryKeyPath: "id"}, func(r Record) (Record, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("bad record")
		}
		return r, nil
	})
	// also mutate another store in the same failed version
	m2.CreateStore().SetName("doomed").SetKeyPath("id")

	_, err := New("db", 2, []*VersionMigration{m1, m2}, eng).Open(context.Background())
	if !errors.Is(err, ErrMapper) {
		t.Fatalf("expected ErrMapper, got %v", err)
	}
	var me *Error
	if !errors.As(err, &me) || me.Version != 2 || me.Store != "A" {
		t.Fatalf("error lacks failing version/store: %+v", err)
	}

	// full rollback across all stores
	if got := scanStore(t, eng, "A"); !reflect.DeepEqual(got, beforeA) {
		t.Fatalf("store A changed after failed open:\nbefore %+v\nafter  %+v", beforeA, got)
	}
	if got := scanStore(t, eng, "other"); !reflect.DeepEqual(got, beforeOther) {
		t.Fatalf("store other changed after failed open")
	}
	c2, _ := eng.Open(context.Background(), "db", 2)
	if c2.StoredVersion() != 1 {
		t.Fatalf("version moved after failed open: %d", c2.StoredVersion())
	}
	if names, _ := c2.StoreNames(); !reflect.DeepEqual(names, []string{"A", "other"}) {
		t.Fatalf("store set changed after failed open: %v", names)
	}
}

func TestOpen_MapperPanicRollsBack(t *testing.T) {
	eng := memory.New()
	seedA(t, eng, Record{"id": float64(1), "v": "x"})

	m2 := NewVersionMigration(2)
	_ = m2.UpdateStore("A", schema.StoreConfig{Name: "A", PrimaryKeyPath: "id"}, func(r Record) (Record, error) {
		panic("mapper exploded")
	})
	_, err := New("db", 2, []*VersionMigration{v1CreateA(), m2}, eng).Open(context.Background())
	if !errors.Is(err, ErrMapper) {
		t.Fatalf("expected ErrMapper from panic, got %v", err)
	}
}

func TestOpen_SplitOpenEquivalence(t *testing.T) {
	list := func() []*VersionMigration {
		m1 := NewVersionMigration(1)
		m1.CreateStore().SetName("A").SetKeyPath("id")
		m2 := NewVersionMigration(2)
		m2.CreateStore().
			SetName("B").
			SetKeyPath("id").
			CreateIndex().SetName("byV").SetProperty("v").SetUnique(false).End()
		m3 := NewVersionMigration(3)
		_ = m3.DeleteStore("A")
		_ = m3.UpdateStore("B", schema.StoreConfig{Name: "B", PrimaryKeyPath: "id"}, nil)
		return []*VersionMigration{m1, m2, m3}
	}

	// one hop: 0 -> 3
	engOne := memory.New()
	connOne := mustOpen(t, New("db", 3, list(), engOne))
	oneStores, _ := connOne.Stores()
	_ = connOne.Close()

	// two hops: 0 -> 2 -> 3
	engTwo := memory.New()
	connMid := mustOpen(t, New("db", 2, list(), engTwo))
	_ = connMid.Close()
	connTwo := mustOpen(t, New("db", 3, list(), engTwo))
	twoStores, _ := connTwo.Stores()
	_ = connTwo.Close()

	if !reflect.DeepEqual(oneStores, twoStores) {
		t.Fatalf("split open diverged: one=%v two=%v", oneStores, twoStores)
	}
}

func TestAppliedVersions(t *testing.T) {
	eng := memory.New()
	m1 := v1CreateA()
	m2 := NewVersionMigration(2)
	_ = m2.UpdateStore("A", schema.StoreConfig{Name: "A", PrimaryKeyPath: "id"}, nil)
	db := New("db", 2, []*VersionMigration{m1, m2}, eng)
	conn := mustOpen(t, db)
	_ = conn.Close()

	stored, applied, err := db.AppliedVersions(context.Background())
	if err != nil {
		t.Fatalf("applied versions: %v", err)
	}
	if stored != 2 || !reflect.DeepEqual(applied, []int{1, 2}) {
		t.Fatalf("unexpected status stored=%d applied=%v", stored, applied)
	}
}

// seedStore writes records into an existing store outside any migration.
func seedStore(t *testing.T, eng connector.Engine, store string, records ...Record) {
	t.Helper()
	conn, err := eng.Open(context.Background(), "db", 0)
	if err != nil {
		t.Fatalf("open for seed: %v", err)
	}
	tx, err := conn.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin seed tx: %v", err)
	}
	st, err := tx.Store(store)
	if err != nil {
		t.Fatalf("seed store %s: %v", store, err)
	}
	if err := st.PutAll(records); err != nil {
		t.Fatalf("seed put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}
}

func scanStore(t *testing.T, eng connector.Engine, store string) []Record {
	t.Helper()
	conn, err := eng.Open(context.Background(), "db", 0)
	if err != nil {
		t.Fatalf("open for scan: %v", err)
	}
	recs, err := conn.ScanAll(store)
	if err != nil {
		t.Fatalf("scan %s: %v", store, err)
	}
	return recs
}
