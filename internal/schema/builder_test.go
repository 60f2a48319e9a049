package schema

import "testing"

func TestStoreBuilder_FluentChain(t *testing.T) {
	cfg := NewStore().
		SetName("towers").
		SetKeyPath("id").
		SetAutoIncrement(true).
		CreateIndex().
		SetName("byArea").
		SetProperty("area").
		SetUnique(false).
		End().
		Config()

	if cfg.Name != "towers" || cfg.PrimaryKeyPath != "id" || !cfg.AutoIncrement {
		t.Fatalf("unexpected store config: %+v", cfg)
	}
	if len(cfg.Indexes) != 1 {
		t.Fatalf("expected 1 index, got %d", len(cfg.Indexes))
	}
	ix := cfg.Indexes[0]
	if ix.Name != "byArea" || ix.SourceProperty != "area" || ix.Unique {
		t.Fatalf("unexpected index config: %+v", ix)
	}
}

func TestStoreBuilder_IndexWithoutEnd(t *testing.T) {
	// the index is registered at CreateIndex; End is navigation only
	b := NewStore().SetName("s")
	b.CreateIndex().SetName("i1").SetProperty("p1")
	cfg := b.Config()
	if len(cfg.Indexes) != 1 || cfg.Indexes[0].Name != "i1" {
		t.Fatalf("expected index i1 registered, got %+v", cfg.Indexes)
	}
}

func TestStoreBuilder_MultipleIndexesInOrder(t *testing.T) {
	b := NewStore().SetName("s")
	b.CreateIndex().SetName("a").SetProperty("pa").End().
		CreateIndex().SetName("b").SetProperty("pb").SetUnique(true)
	cfg := b.Config()
	if len(cfg.Indexes) != 2 {
		t.Fatalf("expected 2 indexes, got %d", len(cfg.Indexes))
	}
	if cfg.Indexes[0].Name != "a" || cfg.Indexes[1].Name != "b" || !cfg.Indexes[1].Unique {
		t.Fatalf("indexes out of declared order: %+v", cfg.Indexes)
	}
}

func TestStoreBuilder_ConfigSnapshots(t *testing.T) {
	b := NewStore().SetName("first")
	cfg1 := b.Config()
	b.SetName("second")
	b.CreateIndex().SetName("late").SetProperty("p")
	if cfg1.Name != "first" || len(cfg1.Indexes) != 0 {
		t.Fatalf("earlier snapshot mutated: %+v", cfg1)
	}
	cfg2 := b.Config()
	if cfg2.Name != "second" || len(cfg2.Indexes) != 1 {
		t.Fatalf("unexpected second snapshot: %+v", cfg2)
	}
}

func TestStoreConfig_Validate(t *testing.T) {
	if err := (StoreConfig{}).Validate(); err == nil {
		t.Fatalf("expected error for unnamed store")
	}
	dup := StoreConfig{Name: "s", Indexes: []IndexConfig{
		{Name: "i", SourceProperty: "a"},
		{Name: "i", SourceProperty: "b"},
	}}
	if err := dup.Validate(); err == nil {
		t.Fatalf("expected error for duplicate index names")
	}
	ok := StoreConfig{Name: "s", Indexes: []IndexConfig{
		{Name: "i1", SourceProperty: "a"},
		{Name: "i2", SourceProperty: "a"},
	}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
