package schema

// StoreBuilder assembles a StoreConfig through chained setters. The builder
// owns every index declared through CreateIndex; the finished config is taken
// with Config, which snapshots the current state.
type StoreBuilder struct {
	cfg     StoreConfig
	indexes []*IndexBuilder
}

// NewStore starts a builder with an empty name, no key path, auto-increment
// off and no indexes.
func NewStore() *StoreBuilder {
	return &StoreBuilder{}
}

func (b *StoreBuilder) SetName(name string) *StoreBuilder {
	b.cfg.Name = name
	return b
}

func (b *StoreBuilder) SetKeyPath(path string) *StoreBuilder {
	b.cfg.PrimaryKeyPath = path
	return b
}

func (b *StoreBuilder) SetAutoIncrement(on bool) *StoreBuilder {
	b.cfg.AutoIncrement = on
	return b
}

// CreateIndex opens an index declaration scoped to this store. The index is
// registered immediately; End on the returned builder only navigates back to
// the store so chaining can continue.
func (b *StoreBuilder) CreateIndex() *IndexBuilder {
	ib := &IndexBuilder{parent: b}
	b.indexes = append(b.indexes, ib)
	return ib
}

// Config materializes the immutable StoreConfig, including every index
// declared so far in declaration order.
func (b *StoreBuilder) Config() StoreConfig {
	cfg := b.cfg.clone()
	for _, ib := range b.indexes {
		cfg.Indexes = append(cfg.Indexes, ib.cfg)
	}
	return cfg
}

// IndexBuilder assembles one IndexConfig. The parent reference is a transient
// navigation handle: the StoreBuilder owns the finished IndexConfig, never
// the reverse.
type IndexBuilder struct {
	parent *StoreBuilder
	cfg    IndexConfig
}

func (b *IndexBuilder) SetName(name string) *IndexBuilder {
	b.cfg.Name = name
	return b
}

func (b *IndexBuilder) SetProperty(property string) *IndexBuilder {
	b.cfg.SourceProperty = property
	return b
}

func (b *IndexBuilder) SetUnique(unique bool) *IndexBuilder {
	b.cfg.Unique = unique
	return b
}

// End returns control to the enclosing store builder.
func (b *IndexBuilder) End() *StoreBuilder {
	return b.parent
}
