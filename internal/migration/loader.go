package migration

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/loykin/kvmigrate/internal/schema"
	"gopkg.in/yaml.v3"
)

// Declarative migration files carry structural deltas only; record mappers
// cannot be expressed in YAML, so updates loaded from files remap records
// through the identity mapper.

var versionFileRegex = regexp.MustCompile(`^(\d+)_.*\.(ya?ml)$`)

type vfile struct {
	index int
	name  string
	path  string
}

type indexDoc struct {
	Name     string `yaml:"name"`
	Property string `yaml:"property"`
	Unique   bool   `yaml:"unique"`
}

type storeDoc struct {
	Name          string     `yaml:"name"`
	KeyPath       string     `yaml:"key_path"`
	AutoIncrement bool       `yaml:"auto_increment"`
	Indexes       []indexDoc `yaml:"indexes"`
}

type updateDoc struct {
	From string   `yaml:"from"`
	To   storeDoc `yaml:"to"`
}

type migrationDoc struct {
	CreateStores []storeDoc  `yaml:"create_stores"`
	DeleteStores []string    `yaml:"delete_stores"`
	UpdateStores []updateDoc `yaml:"update_stores"`
}

func (d storeDoc) config() schema.StoreConfig {
	b := schema.NewStore().
		SetName(d.Name).
		SetKeyPath(d.KeyPath).
		SetAutoIncrement(d.AutoIncrement)
	for _, ix := range d.Indexes {
		b.CreateIndex().
			SetName(ix.Name).
			SetProperty(ix.Property).
			SetUnique(ix.Unique).
			End()
	}
	return b.Config()
}

// LoadFromDir reads every versioned migration file in dir (named
// NNN_description.yaml) and returns the migrations sorted ascending by
// version.
func LoadFromDir(dir string) ([]*VersionMigration, error) {
	files, err := listMigrationFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*VersionMigration, 0, len(files))
	for _, f := range files {
		m, err := loadMigrationFromFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f.name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func listMigrationFiles(dir string) ([]vfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []vfile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		m := versionFileRegex.FindStringSubmatch(name)
		if len(m) == 0 {
			continue
		}
		var idx int
		_, err := fmt.Sscanf(m[1], "%d", &idx)
		if err != nil {
			continue
		}
		files = append(files, vfile{index: idx, name: name, path: filepath.Join(dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
	return files, nil
}

func loadMigrationFromFile(f vfile) (*VersionMigration, error) {
	clean := filepath.Clean(f.path)
	// #nosec G304 -- path comes from controlled directory listing of migration files
	r, err := os.Open(clean)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return decodeMigrationYAML(r, f.index)
}

func decodeMigrationYAML(r io.Reader, version int) (*VersionMigration, error) {
	dec := yaml.NewDecoder(r)
	var doc migrationDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	m := NewVersionMigration(version)
	for _, sd := range doc.CreateStores {
		m.AddStore(sd.config())
	}
	for _, name := range doc.DeleteStores {
		if err := m.DeleteStore(name); err != nil {
			return nil, err
		}
	}
	for _, ud := range doc.UpdateStores {
		if err := m.UpdateStore(ud.From, ud.To.config(), nil); err != nil {
			return nil, err
		}
	}
	return m, nil
}
