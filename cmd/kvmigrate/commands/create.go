package commands

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/kvmigrate/cmd/kvmigrate/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const migrationTemplate = `# Structural schema delta for one version.
# Record mappers cannot be expressed here; updates remap through identity.
create_stores:
  - name: example
    key_path: id
    auto_increment: true
    indexes:
      - name: byName
        property: name
        unique: false
# delete_stores:
#   - legacy
# update_stores:
#   - from: example
#     to:
#       name: example
#       key_path: id
#       indexes: []
`

var CreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new migration file with the next free version number",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		configPath := v.GetString("config")

		dir := ""
		if strings.TrimSpace(configPath) != "" {
			var doc config.ConfigDoc
			if err := doc.Load(configPath); err != nil {
				log.Printf("warning: failed to load config: %v", err)
			} else if strings.TrimSpace(doc.MigrateDir) != "" {
				dir = doc.MigrateDir
			} else {
				dir = filepath.Dir(configPath)
			}
		}
		if strings.TrimSpace(dir) == "" {
			dir = "./migrations"
		}

		name := "migration"
		if len(args) > 0 {
			name = args[0]
		}

		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
		next, err := nextVersion(dir)
		if err != nil {
			return err
		}
		p := filepath.Join(dir, fmt.Sprintf("%03d_%s.yaml", next, name))
		if err := os.WriteFile(p, []byte(migrationTemplate), 0o600); err != nil {
			return err
		}
		fmt.Println(p)
		return nil
	},
}

func nextVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(e.Name(), "%d_", &idx); err == nil && idx > max {
			max = idx
		}
	}
	return max + 1, nil
}
