package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loykin/kvmigrate"
	"github.com/loykin/kvmigrate/cmd/kvmigrate/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var UpCmd = &cobra.Command{
	Use:   "up",
	Short: "Open the database and apply pending migrations up to the target version",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		configPath := v.GetString("config")

		var doc config.ConfigDoc
		if err := doc.Load(configPath); err != nil {
			return err
		}
		doc.ApplyLogging()

		dir := strings.TrimSpace(doc.MigrateDir)
		if dir == "" {
			dir = filepath.Dir(configPath)
		}
		migrations, err := kvmigrate.LoadMigrationsFromDir(dir)
		if err != nil {
			return err
		}

		target := v.GetInt("to")
		if target == 0 {
			target = doc.Database.Version
		}
		if target == 0 && len(migrations) > 0 {
			target = migrations[len(migrations)-1].Version
		}

		eng, err := doc.ToEngineConfig().Connect()
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		conn, err := kvmigrate.Open(context.Background(), doc.Database.Name, target, migrations, eng)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()

		fmt.Printf("database %q open at version %d\n", conn.Name(), conn.Version())
		return nil
	},
}
