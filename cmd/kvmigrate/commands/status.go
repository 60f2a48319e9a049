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

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored version and the applied migration versions",
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

		eng, err := doc.ToEngineConfig().Connect()
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		db := kvmigrate.New(doc.Database.Name, doc.Database.Version, migrations, eng)
		stored, applied, err := db.AppliedVersions(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("database: %s\n", doc.Database.Name)
		fmt.Printf("stored version: %d\n", stored)
		fmt.Printf("declared migrations: %d\n", len(migrations))
		if len(applied) == 0 {
			fmt.Println("applied versions: none")
			return nil
		}
		list := make([]string, 0, len(applied))
		for _, a := range applied {
			list = append(list, fmt.Sprintf("%d", a))
		}
		fmt.Printf("applied versions: %s\n", strings.Join(list, ", "))
		return nil
	},
}
