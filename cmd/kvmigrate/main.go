package main

import (
	"os"

	"github.com/loykin/kvmigrate/cmd/kvmigrate/commands"
	"github.com/loykin/kvmigrate/internal/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "kvmigrate",
	Short: "Apply versioned schema migrations to a keyed object store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	// Defaults
	v := viper.GetViper()
	v.SetDefault("config", "./config.yaml")
	v.SetDefault("to", 0)

	// Environment variables support: KVMIGRATE_CONFIG, KVMIGRATE_TO
	v.SetEnvPrefix("KVMIGRATE")
	v.AutomaticEnv()

	rootCmd.PersistentFlags().String("config", v.GetString("config"), "path to the config yaml")
	commands.UpCmd.Flags().Int("to", v.GetInt("to"), "target version to migrate up to (0 = highest declared)")

	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("to", commands.UpCmd.Flags().Lookup("to"))

	rootCmd.AddCommand(commands.UpCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.CreateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		common.LogError("command execution failed", err)
		os.Exit(1)
	}
}
