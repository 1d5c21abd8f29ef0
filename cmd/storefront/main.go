// Command storefront runs the Sailfish Mobile storefront API and manages its
// database schema.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sailfish-mobile/storefront/internal/config"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "storefront",
		Short:   "Sailfish Mobile storefront",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (overrides "+config.ConfigFileEnv+")")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig honours --config by exporting it before the regular load, so the
// environment still wins over the file.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		if err := os.Setenv(config.ConfigFileEnv, configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
