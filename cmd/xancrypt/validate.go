package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xancrypt/xancrypt/bootstrap"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the Xancrypt configuration.

Checks:
  - YAML syntax is valid (when a config file exists)
  - Values are in range after environment overrides
  - Storage is reachable and migrated (optional)

Examples:
  xancrypt validate
  xancrypt validate --config /etc/xancrypt/config.yaml --check-storage`,
	RunE: runValidate,
}

var validateCheckStorage bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckStorage, "check-storage", false, "connect to storage and run migrations")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err == nil {
		fmt.Printf("Validating %s...\n\n", cfgFile)
	} else {
		fmt.Printf("No %s found, validating environment...\n\n", cfgFile)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config valid\n", checkMark)

	fmt.Printf("  %s Listen: %s\n", checkMark, cfg.Server.Addr())
	fmt.Printf("  %s Limit: %d files per %s\n", checkMark, cfg.Limits.MaxFiles, cfg.Limits.Window)
	fmt.Printf("  %s Storage: %s\n", checkMark, cfg.Storage.Driver)
	fmt.Printf("  %s Archives: %s (kept %s)\n", checkMark, cfg.Conversion.OutputDir, cfg.Conversion.Retention)
	if cfg.Admin.TokenHash == "" {
		fmt.Printf("  - Admin API disabled (admin.token_hash not set)\n")
	} else {
		fmt.Printf("  %s Admin API enabled\n", checkMark)
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Printf("  - No jwt secret: bearer tokens expire on restart\n")
	}

	if validateCheckStorage {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		stores, err := bootstrap.OpenStores(ctx, cfg.Storage, zerolog.Nop())
		if err == nil {
			err = stores.Ledger.Ping(ctx)
			stores.Close()
		}
		if err != nil {
			fmt.Printf("  %s Storage reachable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Storage reachable\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}
