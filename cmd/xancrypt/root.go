package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xancrypt/xancrypt/config"
)

var (
	// Global flags
	cfgFile string
	envFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xancrypt",
	Short: "CSS minifier and JS obfuscator with per-identity quotas",
	Long: `Xancrypt converts uploaded CSS and JavaScript into a downloadable
zip archive. Every device and signed-in user may convert a limited number
of files per rolling window.

Quick start:
  xancrypt serve            # Start the HTTP server

Operations:
  xancrypt validate         # Check configuration
  xancrypt usage show       # Inspect an identity's quota
  xancrypt usage reset      # Clear an identity's quota
  xancrypt token issue      # Sign a bearer token for a user
  xancrypt admin hash-token # Hash an admin token for admin.token_hash`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.LoadDotEnv(envFile, cfgFile)
		return err
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "xancrypt.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file")
}

// loadConfig reads the config file when present, otherwise the environment.
func loadConfig() (*config.Config, error) {
	return config.LoadWithFallback(cfgFile)
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
