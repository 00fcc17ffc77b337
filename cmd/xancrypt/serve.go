package main

import (
	"github.com/spf13/cobra"

	"github.com/xancrypt/xancrypt/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the Xancrypt HTTP server.

The server will:
  - Load configuration from xancrypt.yaml (or --config) when it exists
  - Apply XANCRYPT_* environment variables on top
  - Open the usage ledger (sqlite, postgres, redis or memory)
  - Serve /api/encrypt, /api/history, /admin, /metrics and /swagger

Limits and the log level are reloaded when the config file changes or the
process receives SIGHUP.

Environment variables (for container deployments):
  XANCRYPT_SERVER_PORT       - Server port (default: 8080)
  XANCRYPT_LIMITS_MAX_FILES  - Files per window (default: 5)
  XANCRYPT_LIMITS_WINDOW     - Window length (default: 7h)
  XANCRYPT_STORAGE_DRIVER    - sqlite, postgres, redis or memory
  XANCRYPT_STORAGE_DSN       - Store location
  XANCRYPT_JWT_SECRET        - Bearer token signing secret
  XANCRYPT_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  xancrypt serve
  xancrypt serve --config /etc/xancrypt/config.yaml
  XANCRYPT_STORAGE_DRIVER=redis XANCRYPT_STORAGE_DSN=redis://localhost:6379/0 xancrypt serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Version:    version,
	})
	if err != nil {
		return err
	}

	// Run blocks until SIGINT/SIGTERM
	return app.Run()
}
