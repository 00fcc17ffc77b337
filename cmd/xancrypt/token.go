package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xancrypt/xancrypt/adapters/auth"
	"github.com/xancrypt/xancrypt/adapters/clock"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign a bearer token for a user",
	Long: `Sign a bearer token with the configured jwt secret.

Requests carrying the token in "Authorization: Bearer <token>" are counted
against the user's quota instead of the device's, and may use /api/history.

Examples:
  xancrypt token issue --user=user_123
  xancrypt token issue --user=user_123 --email=dev@example.com`,
	RunE: runTokenIssue,
}

var (
	tokenUserID string
	tokenEmail  string
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)

	tokenIssueCmd.Flags().StringVar(&tokenUserID, "user", "", "user ID (required)")
	tokenIssueCmd.Flags().StringVar(&tokenEmail, "email", "", "user email")
	tokenIssueCmd.MarkFlagRequired("user")
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or XANCRYPT_JWT_SECRET) must be set to issue tokens")
	}

	tokens, err := auth.NewTokenService(auth.Config{
		Secret:     cfg.Auth.JWTSecret,
		Expiration: cfg.Auth.TokenExpiry,
		Issuer:     cfg.Auth.Issuer,
		Clock:      clock.Real{},
	})
	if err != nil {
		return err
	}

	token, expires, err := tokens.GenerateToken(tokenUserID, tokenEmail)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Println(token)
	fmt.Printf("\nExpires: %s\n", expires.Format(time.RFC3339))
	return nil
}
