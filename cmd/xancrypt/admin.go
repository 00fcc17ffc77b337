package main

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/xancrypt/xancrypt/adapters/hasher"
	"github.com/xancrypt/xancrypt/adapters/random"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin API access",
	Long: `Manage access to the /admin API.

The admin API is enabled when admin.token_hash holds a bcrypt hash.
Requests authenticate with the plaintext token in the X-Admin-Token header.

Examples:
  xancrypt admin hash-token              # prompt for a token
  xancrypt admin hash-token --generate   # create a random token`,
}

var adminHashTokenCmd = &cobra.Command{
	Use:   "hash-token",
	Short: "Hash an admin token for admin.token_hash",
	RunE:  runAdminHashToken,
}

var adminGenerate bool

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminHashTokenCmd)

	adminHashTokenCmd.Flags().BoolVar(&adminGenerate, "generate", false, "generate a random token instead of prompting")
}

func runAdminHashToken(cmd *cobra.Command, args []string) error {
	var token string
	if adminGenerate {
		t, err := random.Real{}.String(40)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		token = t
	} else {
		t, err := promptPassword("Admin token: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassword("Confirm: ")
		if err != nil {
			return err
		}
		if t != confirm {
			return errors.New("tokens do not match")
		}
		token = strings.TrimSpace(t)
	}
	if len(token) < 16 {
		return errors.New("admin token must be at least 16 characters")
	}

	hash, err := hasher.NewBcrypt(bcrypt.DefaultCost).Hash(token)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	if adminGenerate {
		fmt.Printf("Token:      %s\n", token)
	}
	fmt.Printf("Token hash: %s\n\n", hash)
	fmt.Println("Set admin.token_hash (or XANCRYPT_ADMIN_TOKEN_HASH) to the hash.")
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Print newline after password input
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return string(password), nil
}
