package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from .env files without overwriting ones
// already set. An explicit path must exist; otherwise .env next to the
// config file and in the working directory are tried, each only if present.
func LoadDotEnv(explicit, configPath string) ([]string, error) {
	if explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			return nil, fmt.Errorf("load %s: %w", explicit, err)
		}
		return []string{explicit}, nil
	}

	var candidates []string
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	candidates = append(candidates, ".env")

	var loaded []string
	seen := make(map[string]bool)
	for _, path := range candidates {
		abs, err := filepath.Abs(path)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return loaded, fmt.Errorf("load %s: %w", abs, err)
		}
		loaded = append(loaded, abs)
	}
	return loaded, nil
}
