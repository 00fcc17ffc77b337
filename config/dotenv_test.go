package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv_ConfigDir(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("XANCRYPT_TEST_DOTENV=from-file\nXANCRYPT_TEST_PRESET=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("XANCRYPT_TEST_PRESET", "from-env")
	t.Setenv("XANCRYPT_TEST_DOTENV", "")
	os.Unsetenv("XANCRYPT_TEST_DOTENV")

	loaded, err := LoadDotEnv("", filepath.Join(dir, "xancrypt.yaml"))
	if err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if len(loaded) == 0 || loaded[0] != envPath {
		t.Errorf("loaded = %v, want %s first", loaded, envPath)
	}
	if got := os.Getenv("XANCRYPT_TEST_DOTENV"); got != "from-file" {
		t.Errorf("XANCRYPT_TEST_DOTENV = %q, want from-file", got)
	}
	if got := os.Getenv("XANCRYPT_TEST_PRESET"); got != "from-env" {
		t.Errorf("existing variable overwritten: %q", got)
	}
}

func TestLoadDotEnv_ExplicitMissing(t *testing.T) {
	if _, err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), ""); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}
