package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenauth/internal/lib/password"
	"tokenauth/internal/storage/sqlite"
)

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()

	cfg := fmt.Sprintf(`env: local
storage:
  driver: sqlite
  path: %s
auth:
  signing_secret: migrator-test-secret-at-least-32-bytes
  bcrypt_cost: 4
revocation:
  driver: memory
`, dbPath)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestRunMigratesAndSeeds(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "auth.db")
	configPath := writeConfig(t, dbPath)

	args := []string{
		"--config", configPath,
		"--seed-username", "admin",
		"--seed-email", "admin@example.com",
		"--seed-password", "correct horse",
	}
	require.NoError(t, run(args))
	// A second run finds nothing to migrate and keeps the seeded user.
	require.NoError(t, run(args))

	s, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer s.Close()

	user, err := s.User(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", user.Email)

	hasher, err := password.New(4)
	require.NoError(t, err)
	ok, err := hasher.Verify("correct horse", user.PassHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunSeedNeedsCredentials(t *testing.T) {
	configPath := writeConfig(t, filepath.Join(t.TempDir(), "auth.db"))

	err := run([]string{"-c", configPath, "--seed-username", "admin"})
	require.Error(t, err)
}

func TestRunWithoutConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	require.Error(t, run(nil))
}

func TestRunHelp(t *testing.T) {
	require.NoError(t, run([]string{"--help"}))
}
