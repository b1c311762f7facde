package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-kiosk/config"
	"attendance-kiosk/internal/db"
	"attendance-kiosk/internal/identitycache"
	"attendance-kiosk/internal/logging"
	"attendance-kiosk/internal/store"
)

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "kiosk.db")
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("database:\n  driver: sqlite\n  dsn: %q\nidentity_cache:\n  timezone: UTC\nlog:\n  level: error\n", dsn)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dsn
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestCacheCommands(t *testing.T) {
	path, dsn := writeTestConfig(t)
	ctx := context.Background()

	gdb, err := db.Init(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, logging.Discard())
	require.NoError(t, err)
	s := store.NewGormStore(gdb)
	require.NoError(t, s.SaveBlob(ctx, identitycache.KeyPrefix+"2001-01-01", []byte("{}")))

	out := runCLI(t, "--config", path, "cache", "cleanup")
	assert.Contains(t, out, "removed 1 old identity caches")

	out = runCLI(t, "--config", path, "cache", "stats")
	assert.Contains(t, out, "entries:        0 (0 fresh, 0 expired)")

	out = runCLI(t, "--config", path, "cache", "clear")
	assert.Contains(t, out, "identity cache cleared")
}

func TestCacheCommand_BadConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "cache", "stats"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
