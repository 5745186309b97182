package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fldc/twitch-indicator/internal/platform/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "twitch-indicator "), out)
}

func TestConfigPathCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "path", "--config", path)

	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestConfigExportImport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "config.yaml")
	exported := filepath.Join(dir, "export.yaml")
	dst := filepath.Join(dir, "other.yaml")

	cfg := config.Default()
	cfg.Twitch.RefreshIntervalMinutes = 7
	cfg.Twitch.AccessToken = "secret-token"
	cfg.Twitch.ExpiresAt = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	require.NoError(t, config.WriteFile(src, cfg))

	_, err := execute(t, "config", "export", exported, "-c", src)
	require.NoError(t, err)

	out, err := execute(t, "config", "import", exported, "-c", dst)
	require.NoError(t, err)
	assert.Contains(t, out, dst)

	imported, err := config.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, 7, imported.Twitch.RefreshIntervalMinutes)
	assert.Empty(t, imported.Twitch.AccessToken)
}

func TestConfigExportRequiresArgument(t *testing.T) {
	_, err := execute(t, "config", "export")
	assert.Error(t, err)
}
