package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "word", cfg.Index.Mode)
	assert.True(t, cfg.Index.EnableWatcher)
	assert.Equal(t, int64(DefaultMaxFileSize), cfg.Index.MaxFileSize)
	assert.Equal(t, DefaultWorkers, cfg.Index.Workers)
	assert.Contains(t, cfg.Exclude, ".git/**")
}

func TestLoadMissingDefaultFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultConfigFile), false)
	require.NoError(t, err)
	assert.Equal(t, "word", cfg.Index.Mode)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), true)
	assert.Error(t, err)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`
exclude = ["vendor/**"]

[project]
root = "/tmp/somewhere"

[index]
mode = "trigram"
workers = 2
`), 0o644))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "trigram", cfg.Index.Mode)
	assert.Equal(t, 2, cfg.Index.Workers)
	assert.Equal(t, "/tmp/somewhere", cfg.Project.Root)
	assert.Equal(t, []string{"vendor/**"}, cfg.Exclude)
	assert.Equal(t, int64(DefaultMaxFileSize), cfg.Index.MaxFileSize, "unset fields keep defaults")
}

func TestLoadRejectsBadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not { toml"), 0o644))

	_, err := Load(path, true)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ok := func() *Config {
		cfg := Default()
		cfg.Project.Root = t.TempDir()
		return cfg
	}

	cfg := ok()
	require.NoError(t, cfg.Validate())
	assert.True(t, filepath.IsAbs(cfg.Project.Root))

	cfg = ok()
	cfg.Project.Root = ""
	assert.Error(t, cfg.Validate())

	cfg = ok()
	cfg.Index.Mode = "semantic"
	assert.Error(t, cfg.Validate())

	cfg = ok()
	cfg.Index.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = ok()
	cfg.Index.MaxFileSize = -1
	assert.Error(t, cfg.Validate())

	cfg = ok()
	cfg.Exclude = []string{"[unclosed"}
	assert.Error(t, cfg.Validate())
}

func TestExcluded(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.Excluded(".git", true), "excluded directory itself")
	assert.True(t, cfg.Excluded(filepath.Join(".git", "HEAD"), false))
	assert.True(t, cfg.Excluded(filepath.Join("node_modules", "pkg", "index.js"), false))
	assert.False(t, cfg.Excluded("src", true))
	assert.False(t, cfg.Excluded(filepath.Join("src", "main.go"), false))

	cfg.Exclude = append(cfg.Exclude, "**/*.log")
	assert.True(t, cfg.Excluded(filepath.Join("deep", "nested", "x.log"), false))
}
