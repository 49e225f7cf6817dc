package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/particleview/internal/config"
)

func TestLoadConfig_MissingDefaultFile(t *testing.T) {
	// Tests run from cmd/particleview, where the default path does not exist.
	cfg, err := loadConfig(config.DefaultConfigPath, config.EmptyViewerConfig())
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.GetAPIURL())
	assert.Equal(t, ":5000", cfg.GetListen())
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.json"), config.EmptyViewerConfig())
	assert.Error(t, err)
}

func TestLoadConfig_Layering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_url":"http://sim:9000","fps":12}`), 0o644))

	listen := ":7000"
	overrides := config.EmptyViewerConfig()
	overrides.Listen = &listen

	cfg, err := loadConfig(path, overrides)
	require.NoError(t, err)
	assert.Equal(t, "http://sim:9000", cfg.GetAPIURL())
	assert.Equal(t, 12, cfg.GetFPS())
	assert.Equal(t, ":7000", cfg.GetListen())
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	bad := "ftp://sim"
	overrides := config.EmptyViewerConfig()
	overrides.APIURL = &bad

	_, err := loadConfig(path, overrides)
	assert.Error(t, err)
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, config.DefaultConfigPath, *configPath)
	assert.False(t, *noRecord)
	assert.True(t, *watchConfig)

	// Nothing was set on the command line.
	o := flagOverrides()
	assert.Nil(t, o.APIURL)
	assert.Nil(t, o.Listen)
}
