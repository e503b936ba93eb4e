package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0.0.0.0", cfg.Listen)
	assert.Equal(t, 11525, cfg.Port)
	assert.Equal(t, "4.1", cfg.RequiredVersion)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vboxwrapper.yml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen: 127.0.0.1\nport: 11526\nrequired_version: \"4.3\"\nno_vbox_checks: true\nlog_level: debug\n",
	), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Listen)
	assert.Equal(t, 11526, cfg.Port)
	assert.Equal(t, "4.3", cfg.RequiredVersion)
	assert.True(t, cfg.NoVBoxChecks)
	assert.Equal(t, "debug", cfg.LogLevel)

	// untouched keys keep their defaults
	assert.Equal(t, os.TempDir(), cfg.Workdir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not a number\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "defaults pass",
			mutate: func(c *Config) {},
		},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "empty listen",
			mutate:  func(c *Config) { c.Listen = "" },
			wantErr: true,
		},
		{
			name:    "workdir not a directory",
			mutate:  func(c *Config) { c.Workdir = "/definitely/not/a/dir" },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAddr(t *testing.T) {
	cfg := Config{Listen: "127.0.0.1", Port: 11525}
	assert.Equal(t, "127.0.0.1:11525", cfg.Addr())
}
