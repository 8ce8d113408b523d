package net

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, smallConfig().Validate())

	h, w, err := DefaultConfig().featureMap()
	require.NoError(t, err)
	assert.Equal(t, 4, h)
	assert.Equal(t, 4, w)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero channels", func(c *Config) { c.InputDim[0] = 0 }},
		{"zero filters", func(c *Config) { c.Conv[2].FilterNum = 0 }},
		{"negative pad", func(c *Config) { c.Conv[0].Pad = -1 }},
		{"zero stride", func(c *Config) { c.Conv[5].Stride = 0 }},
		{"zero hidden", func(c *Config) { c.HiddenSize = 0 }},
		{"zero output", func(c *Config) { c.OutputSize = 0 }},
		{"zero pool", func(c *Config) { c.PoolSize = 0 }},
		{"dropout one", func(c *Config) { c.DropoutRatio = 1 }},
		{"negative dropout", func(c *Config) { c.DropoutRatio = -0.1 }},
		{"feature size", func(c *Config) { c.FeatureSize = 7 }},
		{"collapsing input", func(c *Config) { c.InputDim = [3]int{1, 2, 2} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c := smallConfig()
	require.NoError(t, c.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hidden_size": 100, "seed": 3}`), 0o644))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	want := DefaultConfig()
	want.HiddenSize = 100
	want.Seed = 3
	assert.Equal(t, want, c)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
