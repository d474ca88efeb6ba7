package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPopulatesStruct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: widget\ncount: 3\n"), 0o644))

	var out struct {
		Name  string `yaml:"name"`
		Count int    `yaml:"count"`
	}
	require.NoError(t, Load(path, &out))
	assert.Equal(t, "widget", out.Name)
	assert.Equal(t, 3, out.Count)
}

func TestLoadMissingFileReturnsNotExist(t *testing.T) {
	var out struct{}
	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &out)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err), "a missing config file should surface as os.IsNotExist")
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid\n"), 0o644))

	var out struct{}
	err := Load(path, &out)
	assert.Error(t, err)
}
