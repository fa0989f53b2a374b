package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	userDir := filepath.Join(home, ".config", "convsim")

	tests := []struct {
		name    string
		path    string
		allowed bool
	}{
		{"user config", filepath.Join(userDir, "config.yaml"), true},
		{"user subdir", filepath.Join(userDir, "ci", "config.yaml"), true},
		{"not yet created", filepath.Join(userDir, "nonexistent.yaml"), true},
		{"system config", "/etc/convsim/config.yaml", true},
		{"system subdir", "/etc/convsim/production/config.yaml", true},
		{"dot-dot escape", "/etc/convsim/../passwd", false},
		{"relative escape", "~/.config/convsim/../../../../etc/passwd", false},
		{"sibling prefix", "/etc/convsim-evil/config.yaml", false},
		{"system file", "/etc/passwd", false},
		{"tmp", "/tmp/config.yaml", false},
		{"other app dir", "/var/lib/convsim/config.yaml", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateConfigPath_SymlinkOutOfAllowedDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	userDir := filepath.Join(home, ".config", "convsim")
	require.NoError(t, os.MkdirAll(userDir, 0700))

	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server:\n  port: 1\n"), 0600))
	link := filepath.Join(userDir, "config.yaml")
	require.NoError(t, os.Symlink(outside, link))

	assert.Error(t, validateConfigPath(link))
}
