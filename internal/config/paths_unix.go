//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"obumon.yaml",
		filepath.Join(home, ".obumon", "config.yaml"),
		"/etc/obumon/obumon.yaml",
	}
}
