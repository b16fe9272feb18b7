//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	local := os.Getenv("LOCALAPPDATA")
	programData := os.Getenv("ProgramData")
	return []string{
		"obumon.yaml",
		filepath.Join(local, "ObuMon", "config.yaml"),
		filepath.Join(programData, "ObuMon", "obumon.yaml"),
	}
}
