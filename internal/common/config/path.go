package config

import (
	"os"
	"path/filepath"
)

// cfgPath resolves a config filename. Absolute paths are used as-is;
// relative names are tried against the working directory and its
// configs/ subdirectory before falling back to /etc/maintrack.
func cfgPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}

	if cwd, err := os.Getwd(); err == nil && cwd != "" {
		for _, candidate := range []string{
			filepath.Join(cwd, filename),
			filepath.Join(cwd, "configs", filename),
		} {
			if _, err := os.Stat(candidate); err == nil {
				if abs, err := filepath.Abs(candidate); err == nil {
					return abs
				}
			}
		}
	}

	return filepath.Join("/etc/maintrack", filename)
}
