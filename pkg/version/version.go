package version

import (
	_ "embed"
)

//go:embed VERSION
var Version string

// Get returns the embedded release version.
func Get() string {
	return Version
}
