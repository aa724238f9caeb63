// Package version holds build-time version metadata.
package version

import "runtime"

var (
	Version   = "dev"
	Commit    = "none"
	Date      = "unknown"
	GoVersion = ""
)

// Go returns the toolchain version the binary was built with.
func Go() string {
	if GoVersion != "" {
		return GoVersion
	}
	return runtime.Version()
}
