// Package version holds build version information.
package version

import "fmt"

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a human-readable version string.
func Info() string {
	return fmt.Sprintf("antigravity-quota-hub %s (commit %s, built %s)", Version, Commit, Date)
}
