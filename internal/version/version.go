// Package version holds build metadata injected with -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("ngconsole %s (commit %s, built %s)", Version, Commit, Date)
}
