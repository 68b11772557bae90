// Package buildinfo carries the everwalk release identity, set with
// -ldflags "-X github.com/go-ports/everwalk/internal/buildinfo.Version=...".
package buildinfo

import "fmt"

var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

// Summary is the one-line form printed by `everwalk version`.
func Summary() string {
	return fmt.Sprintf("everwalk %s (commit %s, branch %s, built %s)", Version, GitCommit, GitBranch, BuildDate)
}
