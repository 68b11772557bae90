package buildinfo_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/everwalk/internal/buildinfo"
)

func TestSummary(t *testing.T) {
	c := qt.New(t)

	c.Patch(&buildinfo.Version, "1.2.0")
	c.Patch(&buildinfo.GitCommit, "abc123")
	c.Patch(&buildinfo.GitBranch, "main")
	c.Patch(&buildinfo.BuildDate, "2026-10-01")

	c.Assert(buildinfo.Summary(), qt.Equals, "everwalk 1.2.0 (commit abc123, branch main, built 2026-10-01)")
}
