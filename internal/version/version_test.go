package version

import (
	"runtime/debug"
	"testing"

	"github.com/fatih/color"
)

func TestCurrent_PrefersLinkerValues(t *testing.T) {
	origV, origC := Version, GitCommit
	defer func() { Version, GitCommit = origV, origC }()
	Version, GitCommit = " ", "abc"

	info := Current()
	if info.Version != "dev" || info.Commit != "abc" || info.GoVersion == "" {
		t.Errorf("Current() = %+v", info)
	}
}

func TestFromBuildInfo(t *testing.T) {
	info := Info{Date: "2026-01-02"}
	fromBuildInfo(&info, []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-10-01T00:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "GOOS", Value: "linux"},
	})
	if info.Commit != "0123456789abcdef0123" || info.Date != "2026-01-02" || !info.Modified {
		t.Errorf("info = %+v", info)
	}
	if got := info.ShortCommit(); got != "0123456789ab" {
		t.Errorf("ShortCommit = %q", got)
	}
}

func TestColored(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()
	color.NoColor = true

	for _, v := range []string{"1.2.3", "0.1.0-dev", "1.2.3-rc.1+build.123", "1.2+meta", "nightly"} {
		if got := Colored(v); got != v {
			t.Errorf("Colored(%q) = %q", v, got)
		}
	}

	color.NoColor = false
	if got := Colored("1.2.3-dev"); got == "1.2.3-dev" || got[len(got)-4:] != "-dev" {
		t.Errorf("Colored(1.2.3-dev) = %q", got)
	}
}
