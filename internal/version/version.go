// Package version reports which polybind binary is running.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/fatih/color"
)

// Set through -ldflags "-X polybind/internal/version.Version=..." by
// release builds. Development builds fall back to the VCS stamp the Go
// toolchain embeds.
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildDate = ""
)

var partColors = [3]*color.Color{
	color.New(color.FgYellow, color.Bold),
	color.New(color.FgGreen, color.Bold),
	color.New(color.FgBlue, color.Bold),
}

// Info describes the running binary. Empty fields are unknown.
type Info struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
	// Modified is set when the binary was built from a dirty tree.
	Modified bool
}

// Current merges the linker-set variables with the build information of
// the binary.
func Current() Info {
	info := Info{
		Version:   strings.TrimSpace(Version),
		Commit:    strings.TrimSpace(GitCommit),
		Date:      strings.TrimSpace(BuildDate),
		GoVersion: runtime.Version(),
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fromBuildInfo(&info, bi.Settings)
	}
	return info
}

func fromBuildInfo(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

// ShortCommit is the first twelve characters of the commit hash.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}

// Colored renders v with its major, minor and patch numbers colored.
// Anything that is not a dotted triple comes back unchanged.
func Colored(v string) string {
	end := strings.IndexAny(v, "-+")
	if end < 0 {
		end = len(v)
	}
	parts := strings.Split(v[:end], ".")
	if len(parts) != len(partColors) {
		return v
	}
	for i, p := range parts {
		parts[i] = partColors[i].Sprint(p)
	}
	return strings.Join(parts, ".") + v[end:]
}
