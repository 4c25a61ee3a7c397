package driver

import (
	"context"
	"fmt"

	"polybind/internal/host"
	"polybind/internal/trace"
)

// Load type-checks the packages matching patterns under dir and every
// package they import. It returns the program and the matched packages,
// which are the units of a build.
func Load(ctx context.Context, dir string, patterns []string) (*host.Program, []*host.Package, error) {
	ctx, span := trace.Start(ctx, trace.ScopePass, "load", dir)
	defer span.End("")

	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	prog := host.NewProgram()
	units, err := host.NewPackagesLoader(prog, dir).Load(ctx, patterns...)
	if err != nil {
		return nil, nil, err
	}
	if len(units) == 0 {
		return nil, nil, fmt.Errorf("no packages match %v in %s", patterns, dir)
	}
	span.WithExtra("packages", fmt.Sprint(len(prog.Packages())))
	return prog, units, nil
}
