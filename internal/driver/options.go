package driver

import (
	"fmt"
	"runtime"
	"strings"

	"polybind/internal/mono"
	"polybind/internal/poly"
	"polybind/internal/project"
)

// Mode selects the lowering applied to every unit. There is no automatic
// choice between them.
type Mode string

const (
	ModePoly Mode = "poly"
	ModeMono Mode = "mono"
	ModeBoth Mode = "both"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePoly, ModeMono, ModeBoth:
		return m, nil
	case "":
		return ModeMono, nil
	}
	return "", fmt.Errorf("unknown mode %q (want poly, mono or both)", s)
}

func (m Mode) poly() bool { return m == ModePoly || m == ModeBoth }
func (m Mode) mono() bool { return m == ModeMono || m == ModeBoth }

// Options configure a build.
type Options struct {
	Mode Mode
	// Strict runs both lowerings and the dual-compile checks whatever Mode
	// says; Mode still decides which outputs are kept.
	Strict         bool
	Address        poly.AddressPolicy
	Budget         mono.Budget
	Jobs           int
	MaxDiagnostics int
	EnableTimings  bool

	// Packages caches eligibility in memory across builds; DiskCache
	// persists it. Both may be nil.
	Packages  *PackageCache
	DiskCache *DiskCache
	Progress  ProgressSink
}

// OptionsFromConfig turns a project configuration into build options.
func OptionsFromConfig(cfg *project.Config) (Options, error) {
	if cfg == nil {
		cfg = project.DefaultConfig()
	}
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", cfg.Path, err)
	}
	addr, err := poly.ParseAddressPolicy(cfg.AddressOf)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", cfg.Path, err)
	}
	return Options{
		Mode:           mode,
		Strict:         cfg.Strict,
		Address:        addr,
		Budget:         mono.Budget{MaxDepth: cfg.Budget.MaxDepth, MaxSteps: cfg.Budget.MaxSteps},
		Jobs:           cfg.Jobs,
		MaxDiagnostics: cfg.MaxDiagnostics,
	}, nil
}

func (o Options) jobs() int {
	if o.Jobs > 0 {
		return o.Jobs
	}
	return runtime.GOMAXPROCS(0)
}
