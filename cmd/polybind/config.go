package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"polybind/internal/driver"
	"polybind/internal/project"
)

// loadConfig reads --config, or the nearest polybind.toml/polybind.yaml
// above the package directory, or the defaults.
func loadConfig(cmd *cobra.Command) (*project.Config, error) {
	pf := cmd.Root().PersistentFlags()
	path, err := pf.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		dir, err := readDirFlag(cmd)
		if err != nil {
			return nil, err
		}
		found, ok, err := project.FindConfig(dir)
		if err != nil {
			return nil, err
		}
		if !ok {
			return project.DefaultConfig(), nil
		}
		path = found
	}
	return project.LoadConfig(path)
}

// buildOptions turns the config into driver options and applies the
// command-line overrides that were set explicitly.
func buildOptions(cmd *cobra.Command, cfg *project.Config) (driver.Options, error) {
	fl := cmd.Flags()
	for _, err := range []error{
		override(fl.Changed, "mode", fl.GetString, &cfg.Mode),
		override(fl.Changed, "strict", fl.GetBool, &cfg.Strict),
		override(fl.Changed, "address-of", fl.GetString, &cfg.AddressOf),
		override(fl.Changed, "jobs", fl.GetInt, &cfg.Jobs),
		override(fl.Changed, "max-depth", fl.GetInt, &cfg.Budget.MaxDepth),
		override(fl.Changed, "max-steps", fl.GetInt, &cfg.Budget.MaxSteps),
		override(fl.Changed, "disk-cache", fl.GetBool, &cfg.DiskCache),
	} {
		if err != nil {
			return driver.Options{}, err
		}
	}
	pf := cmd.Root().PersistentFlags()
	n, err := pf.GetInt("max-diagnostics")
	if err != nil {
		return driver.Options{}, fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}
	if n > 0 {
		cfg.MaxDiagnostics = n
	}

	opts, err := driver.OptionsFromConfig(cfg)
	if err != nil {
		return driver.Options{}, err
	}
	if opts.EnableTimings, err = pf.GetBool("timings"); err != nil {
		return driver.Options{}, fmt.Errorf("failed to get timings flag: %w", err)
	}
	opts.Packages = driver.NewPackageCache(64)
	if cfg.DiskCache {
		dc, err := driver.OpenDiskCache("polybind")
		if err != nil {
			return driver.Options{}, fmt.Errorf("opening disk cache: %w", err)
		}
		refresh, err := fl.GetBool("refresh-cache")
		if err != nil {
			return driver.Options{}, fmt.Errorf("failed to get refresh-cache flag: %w", err)
		}
		if refresh {
			if err := dc.Clear(); err != nil {
				return driver.Options{}, err
			}
		}
		opts.DiskCache = dc
	}
	return opts, nil
}

// override copies flag name into dst when it was set on the command line.
func override[T any](changed func(string) bool, name string, get func(string) (T, error), dst *T) error {
	if !changed(name) {
		return nil
	}
	v, err := get(name)
	if err != nil {
		return fmt.Errorf("failed to get %s flag: %w", name, err)
	}
	*dst = v
	return nil
}

// addBuildFlags registers the flags that override configuration keys.
func addBuildFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("mode", "", "lowering to apply (poly|mono|both)")
	f.Bool("strict", false, "run both lowerings and the dual-compile checks")
	f.String("address-of", "", "address-of policy for bound values under the polymorphic lowering (reject|boxed)")
	f.Int("jobs", 0, "max parallel workers (0 = GOMAXPROCS)")
	f.Int("max-depth", 0, "longest chain of nested instantiations")
	f.Int("max-steps", 0, "instantiations one request may trigger")
	f.Bool("disk-cache", false, "keep eligibility verdicts in the user cache directory")
	f.Bool("refresh-cache", false, "drop the cached eligibility verdicts before building")
}

// packagePatterns prefers the command-line patterns over the config's.
func packagePatterns(args []string, cfg *project.Config) []string {
	if len(args) > 0 {
		return args
	}
	return cfg.Packages
}

func readDirFlag(cmd *cobra.Command) (string, error) {
	dir, err := cmd.Root().PersistentFlags().GetString("dir")
	if err != nil {
		return "", fmt.Errorf("failed to get dir flag: %w", err)
	}
	return dir, nil
}

// baseDir is the absolute form of the dir flag.
func baseDir(cmd *cobra.Command) (string, error) {
	dir, err := readDirFlag(cmd)
	if err != nil {
		return "", err
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs, nil
	}
	return dir, nil
}
