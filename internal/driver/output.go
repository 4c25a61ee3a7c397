package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"polybind/internal/mono"
)

// ManifestName is the file Write puts next to the lowered sources.
const ManifestName = "polybind.yaml"

// Manifest describes what a build wrote.
type Manifest struct {
	BuildID   string             `yaml:"build_id"`
	Units     []ManifestUnit     `yaml:"units"`
	Instances []ManifestInstance `yaml:"instances,omitempty"`
}

type ManifestUnit struct {
	Path   string   `yaml:"path"`
	Poly   []string `yaml:"poly,omitempty"`
	Mono   []string `yaml:"mono,omitempty"`
	Failed bool     `yaml:"failed,omitempty"`
}

type ManifestInstance struct {
	Key        string   `yaml:"key"`
	Path       string   `yaml:"path"`
	Deps       []string `yaml:"deps,omitempty"`
	State      []string `yaml:"state,omitempty"`
	Promotions []string `yaml:"promotions,omitempty"`
	Failed     bool     `yaml:"failed,omitempty"`
}

// Write lays the lowered sources out under dir:
//
//	poly/<unit>/      polymorphic lowering of each unit
//	mono/<unit>/      monomorphic lowering of each unit
//	<instance path>/  one directory per instantiation
//	promote/<pkg>/    aliases exporting promoted types
//
// and records them in the manifest. Failed units and instances are listed
// but not written.
func Write(dir string, res *Result) (*Manifest, error) {
	m := &Manifest{BuildID: res.BuildID.String()}
	for _, u := range res.Units {
		mu := ManifestUnit{Path: u.Unit.Path, Failed: u.Failed}
		if u.Poly != nil && !u.Poly.Failed {
			files, err := writeSources(filepath.Join(dir, "poly", filepath.FromSlash(u.Unit.Path)), u.Poly.Sources)
			if err != nil {
				return nil, err
			}
			mu.Poly = files
		}
		if u.Mono != nil && !u.Mono.Failed {
			files, err := writeSources(filepath.Join(dir, "mono", filepath.FromSlash(u.Unit.Path)), u.Mono.Sources)
			if err != nil {
				return nil, err
			}
			mu.Mono = files
		}
		m.Units = append(m.Units, mu)
	}

	promoted := make(map[string][]mono.Promotion)
	for _, inst := range res.Instances {
		mi := ManifestInstance{Key: inst.Key.String(), Path: inst.Path, State: inst.State, Failed: inst.Failed}
		for _, d := range inst.Deps {
			mi.Deps = append(mi.Deps, mono.InstancePath(d))
		}
		for _, p := range inst.Promotions {
			mi.Promotions = append(mi.Promotions, p.Package+"."+p.Alias)
			promoted[p.Package] = append(promoted[p.Package], p)
		}
		if !inst.Failed {
			if _, err := writeSources(filepath.Join(dir, filepath.FromSlash(inst.Path)), inst.Sources); err != nil {
				return nil, err
			}
		}
		m.Instances = append(m.Instances, mi)
	}
	for pkg, ps := range promoted {
		if err := writePromotions(filepath.Join(dir, "promote", filepath.FromSlash(pkg)), ps); err != nil {
			return nil, err
		}
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return m, os.WriteFile(filepath.Join(dir, ManifestName), data, 0o644)
}

func writeSources(dir string, sources map[string][]byte) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(sources))
	for name, src := range sources {
		base := filepath.Base(name)
		if err := os.WriteFile(filepath.Join(dir, base), src, 0o644); err != nil {
			return nil, err
		}
		names = append(names, base)
	}
	sort.Strings(names)
	return names, nil
}

// writePromotions merges the aliases of one package into a single file.
func writePromotions(dir string, ps []mono.Promotion) error {
	if len(ps) == 0 {
		return nil
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].Alias < ps[j].Alias })
	var b strings.Builder
	b.WriteString(ps[0].Source)
	seen := map[string]bool{ps[0].Alias: true}
	for _, p := range ps[1:] {
		if seen[p.Alias] {
			continue
		}
		seen[p.Alias] = true
		fmt.Fprintf(&b, "type %s = %s\n", p.Alias, p.Target)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filepath.Base(ps[0].File)), []byte(b.String()), 0o644)
}
