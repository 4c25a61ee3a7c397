package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config file names looked up by FindConfig, in priority order.
var ConfigNames = []string{"polybind.toml", "polybind.yaml", "polybind.yml"}

// Config is the project-level build configuration. Zero fields mean "use the
// default"; command-line flags override whatever is set here.
type Config struct {
	Mode           string   `toml:"mode" yaml:"mode"`
	Strict         bool     `toml:"strict" yaml:"strict"`
	AddressOf      string   `toml:"address_of" yaml:"address_of"`
	Budget         Budget   `toml:"budget" yaml:"budget"`
	Jobs           int      `toml:"jobs" yaml:"jobs"`
	MaxDiagnostics int      `toml:"max_diagnostics" yaml:"max_diagnostics"`
	DiskCache      bool     `toml:"disk_cache" yaml:"disk_cache"`
	Packages       []string `toml:"packages" yaml:"packages"`

	// Path is the file the config was read from; empty for defaults.
	Path string `toml:"-" yaml:"-"`
	// Defined records which keys were present in the file.
	Defined map[string]bool `toml:"-" yaml:"-"`
}

// Budget bounds transitive instantiation.
type Budget struct {
	MaxDepth int `toml:"max_depth" yaml:"max_depth"`
	MaxSteps int `toml:"max_steps" yaml:"max_steps"`
}

const (
	DefaultMode      = "mono"
	DefaultAddressOf = "reject"
	DefaultMaxDepth  = 64
	DefaultMaxSteps  = 4096
	DefaultMaxDiags  = 200
)

var ErrUnknownConfigFormat = errors.New("unknown config format")

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// LoadConfig reads polybind.toml or polybind.yaml depending on the extension.
func LoadConfig(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return loadTOML(path)
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		return ParseYAML(data, path)
	}
	return nil, fmt.Errorf("%s: %w", path, ErrUnknownConfigFormat)
}

func loadTOML(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	cfg.Defined = make(map[string]bool)
	for _, k := range meta.Keys() {
		cfg.Defined[k.String()] = true
	}
	if meta.IsDefined("budget") && !meta.IsDefined("budget", "max_depth") && !meta.IsDefined("budget", "max_steps") {
		return nil, fmt.Errorf("%s: [budget] needs max_depth or max_steps", path)
	}
	return cfg.finish(path)
}

// ParseYAML parses polybind.yaml content. The path is used only for messages.
func ParseYAML(data []byte, path string) (*Config, error) {
	var cfg Config
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Defined = make(map[string]bool, len(raw))
	for k, v := range raw {
		cfg.Defined[k] = true
		if sub, ok := v.(map[string]any); ok {
			for sk := range sub {
				cfg.Defined[k+"."+sk] = true
			}
		}
	}
	return cfg.finish(path)
}

func (c *Config) finish(path string) (*Config, error) {
	c.Path = path
	if err := c.validate(path); err != nil {
		return nil, err
	}
	c.setDefaults()
	return c, nil
}

func (c *Config) validate(path string) error {
	switch c.Mode {
	case "", "poly", "mono", "both":
	default:
		return fmt.Errorf("%s: mode must be poly, mono or both, got %q", path, c.Mode)
	}
	switch c.AddressOf {
	case "", "reject", "boxed":
	default:
		return fmt.Errorf("%s: address_of must be reject or boxed, got %q", path, c.AddressOf)
	}
	if c.Budget.MaxDepth < 0 || c.Budget.MaxSteps < 0 {
		return fmt.Errorf("%s: budget values must not be negative", path)
	}
	if c.Jobs < 0 {
		return fmt.Errorf("%s: jobs must not be negative", path)
	}
	if c.MaxDiagnostics < 0 {
		return fmt.Errorf("%s: max_diagnostics must not be negative", path)
	}
	seen := make(map[string]bool, len(c.Packages))
	for i, p := range c.Packages {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%s: packages[%d] is empty", path, i)
		}
		if seen[p] {
			return fmt.Errorf("%s: packages[%d]: duplicate pattern %q", path, i, p)
		}
		seen[p] = true
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.AddressOf == "" {
		c.AddressOf = DefaultAddressOf
	}
	if c.Budget.MaxDepth == 0 {
		c.Budget.MaxDepth = DefaultMaxDepth
	}
	if c.Budget.MaxSteps == 0 {
		c.Budget.MaxSteps = DefaultMaxSteps
	}
	if c.MaxDiagnostics == 0 {
		c.MaxDiagnostics = DefaultMaxDiags
	}
	if len(c.Packages) == 0 {
		c.Packages = []string{"./..."}
	}
}

// IsDefined reports whether key ("budget.max_depth" style) was set in the file.
func (c *Config) IsDefined(key string) bool {
	return c != nil && c.Defined[key]
}

// FindConfig walks up from startDir looking for a config file.
func FindConfig(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		for _, name := range ConfigNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true, nil
			} else if !errors.Is(err, os.ErrNotExist) {
				return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}
