package oomd

import (
	"github.com/ceems-dev/oomd/internal/common"
	"github.com/ceems-dev/oomd/pkg/cgroup"
	"github.com/ceems-dev/oomd/pkg/plugin"
)

// TickConfig configures the target cgroups and cadence of the control loop.
type TickConfig struct {
	IntervalSeconds float64  `yaml:"interval_seconds"`
	Roots           []string `yaml:"roots"`
	Pattern         string   `yaml:"pattern"`
	Expand          bool     `yaml:"expand"`
}

// PathsConfig configures where the daemon looks for proc/cgroup
// filesystems; empty fields fall back to the stock Linux defaults.
type PathsConfig struct {
	ProcPath   string `yaml:"proc_path"`
	CgroupfsV2 string `yaml:"cgroupfs_v2"`
	CgroupfsV1 string `yaml:"cgroupfs_v1"`
	MountsFile string `yaml:"mounts_file"`
	ForceMode  string `yaml:"force_mode"`
}

// Config is the top-level daemon configuration loaded from YAML
// (spec.md §6: a list of plugin instantiation records, plus the ambient
// tick/paths/web settings this implementation adds).
type Config struct {
	Tick      TickConfig      `yaml:"tick"`
	Paths     PathsConfig     `yaml:"paths"`
	Detectors []plugin.Record `yaml:"detectors"`
	Actions   []plugin.Record `yaml:"actions"`
	Web       WebConfig       `yaml:"web"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface, setting defaults
// before the file's values are applied.
func (c *Config) UnmarshalYAML(unmarshal func(any) error) error {
	*c = Config{}
	c.Tick.IntervalSeconds = 1
	c.Tick.Pattern = "*"

	type plain Config

	return unmarshal((*plain)(c))
}

// LoadConfig reads and decodes the daemon config file at path, applying
// the defaults set by Config.UnmarshalYAML; no further validation is done.
func LoadConfig(path string) (*Config, error) {
	return common.MakeConfig[Config](path)
}

// ResolveTickTargets turns the configured roots/pattern into the roots,
// expand flag and pattern of a loop.StaticRoots. With no explicit roots it
// returns the source's own root with expand set to true; roots that are not
// under the source's root are skipped.
func ResolveTickTargets(cfg TickConfig, source cgroup.Source) ([]cgroup.Path, bool, string) {
	if len(cfg.Roots) == 0 {
		return []cgroup.Path{source.Root()}, true, cfg.Pattern
	}

	roots := make([]cgroup.Path, 0, len(cfg.Roots))

	for _, r := range cfg.Roots {
		p, err := cgroup.NewPath(source.Root().Root, r)
		if err != nil {
			continue
		}

		roots = append(roots, p)
	}

	return roots, cfg.Expand, cfg.Pattern
}
