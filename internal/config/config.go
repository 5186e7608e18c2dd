// Package config defines Phaser's configuration schema and defaults.
// Values come from the config.yaml of the resolved store root (a project
// .phaser/ or the global ~/.phaser/), deep-merged over the defaults in this
// package. Project and global files are not layered over each other, and no
// PHASER_* variable other than PHASER_STORAGE_DIR (which picks the store root)
// is read. Of the typed fields, only Retries is read by a command (execute).
//
// The Store owns the on-disk nested map and dotted-key get/set/reset
// semantics (§4.1); this package only defines the typed shape used for
// deep-merge defaults and for components that want a typed view.
package config

import (
	"gopkg.in/yaml.v3"
)

// Config holds all Phaser configuration.
type Config struct {
	// Output is the output-format setting (table, json, yaml). Commands take
	// their format from the --format flag instead; this value is not read.
	Output string `yaml:"output" json:"output"`

	// Verbose is the verbose-diagnostics setting. Commands take verbosity from
	// the --verbose flag instead; this value is not read.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Retries is the default PhaseEngine retry budget per phase.
	Retries int `yaml:"retries" json:"retries"`

	// RetentionDays bounds how long events are kept by clear_events.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// MaxEvents bounds the event log size independent of age.
	MaxEvents int `yaml:"max_events" json:"max_events"`

	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
	Branch     BranchConfig     `yaml:"branch" json:"branch"`
	Contracts  ContractsConfig  `yaml:"contracts" json:"contracts"`
	Analytics  AnalyticsConfig  `yaml:"analytics" json:"analytics"`
	Manifest   ManifestConfig   `yaml:"manifest" json:"manifest"`
}

// SimulationConfig holds sandbox-related settings.
type SimulationConfig struct {
	// AutoStash is the simulation.auto_stash setting. Simulator.Begin does not
	// read it; it stashes whenever the working tree is dirty.
	AutoStash bool `yaml:"auto_stash" json:"auto_stash"`

	// Excludes is a list of extra directory names for manifest capture. No
	// capture call passes it to manifest.Capture.
	Excludes []string `yaml:"excludes" json:"excludes"`
}

// BranchConfig holds branch-mode settings.
type BranchConfig struct {
	// BaseBranch is the branch.base_branch setting. branchmode's Begin does not
	// read it; an empty base there means the current branch.
	BaseBranch string `yaml:"base_branch" json:"base_branch"`

	// DefaultStrategy is the branch.default_strategy setting. The branches
	// merge command does not read it; its --strategy flag defaults to squash.
	DefaultStrategy string `yaml:"default_strategy" json:"default_strategy"`
}

// ContractsConfig holds enforcement defaults.
type ContractsConfig struct {
	// FailOnError is the contracts.fail_on_error setting. `check` and
	// `contracts check` do not read it; their --fail-on-error flag makes them
	// exit 1 when an error-severity violation is found.
	FailOnError bool `yaml:"fail_on_error" json:"fail_on_error"`

	// Severity is the contracts.severity setting (error, warning, all). No
	// component filters violations by it.
	Severity string `yaml:"severity" json:"severity"`
}

// AnalyticsConfig holds analytics storage settings.
type AnalyticsConfig struct {
	// GlobalRegistryPath is the analytics.global_registry_path setting. The
	// analytics registry is always ~/.phaser/projects.json; this value is not
	// read.
	GlobalRegistryPath string `yaml:"global_registry_path" json:"global_registry_path"`
}

// ManifestConfig holds directory-capture limits. No capture call passes these
// values; manifest.Capture and manifest.Compare use their built-in limits.
type ManifestConfig struct {
	// MaxFileBytes is the per-file size above which content is skipped (size
	// and hash are still recorded).
	MaxFileBytes int64 `yaml:"max_file_bytes" json:"max_file_bytes"`

	// MaxTotalBytes aborts capture once the running total would exceed it.
	MaxTotalBytes int64 `yaml:"max_total_bytes" json:"max_total_bytes"`

	// DiffMaxBytes is the per-side size ceiling for computing a unified diff.
	DiffMaxBytes int64 `yaml:"diff_max_bytes" json:"diff_max_bytes"`
}

const (
	defaultOutput = "table"

	oneMiB            = 1024 * 1024
	defaultMaxFile    = 10 * oneMiB
	defaultMaxTotal   = 100 * oneMiB
	defaultDiffCeil   = 100 * 1024
	defaultRetries    = 3
	defaultRetention  = 90
	defaultMaxEvents  = 100000
	defaultSeverity   = "error"
	defaultStrategy   = "squash"
)

// DefaultExcludes lists directory names always skipped during manifest capture.
var DefaultExcludes = []string{".git", "node_modules", "__pycache__", ".venv", ".audit", ".phaser"}

// BinaryExtensions is the extension allow-list that forces binary classification
// even when content happens to decode as UTF-8 (§4.3).
var BinaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".exe": true,
	".dll": true, ".so": true, ".dylib": true, ".woff": true, ".woff2": true,
	".ttf": true, ".eot": true,
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:        defaultOutput,
		Verbose:       false,
		Retries:       defaultRetries,
		RetentionDays: defaultRetention,
		MaxEvents:     defaultMaxEvents,
		Simulation: SimulationConfig{
			AutoStash: true,
		},
		Branch: BranchConfig{
			DefaultStrategy: defaultStrategy,
		},
		Contracts: ContractsConfig{
			FailOnError: false,
			Severity:    defaultSeverity,
		},
		Manifest: ManifestConfig{
			MaxFileBytes:  defaultMaxFile,
			MaxTotalBytes: defaultMaxTotal,
			DiffMaxBytes:  defaultDiffCeil,
		},
	}
}

// ToMap renders cfg as a generic nested map, the shape the Store persists
// and deep-merges against in get_config/set_config/reset_config (§4.1).
func (c *Config) ToMap() (map[string]interface{}, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FromMap decodes a generic nested map back into a typed Config.
func FromMap(m map[string]interface{}) (*Config, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
