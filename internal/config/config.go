// Package config loads swarmctl's tunable knobs from flags, environment
// variables (SWARMCTL_ prefix), and an optional swarmctl.yaml, following
// 88lin-divinesense/cmd/divinesense's viper.BindPFlag-plus-AutomaticEnv
// wiring and wt/config.go's default-on-missing-file YAML loading.
package config

import (
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bazelment/swarmctl/internal/consensus"
	"github.com/bazelment/swarmctl/internal/manager"
	"github.com/bazelment/swarmctl/internal/planner"
)

// Config is the full set of tunable knobs spec.md §6 names. The Planner,
// Manager and Consensus sections are passed to their components. The
// top-level MaxParallelWorkers, ReviewerCount and MaxRetries are loaded
// and validated but read by no component: the Planner stamps every
// Execution with 3 parallel workers and 3 reviewers, and every SubTask
// with 2 retries.
type Config struct {
	Planner   planner.Config   `yaml:"planner"`
	Manager   manager.Config   `yaml:"manager"`
	Consensus consensus.Config `yaml:"consensus"`

	MaxParallelWorkers int    `yaml:"max_parallel_workers"`
	ReviewerCount      int    `yaml:"reviewer_count"`
	MaxRetries         int    `yaml:"max_retries"`
	DBPath             string `yaml:"db_path"`
	WorkspaceRoot      string `yaml:"workspace_root"`
}

// Default returns spec.md's documented defaults for every knob.
func Default() Config {
	return Config{
		Planner:            planner.DefaultConfig(),
		Manager:            manager.DefaultConfig(),
		Consensus:          consensus.DefaultConfig(),
		MaxParallelWorkers: 3,
		ReviewerCount:      3,
		MaxRetries:         2,
		DBPath:             "swarmctl.db",
		WorkspaceRoot:      ".swarmctl/workspaces",
	}
}

// fileConfig mirrors the subset of Config that swarmctl.yaml may override;
// it's unmarshaled separately from Default() so a missing or partial file
// never zeroes out fields the user didn't set.
type fileConfig struct {
	MaxParallelWorkers *int    `yaml:"max_parallel_workers"`
	ReviewerCount      *int    `yaml:"reviewer_count"`
	MaxRounds          *int    `yaml:"max_rounds"`
	SwarmThreshold     *int    `yaml:"swarm_threshold"`
	MaxSubtasks        *int    `yaml:"max_subtasks"`
	MaxRetries         *int    `yaml:"max_retries"`
	BranchPrefix       *string `yaml:"branch_prefix"`
	ReviewTimeoutSecs  *int    `yaml:"review_timeout_seconds"`
	DBPath             *string `yaml:"db_path"`
	WorkspaceRoot      *string `yaml:"workspace_root"`
}

// Load builds a Config from defaults, an optional swarmctl.yaml at path
// (missing file is not an error), and environment variables prefixed
// SWARMCTL_ (bound via viper.AutomaticEnv, highest precedence).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// no file: defaults stand
		case err != nil:
			return Config{}, err
		default:
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return Config{}, err
			}
			applyFileConfig(&cfg, fc)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.MaxParallelWorkers != nil {
		cfg.MaxParallelWorkers = *fc.MaxParallelWorkers
	}
	if fc.ReviewerCount != nil {
		cfg.ReviewerCount = *fc.ReviewerCount
	}
	if fc.MaxRounds != nil {
		cfg.Consensus.MaxRounds = *fc.MaxRounds
	}
	if fc.SwarmThreshold != nil {
		cfg.Planner.SwarmThreshold = *fc.SwarmThreshold
	}
	if fc.MaxSubtasks != nil {
		cfg.Planner.MaxSubtasks = *fc.MaxSubtasks
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.BranchPrefix != nil {
		cfg.Manager.BranchPrefix = *fc.BranchPrefix
	}
	if fc.ReviewTimeoutSecs != nil {
		cfg.Consensus.ReviewTimeoutSeconds = *fc.ReviewTimeoutSecs
	}
	if fc.DBPath != nil {
		cfg.DBPath = *fc.DBPath
	}
	if fc.WorkspaceRoot != nil {
		cfg.WorkspaceRoot = *fc.WorkspaceRoot
	}
}

// BindEnv registers every SWARMCTL_-prefixed environment variable viper
// recognizes for this config. Called once at process start, before Load.
func BindEnv() {
	viper.SetEnvPrefix("swarmctl")
	viper.AutomaticEnv()
}

func applyEnvOverrides(cfg *Config) {
	if v := viper.GetInt("max_parallel_workers"); v > 0 {
		cfg.MaxParallelWorkers = v
	}
	if v := viper.GetInt("reviewer_count"); v > 0 {
		cfg.ReviewerCount = v
	}
	if v := viper.GetInt("max_rounds"); v > 0 {
		cfg.Consensus.MaxRounds = v
	}
	if v := viper.GetInt("swarm_threshold"); v > 0 {
		cfg.Planner.SwarmThreshold = v
	}
	if v := viper.GetInt("max_subtasks"); v > 0 {
		cfg.Planner.MaxSubtasks = v
	}
	if v := viper.GetInt("max_retries"); v > 0 {
		cfg.MaxRetries = v
	}
	if v := viper.GetString("branch_prefix"); v != "" {
		cfg.Manager.BranchPrefix = v
	}
	if v := viper.GetInt("review_timeout_seconds"); v > 0 {
		cfg.Consensus.ReviewTimeoutSeconds = v
	}
	if v := viper.GetString("db_path"); v != "" {
		cfg.DBPath = v
	}
	if v := viper.GetString("workspace_root"); v != "" {
		cfg.WorkspaceRoot = v
	}
}
