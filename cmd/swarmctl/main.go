// Command swarmctl drives the Planner/Manager/Consensus core from the
// command line, against either the in-memory store or a SQLite-backed one.
// Flag/env/file layering and logger setup follow
// medivac/cmd/medivac/main.go.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bazelment/swarmctl/internal/agentruntime"
	swarmconfig "github.com/bazelment/swarmctl/internal/config"
	"github.com/bazelment/swarmctl/internal/events"
	"github.com/bazelment/swarmctl/internal/manager"
	"github.com/bazelment/swarmctl/internal/store"
	"github.com/bazelment/swarmctl/internal/store/memstore"
	"github.com/bazelment/swarmctl/internal/store/sqlstore"
	"github.com/bazelment/swarmctl/internal/workspace"
)

var (
	configPath  string
	dbPath      string
	workRoot    string
	useMemstore bool
	agentBinary string
	verbosity   int
	logFile     string
)

var rootCmd = &cobra.Command{
	Use:   "swarmctl",
	Short: "Drive a Planner/Manager/Consensus swarm execution",
	Long: "swarmctl creates and advances swarm Executions: decomposing an " +
		"Epic task into SubTasks, dispatching them to worker agents under " +
		"a bounded-parallelism schedule, and running pBFT-style consensus " +
		"review over the result.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to swarmctl.yaml (defaults stand if omitted)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&workRoot, "workspace-root", "", "Root directory for git worktrees (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&useMemstore, "memstore", false, "Use an in-memory store instead of SQLite (state is lost on exit)")
	rootCmd.PersistentFlags().StringVar(&agentBinary, "agent-binary", "claude", "Coding-agent CLI binary to invoke for workers and reviewers")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v, -vv)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig binds env overrides and loads swarmctl.yaml (if configPath is
// set), then applies any CLI flags that were explicitly passed.
func loadConfig(cmd *cobra.Command) (swarmconfig.Config, error) {
	swarmconfig.BindEnv()
	cfg, err := swarmconfig.Load(configPath)
	if err != nil {
		return swarmconfig.Config{}, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = dbPath
	}
	if cmd.Flags().Changed("workspace-root") {
		cfg.WorkspaceRoot = workRoot
	}
	return cfg, nil
}

// openStore opens the store named by --memstore/cfg.DBPath. The returned
// closer is a no-op for memstore.
func openStore(cfg swarmconfig.Config) (store.Store, func() error, error) {
	if useMemstore {
		return memstore.New(), func() error { return nil }, nil
	}
	st, err := sqlstore.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, st.Close, nil
}

// openWorkspaceProvider builds the Git-backed workspace provider rooted at
// cfg.WorkspaceRoot, creating the directory if it doesn't yet exist.
func openWorkspaceProvider(cfg swarmconfig.Config) (*workspace.GitWorkspaceProvider, error) {
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return workspace.NewGitWorkspaceProvider(cfg.WorkspaceRoot, nil), nil
}

// newAgentRuntime builds a ProcessAgentRuntime that shells out to
// --agent-binary with claude-CLI-shaped flags.
func newAgentRuntime() *agentruntime.ProcessAgentRuntime {
	return agentruntime.NewProcessAgentRuntime(agentBinary, agentruntime.DefaultClaudeArgs)
}

// newManager wires a Manager against st for commands (pause/resume/cancel)
// that need the lifecycle methods but don't run a dispatch loop of their
// own; its event bus is created and discarded unused.
func newManager(cfg swarmconfig.Config, st store.Store) (*manager.Manager, error) {
	ws, err := openWorkspaceProvider(cfg)
	if err != nil {
		return nil, err
	}
	bus := events.NewBus()
	return manager.New(st, ws, newAgentRuntime(), bus, cfg.Manager, newLogger()), nil
}

// verbosityLevel maps the -v count to an slog.Level.
func verbosityLevel() slog.Level {
	switch {
	case verbosity >= 2:
		return slog.LevelDebug
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// newLogger builds the process-wide structured logger, mirroring
// medivac's stderr-plus-optional-file logger construction.
func newLogger() *slog.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
			if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				w = io.MultiWriter(os.Stderr, f)
			}
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: verbosityLevel()}))
}
