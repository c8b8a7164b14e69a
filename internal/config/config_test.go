package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadWithMissingFileReturnsDefaults(t *testing.T) {
	resetViper(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadAppliesPartialYAMLWithoutZeroingUnsetFields(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "swarmctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel_workers: 7\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxParallelWorkers)
	require.Equal(t, Default().ReviewerCount, cfg.ReviewerCount, "unset fields must fall back to defaults, not zero")
	require.Equal(t, Default().DBPath, cfg.DBPath)
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "swarmctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel_workers: 7\n"), 0o644))

	t.Setenv("SWARMCTL_MAX_PARALLEL_WORKERS", "9")
	BindEnv()

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.MaxParallelWorkers, "an env override should win over the file value")
}
