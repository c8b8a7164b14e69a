package sqlstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bazelment/swarmctl/internal/store"
	"github.com/bazelment/swarmctl/internal/store/storetest"
)

func TestSQLStoreConformsToStore(t *testing.T) {
	n := 0
	storetest.Run(t, func() store.Store {
		n++
		path := filepath.Join(t.TempDir(), "swarmctl.db")
		st, err := Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestOpenFailsWhenParentDirectoryIsMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "swarmctl.db")
	_, err := Open(path)
	require.Error(t, err, "Open must not silently create missing parent directories")
}
