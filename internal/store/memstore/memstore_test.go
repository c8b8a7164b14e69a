package memstore

import (
	"testing"

	"github.com/bazelment/swarmctl/internal/store"
	"github.com/bazelment/swarmctl/internal/store/storetest"
)

func TestMemstoreConformsToStore(t *testing.T) {
	storetest.Run(t, func() store.Store { return New() })
}
