package memory

import (
	"testing"

	"payup/internal/store"
	"payup/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.GroupStore { return New() })
}
