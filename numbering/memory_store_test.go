package numbering_test

import (
	"testing"

	"policykit/cache"
	"policykit/numbering"
	"policykit/numbering/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) numbering.IStore {
		return numbering.NewMemoryStore()
	})
}

func TestTracedStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) numbering.IStore {
		return numbering.NewTracedStore(numbering.NewMemoryStore(), nil)
	})
}

func TestCachedStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) numbering.IStore {
		return numbering.NewCachedStore(numbering.NewMemoryStore(), cache.Config{MaxSize: 16})
	})
}
