package numbering_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"policykit/cache"
	"policykit/domain/entity"
	"policykit/numbering"
	"policykit/numbering/mocks"
)

func TestCachedStore_LedgerReadsHitCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIStore(ctrl)
	cached := numbering.NewCachedStore(store, cache.Config{MaxSize: 8})
	ctx := context.Background()

	key := numbering.Key{TenantID: "T", Category: "policy", Number: "POL-1"}
	row := &numbering.Consumption{
		Entity:   entity.NewEntity(entity.NewID[numbering.Consumption](), time.Now()),
		TenantID: key.TenantID, Category: key.Category, Number: key.Number,
		EntityID: uuid.New(),
	}
	store.EXPECT().GetConsumption(gomock.Any(), key).Return(row, nil).Times(1)

	for i := 0; i < 3; i++ {
		got, err := cached.GetConsumption(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, row.EntityID, got.EntityID)
		assert.Equal(t, row.GetID(), got.GetID())
	}
	assert.Equal(t, int64(2), cached.CacheStats().Hits)
}

func TestCachedStore_MissesAreNotCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIStore(ctrl)
	cached := numbering.NewCachedStore(store, cache.Config{})
	key := numbering.Key{TenantID: "T", Category: "policy", Number: "POL-9"}

	store.EXPECT().GetConsumption(gomock.Any(), key).Return(nil, numbering.ErrConsumptionNotFound).Times(2)
	for i := 0; i < 2; i++ {
		_, err := cached.GetConsumption(context.Background(), key)
		assert.ErrorIs(t, err, numbering.ErrConsumptionNotFound)
	}
}

func TestCachedStore_ConsumePopulatesCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIStore(ctrl)
	cached := numbering.NewCachedStore(store, cache.Config{})
	ctx := context.Background()

	c := &numbering.Consumption{
		Entity:   entity.NewEntity(entity.NewID[numbering.Consumption](), time.Now()),
		TenantID: "T", Category: "policy", Number: "POL-2", EntityID: uuid.New(),
	}
	store.EXPECT().Consume(gomock.Any(), c).Return(nil)

	require.NoError(t, cached.Consume(ctx, c))
	got, err := cached.GetConsumption(ctx, c.Key())
	require.NoError(t, err)
	assert.Equal(t, c.EntityID, got.EntityID)
}

func TestCachedStore_FailedConsumeIsNotCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIStore(ctrl)
	cached := numbering.NewCachedStore(store, cache.Config{})
	ctx := context.Background()

	c := &numbering.Consumption{TenantID: "T", Category: "policy", Number: "POL-3", EntityID: uuid.New()}
	store.EXPECT().Consume(gomock.Any(), c).Return(numbering.ErrAlreadyConsumed)
	store.EXPECT().GetConsumption(gomock.Any(), c.Key()).Return(nil, numbering.ErrConsumptionNotFound)

	assert.ErrorIs(t, cached.Consume(ctx, c), numbering.ErrAlreadyConsumed)
	_, err := cached.GetConsumption(ctx, c.Key())
	assert.ErrorIs(t, err, numbering.ErrConsumptionNotFound)
}
