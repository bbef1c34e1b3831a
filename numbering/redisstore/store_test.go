package redisstore_test

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policykit/domain/entity"
	"policykit/errors"
	"policykit/logging"
	"policykit/numbering"
	"policykit/numbering/redisstore"
	"policykit/numbering/storetest"
	"policykit/patterns/retry"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) numbering.IStore {
		return redisstore.New(newFakeRedis(), "test:", logging.NewNoopLogger())
	})
}

func TestStore_KeysShareHashTag(t *testing.T) {
	fake := newFakeRedis()
	s := redisstore.New(fake, "", logging.NewNoopLogger())
	ctx := context.Background()

	_, err := s.Add(ctx, "T", "policy", []string{"POL-1"})
	require.NoError(t, err)

	assert.Contains(t, fake.sets, "numberpool:{T:policy}:all")
	assert.Contains(t, fake.sets, "numberpool:{T:policy}:available")
	assert.Contains(t, fake.sets, "numberpool:pools")
}

func TestStore_AddFailureKeepsNumberRetryable(t *testing.T) {
	fake := newFakeRedis()
	s := redisstore.New(fake, "", logging.NewNoopLogger())
	ctx := context.Background()

	fake.failSAdd = ":available"
	_, err := s.Add(ctx, "T", "policy", []string{"POL-1"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeCache))

	fake.failSAdd = ""
	res, err := s.Add(ctx, "T", "policy", []string{"POL-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"POL-1"}, res.AddedNumbers())

	e, err := s.Reserve(ctx, "T", "policy", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "POL-1", e.Number)
}

func TestStore_ReserveFailurePutsNumberBack(t *testing.T) {
	fake := newFakeRedis()
	s := redisstore.New(&failingZAdd{fakeRedis: fake}, "", logging.NewNoopLogger())
	ctx := context.Background()

	_, err := s.Add(ctx, "T", "policy", []string{"POL-1"})
	require.NoError(t, err)

	_, err = s.Reserve(ctx, "T", "policy", time.Now())
	require.Error(t, err)

	st, err := s.Stats(ctx, "T", "policy")
	require.NoError(t, err)
	assert.Equal(t, numbering.Stats{Available: 1}, st)
}

func TestStore_AddPartialFailureRollsBackBatch(t *testing.T) {
	fake := newFakeRedis()
	s := redisstore.New(fake, "", logging.NewNoopLogger())
	ctx := context.Background()

	fake.failSAdd = ":all"
	fake.failSAddNth = 2
	_, err := s.Add(ctx, "T", "policy", []string{"POL-1", "POL-2"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeCache))

	st, err := s.Stats(ctx, "T", "policy")
	require.NoError(t, err)
	assert.Equal(t, numbering.Stats{}, st)
	assert.Empty(t, fake.sets["numberpool:{T:policy}:all"])

	res, err := s.Add(ctx, "T", "policy", []string{"POL-1", "POL-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"POL-1", "POL-2"}, res.AddedNumbers())
	assert.Empty(t, res.DuplicateNumbers())
}

func TestPool_AddRetryAfterPartialFailureReportsNoDuplicates(t *testing.T) {
	fake := newFakeRedis()
	fake.failSAdd = ":all"
	fake.failSAddNth = 2

	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	pool := numbering.NewPool(redisstore.New(fake, "", logging.NewNoopLogger()),
		numbering.WithLogger(logging.NewNoopLogger()),
		numbering.WithAddRetry(cfg))

	res, err := pool.AddNumbers(context.Background(), "T", "policy", []string{"POL-1", "POL-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"POL-1", "POL-2"}, res.AddedNumbers())
	assert.Empty(t, res.DuplicateNumbers())
}

type failingZRem struct{ *fakeRedis }

func (f *failingZRem) ZRem(context.Context, string, ...any) *redis.IntCmd {
	return redis.NewIntResult(0, fmt.Errorf("i/o timeout"))
}

func consumption(number string) *numbering.Consumption {
	return &numbering.Consumption{
		Entity:   entity.NewEntity(entity.NewID[numbering.Consumption](), time.Now()),
		TenantID: "T",
		Category: "policy",
		Number:   number,
		EntityID: uuid.New(),
	}
}

func TestStore_ConsumeFailureRemovesLedgerEntry(t *testing.T) {
	fake := newFakeRedis()
	ctx := context.Background()
	_, err := redisstore.New(fake, "", logging.NewNoopLogger()).Add(ctx, "T", "policy", []string{"POL-1"})
	require.NoError(t, err)

	s := redisstore.New(&failingZRem{fakeRedis: fake}, "", logging.NewNoopLogger())
	_, err = s.Reserve(ctx, "T", "policy", time.Now())
	require.NoError(t, err)

	err = s.Consume(ctx, consumption("POL-1"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeCache))

	_, err = s.GetConsumption(ctx, numbering.Key{TenantID: "T", Category: "policy", Number: "POL-1"})
	assert.True(t, stdErrors.Is(err, numbering.ErrConsumptionNotFound))
	st, err := s.Stats(ctx, "T", "policy")
	require.NoError(t, err)
	assert.Equal(t, numbering.Stats{Reserved: 1}, st)
}
