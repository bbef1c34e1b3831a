package numbering_test

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"policykit/codegen/snowflake"
	"policykit/errors"
	"policykit/logging"
	"policykit/numbering"
	"policykit/numbering/mocks"
	"policykit/patterns/retry"
)

const (
	tenantT  = "T"
	policies = numbering.Category("policy")
)

func newPool(t *testing.T, store numbering.IStore, opts ...numbering.Option) *numbering.Pool {
	t.Helper()
	base := []numbering.Option{
		numbering.WithLogger(logging.NewNoopLogger()),
		numbering.WithAddRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 1}),
	}
	return numbering.NewPool(store, append(base, opts...)...)
}

func TestPool_AddNumbersScenario(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t, numbering.NewMemoryStore())

	_, err := pool.AddNumbers(ctx, tenantT, policies, []string{"POL-1", "POL-2"})
	require.NoError(t, err)

	res, err := pool.AddNumbers(ctx, tenantT, policies, []string{"POL-2", "POL-3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"POL-3"}, res.AddedNumbers())
	assert.Equal(t, []string{"POL-2"}, res.DuplicateNumbers())

	st, err := pool.Stats(ctx, tenantT, policies)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Available)
}

func TestPool_AddNumbersValidation(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t, numbering.NewMemoryStore())

	_, err := pool.AddNumbers(ctx, "", policies, []string{"A"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))

	_, err = pool.AddNumbers(ctx, tenantT, "", []string{"A"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))

	_, err = pool.AddNumbers(ctx, tenantT, policies, []string{"A", " "})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))

	res, err := pool.AddNumbers(ctx, tenantT, policies, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Total())
}

func TestPool_AddNumbersRetriesInfrastructureErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIStore(ctrl)
	pool := newPool(t, store)

	batch := []string{"A", "B"}
	gomock.InOrder(
		store.EXPECT().Add(gomock.Any(), tenantT, policies, batch).
			Return(numbering.AddResult{}, errors.WrapError(stdErrors.New("conn reset"), errors.ErrCodeDatabase, "insert")),
		store.EXPECT().Add(gomock.Any(), tenantT, policies, batch).
			Return(numbering.NewAddResult([]string{"A"}, []string{"B"}), nil),
	)

	res, err := pool.AddNumbers(context.Background(), tenantT, policies, batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.AddedNumbers())
	assert.Equal(t, []string{"B"}, res.DuplicateNumbers())
}

func TestPool_AddNumbersDoesNotRetryBusinessErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIStore(ctrl)
	pool := newPool(t, store)

	invalid := errors.NewError(errors.ErrCodeInvalidInput, "number too long")
	store.EXPECT().Add(gomock.Any(), tenantT, policies, gomock.Any()).Return(numbering.AddResult{}, invalid).Times(1)

	_, err := pool.AddNumbers(context.Background(), tenantT, policies, []string{"A"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestPool_ReserveNextIsNeverRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIStore(ctrl)
	pool := newPool(t, store)

	ambiguous := errors.WrapError(stdErrors.New("timeout"), errors.ErrCodeDatabase, "reserve")
	store.EXPECT().Reserve(gomock.Any(), tenantT, policies, gomock.Any()).Return(numbering.Entry{}, ambiguous).Times(1)

	_, err := pool.ReserveNext(context.Background(), tenantT, policies)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeDatabase))
}

func TestPool_ReserveNextUsesClock(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIStore(ctrl)
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	pool := newPool(t, store, numbering.WithClock(func() time.Time { return now }))

	want := numbering.Entry{Key: numbering.Key{TenantID: tenantT, Category: policies, Number: "POL-1"}, Status: numbering.StatusReserved, ReservedAt: now}
	store.EXPECT().Reserve(gomock.Any(), tenantT, policies, now).Return(want, nil)

	got, err := pool.ReserveNext(context.Background(), tenantT, policies)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPool_ExhaustionIsReported(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := numbering.NewMetrics(reg)
	pool := newPool(t, numbering.NewMemoryStore(), numbering.WithMetrics(metrics))

	_, err := pool.AddNumbers(ctx, tenantT, policies, []string{"POL-1"})
	require.NoError(t, err)

	_, err = pool.ReserveNext(ctx, tenantT, policies)
	require.NoError(t, err)
	_, err = pool.ReserveNext(ctx, tenantT, policies)
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, numbering.ErrPoolExhausted))
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodePoolExhausted))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Reservations.WithLabelValues("policy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Exhaustions.WithLabelValues("policy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NumbersAdded.WithLabelValues("policy")))
}

func TestPool_MarkConsumedTwice(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := numbering.NewMetrics(reg)
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	pool := newPool(t, numbering.NewMemoryStore(),
		numbering.WithMetrics(metrics),
		numbering.WithClock(func() time.Time { return now }))

	_, err := pool.AddNumbers(ctx, tenantT, policies, []string{"POL-1"})
	require.NoError(t, err)
	e, err := pool.ReserveNext(ctx, tenantT, policies)
	require.NoError(t, err)

	owner := uuid.New()
	req := numbering.ConsumeRequest{TenantID: tenantT, Category: policies, Number: e.Number, EntityID: owner, EntityType: "Policy"}
	c, err := pool.MarkConsumed(ctx, req)
	require.NoError(t, err)
	assert.False(t, c.GetID().IsEmpty())
	assert.Equal(t, owner, c.EntityID)
	assert.True(t, c.ConsumedAt().Equal(now))

	_, err = pool.MarkConsumed(ctx, req)
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, numbering.ErrAlreadyConsumed))

	stored, err := pool.Consumption(ctx, e.Key)
	require.NoError(t, err)
	assert.Equal(t, c.GetID(), stored.GetID())

	st, err := pool.Stats(ctx, tenantT, policies)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Consumed)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Consumptions.WithLabelValues("policy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DoubleConsumes.WithLabelValues("policy")))
}

func TestPool_MarkConsumedValidation(t *testing.T) {
	pool := newPool(t, numbering.NewMemoryStore())
	_, err := pool.MarkConsumed(context.Background(), numbering.ConsumeRequest{TenantID: tenantT, Category: policies, Number: "POL-1"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestPool_ReleaseAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	pool := newPool(t, numbering.NewMemoryStore(),
		numbering.WithClock(func() time.Time { return now }),
		numbering.WithReservationTTL(15*time.Minute))

	_, err := pool.AddNumbers(ctx, tenantT, policies, []string{"POL-1", "POL-2"})
	require.NoError(t, err)

	a, err := pool.ReserveNext(ctx, tenantT, policies)
	require.NoError(t, err)
	require.NoError(t, pool.Release(ctx, a.Key))

	_, err = pool.ReserveNext(ctx, tenantT, policies)
	require.NoError(t, err)

	n, err := pool.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "reservation is still within ttl")

	now = now.Add(16 * time.Minute)
	n, err = pool.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := pool.Stats(ctx, tenantT, policies)
	require.NoError(t, err)
	assert.Equal(t, numbering.Stats{Available: 2}, st)
}

func TestPool_ReleaseExpiredRequiresTTL(t *testing.T) {
	pool := newPool(t, numbering.NewMemoryStore())
	_, err := pool.ReleaseExpired(context.Background())
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestPool_GenerateNumbers(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t, numbering.NewMemoryStore())

	seq := numbering.NewSequentialGenerator("POL-", 1, 6)
	res, err := pool.GenerateNumbers(ctx, tenantT, policies, seq, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"POL-000001", "POL-000002", "POL-000003"}, res.AddedNumbers())

	// 从已用过的起点重新生成只会得到重复号
	res, err = pool.GenerateNumbers(ctx, tenantT, policies, numbering.NewSequentialGenerator("POL-", 2, 6), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"POL-000004"}, res.AddedNumbers())
	assert.Equal(t, []string{"POL-000002", "POL-000003"}, res.DuplicateNumbers())

	sf, err := snowflake.NewGenerator(1, 2)
	require.NoError(t, err)
	res, err = pool.GenerateNumbers(ctx, tenantT, "invoice", numbering.NewSnowflakeGenerator("INV-", sf), 50)
	require.NoError(t, err)
	assert.Len(t, res.AddedNumbers(), 50)
	assert.Empty(t, res.DuplicateNumbers())

	_, err = pool.GenerateNumbers(ctx, tenantT, policies, seq, 0)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
	_, err = pool.GenerateNumbers(ctx, tenantT, policies, nil, 1)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestTracedStore_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	store := numbering.NewTracedStore(numbering.NewMemoryStore(), tp)
	ctx := context.Background()

	_, err := store.Add(ctx, tenantT, policies, []string{"POL-1"})
	require.NoError(t, err)
	_, err = store.Reserve(ctx, tenantT, policies, time.Now())
	require.NoError(t, err)
	_, err = store.Reserve(ctx, tenantT, policies, time.Now())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "numberpool.add", spans[0].Name())
	assert.Equal(t, "numberpool.reserve", spans[1].Name())
	assert.Equal(t, "Error", spans[2].Status().Code.String())
}
