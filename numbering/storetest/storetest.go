// Package storetest 是 numbering.IStore 的一致性测试套件
//
// 每个存储实现在自己的测试中调用 Run，保证内存、SQL、Redis 三种实现行为一致。
package storetest

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"policykit/domain/entity"
	"policykit/numbering"
)

// Factory 为每个子测试创建一个空存储
type Factory func(t *testing.T) numbering.IStore

const (
	tenant   = "tenant-a"
	category = numbering.Category("policy")
)

var baseTime = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

// Run 执行全部一致性用例
func Run(t *testing.T, newStore Factory) {
	t.Run("AddReportsDuplicates", func(t *testing.T) { testAddReportsDuplicates(t, newStore(t)) })
	t.Run("AddIsIdempotent", func(t *testing.T) { testAddIsIdempotent(t, newStore(t)) })
	t.Run("AddInBatchRepeats", func(t *testing.T) { testAddInBatchRepeats(t, newStore(t)) })
	t.Run("PoolsAreIsolated", func(t *testing.T) { testPoolsAreIsolated(t, newStore(t)) })
	t.Run("ReserveExhausted", func(t *testing.T) { testReserveExhausted(t, newStore(t)) })
	t.Run("ConcurrentReserve", func(t *testing.T) { testConcurrentReserve(t, newStore(t)) })
	t.Run("ConsumeOnce", func(t *testing.T) { testConsumeOnce(t, newStore(t)) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
	t.Run("ConsumeRequiresReservation", func(t *testing.T) { testConsumeRequiresReservation(t, newStore(t)) })
	t.Run("Release", func(t *testing.T) { testRelease(t, newStore(t)) })
	t.Run("ReleaseExpired", func(t *testing.T) { testReleaseExpired(t, newStore(t)) })
}

func newConsumption(key numbering.Key, at time.Time) *numbering.Consumption {
	return &numbering.Consumption{
		Entity:     entity.NewEntity(entity.NewID[numbering.Consumption](), at),
		TenantID:   key.TenantID,
		Category:   key.Category,
		Number:     key.Number,
		EntityID:   uuid.New(),
		EntityType: "PolicyDocument",
	}
}

func key(number string) numbering.Key {
	return numbering.Key{TenantID: tenant, Category: category, Number: number}
}

func reserveAll(t *testing.T, s numbering.IStore, tenantID string, cat numbering.Category) []string {
	t.Helper()
	var got []string
	for {
		e, err := s.Reserve(context.Background(), tenantID, cat, baseTime)
		if stdErrors.Is(err, numbering.ErrPoolExhausted) {
			return got
		}
		require.NoError(t, err)
		got = append(got, e.Number)
	}
}

func testAddReportsDuplicates(t *testing.T, s numbering.IStore) {
	ctx := context.Background()

	_, err := s.Add(ctx, tenant, category, []string{"POL-1", "POL-2"})
	require.NoError(t, err)

	res, err := s.Add(ctx, tenant, category, []string{"POL-2", "POL-3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"POL-3"}, res.AddedNumbers())
	assert.Equal(t, []string{"POL-2"}, res.DuplicateNumbers())

	st, err := s.Stats(ctx, tenant, category)
	require.NoError(t, err)
	assert.Equal(t, numbering.Stats{Available: 3}, st)

	assert.ElementsMatch(t, []string{"POL-1", "POL-2", "POL-3"}, reserveAll(t, s, tenant, category))
}

func testAddIsIdempotent(t *testing.T, s numbering.IStore) {
	ctx := context.Background()
	batch := []string{"INV-10", "INV-11", "INV-12"}

	first, err := s.Add(ctx, tenant, category, batch)
	require.NoError(t, err)
	assert.Equal(t, batch, first.AddedNumbers())
	assert.Empty(t, first.DuplicateNumbers())

	second, err := s.Add(ctx, tenant, category, batch)
	require.NoError(t, err)
	assert.Empty(t, second.AddedNumbers())
	assert.Equal(t, batch, second.DuplicateNumbers())

	st, err := s.Stats(ctx, tenant, category)
	require.NoError(t, err)
	assert.Equal(t, int64(len(batch)), st.Available)
}

func testAddInBatchRepeats(t *testing.T, s numbering.IStore) {
	res, err := s.Add(context.Background(), tenant, category, []string{"A", "B", "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, res.AddedNumbers())
	assert.Equal(t, []string{"A"}, res.DuplicateNumbers())
	assert.Equal(t, 3, res.Total())
}

func testPoolsAreIsolated(t *testing.T, s numbering.IStore) {
	ctx := context.Background()
	_, err := s.Add(ctx, tenant, category, []string{"X-1"})
	require.NoError(t, err)

	res, err := s.Add(ctx, "tenant-b", category, []string{"X-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"X-1"}, res.AddedNumbers(), "same number in another tenant is not a duplicate")

	res, err = s.Add(ctx, tenant, "invoice", []string{"X-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"X-1"}, res.AddedNumbers(), "same number in another category is not a duplicate")

	assert.Equal(t, []string{"X-1"}, reserveAll(t, s, "tenant-b", category))
	assert.Equal(t, []string{"X-1"}, reserveAll(t, s, tenant, category))
}

func testReserveExhausted(t *testing.T, s numbering.IStore) {
	ctx := context.Background()

	_, err := s.Reserve(ctx, tenant, category, baseTime)
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, numbering.ErrPoolExhausted), "unknown pool: %v", err)

	_, err = s.Add(ctx, tenant, category, []string{"ONLY"})
	require.NoError(t, err)

	e, err := s.Reserve(ctx, tenant, category, baseTime)
	require.NoError(t, err)
	assert.Equal(t, "ONLY", e.Number)
	assert.Equal(t, numbering.StatusReserved, e.Status)
	assert.True(t, e.ReservedAt.Equal(baseTime))

	_, err = s.Reserve(ctx, tenant, category, baseTime)
	assert.True(t, stdErrors.Is(err, numbering.ErrPoolExhausted))
}

func testConcurrentReserve(t *testing.T, s numbering.IStore) {
	ctx := context.Background()
	const n = 64

	numbers := make([]string, n)
	for i := range numbers {
		numbers[i] = fmt.Sprintf("POL-%04d", i)
	}
	_, err := s.Add(ctx, tenant, category, numbers)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got = make(map[string]int, n)
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			e, err := s.Reserve(gctx, tenant, category, baseTime)
			if err != nil {
				return err
			}
			mu.Lock()
			got[e.Number]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, got, n, "every caller must receive a distinct number")
	for number, count := range got {
		assert.Equal(t, 1, count, "number %s issued %d times", number, count)
	}

	_, err = s.Reserve(ctx, tenant, category, baseTime)
	assert.True(t, stdErrors.Is(err, numbering.ErrPoolExhausted), "N+1th reservation: %v", err)
}

func testConsumeOnce(t *testing.T, s numbering.IStore) {
	ctx := context.Background()
	_, err := s.Add(ctx, tenant, category, []string{"POL-7"})
	require.NoError(t, err)
	_, err = s.Reserve(ctx, tenant, category, baseTime)
	require.NoError(t, err)

	first := newConsumption(key("POL-7"), baseTime.Add(time.Minute))
	require.NoError(t, s.Consume(ctx, first))

	second := newConsumption(key("POL-7"), baseTime.Add(2*time.Minute))
	err = s.Consume(ctx, second)
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, numbering.ErrAlreadyConsumed), "second consume: %v", err)

	stored, err := s.GetConsumption(ctx, key("POL-7"))
	require.NoError(t, err)
	assert.Equal(t, first.GetID(), stored.GetID(), "ledger keeps the first row only")
	assert.Equal(t, first.EntityID, stored.EntityID)
	assert.Equal(t, "PolicyDocument", stored.EntityType)
	assert.True(t, stored.ConsumedAt().Equal(baseTime.Add(time.Minute)))

	st, err := s.Stats(ctx, tenant, category)
	require.NoError(t, err)
	assert.Equal(t, numbering.Stats{Consumed: 1}, st)

	err = s.Release(ctx, key("POL-7"))
	assert.True(t, stdErrors.Is(err, numbering.ErrAlreadyConsumed), "consumed numbers never return: %v", err)

	_, err = s.Reserve(ctx, tenant, category, baseTime)
	assert.True(t, stdErrors.Is(err, numbering.ErrPoolExhausted))
}

func testConsumeRequiresReservation(t *testing.T, s numbering.IStore) {
	ctx := context.Background()

	err := s.Consume(ctx, newConsumption(key("GHOST"), baseTime))
	assert.True(t, stdErrors.Is(err, numbering.ErrNumberNotFound), "unknown number: %v", err)

	_, err = s.Add(ctx, tenant, category, []string{"POL-8"})
	require.NoError(t, err)
	err = s.Consume(ctx, newConsumption(key("POL-8"), baseTime))
	assert.True(t, stdErrors.Is(err, numbering.ErrNotReserved), "available number: %v", err)

	_, err = s.GetConsumption(ctx, key("POL-8"))
	assert.True(t, stdErrors.Is(err, numbering.ErrConsumptionNotFound))

	st, err := s.Stats(ctx, tenant, category)
	require.NoError(t, err)
	assert.Equal(t, numbering.Stats{Available: 1}, st, "rejected consume leaves no ledger row")
}

// testConcurrentConsume 同一预留号码被并发消费：恰有一个成功，其余都是 ErrAlreadyConsumed
func testConcurrentConsume(t *testing.T, s numbering.IStore) {
	ctx := context.Background()
	const n = 16

	_, err := s.Add(ctx, tenant, category, []string{"POL-9"})
	require.NoError(t, err)
	_, err = s.Reserve(ctx, tenant, category, baseTime)
	require.NoError(t, err)

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Consume(ctx, newConsumption(key("POL-9"), baseTime.Add(time.Minute)))
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, stdErrors.Is(err, numbering.ErrAlreadyConsumed), "losing consume: %v", err)
	}
	assert.Equal(t, 1, winners)

	st, err := s.Stats(ctx, tenant, category)
	require.NoError(t, err)
	assert.Equal(t, numbering.Stats{Consumed: 1}, st)
}

func testRelease(t *testing.T, s numbering.IStore) {
	ctx := context.Background()
	_, err := s.Add(ctx, tenant, category, []string{"POL-9"})
	require.NoError(t, err)

	err = s.Release(ctx, key("POL-9"))
	assert.True(t, stdErrors.Is(err, numbering.ErrNotReserved), "available number: %v", err)
	err = s.Release(ctx, key("NOPE"))
	assert.True(t, stdErrors.Is(err, numbering.ErrNumberNotFound), "unknown number: %v", err)

	e, err := s.Reserve(ctx, tenant, category, baseTime)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, e.Key))

	st, err := s.Stats(ctx, tenant, category)
	require.NoError(t, err)
	assert.Equal(t, numbering.Stats{Available: 1}, st)

	again, err := s.Reserve(ctx, tenant, category, baseTime)
	require.NoError(t, err)
	assert.Equal(t, "POL-9", again.Number)
}

func testReleaseExpired(t *testing.T, s numbering.IStore) {
	ctx := context.Background()
	_, err := s.Add(ctx, tenant, category, []string{"OLD", "NEW", "USED"})
	require.NoError(t, err)

	reserved := map[string]time.Time{}
	for _, at := range []time.Time{baseTime, baseTime, baseTime.Add(time.Hour)} {
		e, err := s.Reserve(ctx, tenant, category, at)
		require.NoError(t, err)
		reserved[e.Number] = at
	}
	// 消费一个早期预留，它不应被回收
	var consumed string
	for number, at := range reserved {
		if at.Equal(baseTime) {
			consumed = number
			break
		}
	}
	require.NoError(t, s.Consume(ctx, newConsumption(key(consumed), baseTime.Add(time.Minute))))

	n, err := s.ReleaseExpired(ctx, baseTime.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := s.Stats(ctx, tenant, category)
	require.NoError(t, err)
	assert.Equal(t, numbering.Stats{Available: 1, Reserved: 1, Consumed: 1}, st)

	n, err = s.ReleaseExpired(ctx, baseTime.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}
