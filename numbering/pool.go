package numbering

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"policykit/domain/entity"
	"policykit/errors"
	"policykit/logging"
	"policykit/patterns/retry"
)

// Pool 号码池服务
//
// 在 IStore 之上提供参数校验、日志、指标与时钟；并发安全性完全由存储保证，
// Pool 自身不持有任何锁，可以在多个进程中同时运行。
type Pool struct {
	store   IStore
	logger  logging.Logger
	metrics *Metrics
	now     func() time.Time
	addCfg  retry.Config
	ttl     time.Duration
}

// Option Pool 选项
type Option func(*Pool)

// WithLogger 设置日志
func WithLogger(l logging.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(m *Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithAddRetry 设置批量加号的重试策略
func WithAddRetry(cfg retry.Config) Option {
	return func(p *Pool) { p.addCfg = cfg }
}

// WithReservationTTL 设置预留有效期，ReleaseExpired 依此回收
func WithReservationTTL(ttl time.Duration) Option {
	return func(p *Pool) { p.ttl = ttl }
}

// NewPool 创建号码池服务
func NewPool(store IStore, opts ...Option) *Pool {
	p := &Pool{
		store:  store,
		logger: logging.OrGlobal(nil, "numbering.pool"),
		now:    time.Now,
		addCfg: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.addCfg.Retryable == nil {
		p.addCfg.Retryable = retryableAddError
	}
	return p
}

// retryableAddError 只重试基础设施错误；参数错误等业务错误直接返回
func retryableAddError(err error) bool {
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	code := errors.GetErrorCode(err)
	return code == errors.ErrCodeDatabase || code == errors.ErrCodeCache || code == errors.ErrCodeInternal
}

func validatePool(tenantID string, category Category) error {
	if strings.TrimSpace(tenantID) == "" {
		return invalidInput("tenant id is required")
	}
	if strings.TrimSpace(string(category)) == "" {
		return invalidInput("category is required")
	}
	return nil
}

func validateKey(key Key) error {
	if err := validatePool(key.TenantID, key.Category); err != nil {
		return err
	}
	if strings.TrimSpace(key.Number) == "" {
		return invalidInput("number is required")
	}
	return nil
}

// AddNumbers 批量加入候选号码
//
// 已存在的号码计入 DuplicateNumbers 而不报错；重复调用同一批次不会新增任何号码，
// 因此失败时可以安全重试。
func (p *Pool) AddNumbers(ctx context.Context, tenantID string, category Category, candidates []string) (AddResult, error) {
	if err := validatePool(tenantID, category); err != nil {
		return AddResult{}, err
	}
	for _, n := range candidates {
		if strings.TrimSpace(n) == "" {
			return AddResult{}, invalidInput("candidate numbers must not be blank")
		}
	}
	if len(candidates) == 0 {
		return AddResult{}, nil
	}

	var result AddResult
	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		res, err := p.store.Add(ctx, tenantID, category, candidates)
		if err != nil {
			p.logger.Warn(ctx, "批量加号失败",
				logging.String("tenant_id", tenantID),
				logging.String("category", string(category)),
				logging.Int("attempt", attempt),
				logging.Error(err))
			return err
		}
		result = res
		return nil
	}, p.addCfg)
	if err != nil {
		return AddResult{}, err
	}

	p.metrics.observeAdd(category, result)
	p.logger.Info(ctx, "号码已加入号码池",
		logging.String("tenant_id", tenantID),
		logging.String("category", string(category)),
		logging.Int("added", len(result.added)),
		logging.Int("duplicates", len(result.duplicates)))
	return result, nil
}

// GenerateNumbers 用 gen 生成 count 个候选号码并加入号码池
func (p *Pool) GenerateNumbers(ctx context.Context, tenantID string, category Category, gen INumberGenerator, count int) (AddResult, error) {
	if gen == nil {
		return AddResult{}, invalidInput("generator is required")
	}
	if count <= 0 {
		return AddResult{}, invalidInput("count must be positive")
	}
	candidates, err := gen.Generate(count)
	if err != nil {
		return AddResult{}, errors.WrapError(err, errors.ErrCodeInternal, "生成候选号码失败")
	}
	return p.AddNumbers(ctx, tenantID, category, candidates)
}

// ReserveNext 原子地预留一个可用号码
//
// 池空时立即返回 ErrPoolExhausted，不等待补充。失败不会自动重试：
// 结果不明确的预留重试可能导致重复发号。
func (p *Pool) ReserveNext(ctx context.Context, tenantID string, category Category) (Entry, error) {
	if err := validatePool(tenantID, category); err != nil {
		return Entry{}, err
	}

	start := time.Now()
	e, err := p.store.Reserve(ctx, tenantID, category, p.now())
	if err != nil {
		exhausted := stdErrors.Is(err, ErrPoolExhausted)
		if exhausted {
			p.metrics.observeReserve(category, start, true)
			p.logger.Warn(ctx, "号码池已耗尽",
				logging.String("tenant_id", tenantID),
				logging.String("category", string(category)))
		} else {
			p.logger.Error(ctx, "预留号码失败",
				logging.String("tenant_id", tenantID),
				logging.String("category", string(category)),
				logging.Error(err))
		}
		return Entry{}, err
	}

	p.metrics.observeReserve(category, start, false)
	p.logger.Debug(ctx, "号码已预留",
		logging.String("tenant_id", tenantID),
		logging.String("category", string(category)),
		logging.String("number", e.Number))
	return e, nil
}

// Release 放弃一个尚未消费的预留，号码回到可用状态
func (p *Pool) Release(ctx context.Context, key Key) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := p.store.Release(ctx, key); err != nil {
		return err
	}
	p.metrics.observeRelease(key.Category, 1)
	p.logger.Info(ctx, "预留已释放",
		logging.String("tenant_id", key.TenantID),
		logging.String("category", string(key.Category)),
		logging.String("number", key.Number))
	return nil
}

// ReleaseExpired 回收超过有效期仍未消费的预留
func (p *Pool) ReleaseExpired(ctx context.Context) (int, error) {
	if p.ttl <= 0 {
		return 0, invalidInput("reservation ttl is not configured")
	}
	before := p.now().Add(-p.ttl)
	n, err := p.store.ReleaseExpired(ctx, before)
	if err != nil {
		return n, err
	}
	p.metrics.observeRelease("*", n)
	if n > 0 {
		p.logger.Info(ctx, "过期预留已回收", logging.Int("released", n), logging.Duration("ttl", p.ttl))
	}
	return n, nil
}

// MarkConsumed 将已预留号码永久分配给实体，写入消费台账
//
// 同一号码第二次调用返回 ErrAlreadyConsumed 且不新增台账记录。
func (p *Pool) MarkConsumed(ctx context.Context, req ConsumeRequest) (*Consumption, error) {
	key := req.Key()
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if req.EntityID == uuid.Nil {
		return nil, invalidInput("entity id is required")
	}

	at := req.ConsumedAt
	if at.IsZero() {
		at = p.now()
	}
	c := &Consumption{
		Entity:     entity.NewEntity(entity.NewID[Consumption](), at),
		TenantID:   req.TenantID,
		Category:   req.Category,
		Number:     req.Number,
		EntityID:   req.EntityID,
		EntityType: req.EntityType,
	}

	if err := p.store.Consume(ctx, c); err != nil {
		if stdErrors.Is(err, ErrAlreadyConsumed) {
			p.metrics.observeConsume(req.Category, true)
			p.logger.Error(ctx, "号码重复消费被拒绝",
				logging.String("tenant_id", req.TenantID),
				logging.String("category", string(req.Category)),
				logging.String("number", req.Number),
				logging.Stringer("entity_id", req.EntityID))
		}
		return nil, err
	}

	p.metrics.observeConsume(req.Category, false)
	p.logger.Info(ctx, "号码已消费",
		logging.String("tenant_id", req.TenantID),
		logging.String("category", string(req.Category)),
		logging.String("number", req.Number),
		logging.Stringer("entity_id", req.EntityID),
		logging.Stringer("consumption_id", c.GetID()))
	return c, nil
}

// Consumption 查询号码的消费记录
func (p *Pool) Consumption(ctx context.Context, key Key) (*Consumption, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return p.store.GetConsumption(ctx, key)
}

// Stats 号码池统计
func (p *Pool) Stats(ctx context.Context, tenantID string, category Category) (Stats, error) {
	if err := validatePool(tenantID, category); err != nil {
		return Stats{}, err
	}
	return p.store.Stats(ctx, tenantID, category)
}
