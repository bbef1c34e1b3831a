// Package redisstore 基于 Redis 集合实现号码池存储
//
// 每个号码池（租户 + 类别）使用同一 hash tag 下的四个键：
//
//	all       SET   已加入的全部号码，SADD 返回值用于判重
//	available SET   可用号码，SPOP 原子地弹出一个
//	reserved  ZSET  已预留号码，score 为预留时间（Unix 毫秒）
//	consumed  HASH  消费台账，HSETNX 保证每个号码至多一条
//
// 预留状态的退出由 ZREM 的返回值裁决：只有把号码从 reserved 中移除的调用方
// 才能放回 available 或保留台账。消费先 HSETNX 占位再 ZREM，失败时删除占位。
package redisstore

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"policykit/domain/entity"
	"policykit/errors"
	"policykit/logging"
	"policykit/numbering"
)

// ICommands 存储依赖的 go-redis 命令子集，便于测试替换
type ICommands interface {
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SPop(ctx context.Context, key string) *redis.StringCmd
	SIsMember(ctx context.Context, key string, member any) *redis.BoolCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	HSetNX(ctx context.Context, key, field string, value any) *redis.BoolCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HExists(ctx context.Context, key, field string) *redis.BoolCmd
	HLen(ctx context.Context, key string) *redis.IntCmd
}

// Config Redis 连接配置
type Config struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// Connect 创建客户端并检查连通性
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WrapError(err, errors.ErrCodeCache, "连接 Redis 失败")
	}
	return client, nil
}

const (
	defaultKeyPrefix = "numberpool:"
	poolSeparator    = "\x1f"
)

// Store Redis 号码池存储
type Store struct {
	client ICommands
	prefix string
	logger logging.Logger
}

// New 创建 Redis 存储；prefix 为空时使用 "numberpool:"
func New(client ICommands, prefix string, logger logging.Logger) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		logger: logging.OrGlobal(logger, "numbering.redisstore"),
	}
}

var _ numbering.IStore = (*Store)(nil)

type poolKeys struct {
	all, available, reserved, consumed string
}

func (s *Store) keys(tenantID string, category numbering.Category) poolKeys {
	base := s.prefix + "{" + tenantID + ":" + string(category) + "}:"
	return poolKeys{
		all:       base + "all",
		available: base + "available",
		reserved:  base + "reserved",
		consumed:  base + "consumed",
	}
}

func (s *Store) registryKey() string { return s.prefix + "pools" }

// consumptionRecord 台账在 HASH 中的 JSON 表示
type consumptionRecord struct {
	ID         string    `json:"id"`
	EntityID   uuid.UUID `json:"entity_id"`
	EntityType string    `json:"entity_type,omitempty"`
	ConsumedAt int64     `json:"consumed_at"`
}

func cacheError(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.WrapError(err, errors.ErrCodeCache, "Redis 操作失败: "+op)
}

// Add 逐个登记号码；中途失败时撤销本次调用已登记的全部号码，
// 使重试时这些号码仍计入 Added 而不是 Duplicates
func (s *Store) Add(ctx context.Context, tenantID string, category numbering.Category, numbers []string) (numbering.AddResult, error) {
	k := s.keys(tenantID, category)
	if err := s.client.SAdd(ctx, s.registryKey(), tenantID+poolSeparator+string(category)).Err(); err != nil {
		return numbering.AddResult{}, cacheError(err, "register pool")
	}

	var added, duplicates []string
	for _, n := range numbers {
		fresh, err := s.client.SAdd(ctx, k.all, n).Result()
		if err != nil {
			s.undoAdd(ctx, k, tenantID, added)
			return numbering.AddResult{}, cacheError(err, "add number")
		}
		if fresh == 0 {
			duplicates = append(duplicates, n)
			continue
		}
		if err := s.client.SAdd(ctx, k.available, n).Err(); err != nil {
			s.undoAdd(ctx, k, tenantID, append(added, n))
			return numbering.AddResult{}, cacheError(err, "add available")
		}
		added = append(added, n)
	}
	return numbering.NewAddResult(added, duplicates), nil
}

// undoAdd 撤销本次调用新登记的号码
func (s *Store) undoAdd(ctx context.Context, k poolKeys, tenantID string, numbers []string) {
	if len(numbers) == 0 {
		return
	}
	members := make([]any, len(numbers))
	for i, n := range numbers {
		members[i] = n
	}
	for _, key := range []string{k.available, k.all} {
		if err := s.client.SRem(ctx, key, members...).Err(); err != nil {
			s.logger.Error(ctx, "撤销号码登记失败",
				logging.String("tenant_id", tenantID),
				logging.String("key", key),
				logging.Int("count", len(numbers)),
				logging.Error(err))
		}
	}
}

func (s *Store) Reserve(ctx context.Context, tenantID string, category numbering.Category, at time.Time) (numbering.Entry, error) {
	k := s.keys(tenantID, category)
	number, err := s.client.SPop(ctx, k.available).Result()
	if stdErrors.Is(err, redis.Nil) {
		return numbering.Entry{}, numbering.PoolExhausted(tenantID, category)
	}
	if err != nil {
		return numbering.Entry{}, cacheError(err, "pop available")
	}

	reservedAt := entity.TruncateToTick(at)
	if err := s.client.ZAdd(ctx, k.reserved, redis.Z{Score: score(reservedAt), Member: number}).Err(); err != nil {
		// 弹出的号码放回可用集合，不让它悬空
		if rbErr := s.client.SAdd(ctx, k.available, number).Err(); rbErr != nil {
			s.logger.Error(ctx, "预留失败且号码未能放回可用集合",
				logging.String("tenant_id", tenantID),
				logging.String("category", string(category)),
				logging.String("number", number),
				logging.Error(rbErr))
		}
		return numbering.Entry{}, cacheError(err, "mark reserved")
	}

	return numbering.Entry{
		Key:        numbering.Key{TenantID: tenantID, Category: category, Number: number},
		Status:     numbering.StatusReserved,
		ReservedAt: reservedAt,
	}, nil
}

// score 预留时间的 ZSET 分值；tick 超出 float64 精确整数范围，使用毫秒
func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// classify 号码不在 reserved 中时判断其真实状态
func (s *Store) classify(ctx context.Context, key numbering.Key) error {
	k := s.keys(key.TenantID, key.Category)
	consumed, err := s.client.HExists(ctx, k.consumed, key.Number).Result()
	if err != nil {
		return cacheError(err, "check consumed")
	}
	if consumed {
		return numbering.KeyError(numbering.ErrAlreadyConsumed, key)
	}
	known, err := s.client.SIsMember(ctx, k.all, key.Number).Result()
	if err != nil {
		return cacheError(err, "check membership")
	}
	if known {
		return numbering.KeyError(numbering.ErrNotReserved, key)
	}
	return numbering.KeyError(numbering.ErrNumberNotFound, key)
}

func (s *Store) Release(ctx context.Context, key numbering.Key) error {
	k := s.keys(key.TenantID, key.Category)
	removed, err := s.client.ZRem(ctx, k.reserved, key.Number).Result()
	if err != nil {
		return cacheError(err, "release")
	}
	if removed == 0 {
		return s.classify(ctx, key)
	}
	return cacheError(s.client.SAdd(ctx, k.available, key.Number).Err(), "release")
}

func (s *Store) ReleaseExpired(ctx context.Context, before time.Time) (int, error) {
	pools, err := s.client.SMembers(ctx, s.registryKey()).Result()
	if err != nil {
		return 0, cacheError(err, "list pools")
	}

	released := 0
	maxScore := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	for _, p := range pools {
		tenantID, category, ok := strings.Cut(p, poolSeparator)
		if !ok {
			continue
		}
		k := s.keys(tenantID, numbering.Category(category))
		expired, err := s.client.ZRangeByScore(ctx, k.reserved, &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
		if err != nil {
			return released, cacheError(err, "scan reservations")
		}
		for _, n := range expired {
			removed, err := s.client.ZRem(ctx, k.reserved, n).Result()
			if err != nil {
				return released, cacheError(err, "release expired")
			}
			if removed == 0 {
				// 期间已被消费或释放
				continue
			}
			if err := s.client.SAdd(ctx, k.available, n).Err(); err != nil {
				return released, cacheError(err, "release expired")
			}
			released++
		}
	}
	return released, nil
}

// Consume 先以 HSETNX 写台账占位，再从 reserved 中移除号码
//
// 并发的重复消费由 HSETNX 直接判定为 ErrAlreadyConsumed。号码未处于预留状态时删除刚写入的台账，
// 删除前的短暂窗口内 GetConsumption 可能读到该记录。
func (s *Store) Consume(ctx context.Context, c *numbering.Consumption) error {
	key := c.Key()
	k := s.keys(key.TenantID, key.Category)

	raw, err := json.Marshal(consumptionRecord{
		ID:         c.GetID().String(),
		EntityID:   c.EntityID,
		EntityType: c.EntityType,
		ConsumedAt: c.CreatedTicks(),
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "序列化消费记录失败")
	}
	written, err := s.client.HSetNX(ctx, k.consumed, key.Number, raw).Result()
	if err != nil {
		return cacheError(err, "write ledger")
	}
	if !written {
		return numbering.KeyError(numbering.ErrAlreadyConsumed, key)
	}

	removed, err := s.client.ZRem(ctx, k.reserved, key.Number).Result()
	if err == nil && removed == 1 {
		return nil
	}
	if delErr := s.client.HDel(ctx, k.consumed, key.Number).Err(); delErr != nil {
		s.logger.Error(ctx, "撤销台账记录失败",
			logging.String("tenant_id", key.TenantID),
			logging.String("category", string(key.Category)),
			logging.String("number", key.Number),
			logging.Error(delErr))
	}
	if err != nil {
		return cacheError(err, "consume")
	}
	return s.classify(ctx, key)
}

func (s *Store) GetConsumption(ctx context.Context, key numbering.Key) (*numbering.Consumption, error) {
	k := s.keys(key.TenantID, key.Category)
	raw, err := s.client.HGet(ctx, k.consumed, key.Number).Result()
	if stdErrors.Is(err, redis.Nil) {
		return nil, numbering.KeyError(numbering.ErrConsumptionNotFound, key)
	}
	if err != nil {
		return nil, cacheError(err, "get consumption")
	}

	var rec consumptionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeCache, "消费记录损坏")
	}
	id, err := entity.ParseID[numbering.Consumption](rec.ID)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeCache, "消费记录 id 损坏")
	}

	c := &numbering.Consumption{
		TenantID:   key.TenantID,
		Category:   key.Category,
		Number:     key.Number,
		EntityID:   rec.EntityID,
		EntityType: rec.EntityType,
	}
	c.Reconstitute(id, rec.ConsumedAt)
	return c, nil
}

func (s *Store) Stats(ctx context.Context, tenantID string, category numbering.Category) (numbering.Stats, error) {
	k := s.keys(tenantID, category)
	available, err := s.client.SCard(ctx, k.available).Result()
	if err != nil {
		return numbering.Stats{}, cacheError(err, "stats")
	}
	reserved, err := s.client.ZCard(ctx, k.reserved).Result()
	if err != nil {
		return numbering.Stats{}, cacheError(err, "stats")
	}
	consumed, err := s.client.HLen(ctx, k.consumed).Result()
	if err != nil {
		return numbering.Stats{}, cacheError(err, "stats")
	}
	return numbering.Stats{Available: available, Reserved: reserved, Consumed: consumed}, nil
}
