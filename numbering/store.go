package numbering

import (
	"context"
	"time"
)

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks IStore

// IStore 号码池持久化存储
//
// 实现必须满足：
//   - Add 以 (tenant, category, number) 唯一键插入，冲突不报错而计入 Duplicates；
//   - Reserve 是单次原子条件更新（available → reserved），不得先读后写，
//     池空时立即返回 ErrPoolExhausted；
//   - Consume 以唯一约束写入台账，重复写入返回 ErrAlreadyConsumed，且不新增记录；
//   - 已消费号码永远不会回到 available。
type IStore interface {
	Add(ctx context.Context, tenantID string, category Category, numbers []string) (AddResult, error)
	Reserve(ctx context.Context, tenantID string, category Category, at time.Time) (Entry, error)
	Release(ctx context.Context, key Key) error
	ReleaseExpired(ctx context.Context, before time.Time) (int, error)
	Consume(ctx context.Context, c *Consumption) error
	GetConsumption(ctx context.Context, key Key) (*Consumption, error)
	Stats(ctx context.Context, tenantID string, category Category) (Stats, error)
}
