// Package numbering 管理租户级业务号码池（保单号、发票号等）
//
// 号码的生命周期：
//
//	Add → available ──Reserve──▶ reserved ──Consume──▶ 台账记录（永久）
//	                  ◀─Release──┘
//
// 预留必须是针对持久化存储的一次原子条件更新，任何号码都不会被两个调用方同时拿到；
// 消费以唯一约束保护，重复消费返回 ErrAlreadyConsumed 而不是静默忽略。
package numbering

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"policykit/domain/entity"
)

// Category 号码类别，例如 "policy"、"invoice"
type Category string

// Status 号码池条目状态
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
)

// Key 号码在池中的唯一键
type Key struct {
	TenantID string   `json:"tenant_id"`
	Category Category `json:"category"`
	Number   string   `json:"number"`
}

// Entry 号码池条目
type Entry struct {
	Key
	Status     Status    `json:"status"`
	ReservedAt time.Time `json:"reserved_at,omitempty"`
}

// AddResult 批量加号结果（不可变）
//
// 输入批次中的每个位置恰好落入 Added 或 Duplicates 之一；
// 批次内重复出现的号码，首次出现计入 Added，之后计入 Duplicates。
type AddResult struct {
	added      []string
	duplicates []string
}

// NewAddResult 构造结果，内部持有副本
func NewAddResult(added, duplicates []string) AddResult {
	return AddResult{added: slices.Clone(added), duplicates: slices.Clone(duplicates)}
}

// AddedNumbers 本次新加入的号码（按输入顺序）
func (r AddResult) AddedNumbers() []string { return slices.Clone(r.added) }

// DuplicateNumbers 已存在而被跳过的号码（按输入顺序）
func (r AddResult) DuplicateNumbers() []string { return slices.Clone(r.duplicates) }

// Total 输入批次大小
func (r AddResult) Total() int { return len(r.added) + len(r.duplicates) }

// Stats 号码池统计
type Stats struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Consumed  int64 `json:"consumed"`
}

// Consumption 号码消费台账记录
//
// 只追加、不更新不删除；CreatedTimestamp 即消费时间。
type Consumption struct {
	entity.Entity[Consumption]

	TenantID   string    `json:"tenant_id"`
	Category   Category  `json:"category"`
	Number     string    `json:"number"`
	EntityID   uuid.UUID `json:"entity_id"`
	EntityType string    `json:"entity_type,omitempty"`
}

// Key 返回被消费号码的池键
func (c *Consumption) Key() Key {
	return Key{TenantID: c.TenantID, Category: c.Category, Number: c.Number}
}

// ConsumedAt 消费时间
func (c *Consumption) ConsumedAt() time.Time {
	return c.CreatedTimestamp()
}

// ConsumeRequest 消费请求
type ConsumeRequest struct {
	TenantID   string
	Category   Category
	Number     string
	EntityID   uuid.UUID
	EntityType string
	// ConsumedAt 为零值时使用 Pool 的时钟
	ConsumedAt time.Time
}

// Key 返回请求对应的池键
func (r ConsumeRequest) Key() Key {
	return Key{TenantID: r.TenantID, Category: r.Category, Number: r.Number}
}
