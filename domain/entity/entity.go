// Package entity 定义持久化实体共享的身份与时间戳模型
//
// 设计原则：
// 1. 组合优于继承 - Entity 提供身份与创建时间，MutableEntity 额外持有最后修改时间
// 2. 泛型支持 - ID[Owner] 在编译期阻止不同实体的标识混用
// 3. 能力接口 - 调用方通过 IHasIdentity / IMutable 访问，而不是依赖具体结构
package entity

import (
	"time"

	"github.com/google/uuid"
)

// IHasIdentity 拥有不可变身份与创建时间的实体
type IHasIdentity[Owner any] interface {
	GetID() ID[Owner]
	CreatedTimestamp() time.Time
}

// IMutable 可变实体能力
type IMutable interface {
	CreatedTimestamp() time.Time
	LastModifiedTimestamp() time.Time
	SetLastModifiedTimestamp(t time.Time) error
}

// IAdditionalPropertiesSupport 实体种类级别的扩展属性声明
//
// 应在值接收者上实现并返回常量，使其成为类型属性而非实例属性。
type IAdditionalPropertiesSupport interface {
	SupportsAdditionalProperties() bool
}

// SupportsAdditionalProperties 判断实体种类 E 是否允许携带扩展属性
func SupportsAdditionalProperties[E any]() bool {
	var zero E
	if s, ok := any(zero).(IAdditionalPropertiesSupport); ok {
		return s.SupportsAdditionalProperties()
	}
	if s, ok := any(&zero).(IAdditionalPropertiesSupport); ok {
		return s.SupportsAdditionalProperties()
	}
	return false
}

// Entity 身份 + 创建时间，供具体实体嵌入
//
// 字段不导出：身份在构造后不可变。
type Entity[Owner any] struct {
	id           ID[Owner]
	createdTicks int64
}

// NewEntity 创建新的逻辑实体
func NewEntity[Owner any](id ID[Owner], createdAt time.Time) Entity[Owner] {
	return Entity[Owner]{id: id, createdTicks: ToTicks(createdAt)}
}

// GetID 返回实体标识
func (e Entity[Owner]) GetID() ID[Owner] {
	return e.id
}

// RawID 返回放宽后的原始标识
func (e Entity[Owner]) RawID() uuid.UUID {
	return e.id.UUID()
}

// CreatedTimestamp 创建时间（UTC，tick 精度）
func (e Entity[Owner]) CreatedTimestamp() time.Time {
	return FromTicks(e.createdTicks)
}

// CreatedTicks 创建时间的原始 tick 数
func (e Entity[Owner]) CreatedTicks() int64 {
	return e.createdTicks
}

// Reconstitute 从存储还原实体
//
// 仅供持久化层使用：在零值实体上写入已持久化的身份与时间，
// 不得用于创建新的逻辑实体。已有 id 的实体保持不变。
func (e *Entity[Owner]) Reconstitute(id ID[Owner], createdTicks int64) {
	if !e.id.IsEmpty() {
		return
	}
	e.id = id
	e.createdTicks = createdTicks
}

// MutableEntity 在 Entity 基础上维护最后修改时间
//
// 不变式：LastModifiedTimestamp >= CreatedTimestamp。
type MutableEntity[Owner any] struct {
	Entity[Owner]
	lastModifiedTicks int64
}

// NewMutableEntity 创建可变实体，最后修改时间等于创建时间
func NewMutableEntity[Owner any](id ID[Owner], createdAt time.Time) MutableEntity[Owner] {
	base := NewEntity(id, createdAt)
	return MutableEntity[Owner]{Entity: base, lastModifiedTicks: base.createdTicks}
}

// LastModifiedTimestamp 最后修改时间
func (m MutableEntity[Owner]) LastModifiedTimestamp() time.Time {
	return FromTicks(m.lastModifiedTicks)
}

// LastModifiedTicks 最后修改时间的原始 tick 数
func (m MutableEntity[Owner]) LastModifiedTicks() int64 {
	return m.lastModifiedTicks
}

// SetLastModifiedTimestamp 更新最后修改时间
//
// 早于创建时间的值被拒绝，实体保持不变。
func (m *MutableEntity[Owner]) SetLastModifiedTimestamp(t time.Time) error {
	ticks, err := m.modifiedTicks(t)
	if err != nil {
		return err
	}
	m.lastModifiedTicks = ticks
	return nil
}

// Mutate 执行一次状态变更并在成功后刷新最后修改时间
//
// now 早于创建时间时 fn 不会被调用；fn 返回错误时时间戳不变。
// 调用方仍可直接使用 SetLastModifiedTimestamp，Mutate 只是把“变更即刷新”收敛到一个入口。
func (m *MutableEntity[Owner]) Mutate(now time.Time, fn func() error) error {
	ticks, err := m.modifiedTicks(now)
	if err != nil {
		return err
	}
	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	m.lastModifiedTicks = ticks
	return nil
}

func (m *MutableEntity[Owner]) modifiedTicks(t time.Time) (int64, error) {
	ticks := ToTicks(t)
	if ticks < m.createdTicks {
		return 0, &EntityError{
			Code: ErrModifiedBeforeCreated.Code,
			Message: "last modified timestamp " + FromTicks(ticks).Format(time.RFC3339Nano) +
				" precedes created timestamp " + m.CreatedTimestamp().Format(time.RFC3339Nano),
		}
	}
	return ticks, nil
}

// ReconstituteMutable 从存储还原可变实体，仅供持久化层使用；已有 id 时为空操作
func (m *MutableEntity[Owner]) ReconstituteMutable(id ID[Owner], createdTicks, lastModifiedTicks int64) {
	if !m.id.IsEmpty() {
		return
	}
	m.Reconstitute(id, createdTicks)
	m.lastModifiedTicks = max(lastModifiedTicks, createdTicks)
}

// Extensions 开放式键值扩展，供声明支持扩展属性的实体种类嵌入
type Extensions struct {
	AdditionalProperties map[string]any `json:"additional_properties,omitempty"`
}

// SupportsAdditionalProperties 嵌入 Extensions 的实体种类支持扩展属性
func (Extensions) SupportsAdditionalProperties() bool { return true }

// SetProperty 写入扩展属性
func (x *Extensions) SetProperty(key string, value any) {
	if x.AdditionalProperties == nil {
		x.AdditionalProperties = make(map[string]any)
	}
	x.AdditionalProperties[key] = value
}

// Property 读取扩展属性
func (x Extensions) Property(key string) (any, bool) {
	v, ok := x.AdditionalProperties[key]
	return v, ok
}

// EntityError 实体错误
type EntityError struct {
	Code    string
	Message string
}

func (e *EntityError) Error() string {
	return e.Message
}

// ErrModifiedBeforeCreated 用于 errors.Is 判断
var ErrModifiedBeforeCreated = &EntityError{Code: "MODIFIED_BEFORE_CREATED", Message: "last modified timestamp precedes created timestamp"}

// ErrNilEvent 记录空事件
var ErrNilEvent = &EntityError{Code: "NIL_EVENT", Message: "event must not be nil"}

// Is 按 Code 匹配
func (e *EntityError) Is(target error) bool {
	t, ok := target.(*EntityError)
	return ok && t.Code == e.Code
}
