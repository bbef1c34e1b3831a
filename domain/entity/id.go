package entity

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID 带归属类型的强类型标识
//
// Owner 仅用于编译期区分不同实体的标识（幻影类型），运行时表示与 uuid.UUID
// 完全相同：16 字节数组，可比较、可作为 map 键，相等性只取决于值本身。
//
//	var p ID[Policy]
//	var q ID[Quote]
//	p = q // 编译错误
type ID[Owner any] [16]byte

// NewID 生成新的全局唯一标识
func NewID[Owner any]() ID[Owner] {
	return ID[Owner](uuid.New())
}

// FromUUID 将原始标识收窄为 ID[Owner]
//
// 不做任何校验：调用方需保证 raw 确实来自 Owner 类型的实体。
func FromUUID[Owner any](raw uuid.UUID) ID[Owner] {
	return ID[Owner](raw)
}

// ParseID 解析字符串形式的标识
func ParseID[Owner any](s string) (ID[Owner], error) {
	raw, err := uuid.Parse(s)
	if err != nil {
		return ID[Owner]{}, fmt.Errorf("parse id %q: %w", s, err)
	}
	return ID[Owner](raw), nil
}

// MustParseID 解析失败时 panic，用于测试与常量
func MustParseID[Owner any](s string) ID[Owner] {
	id, err := ParseID[Owner](s)
	if err != nil {
		panic(err)
	}
	return id
}

// UUID 放宽为原始标识，总是无损
func (id ID[Owner]) UUID() uuid.UUID {
	return uuid.UUID(id)
}

// IsEmpty 是否为零值
func (id ID[Owner]) IsEmpty() bool {
	return id == ID[Owner]{}
}

// IsDefault 与 IsEmpty 等价
func (id ID[Owner]) IsDefault() bool {
	return id.IsEmpty()
}

func (id ID[Owner]) String() string {
	return uuid.UUID(id).String()
}

func (id ID[Owner]) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *ID[Owner]) UnmarshalText(data []byte) error {
	var raw uuid.UUID
	if err := raw.UnmarshalText(data); err != nil {
		return err
	}
	*id = ID[Owner](raw)
	return nil
}

// Value 实现 driver.Valuer，以规范字符串形式落库
func (id ID[Owner]) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan 实现 sql.Scanner
func (id *ID[Owner]) Scan(src any) error {
	var raw uuid.UUID
	if err := raw.Scan(src); err != nil {
		return err
	}
	*id = ID[Owner](raw)
	return nil
}
