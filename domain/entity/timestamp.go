package entity

import "time"

// TickDuration 一个 tick 的时长
//
// 时间戳以自 Unix 纪元起的 tick 数（int64）持久化，精度 100ns，
// int64 可覆盖纪元前后约 29000 年。
const TickDuration = 100 * time.Nanosecond

const (
	ticksPerSecond = int64(time.Second / TickDuration)
	nanosPerTick   = int64(TickDuration)
)

// ToTicks 将时间点转换为 tick 数，不足一个 tick 的部分向下取整
func ToTicks(t time.Time) int64 {
	sec := t.Unix()
	nsec := int64(t.Nanosecond())
	return sec*ticksPerSecond + nsec/nanosPerTick
}

// FromTicks 将 tick 数还原为 UTC 时间点
func FromTicks(ticks int64) time.Time {
	sec := ticks / ticksPerSecond
	rem := ticks % ticksPerSecond
	if rem < 0 {
		sec--
		rem += ticksPerSecond
	}
	return time.Unix(sec, rem*nanosPerTick).UTC()
}

// TruncateToTick 截断到 tick 精度
func TruncateToTick(t time.Time) time.Time {
	return FromTicks(ToTicks(t))
}
