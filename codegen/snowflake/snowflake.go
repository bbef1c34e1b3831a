// Package snowflake 提供分布式ID生成器（雪花算法）
//
// 号码池用它批量生成跨进程不冲突、按时间递增的候选号码。
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// 起始时间戳 (2023-01-01 00:00:00 UTC)
	epoch int64 = 1672531200000

	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	maxWorkerID     = -1 ^ (-1 << workerIDBits)     // 31
	maxDatacenterID = -1 ^ (-1 << datacenterIDBits) // 31
	maxSequence     = -1 ^ (-1 << sequenceBits)     // 4095

	workerIDShift      = sequenceBits
	datacenterIDShift  = sequenceBits + workerIDBits
	timestampLeftShift = sequenceBits + workerIDBits + datacenterIDBits
)

var (
	ErrDatacenterIDRange = errors.New("datacenter ID out of range")
	ErrWorkerIDRange     = errors.New("worker ID out of range")
	ErrClockBackwards    = errors.New("clock moved backwards, refusing to generate id")
)

// Generator Snowflake ID生成器
type Generator struct {
	mu            sync.Mutex
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64
	now           func() time.Time
}

// Option 生成器选项
type Option func(*Generator)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator 创建ID生成器，datacenterID 与 workerID 取值 0..31
func NewGenerator(datacenterID, workerID int64, opts ...Option) (*Generator, error) {
	if datacenterID < 0 || datacenterID > maxDatacenterID {
		return nil, ErrDatacenterIDRange
	}
	if workerID < 0 || workerID > maxWorkerID {
		return nil, ErrWorkerIDRange
	}
	g := &Generator{
		datacenterID:  datacenterID,
		workerID:      workerID,
		lastTimestamp: -1,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) millis() int64 {
	return g.now().UnixMilli()
}

// NextID 生成下一个ID
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.millis()
	if now < g.lastTimestamp {
		return 0, ErrClockBackwards
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= g.lastTimestamp {
				time.Sleep(100 * time.Microsecond)
				now = g.millis()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = now

	return ((now - epoch) << timestampLeftShift) |
		(g.datacenterID << datacenterIDShift) |
		(g.workerID << workerIDShift) |
		g.sequence, nil
}

// Components ID 的组成部分
type Components struct {
	Timestamp    time.Time
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

// Parse 解析ID
func Parse(id int64) Components {
	return Components{
		Timestamp:    time.UnixMilli((id >> timestampLeftShift) + epoch).UTC(),
		DatacenterID: (id >> datacenterIDShift) & maxDatacenterID,
		WorkerID:     (id >> workerIDShift) & maxWorkerID,
		Sequence:     id & maxSequence,
	}
}
