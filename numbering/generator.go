package numbering

import (
	"fmt"
	"strconv"
	"sync"

	"policykit/codegen/snowflake"
)

// INumberGenerator 生成候选号码
//
// 生成器只负责产出候选值；是否与池中已有号码冲突由 AddNumbers 判定。
type INumberGenerator interface {
	Generate(count int) ([]string, error)
}

// SequentialGenerator 前缀 + 定宽序号，例如 POL-000001
//
// 序号在进程内递增；多进程共用同一前缀时应为每个进程分配不同的起点，
// 或改用 SnowflakeGenerator。
type SequentialGenerator struct {
	mu     sync.Mutex
	prefix string
	width  int
	next   int64
}

// NewSequentialGenerator 创建顺序生成器，start 为第一个序号
func NewSequentialGenerator(prefix string, start int64, width int) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix, width: width, next: start}
}

func (g *SequentialGenerator) Generate(count int) ([]string, error) {
	if count < 0 {
		return nil, fmt.Errorf("count must not be negative: %d", count)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("%s%0*d", g.prefix, g.width, g.next)
		g.next++
	}
	return out, nil
}

// SnowflakeGenerator 前缀 + 雪花ID（36 进制），跨进程不冲突
type SnowflakeGenerator struct {
	prefix string
	gen    *snowflake.Generator
}

// NewSnowflakeGenerator 创建雪花生成器
func NewSnowflakeGenerator(prefix string, gen *snowflake.Generator) *SnowflakeGenerator {
	return &SnowflakeGenerator{prefix: prefix, gen: gen}
}

func (g *SnowflakeGenerator) Generate(count int) ([]string, error) {
	if count < 0 {
		return nil, fmt.Errorf("count must not be negative: %d", count)
	}
	out := make([]string, count)
	for i := range out {
		id, err := g.gen.NextID()
		if err != nil {
			return nil, err
		}
		out[i] = g.prefix + strconv.FormatInt(id, 36)
	}
	return out, nil
}
