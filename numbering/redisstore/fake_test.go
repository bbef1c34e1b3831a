package redisstore_test

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// fakeRedis 以内存数据结构模拟存储用到的命令，每条命令在锁内原子执行
type fakeRedis struct {
	mu     sync.Mutex
	sets   map[string]map[string]struct{}
	zsets  map[string]map[string]float64
	hashes map[string]map[string]string

	// failSAdd 非空时，对该后缀键的 SADD 返回错误；
	// failSAddNth 大于 0 时只有第 N 次匹配的调用失败
	failSAdd    string
	failSAddNth int
	saddMatched int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		sets:   map[string]map[string]struct{}{},
		zsets:  map[string]map[string]float64{},
		hashes: map[string]map[string]string{},
	}
}

func member(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func (f *fakeRedis) SAdd(_ context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSAdd != "" && strings.HasSuffix(key, f.failSAdd) {
		f.saddMatched++
		if f.failSAddNth == 0 || f.saddMatched == f.failSAddNth {
			return redis.NewIntResult(0, fmt.Errorf("connection reset"))
		}
	}
	set, ok := f.sets[key]
	if !ok {
		set = map[string]struct{}{}
		f.sets[key] = set
	}
	var added int64
	for _, m := range members {
		if _, exists := set[member(m)]; !exists {
			set[member(m)] = struct{}{}
			added++
		}
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeRedis) SRem(_ context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, m := range members {
		if _, ok := f.sets[key][member(m)]; ok {
			delete(f.sets[key], member(m))
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeRedis) SPop(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for m := range f.sets[key] {
		delete(f.sets[key], m)
		return redis.NewStringResult(m, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) SIsMember(_ context.Context, key string, m any) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sets[key][member(m)]
	return redis.NewBoolResult(ok, nil)
}

func (f *fakeRedis) SCard(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.sets[key])), nil)
}

func (f *fakeRedis) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zsets[key]
	if !ok {
		z = map[string]float64{}
		f.zsets[key] = z
	}
	var added int64
	for _, m := range members {
		if _, exists := z[member(m.Member)]; !exists {
			added++
		}
		z[member(m.Member)] = m.Score
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeRedis) ZRem(_ context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, m := range members {
		if _, ok := f.zsets[key][member(m)]; ok {
			delete(f.zsets[key], member(m))
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func parseBound(s string) (float64, bool) {
	switch s {
	case "-inf":
		return math.Inf(-1), false
	case "+inf", "inf":
		return math.Inf(1), false
	}
	exclusive := strings.HasPrefix(s, "(")
	v, _ := strconv.ParseFloat(strings.TrimPrefix(s, "("), 64)
	return v, exclusive
}

func (f *fakeRedis) ZRangeByScore(_ context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	lo, loEx := parseBound(opt.Min)
	hi, hiEx := parseBound(opt.Max)

	var out []string
	for m, score := range f.zsets[key] {
		if score < lo || (loEx && score == lo) || score > hi || (hiEx && score == hi) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return f.zsets[key][out[i]] < f.zsets[key][out[j]] })
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) ZCard(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.zsets[key])), nil)
}

func (f *fakeRedis) HSetNX(_ context.Context, key, field string, value any) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	if _, exists := h[field]; exists {
		return redis.NewBoolResult(false, nil)
	}
	h[field] = member(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) HDel(_ context.Context, key string, fields ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, field := range fields {
		if _, ok := f.hashes[key][field]; ok {
			delete(f.hashes[key], field)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeRedis) HGet(_ context.Context, key, field string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.hashes[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) HExists(_ context.Context, key, field string) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.hashes[key][field]
	return redis.NewBoolResult(ok, nil)
}

func (f *fakeRedis) HLen(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.hashes[key])), nil)
}

type failingZAdd struct{ *fakeRedis }

func (f *failingZAdd) ZAdd(context.Context, string, ...redis.Z) *redis.IntCmd {
	return redis.NewIntResult(0, fmt.Errorf("READONLY You can't write against a read only replica"))
}
