package xcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemorySize MemoryStore 默认容量（条目数）。
const DefaultMemorySize = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore 是进程内 Store 实现，基于 LRU，带逐条过期。
// 容量满时淘汰最久未使用的条目。
type MemoryStore struct {
	cache *lru.Cache[string, memoryEntry]
	now   func() time.Time
}

// MemoryOption 配置 MemoryStore。
type MemoryOption func(*MemoryStore)

// WithMemoryClock 注入时钟，测试中使用。
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore 创建容量为 size 的 MemoryStore。
func NewMemoryStore(size int, opts ...MemoryOption) (*MemoryStore, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	cache, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	s := &MemoryStore{cache: cache, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if e.expired(s.now()) {
		s.cache.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// SetWithExpiry 写入 key。ttl <= 0 表示不过期。
func (s *MemoryStore) SetWithExpiry(_ context.Context, key string, ttl time.Duration, value []byte) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.cache.Add(key, e)
	return nil
}

// Keys 返回未过期且匹配模式的 key。模式语法同 Redis：* ? 与 \ 转义。
func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	now := s.now()
	var out []string
	for _, k := range s.cache.Keys() {
		e, ok := s.cache.Peek(k)
		if !ok || e.expired(now) {
			continue
		}
		if globMatch(pattern, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) (int64, error) {
	var n int64
	for _, k := range keys {
		if s.cache.Remove(k) {
			n++
		}
	}
	return n, nil
}

// Len 返回当前条目数（含尚未清理的过期条目）。
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// globMatch 实现 Redis KEYS/SCAN 的模式语法：* 匹配任意串（含 / 与 :），? 匹配单个字符，
// [abc]、[a-z]、[^a] 匹配字符类，\ 转义。
func globMatch(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatch(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		case '[':
			if s == "" {
				return false
			}
			rest, ok := matchClass(pattern[1:], s[0])
			if !ok {
				return false
			}
			pattern, s = rest, s[1:]
		case '\\':
			if len(pattern) > 1 {
				pattern = pattern[1:]
			}
			fallthrough
		default:
			if s == "" || s[0] != pattern[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		}
	}
	return s == ""
}

// matchClass 匹配 '[' 之后的字符类，返回 ']' 之后的模式。
// 与 Redis 一致：未闭合的类延伸到模式末尾，逆序区间 [z-a] 按正序处理。
func matchClass(pattern string, c byte) (string, bool) {
	negate := false
	if len(pattern) > 0 && pattern[0] == '^' {
		negate = true
		pattern = pattern[1:]
	}
	matched := false
	for len(pattern) > 0 && pattern[0] != ']' {
		switch {
		case pattern[0] == '\\' && len(pattern) >= 2:
			if pattern[1] == c {
				matched = true
			}
			pattern = pattern[2:]
		case len(pattern) >= 3 && pattern[1] == '-' && pattern[2] != ']':
			lo, hi := pattern[0], pattern[2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			pattern = pattern[3:]
		default:
			if pattern[0] == c {
				matched = true
			}
			pattern = pattern[1:]
		}
	}
	if len(pattern) > 0 {
		pattern = pattern[1:]
	}
	return pattern, matched != negate
}

var _ Store = (*MemoryStore)(nil)
