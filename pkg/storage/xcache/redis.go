package xcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// defaultScanCount 每次 SCAN 的 COUNT 提示。
	defaultScanCount = 500

	// delBatchSize 单个 pipeline 中 DEL 的最大 key 数。
	delBatchSize = 500
)

// RedisStore 基于 go-redis 的 Store 实现。支持单机、哨兵与集群客户端。
type RedisStore struct {
	client    redis.UniversalClient
	scanCount int64
}

// RedisOption 配置 RedisStore。
type RedisOption func(*RedisStore)

// WithScanCount 设置 SCAN 的 COUNT 提示。
func WithScanCount(n int64) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.scanCount = n
		}
	}
}

// NewRedisStore 创建 RedisStore。client 的生命周期由调用方管理。
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	s := &RedisStore{client: client, scanCount: defaultScanCount}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Client 返回底层客户端。
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("xcache: redis get: %w", err)
	}
	return data, nil
}

func (s *RedisStore) SetWithExpiry(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("xcache: redis set: %w", err)
	}
	return nil
}

// Keys 使用 SCAN 游标遍历，不使用会阻塞服务端的 KEYS 命令。
// 集群模式下遍历每个主节点。
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var mu sync.Mutex
	collect := func(ctx context.Context, c redis.Cmdable) error {
		iter := c.Scan(ctx, 0, pattern, s.scanCount).Iterator()
		for iter.Next(ctx) {
			mu.Lock()
			seen[iter.Val()] = struct{}{}
			mu.Unlock()
		}
		return iter.Err()
	}

	var err error
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return collect(ctx, node)
		})
	} else {
		err = collect(ctx, s.client)
	}
	if err != nil {
		return nil, fmt.Errorf("xcache: redis scan %q: %w", pattern, err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys, nil
}

// Del 通过 pipeline 批量删除，每批最多 delBatchSize 个 key。
// 逐 key 发送 DEL 以兼容集群模式下 key 分布在不同槽位的情况。
func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	var deleted int64
	for start := 0; start < len(keys); start += delBatchSize {
		end := min(start+delBatchSize, len(keys))

		cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range keys[start:end] {
				pipe.Del(ctx, k)
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("xcache: redis del: %w", err)
		}
		for _, cmd := range cmds {
			if ic, ok := cmd.(*redis.IntCmd); ok {
				deleted += ic.Val()
			}
		}
	}
	return deleted, nil
}

var _ Store = (*RedisStore)(nil)
