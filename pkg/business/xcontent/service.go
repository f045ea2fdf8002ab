package xcontent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/omeyang/xcrm/pkg/business/xforce"
	"github.com/omeyang/xcrm/pkg/storage/xcache"
)

// ErrNilRecords 表示未提供记录客户端。
var ErrNilRecords = errors.New("xcontent: nil record client")

// Records 是 Service 依赖的记录 API，*xforce.Client 满足该接口。
type Records interface {
	Query(ctx context.Context, soql string) ([]xforce.Record, error)
	QueryAll(ctx context.Context, soql string) ([]xforce.Record, error)
	QueryRaw(ctx context.Context, soql string) (*xforce.QueryResult, error)
	Retrieve(ctx context.Context, kind, id string, fields ...string) (xforce.Record, error)
	Create(ctx context.Context, kind string, fields map[string]any) (string, error)
	Update(ctx context.Context, kind, id string, fields map[string]any) error
	Delete(ctx context.Context, kind, id string) error
}

var _ Records = (*xforce.Client)(nil)

// Ref 指向一条实体记录。
type Ref struct {
	Entity Entity
	ID     string
}

// Option 配置 Service。
type Option func(*Service)

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service 提供带缓存的实体读写。
type Service struct {
	records Records
	cache   *xcache.Aside
	logger  *slog.Logger
}

// NewService 创建 Service。cache 为 nil 时所有读取直接访问记录 API。
func NewService(records Records, cache *xcache.Aside, opts ...Option) (*Service, error) {
	if records == nil {
		return nil, ErrNilRecords
	}
	if cache == nil {
		cache = xcache.New(nil)
	}
	s := &Service{records: records, cache: cache, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Cache 返回缓存层。
func (s *Service) Cache() *xcache.Aside {
	return s.cache
}

// =============================================================================
// 读取
// =============================================================================

// Query 执行单页查询，结果按实体 TTL 缓存。
func (s *Service) Query(ctx context.Context, e Entity, soql string) ([]xforce.Record, error) {
	return xcache.GetCached(ctx, s.cache, xcache.QueryKey(e.Name, soql),
		func(ctx context.Context) ([]xforce.Record, error) {
			return s.records.Query(ctx, soql)
		}, e.TTL)
}

// QueryAll 跟随分页取回全部记录。达到页数上限时返回错误且不缓存。
func (s *Service) QueryAll(ctx context.Context, e Entity, soql string) ([]xforce.Record, error) {
	return xcache.GetCached(ctx, s.cache, xcache.QueryKey(e.Name, "all:"+soql),
		func(ctx context.Context) ([]xforce.Record, error) {
			return s.records.QueryAll(ctx, soql)
		}, e.TTL)
}

// Count 返回查询的 totalSize，soql 通常为 SELECT COUNT() 形式。
func (s *Service) Count(ctx context.Context, e Entity, soql string) (int, error) {
	return xcache.GetCached(ctx, s.cache, xcache.QueryKey(e.Name, "count:"+soql),
		func(ctx context.Context) (int, error) {
			res, err := s.records.QueryRaw(ctx, soql)
			if err != nil {
				return 0, err
			}
			return res.TotalSize, nil
		}, e.TTL)
}

// Get 按 ID 读取一条记录。记录不存在时返回 (nil, false, nil)，且不缓存。
func (s *Service) Get(ctx context.Context, e Entity, id string, fields ...string) (xforce.Record, bool, error) {
	rec, err := xcache.GetCached(ctx, s.cache, recordKey(e, id, fields),
		func(ctx context.Context) (xforce.Record, error) {
			return s.records.Retrieve(ctx, e.SObject, id, fields...)
		}, e.TTL)
	if err != nil {
		if xforce.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

func recordKey(e Entity, id string, fields []string) string {
	if len(fields) == 0 {
		return xcache.Key(e.Name, id)
	}
	return xcache.QueryKey(xcache.Key(e.Name, id), strings.Join(fields, ","))
}

// =============================================================================
// 写入
// =============================================================================

// Create 创建记录并失效相关缓存，返回新记录 ID。
func (s *Service) Create(ctx context.Context, e Entity, fields map[string]any) (string, error) {
	id, err := s.records.Create(ctx, e.SObject, fields)
	if err != nil {
		return "", err
	}
	s.invalidate(ctx, e)
	return id, nil
}

// Update 更新记录并失效相关缓存。
func (s *Service) Update(ctx context.Context, e Entity, id string, fields map[string]any) error {
	if err := s.records.Update(ctx, e.SObject, id, fields); err != nil {
		return err
	}
	s.invalidate(ctx, e)
	return nil
}

// Delete 删除记录并失效相关缓存。
func (s *Service) Delete(ctx context.Context, e Entity, id string) error {
	if err := s.records.Delete(ctx, e.SObject, id); err != nil {
		return err
	}
	s.invalidate(ctx, e)
	return nil
}

// DeleteCascade 依次删除 children 后删除父记录。
// 单条失败不会中断后续删除；只要有一条删除成功，其所在实体的缓存就会失效。
func (s *Service) DeleteCascade(ctx context.Context, e Entity, id string, children ...Ref) error {
	var (
		merr    *multierror.Error
		touched []Entity
	)
	refs := append(slices.Clone(children), Ref{Entity: e, ID: id})
	for _, child := range refs {
		if err := s.records.Delete(ctx, child.Entity.SObject, child.ID); err != nil {
			s.logger.Warn("xcontent: cascade delete failed",
				slog.String("entity", child.Entity.Name),
				slog.String("id", child.ID),
				slog.Any("error", err))
			merr = multierror.Append(merr, fmt.Errorf("xcontent: delete %s %s: %w", child.Entity.Name, child.ID, err))
			continue
		}
		if !slices.ContainsFunc(touched, func(t Entity) bool { return t.Name == child.Entity.Name }) {
			touched = append(touched, child.Entity)
		}
	}
	for _, t := range touched {
		s.invalidate(ctx, t)
	}
	return merr.ErrorOrNil()
}

// =============================================================================
// 失效
// =============================================================================

// Revalidate 失效实体名对应的全部命名空间，返回被失效的命名空间。
func (s *Service) Revalidate(ctx context.Context, entityName string) ([]string, error) {
	e, err := Lookup(entityName)
	if err != nil {
		return nil, err
	}
	return s.invalidate(ctx, e), nil
}

func (s *Service) invalidate(ctx context.Context, e Entity) []string {
	namespaces := e.Namespaces()
	for _, ns := range namespaces {
		n, err := s.cache.Invalidate(ctx, xcache.Pattern(ns))
		if err != nil {
			s.logger.Warn("xcontent: cache invalidation failed",
				slog.String("namespace", ns), slog.Any("error", err))
			continue
		}
		s.logger.Debug("xcontent: cache invalidated",
			slog.String("namespace", ns), slog.Int64("deleted", n))
	}
	return namespaces
}
