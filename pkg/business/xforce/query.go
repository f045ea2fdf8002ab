package xforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/omeyang/xcrm/pkg/observability/xmetrics"
)

// Page 是一页查询结果。NextRecordsURL 非空表示还有后续页。
type Page[T any] struct {
	Records        []T
	TotalSize      int
	Done           bool
	NextRecordsURL string
}

// QueryResult 是未绑定类型的查询结果页。
type QueryResult = Page[Record]

type queryEnvelope struct {
	TotalSize      int               `json:"totalSize"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []json.RawMessage `json:"records"`
}

type searchEnvelope struct {
	SearchRecords []json.RawMessage `json:"searchRecords"`
}

// =============================================================================
// 方法形式（Record）
// =============================================================================

// Query 执行 SOQL，只返回第一页记录。
func (c *Client) Query(ctx context.Context, soql string) ([]Record, error) {
	return QueryAs[Record](ctx, c, soql)
}

// QueryRaw 执行 SOQL，返回第一页及 TotalSize、NextRecordsURL。
// SELECT COUNT() 查询的结果在 TotalSize 中。
func (c *Client) QueryRaw(ctx context.Context, soql string) (*QueryResult, error) {
	return QueryRawAs[Record](ctx, c, soql)
}

// QueryAll 跟随 NextRecordsURL 取回全部页，按到达顺序拼接。
// 达到 MaxPages 时返回已取回的记录和 ErrPageLimit。
func (c *Client) QueryAll(ctx context.Context, soql string) ([]Record, error) {
	return QueryAllAs[Record](ctx, c, soql)
}

// QueryMore 取回一页续页。
func (c *Client) QueryMore(ctx context.Context, nextRecordsURL string) (*QueryResult, error) {
	return QueryMoreAs[Record](ctx, c, nextRecordsURL)
}

// Search 执行 SOSL。
func (c *Client) Search(ctx context.Context, sosl string) ([]Record, error) {
	return SearchAs[Record](ctx, c, sosl)
}

// =============================================================================
// 泛型形式
// =============================================================================

// QueryRawAs 执行 SOQL 并把第一页记录解码为 T。
func QueryRawAs[T any](ctx context.Context, c *Client, soql string) (page *Page[T], err error) {
	if strings.TrimSpace(soql) == "" {
		return nil, ErrEmptyQuery
	}
	ctx, span := c.startSpan(ctx, MetricsOpQuery)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	env, err := c.fetchPage(ctx, c.queryPath(soql))
	if err != nil {
		return nil, err
	}
	return decodePage[T](env)
}

// QueryAs 执行 SOQL 并把第一页记录解码为 T。
func QueryAs[T any](ctx context.Context, c *Client, soql string) ([]T, error) {
	page, err := QueryRawAs[T](ctx, c, soql)
	if err != nil {
		return nil, err
	}
	return page.Records, nil
}

// QueryMoreAs 取回一页续页。nextRecordsURL 必须是实例内的相对路径。
func QueryMoreAs[T any](ctx context.Context, c *Client, nextRecordsURL string) (page *Page[T], err error) {
	if !strings.HasPrefix(nextRecordsURL, "/services/data/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNextURL, nextRecordsURL)
	}
	ctx, span := c.startSpan(ctx, MetricsOpQueryMore)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	env, err := c.fetchPage(ctx, nextRecordsURL)
	if err != nil {
		return nil, err
	}
	return decodePage[T](env)
}

// QueryAllAs 跟随 NextRecordsURL 取回全部页并解码为 T。
// Done 为 true 或 NextRecordsURL 为空时停止；最多 MaxPages 页。
func QueryAllAs[T any](ctx context.Context, c *Client, soql string) (records []T, err error) {
	if strings.TrimSpace(soql) == "" {
		return nil, ErrEmptyQuery
	}
	pages := 0
	ctx, span := c.startSpan(ctx, MetricsOpQueryAll)
	defer func() {
		span.End(xmetrics.Result{Err: err, Attrs: []xmetrics.Attr{
			xmetrics.Int(MetricsAttrPages, pages),
			xmetrics.Int(MetricsAttrRecords, len(records)),
		}})
	}()

	env, err := c.fetchPage(ctx, c.queryPath(soql))
	if err != nil {
		return nil, err
	}
	for {
		pages++
		batch, err := decodeRecords[T](env.Records)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)

		if env.Done || env.NextRecordsURL == "" {
			return records, nil
		}
		if pages >= c.config.MaxPages {
			c.logger.Warn("xforce: query stopped at page limit",
				slog.Int("pages", pages),
				slog.Int("records", len(records)),
				slog.Int("total_size", env.TotalSize))
			return records, fmt.Errorf("%w: stopped after %d pages", ErrPageLimit, pages)
		}
		if !strings.HasPrefix(env.NextRecordsURL, "/services/data/") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidNextURL, env.NextRecordsURL)
		}

		env, err = c.fetchPage(ctx, env.NextRecordsURL)
		if err != nil {
			return nil, err
		}
	}
}

// SearchAs 执行 SOSL 并把 searchRecords 解码为 T。
func SearchAs[T any](ctx context.Context, c *Client, sosl string) (records []T, err error) {
	if strings.TrimSpace(sosl) == "" {
		return nil, ErrEmptyQuery
	}
	ctx, span := c.startSpan(ctx, MetricsOpSearch)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	path := c.config.DataPath() + "/search?" + url.Values{"q": {sosl}}.Encode()
	resp, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	// 旧版本 API 直接返回数组
	if trimmed := bytes.TrimSpace(resp.body); len(trimmed) > 0 && trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: search response: %w", ErrResponseInvalid, err)
		}
		return decodeRecords[T](raw)
	}

	var env searchEnvelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, fmt.Errorf("%w: search response: %w", ErrResponseInvalid, err)
	}
	return decodeRecords[T](env.SearchRecords)
}

// =============================================================================
// 内部
// =============================================================================

func (c *Client) queryPath(soql string) string {
	return c.config.DataPath() + "/query?" + url.Values{"q": {soql}}.Encode()
}

func (c *Client) fetchPage(ctx context.Context, path string) (*queryEnvelope, error) {
	resp, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var env queryEnvelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, fmt.Errorf("%w: query response: %w", ErrResponseInvalid, err)
	}
	return &env, nil
}

func (c *Client) startSpan(ctx context.Context, op string, attrs ...xmetrics.Attr) (context.Context, xmetrics.Span) {
	return xmetrics.Start(ctx, c.observer, xmetrics.SpanOptions{
		Component: MetricsComponent,
		Operation: op,
		Kind:      xmetrics.KindClient,
		Attrs:     attrs,
	})
}

func decodePage[T any](env *queryEnvelope) (*Page[T], error) {
	records, err := decodeRecords[T](env.Records)
	if err != nil {
		return nil, err
	}
	return &Page[T]{
		Records:        records,
		TotalSize:      env.TotalSize,
		Done:           env.Done,
		NextRecordsURL: env.NextRecordsURL,
	}, nil
}

func decodeRecords[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrResponseInvalid, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
