package xforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

const (
	// maxResponseSize 最大响应体大小（10MB）。
	maxResponseSize = 10 * 1024 * 1024

	headerRequestID = "X-Request-Id"
)

// response 是一次已读完的记录 API 响应。
type response struct {
	status    int
	body      []byte
	requestID string
}

// request 描述一次记录 API 调用。
type request struct {
	method string
	url    string
	token  string
	body   any
}

// transport 负责单次 HTTP 往返：限流、熔断、请求头、响应体上限与错误解析。
// 401 重试和 Token 获取在 Client 层处理。
type transport struct {
	http    *http.Client
	limiter Limiter
	breaker *gobreaker.CircuitBreaker[*response]
	logger  *slog.Logger
}

func newTransport(client *http.Client, opts *Options) *transport {
	t := &transport{
		http:    client,
		limiter: opts.Limiter,
		logger:  opts.Logger,
	}
	if opts.BreakerFailures > 0 {
		failures := opts.BreakerFailures
		logger := opts.Logger
		t.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
			Name:    MetricsComponent,
			Timeout: opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: breakerSuccess,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("xforce: circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}
	return t
}

// breakerSuccess 只有网络错误和 5xx 计为失败；4xx 与调用方取消不代表远端故障。
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500
	}
	return false
}

// breakerState 返回熔断器状态，未启用时为空。
func (t *transport) breakerState() string {
	if t.breaker == nil {
		return ""
	}
	return t.breaker.State().String()
}

func (t *transport) do(ctx context.Context, req request) (*response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("xforce: rate limiter: %w", err)
		}
	}
	if t.breaker == nil {
		return t.roundTrip(ctx, req)
	}

	resp, err := t.breaker.Execute(func() (*response, error) {
		return t.roundTrip(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return resp, err
}

func (t *transport) roundTrip(ctx context.Context, req request) (*response, error) {
	var bodyReader io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("xforce: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	requestID := uuid.NewString()
	setHeaders(httpReq, req.token, requestID, req.body != nil)

	start := time.Now()
	resp, err := t.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TemporaryError{Err: fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, req.method, sanitizeURL(req.url), err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp.Body)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("xforce: request completed",
		slog.String("method", req.method),
		slog.String("url", sanitizeURL(req.url)),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID),
		slog.Duration("elapsed", time.Since(start)))

	out := &response{status: resp.StatusCode, body: body, requestID: requestID}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, parseAPIError(resp.StatusCode, body, requestID)
	}
	return out, nil
}

func setHeaders(req *http.Request, token, requestID string, hasBody bool) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

// sanitizeURL 去掉查询串（其中有查询文本）后用于日志。
func sanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

// parseAPIError 依次尝试 [{errorCode,message}] 数组与 {error,error_description} 对象，
// 都失败时使用 "<status> <statusText>"。
func parseAPIError(status int, body []byte, requestID string) *APIError {
	apiErr := &APIError{StatusCode: status, RequestID: requestID}
	trimmed := bytes.TrimSpace(body)

	var entries []ErrorEntry
	if len(trimmed) > 0 && trimmed[0] == '[' && json.Unmarshal(trimmed, &entries) == nil && len(entries) > 0 {
		parts := make([]string, 0, len(entries))
		for _, e := range entries {
			switch {
			case e.ErrorCode != "" && e.Message != "":
				parts = append(parts, e.ErrorCode+": "+e.Message)
			case e.ErrorCode != "":
				parts = append(parts, e.ErrorCode)
			default:
				parts = append(parts, e.Message)
			}
		}
		apiErr.Errors = entries
		apiErr.Message = strings.Join(parts, "; ")
		return apiErr
	}

	var oe oauthError
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &oe) == nil && (oe.Error != "" || oe.ErrorDescription != "") {
		switch {
		case oe.Error != "" && oe.ErrorDescription != "":
			apiErr.Message = oe.Error + ": " + oe.ErrorDescription
		case oe.Error != "":
			apiErr.Message = oe.Error
		default:
			apiErr.Message = oe.ErrorDescription
		}
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(strconv.Itoa(status) + " " + http.StatusText(status))
	return apiErr
}
