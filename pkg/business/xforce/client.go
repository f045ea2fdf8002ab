package xforce

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/omeyang/xcrm/pkg/observability/xmetrics"
)

// Status 是连接状态快照，供健康检查使用。
type Status struct {
	Connected    bool   `json:"connected"`
	TokenAgeMs   int64  `json:"tokenAgeMs"`
	APIBaseURL   string `json:"apiBaseUrl"`
	BreakerState string `json:"breakerState,omitempty"`
}

// Client 是记录 API 客户端。
type Client struct {
	config    *Config
	tokens    *TokenManager
	transport *transport
	logger    *slog.Logger
	observer  xmetrics.Observer

	retryOn401 bool
	ownsHTTP   bool
	httpClient *http.Client
	closed     atomic.Bool
}

// NewClient 校验配置、解析私钥并创建客户端。不发起网络请求。
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	signer, err := NewSigner(cfg.ClientID, cfg.Username, cfg.LoginURL, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	signer.now = options.Clock

	httpClient := options.HTTPClient
	ownsHTTP := httpClient == nil
	if ownsHTTP {
		httpClient = newHTTPClient(cfg.Timeout)
	}

	tokens, err := NewTokenManager(TokenManagerConfig{
		Signer:           signer,
		HTTPClient:       httpClient,
		LoginURL:         cfg.LoginURL,
		InstanceURL:      cfg.InstanceURL,
		Lifetime:         cfg.TokenLifetime,
		RefreshBuffer:    cfg.RefreshBuffer,
		WaitTimeout:      cfg.RefreshWaitTimeout,
		ExchangeAttempts: options.ExchangeAttempts,
		Logger:           options.Logger,
		Observer:         options.Observer,
		Clock:            options.Clock,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		config:     cfg,
		tokens:     tokens,
		transport:  newTransport(httpClient, options),
		logger:     options.Logger,
		observer:   options.Observer,
		retryOn401: options.RetryOn401,
		ownsHTTP:   ownsHTTP,
		httpClient: httpClient,
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Tokens 返回底层 TokenManager。
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// APIVersion 返回使用的 API 版本。
func (c *Client) APIVersion() string {
	return c.config.APIVersion
}

// Status 返回连接状态快照，不发起任何请求。
func (c *Client) Status() Status {
	s := c.tokens.Snapshot()
	now := c.tokens.Now()
	st := Status{
		Connected:    !c.closed.Load() && c.tokens.Valid(s),
		TokenAgeMs:   s.Age(now).Milliseconds(),
		BreakerState: c.transport.breakerState(),
	}
	if s.InstanceURL != "" {
		st.APIBaseURL = s.InstanceURL + c.config.DataPath()
	}
	return st
}

// ForceReconnect 丢弃当前 Token 并重新交换。
func (c *Client) ForceReconnect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	ctx, span := xmetrics.Start(ctx, c.observer, xmetrics.SpanOptions{
		Component: MetricsComponent,
		Operation: MetricsOpForceReconnect,
		Kind:      xmetrics.KindClient,
	})
	_, err := c.tokens.ForceReconnect(ctx)
	span.End(xmetrics.Result{Err: err})
	return err
}

// Close 关闭客户端，之后的调用返回 ErrClientClosed。可重复调用。
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.ownsHTTP {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

// call 获取 Token 后发起请求；401 时按配置强制刷新并重试一次。
// path 是相对实例地址的路径，Token 只会发往当前 Session 的实例。
func (c *Client) call(ctx context.Context, method, path string, body any) (*response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	session, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.do(ctx, request{
		method: method,
		url:    resolveURL(session.InstanceURL, path),
		token:  session.AccessToken,
		body:   body,
	})
	if err == nil || !errors.Is(err, ErrUnauthorized) || !c.retryOn401 {
		return resp, err
	}

	c.logger.Warn("xforce: record API returned 401, refreshing token and retrying once",
		slog.String("method", method),
		slog.String("url", sanitizeURL(resolveURL(session.InstanceURL, path))))

	session, err = c.tokens.reconnectAfterReject(ctx, session.AccessToken)
	if err != nil {
		return nil, err
	}
	resp, err = c.transport.do(ctx, request{
		method: method,
		url:    resolveURL(session.InstanceURL, path),
		token:  session.AccessToken,
		body:   body,
	})
	if err != nil && errors.Is(err, ErrUnauthorized) {
		var apiErr *APIError
		authErr := &AuthError{StatusCode: http.StatusUnauthorized, Hint: hintRejected, Err: err}
		if errors.As(err, &apiErr) {
			authErr.Description = apiErr.Message
		}
		return nil, authErr
	}
	return resp, err
}

func resolveURL(base, path string) string {
	return base + path
}
