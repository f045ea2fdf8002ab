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
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v5"
	"golang.org/x/sync/singleflight"

	"github.com/omeyang/xcrm/pkg/observability/xmetrics"
)

const (
	// DefaultExchangeAttempts 交换的最大尝试次数（含首次）。
	DefaultExchangeAttempts uint = 2

	// DefaultExchangeTimeout 单次刷新（含重试）的总时长上限。
	DefaultExchangeTimeout = 60 * time.Second

	defaultExchangeDelay = 200 * time.Millisecond

	refreshKey = "session"
)

// =============================================================================
// Session
// =============================================================================

// Session 是一次成功交换的结果，整体替换，从不部分更新。
type Session struct {
	AccessToken string
	InstanceURL string
	TokenType   string
	IssuedAt    time.Time
	Lifetime    time.Duration
}

// Valid 判断 Session 在 now 时刻是否仍可使用。
func (s Session) Valid(now time.Time, buffer time.Duration) bool {
	if s.AccessToken == "" {
		return false
	}
	return now.Sub(s.IssuedAt) < s.Lifetime-buffer
}

// Age 返回 Token 已使用的时长，无 Token 时为 0。
func (s Session) Age(now time.Time) time.Duration {
	if s.AccessToken == "" {
		return 0
	}
	return now.Sub(s.IssuedAt)
}

// tokenResponse 身份提供方成功响应。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
	TokenType   string `json:"token_type"`
	IssuedAt    string `json:"issued_at"`
	ID          string `json:"id"`
	Scope       string `json:"scope"`
}

// oauthError 身份提供方错误响应。
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// =============================================================================
// TokenManager
// =============================================================================

// TokenManager 持有 Session 并协调刷新。
type TokenManager struct {
	signer          *Signer
	http            *http.Client
	tokenURL        string
	fallbackBaseURL string
	logger          *slog.Logger
	observer        xmetrics.Observer
	now             func() time.Time

	lifetime        time.Duration
	buffer          time.Duration
	waitTimeout     time.Duration
	exchangeTimeout time.Duration
	attempts        uint
	retryDelay      time.Duration

	mu      sync.RWMutex
	session Session

	group     singleflight.Group
	exchanges atomic.Int64
}

// TokenManagerConfig TokenManager 配置。Signer 与 HTTPClient 必填。
type TokenManagerConfig struct {
	Signer     *Signer
	HTTPClient *http.Client

	// LoginURL 登录域，为空时使用 Signer.Audience()。
	LoginURL string

	// InstanceURL 身份提供方未返回 instance_url 时使用的 API 基地址。
	InstanceURL string

	Lifetime         time.Duration
	RefreshBuffer    time.Duration
	WaitTimeout      time.Duration
	ExchangeTimeout  time.Duration
	ExchangeAttempts uint

	Logger   *slog.Logger
	Observer xmetrics.Observer
	Clock    func() time.Time
}

// NewTokenManager 创建 TokenManager。Session 初始为空，首次使用时交换。
func NewTokenManager(cfg TokenManagerConfig) (*TokenManager, error) {
	if cfg.Signer == nil {
		return nil, &ConfigError{Err: errors.New("nil signer")}
	}
	if cfg.HTTPClient == nil {
		return nil, &ConfigError{Err: errors.New("nil http client")}
	}
	loginURL := strings.TrimRight(cfg.LoginURL, "/")
	if loginURL == "" {
		loginURL = cfg.Signer.Audience()
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultTokenLifetime
	}
	if cfg.RefreshBuffer < 0 || cfg.RefreshBuffer >= cfg.Lifetime {
		cfg.RefreshBuffer = DefaultRefreshBuffer
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultRefreshWaitTimeout
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = DefaultExchangeTimeout
	}
	if cfg.ExchangeAttempts == 0 {
		cfg.ExchangeAttempts = DefaultExchangeAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = xmetrics.NoopObserver{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &TokenManager{
		signer:          cfg.Signer,
		http:            cfg.HTTPClient,
		tokenURL:        loginURL + PathToken,
		fallbackBaseURL: strings.TrimRight(cfg.InstanceURL, "/"),
		logger:          cfg.Logger,
		observer:        cfg.Observer,
		now:             cfg.Clock,
		lifetime:        cfg.Lifetime,
		buffer:          cfg.RefreshBuffer,
		waitTimeout:     cfg.WaitTimeout,
		exchangeTimeout: cfg.ExchangeTimeout,
		attempts:        cfg.ExchangeAttempts,
		retryDelay:      defaultExchangeDelay,
	}, nil
}

// EnsureValidToken 返回一个有效的 Session，必要时触发或加入刷新。
func (m *TokenManager) EnsureValidToken(ctx context.Context) (Session, error) {
	if s, ok := m.current(); ok {
		return s, nil
	}
	return m.refresh(ctx)
}

// ForceReconnect 丢弃当前 Session 并重新交换。
func (m *TokenManager) ForceReconnect(ctx context.Context) (Session, error) {
	m.mu.Lock()
	m.session = Session{}
	m.mu.Unlock()

	m.logger.Info("xforce: session discarded, reconnecting")
	return m.refresh(ctx)
}

// reconnectAfterReject 仅当被拒绝的 Token 仍是当前 Token 时才丢弃它。
// 多个请求同时收到 401 时只会触发一次交换。
func (m *TokenManager) reconnectAfterReject(ctx context.Context, rejected string) (Session, error) {
	m.mu.Lock()
	if m.session.AccessToken == rejected {
		m.session = Session{}
	}
	m.mu.Unlock()
	return m.EnsureValidToken(ctx)
}

// Snapshot 返回当前 Session 的副本（可能为空或已过期）。
func (m *TokenManager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Exchanges 返回成功交换的累计次数。
func (m *TokenManager) Exchanges() int64 {
	return m.exchanges.Load()
}

// Now 返回 TokenManager 使用的时钟。
func (m *TokenManager) Now() time.Time {
	return m.now()
}

// Valid 按 TokenManager 自己的时钟与刷新边际判断 s 是否可用。
func (m *TokenManager) Valid(s Session) bool {
	return s.Valid(m.now(), m.buffer)
}

func (m *TokenManager) current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session, m.Valid(m.session)
}

// refresh 加入或发起唯一的进行中交换，等待受 waitTimeout 与 ctx 约束。
func (m *TokenManager) refresh(ctx context.Context) (Session, error) {
	// 交换脱离调用方的取消信号，以免一个调用方取消导致其他等待者一起失败
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		// 等锁期间可能已有交换完成
		if s, ok := m.current(); ok {
			return s, nil
		}
		return m.exchange(detached)
	})

	timer := time.NewTimer(m.waitTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		s, ok := res.Val.(Session)
		if !ok {
			return Session{}, fmt.Errorf("%w: unexpected refresh result %T", ErrResponseInvalid, res.Val)
		}
		return s, nil
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case <-timer.C:
		m.logger.Warn("xforce: timed out waiting for token refresh",
			slog.Duration("wait_timeout", m.waitTimeout))
		return Session{}, ErrRefreshTimeout
	}
}

// exchange 签发断言并换取 Token，网络错误与 5xx 时重签重试。
func (m *TokenManager) exchange(ctx context.Context) (session Session, err error) {
	ctx, cancel := context.WithTimeout(ctx, m.exchangeTimeout)
	defer cancel()

	var attempts uint
	ctx, span := xmetrics.Start(ctx, m.observer, xmetrics.SpanOptions{
		Component: MetricsComponent,
		Operation: MetricsOpExchange,
		Kind:      xmetrics.KindClient,
	})
	defer func() {
		span.End(xmetrics.Result{Err: err, Attrs: []xmetrics.Attr{
			xmetrics.Int64(MetricsAttrAttempts, int64(attempts)),
		}})
	}()

	session, err = retry.NewWithData[Session](
		retry.Context(ctx),
		retry.Attempts(m.attempts),
		retry.Delay(m.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Warn("xforce: token exchange failed, retrying",
				slog.Uint64("attempt", uint64(n+1)),
				slog.Any("error", err))
		}),
	).Do(func() (Session, error) {
		attempts++
		return m.exchangeOnce(ctx)
	})
	if err != nil {
		m.logger.Error("xforce: token exchange failed",
			slog.String("token_url", m.tokenURL),
			slog.Any("error", err))
		return Session{}, err
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	m.exchanges.Add(1)

	m.logger.Info("xforce: token exchanged",
		slog.String("instance_url", session.InstanceURL))
	return session, nil
}

func (m *TokenManager) exchangeOnce(ctx context.Context) (Session, error) {
	assertion, err := m.signer.Sign()
	if err != nil {
		return Session{}, &ConfigError{Err: err}
	}

	form := url.Values{
		"grant_type": {GrantTypeJWTBearer},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issuedAt := m.now()
	resp, err := m.http.Do(req)
	if err != nil {
		return Session{}, &TemporaryError{Err: fmt.Errorf("%w: token endpoint: %w", ErrRequestFailed, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp.Body)
	if err != nil {
		return Session{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Session{}, parseAuthError(resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Session{}, fmt.Errorf("%w: token response: %w", ErrResponseInvalid, err)
	}
	if tr.AccessToken == "" {
		return Session{}, &AuthError{StatusCode: resp.StatusCode, Hint: hintGeneric, Err: ErrMissingAccessToken}
	}

	instance := strings.TrimRight(tr.InstanceURL, "/")
	if instance == "" {
		instance = m.fallbackBaseURL
	}
	if ms, err := strconv.ParseInt(tr.IssuedAt, 10, 64); err == nil && ms > 0 {
		issuedAt = m.trustIssuedAt(time.UnixMilli(ms), issuedAt)
	}

	return Session{
		AccessToken: tr.AccessToken,
		InstanceURL: instance,
		TokenType:   tr.TokenType,
		IssuedAt:    issuedAt,
		Lifetime:    m.lifetime,
	}, nil
}

// trustIssuedAt 服务端 issued_at 只在 [local-可用期, local] 内采用，
// 否则按本地请求时间计：过旧会让新 Session 一拿到就失效，过新会延长使用期。
func (m *TokenManager) trustIssuedAt(server, local time.Time) time.Time {
	if server.After(local) || local.Sub(server) >= m.lifetime-m.buffer {
		m.logger.Warn("xforce: issued_at outside usable window, using local time",
			slog.Time("issued_at", server),
			slog.Time("local", local))
		return local
	}
	return server
}

// parseAuthError 解析 {error, error_description}，无法解析时保留原始文本。
func parseAuthError(status int, body []byte) *AuthError {
	var oe oauthError
	if err := json.Unmarshal(body, &oe); err != nil || oe.Error == "" {
		desc := strings.TrimSpace(string(bytes.ToValidUTF8(body, nil)))
		if desc == "" {
			desc = http.StatusText(status)
		}
		return &AuthError{StatusCode: status, Description: desc, Hint: hintGeneric}
	}
	return &AuthError{
		StatusCode:  status,
		Code:        oe.Error,
		Description: oe.ErrorDescription,
		Hint:        authHint(oe.Error),
	}
}

// readBody 读取响应体，超过 maxResponseSize 时拒绝而非截断。
func readBody(r io.Reader) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: maxResponseSize + 1}
	body, err := io.ReadAll(lr)
	if err != nil {
		return nil, &TemporaryError{Err: fmt.Errorf("%w: read body: %w", ErrRequestFailed, err)}
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrResponseTooLarge, maxResponseSize)
	}
	return body, nil
}
