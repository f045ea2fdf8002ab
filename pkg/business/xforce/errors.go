package xforce

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// 配置错误
// =============================================================================

var (
	// ErrNilConfig 表示传入的配置为 nil。
	ErrNilConfig = errors.New("xforce: nil config")

	// ErrConfiguration 是所有配置类错误的哨兵，*ConfigError 可用 errors.Is 匹配。
	ErrConfiguration = errors.New("xforce: configuration error")

	// ErrInvalidPrivateKey 表示私钥无法解析为 RSA 私钥。
	ErrInvalidPrivateKey = errors.New("xforce: invalid private key")
)

// =============================================================================
// 认证错误
// =============================================================================

var (
	// ErrAuthentication 是 Token 交换失败的哨兵，*AuthError 可用 errors.Is 匹配。
	ErrAuthentication = errors.New("xforce: authentication failed")

	// ErrRefreshTimeout 表示等待进行中的刷新超时。
	ErrRefreshTimeout = errors.New("xforce: timed out waiting for token refresh")

	// ErrMissingAccessToken 表示交换成功响应中缺少 access_token。
	ErrMissingAccessToken = errors.New("xforce: token response missing access_token")
)

// =============================================================================
// 请求错误
// =============================================================================

var (
	// ErrRequestFailed 表示 HTTP 请求未能完成（网络错误）。
	ErrRequestFailed = errors.New("xforce: request failed")

	// ErrResponseInvalid 表示响应格式无效。
	ErrResponseInvalid = errors.New("xforce: invalid response")

	// ErrResponseTooLarge 表示响应体超过最大限制。
	ErrResponseTooLarge = errors.New("xforce: response body exceeds maximum size limit")

	// ErrUnauthorized 表示记录 API 返回 401。
	ErrUnauthorized = errors.New("xforce: unauthorized")

	// ErrForbidden 表示记录 API 返回 403。
	ErrForbidden = errors.New("xforce: forbidden")

	// ErrNotFound 表示记录 API 返回 404。
	ErrNotFound = errors.New("xforce: not found")

	// ErrServerError 表示记录 API 返回 5xx。
	ErrServerError = errors.New("xforce: server error")

	// ErrCircuitOpen 表示熔断器处于打开状态，请求未发出。
	ErrCircuitOpen = errors.New("xforce: circuit breaker open")

	// ErrPageLimit 表示 QueryAll 达到最大页数后停止。
	ErrPageLimit = errors.New("xforce: page limit reached")
)

// =============================================================================
// 参数错误
// =============================================================================

var (
	ErrEmptyQuery   = errors.New("xforce: empty query")
	ErrInvalidKind  = errors.New("xforce: invalid sobject name")
	ErrInvalidID    = errors.New("xforce: invalid record id")
	ErrEmptyFields  = errors.New("xforce: empty field set")
	ErrInvalidField = errors.New("xforce: invalid field name")
)

// ErrClientClosed 表示客户端已关闭。
var ErrClientClosed = errors.New("xforce: client closed")

// =============================================================================
// ConfigError
// =============================================================================

// ConfigError 描述构造期的配置问题，Missing 列出缺失的环境变量名。
type ConfigError struct {
	Missing []string
	Err     error
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return "xforce: missing configuration: " + strings.Join(e.Missing, ", ")
	}
	if e.Err == nil {
		return ErrConfiguration.Error()
	}
	return "xforce: invalid configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// =============================================================================
// AuthError
// =============================================================================

// AuthError 表示身份提供方拒绝了断言交换，或换到的 Token 被记录 API 持续拒绝。
type AuthError struct {
	// StatusCode 身份提供方或记录 API 返回的 HTTP 状态码。
	StatusCode int

	// Code 身份提供方的 error 字段，例如 invalid_grant。
	Code string

	// Description 身份提供方的 error_description 字段。
	Description string

	// Hint 排查建议。
	Hint string

	Err error
}

func (e *AuthError) Error() string {
	var b strings.Builder
	b.WriteString("xforce: authentication failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status=%d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ", code=%s", e.Code)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, ", description=%s", e.Description)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, " (hint: %s)", e.Hint)
	}
	return b.String()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuthentication
}

// Retryable 身份提供方 5xx 可重试，其余（invalid_grant 等）不可重试。
func (e *AuthError) Retryable() bool {
	return e.StatusCode >= 500
}

// 交换失败时的排查建议。
const (
	hintInvalidGrant = "the assertion was rejected: check that the connected app is pre-authorized for the user " +
		"(admin-approved profile or permission set), the uploaded certificate matches SF_PRIVATE_KEY, " +
		"SF_USERNAME belongs to the org behind SF_LOGIN_URL, and the host clock is in sync"
	hintInvalidClient = "the consumer key is not recognized: check SF_CLIENT_ID and that the connected app exists in this org"
	hintGrantType     = "the token endpoint does not accept the jwt-bearer grant: check SF_LOGIN_URL"
	hintGeneric       = "check SF_LOGIN_URL, reachability of the token endpoint and the connected app configuration"
	hintRejected      = "the record API rejected a freshly issued token: check the user's API permission and session settings"
)

func authHint(code string) string {
	switch code {
	case "invalid_grant":
		return hintInvalidGrant
	case "invalid_client_id", "invalid_client":
		return hintInvalidClient
	case "unsupported_grant_type":
		return hintGrantType
	default:
		return hintGeneric
	}
}

// =============================================================================
// APIError
// =============================================================================

// ErrorEntry 是记录 API 错误数组中的一项。
type ErrorEntry struct {
	ErrorCode string   `json:"errorCode"`
	Message   string   `json:"message"`
	Fields    []string `json:"fields,omitempty"`
}

// APIError 表示记录 API 的非 2xx 响应。
type APIError struct {
	StatusCode int

	// Message 汇总后的错误文本，数组形式的错误拼接为 "CODE: message; CODE2: message2"。
	Message string

	// Errors 原始错误数组（若有）。
	Errors []ErrorEntry

	// RequestID 请求的 X-Request-Id，用于对照日志。
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xforce: api error: status=%d, message=%s", e.StatusCode, e.Message)
}

// HasCode 判断错误数组中是否包含指定 errorCode。
func (e *APIError) HasCode(code string) bool {
	for _, entry := range e.Errors {
		if entry.ErrorCode == code {
			return true
		}
	}
	return false
}

// Retryable 5xx 和 429 可重试。
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

func (e *APIError) Is(target error) bool {
	switch {
	case e.StatusCode == 401:
		return target == ErrUnauthorized
	case e.StatusCode == 403:
		return target == ErrForbidden
	case e.StatusCode == 404:
		return target == ErrNotFound
	case e.StatusCode >= 500:
		return target == ErrServerError
	}
	return false
}

// =============================================================================
// 可重试判断
// =============================================================================

// RetryableError 可重试错误接口。
type RetryableError interface {
	error
	Retryable() bool
}

// TemporaryError 临时性错误（网络错误等），应该重试。
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string {
	if e.Err == nil {
		return "xforce: temporary error"
	}
	return e.Err.Error()
}

func (e *TemporaryError) Unwrap() error {
	return e.Err
}

func (e *TemporaryError) Retryable() bool {
	return true
}

// IsRetryable 检查错误是否可重试。
// 实现 RetryableError 的按其返回值判断；ErrServerError、ErrRequestFailed 可重试；其余不可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return errors.Is(err, ErrServerError) || errors.Is(err, ErrRequestFailed)
}

// IsNotFound 判断错误是否为 404。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrInvalidNextURL 表示分页续取地址不是实例内的相对路径。
var ErrInvalidNextURL = errors.New("xforce: invalid next records url")
