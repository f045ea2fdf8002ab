package xforce

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// 默认值
// =============================================================================

const (
	// DefaultAPIVersion 默认记录 API 版本。
	DefaultAPIVersion = "59.0"

	// DefaultTimeout 单次 HTTP 调用超时。
	DefaultTimeout = 30 * time.Second

	// DefaultTokenLifetime Token 名义有效期。
	// 身份提供方不返回 expires_in，按会话默认时长估算。
	DefaultTokenLifetime = 2 * time.Hour

	// DefaultRefreshBuffer 提前刷新的安全边际。
	DefaultRefreshBuffer = 5 * time.Minute

	// DefaultRefreshWaitTimeout 等待进行中刷新的上限。
	DefaultRefreshWaitTimeout = 30 * time.Second

	// DefaultMaxPages QueryAll 最多跟随的页数。
	DefaultMaxPages = 500

	// ProductionLoginURL 生产环境登录域。
	ProductionLoginURL = "https://login.salesforce.com"

	// SandboxLoginURL 沙箱环境登录域。
	SandboxLoginURL = "https://test.salesforce.com"
)

// =============================================================================
// 环境变量 Key
// =============================================================================

const (
	EnvClientID    = "SF_CLIENT_ID"
	EnvUsername    = "SF_USERNAME"
	EnvPrivateKey  = "SF_PRIVATE_KEY"
	EnvInstanceURL = "SF_INSTANCE_URL"
	EnvLoginURL    = "SF_LOGIN_URL"
	EnvAPIVersion  = "SF_API_VERSION"
)

// =============================================================================
// API 路由
// =============================================================================

//nolint:gosec // G101: 路径常量，不是凭据
const (
	// PathToken Token 交换路径（相对登录域）。
	PathToken = "/services/oauth2/token"

	// GrantTypeJWTBearer JWT bearer 授权类型。
	GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	pathDataPrefix = "/services/data/v"
)

var apiVersionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// Config 是 Client 的配置。字段标签供 xconf 从环境变量/配置文件反序列化。
type Config struct {
	// ClientID 连接应用的 consumer key（服务身份，断言 iss）。
	ClientID string `koanf:"client_id"`

	// Username 代表其执行操作的用户（断言 sub）。
	Username string `koanf:"username"`

	// PrivateKey PEM 私钥。容忍转义换行（字面量 \n）与缺失的 BEGIN/END 行。
	PrivateKey string `koanf:"private_key"`

	// InstanceURL 实例地址，交换成功后以身份提供方返回的 instance_url 为准。
	InstanceURL string `koanf:"instance_url"`

	// LoginURL 登录域，也是断言 aud。为空时由 InstanceURL 推导。
	LoginURL string `koanf:"login_url"`

	// APIVersion 形如 "59.0"。
	APIVersion string `koanf:"api_version"`

	// Timeout 单次 HTTP 调用超时。
	Timeout time.Duration `koanf:"timeout"`

	// TokenLifetime Token 名义有效期。
	TokenLifetime time.Duration `koanf:"token_lifetime"`

	// RefreshBuffer 提前刷新边际，必须小于 TokenLifetime。
	RefreshBuffer time.Duration `koanf:"refresh_buffer"`

	// RefreshWaitTimeout 等待进行中刷新的上限。
	RefreshWaitTimeout time.Duration `koanf:"refresh_wait_timeout"`

	// MaxPages QueryAll 最多跟随的页数。
	MaxPages int `koanf:"max_pages"`

	// AllowInsecure 允许 http:// 地址，仅用于本地开发与测试。
	AllowInsecure bool `koanf:"allow_insecure"`
}

// ApplyDefaults 填充零值字段。
func (c *Config) ApplyDefaults() {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.Username = strings.TrimSpace(c.Username)
	c.InstanceURL = strings.TrimRight(strings.TrimSpace(c.InstanceURL), "/")
	c.LoginURL = strings.TrimRight(strings.TrimSpace(c.LoginURL), "/")

	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	c.APIVersion = strings.TrimPrefix(c.APIVersion, "v")
	if c.LoginURL == "" && c.InstanceURL != "" {
		c.LoginURL = DeriveLoginURL(c.InstanceURL)
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.TokenLifetime == 0 {
		c.TokenLifetime = DefaultTokenLifetime
	}
	if c.RefreshBuffer == 0 {
		c.RefreshBuffer = DefaultRefreshBuffer
	}
	if c.RefreshWaitTimeout == 0 {
		c.RefreshWaitTimeout = DefaultRefreshWaitTimeout
	}
	if c.MaxPages == 0 {
		c.MaxPages = DefaultMaxPages
	}
}

// Validate 校验配置。必填项缺失时一次性列出全部缺失的环境变量名。
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}

	var missing []string
	for _, f := range []struct {
		value string
		env   string
	}{
		{c.ClientID, EnvClientID},
		{c.Username, EnvUsername},
		{strings.TrimSpace(c.PrivateKey), EnvPrivateKey},
		{c.InstanceURL, EnvInstanceURL},
	} {
		if f.value == "" {
			missing = append(missing, f.env)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}

	if err := c.validateURL(EnvInstanceURL, c.InstanceURL); err != nil {
		return err
	}
	if c.LoginURL != "" {
		if err := c.validateURL(EnvLoginURL, c.LoginURL); err != nil {
			return err
		}
	}
	if !apiVersionPattern.MatchString(c.APIVersion) {
		return &ConfigError{Err: fmt.Errorf("%s %q must look like 59.0", EnvAPIVersion, c.APIVersion)}
	}
	if c.Timeout < 0 || c.RefreshWaitTimeout < 0 || c.MaxPages < 0 {
		return &ConfigError{Err: fmt.Errorf("timeouts and max pages must not be negative")}
	}
	if c.RefreshBuffer < 0 || c.RefreshBuffer >= c.TokenLifetime {
		return &ConfigError{Err: fmt.Errorf("refresh buffer %s must be within token lifetime %s", c.RefreshBuffer, c.TokenLifetime)}
	}
	return nil
}

// validateURL 要求 scheme 和 host 齐全，且非 AllowInsecure 时必须是 https。
func (c *Config) validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ConfigError{Err: fmt.Errorf("%s %q must include scheme and host", name, raw)}
	}
	if !c.AllowInsecure && u.Scheme != "https" {
		return &ConfigError{Err: fmt.Errorf("%s %q must use https", name, raw)}
	}
	return nil
}

// Clone 返回浅拷贝（所有字段都是值类型）。
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// DataPath 返回 "/services/data/v{version}"。
func (c *Config) DataPath() string {
	return pathDataPrefix + c.APIVersion
}

// DeriveLoginURL 根据实例地址判断是否为沙箱并返回对应登录域。
//
// 沙箱特征：
//   - 主机名包含 ".sandbox."（增强域名）
//   - 首段包含 "--"（mydomain--sandboxname）
//   - 以 test. 或 csNN. 开头（旧实例）
func DeriveLoginURL(instanceURL string) string {
	u, err := url.Parse(strings.TrimSpace(instanceURL))
	if err != nil || u.Host == "" {
		return ProductionLoginURL
	}
	host := strings.ToLower(u.Hostname())
	first, _, _ := strings.Cut(host, ".")

	switch {
	case strings.Contains(host, ".sandbox."),
		strings.Contains(first, "--"),
		first == "test",
		isLegacySandboxPod(first):
		return SandboxLoginURL
	default:
		return ProductionLoginURL
	}
}

// isLegacySandboxPod 匹配 cs1、cs42 这类旧沙箱实例名。
func isLegacySandboxPod(label string) bool {
	if len(label) < 3 || !strings.HasPrefix(label, "cs") {
		return false
	}
	for _, r := range label[2:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
