package xforce

import (
	"crypto/rsa"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AssertionTTL 断言有效期。
const AssertionTTL = 300 * time.Second

const pemLineWidth = 64

var pemBlockPattern = regexp.MustCompile(`(?s)-----BEGIN ([A-Z0-9 ]+)-----(.*?)-----END ([A-Z0-9 ]+)-----`)

// Signer 签发 JWT bearer 断言。构造后不可变，可并发使用。
type Signer struct {
	clientID string
	username string
	audience string
	key      *rsa.PrivateKey
	now      func() time.Time
}

// NewSigner 创建签名器。
// audience 是登录域（例如 https://login.salesforce.com），privateKeyPEM 会先经 NormalizePEM 处理。
func NewSigner(clientID, username, audience, privateKeyPEM string) (*Signer, error) {
	var missing []string
	if strings.TrimSpace(clientID) == "" {
		missing = append(missing, EnvClientID)
	}
	if strings.TrimSpace(username) == "" {
		missing = append(missing, EnvUsername)
	}
	if strings.TrimSpace(audience) == "" {
		missing = append(missing, EnvLoginURL)
	}
	if strings.TrimSpace(privateKeyPEM) == "" {
		missing = append(missing, EnvPrivateKey)
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}

	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	return &Signer{
		clientID: strings.TrimSpace(clientID),
		username: strings.TrimSpace(username),
		audience: strings.TrimRight(strings.TrimSpace(audience), "/"),
		key:      key,
		now:      time.Now,
	}, nil
}

// Sign 返回 header.claims.signature 形式的断言。
func (s *Signer) Sign() (string, error) {
	claims := jwt.MapClaims{
		"iss": s.clientID,
		"sub": s.username,
		"aud": s.audience,
		"exp": s.now().Add(AssertionTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("xforce: sign assertion: %w", err)
	}
	return signed, nil
}

// Audience 返回断言 aud，即登录域。
func (s *Signer) Audience() string {
	return s.audience
}

// ParsePrivateKey 归一化 PEM 文本并解析 RSA 私钥（PKCS#8 与 PKCS#1 均可）。
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(NormalizePEM(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

// NormalizePEM 修复从环境变量读入的私钥文本：
//   - 去掉首尾空白与包裹的引号
//   - 字面量 \n 转为换行
//   - 缺失 BEGIN/END 行时补为 PRIVATE KEY 块
//   - 正文去掉空白后按 64 列重新折行
func NormalizePEM(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`)
	s = strings.ReplaceAll(s, `\r\n`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSpace(s)

	label := "PRIVATE KEY"
	body := s
	if m := pemBlockPattern.FindStringSubmatch(s); m != nil {
		label = strings.TrimSpace(m[1])
		body = m[2]
	}
	body = strings.Join(strings.Fields(body), "")

	var b strings.Builder
	b.WriteString("-----BEGIN " + label + "-----\n")
	for len(body) > pemLineWidth {
		b.WriteString(body[:pemLineWidth])
		b.WriteByte('\n')
		body = body[pemLineWidth:]
	}
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteString("-----END " + label + "-----\n")
	return b.String()
}
