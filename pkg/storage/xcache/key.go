package xcache

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// TTL 分级。
const (
	// TTLShort 频繁变动的列表。
	TTLShort = 5 * time.Minute

	// TTLMedium 关联查询。
	TTLMedium = 30 * time.Minute

	// TTLLong 作者、分类等元数据。
	TTLLong = time.Hour

	// TTLVeryLong 近乎静态的数据。
	TTLVeryLong = 24 * time.Hour
)

// KeySeparator 命名空间与各段之间的分隔符。
const KeySeparator = ":"

// Key 拼接命名空间与各段，例如 Key("articles", "slug", "hello") = "articles:slug:hello"。
func Key(namespace string, parts ...string) string {
	if len(parts) == 0 {
		return namespace
	}
	return namespace + KeySeparator + strings.Join(parts, KeySeparator)
}

// QueryKey 以查询文本的 xxhash 作为后缀，文本不同则 key 不同。
func QueryKey(namespace, text string) string {
	return Key(namespace, "q", strconv.FormatUint(xxhash.Sum64String(text), 16))
}

// Pattern 返回命名空间下全部 key 的匹配模式。
func Pattern(namespace string) string {
	return namespace + KeySeparator + "*"
}

// namespaceOf 返回 key 的第一段。
func namespaceOf(key string) string {
	ns, _, _ := strings.Cut(key, KeySeparator)
	return ns
}
