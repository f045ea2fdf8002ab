package xforce

import "strings"

var soqlReplacer = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\b", `\b`,
	"\f", `\f`,
)

var soqlLikeReplacer = strings.NewReplacer(
	`_`, `\_`,
	`%`, `\%`,
)

// EscapeSOQL 转义字符串字面量中的特殊字符，结果需放在单引号内。
func EscapeSOQL(s string) string {
	return soqlReplacer.Replace(s)
}

// QuoteSOQL 返回带单引号的 SOQL 字符串字面量。
func QuoteSOQL(s string) string {
	return "'" + EscapeSOQL(s) + "'"
}

// EscapeSOQLLike 在 EscapeSOQL 的基础上转义 LIKE 通配符。
func EscapeSOQLLike(s string) string {
	return soqlLikeReplacer.Replace(EscapeSOQL(s))
}

// soslReserved SOSL 检索词中的保留字符。
const soslReserved = `?&|!{}[]()^~*:\"'+-`

// EscapeSOSL 转义 FIND {...} 检索词中的保留字符。
func EscapeSOSL(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(soslReserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
