package xforce

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeSOQL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"O'Brien", `O\'Brien`},
		{`back\slash`, `back\\slash`},
		{`say "hi"`, `say \"hi\"`},
		{"line\nbreak", `line\nbreak`},
		{"tab\there", `tab\there`},
		{`' OR Name != '`, `\' OR Name != \'`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeSOQL(tt.in))
		})
	}
	assert.Equal(t, `'O\'Brien'`, QuoteSOQL("O'Brien"))
	assert.Equal(t, `50\% off\_sale`, EscapeSOQLLike("50% off_sale"))
}

func TestEscapeSOSL(t *testing.T) {
	assert.Equal(t, "hello world", EscapeSOSL("hello world"))
	assert.Equal(t, `how\-to\?`, EscapeSOSL("how-to?"))
	assert.Equal(t, `a\}b\{c`, EscapeSOSL("a}b{c"))
	assert.Equal(t, `x\:y\*`, EscapeSOSL("x:y*"))
	assert.Equal(t, `\'q\"`, EscapeSOSL(`'q"`))
}
