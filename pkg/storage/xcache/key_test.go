package xcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "articles", Key("articles"))
	assert.Equal(t, "articles:a1", Key("articles", "a1"))
	assert.Equal(t, "articles:slug:hello", Key("articles", "slug", "hello"))
}

func TestQueryKey(t *testing.T) {
	k1 := QueryKey("articles", "SELECT Id FROM Article__c")
	k2 := QueryKey("articles", "SELECT Id FROM Article__c")
	k3 := QueryKey("articles", "SELECT Id, Name FROM Article__c")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.True(t, strings.HasPrefix(k1, "articles:q:"))
	assert.True(t, globMatch(Pattern("articles"), k1))
}

func TestNamespaceOf(t *testing.T) {
	assert.Equal(t, "articles", namespaceOf("articles:a1"))
	assert.Equal(t, "settings", namespaceOf("settings"))
}
