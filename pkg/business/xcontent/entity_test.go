package xcontent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xcrm/pkg/storage/xcache"
)

func TestLookup(t *testing.T) {
	e, err := Lookup("Articles")
	require.NoError(t, err)
	assert.Equal(t, "Article__c", e.SObject)

	_, err = Lookup("widgets")
	require.ErrorIs(t, err, ErrUnknownEntity)
	assert.Contains(t, err.Error(), `"widgets"`)
}

func TestEntities_Table(t *testing.T) {
	assert.Len(t, Entities, 7)
	for name, e := range Entities {
		assert.Equal(t, name, e.Name)
		assert.NotEmpty(t, e.SObject)
		assert.Positive(t, e.TTL)
		for _, ns := range e.Related {
			_, ok := Entities[ns]
			assert.True(t, ok, "%s relates to unknown namespace %s", name, ns)
		}
	}
	assert.Equal(t, xcache.TTLVeryLong, Settings.TTL)
	assert.Equal(t, xcache.TTLLong, Authors.TTL)
}

func TestEntity_Namespaces(t *testing.T) {
	assert.Equal(t, []string{"answers", "questions"}, Answers.Namespaces())
	assert.Equal(t, []string{"settings"}, Settings.Namespaces())

	e := Entity{Name: "x", Related: []string{"y", "x", "y"}}
	assert.Equal(t, []string{"x", "y"}, e.Namespaces())
}
