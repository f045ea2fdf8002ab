package xcontent

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xcrm/pkg/business/xforce"
	"github.com/omeyang/xcrm/pkg/storage/xcache"
)

func TestNewService_NilRecords(t *testing.T) {
	_, err := NewService(nil, nil)
	require.ErrorIs(t, err, ErrNilRecords)
}

func TestService_QueryCached(t *testing.T) {
	svc, records, mr := newTestService(t)
	ctx := context.Background()
	soql := "SELECT Id FROM Article__c ORDER BY CreatedDate DESC LIMIT 10"

	for range 3 {
		recs, err := svc.Query(ctx, Articles, soql)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, soql, recs[0].String("Soql"))
	}
	assert.Equal(t, 1, records.count("query"))

	key := xcache.QueryKey("articles", soql)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, xcache.TTLShort, mr.TTL(key))

	_, err := svc.Query(ctx, Articles, soql+" OFFSET 10")
	require.NoError(t, err)
	assert.Equal(t, 2, records.count("query"))
}

func TestService_QueryAllAndCountUseSeparateKeys(t *testing.T) {
	svc, records, _ := newTestService(t)
	ctx := context.Background()
	records.total = 42

	all, err := svc.QueryAll(ctx, Questions, "SELECT Id FROM Question__c")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := svc.Count(ctx, Questions, "SELECT Id FROM Question__c")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	records.total = 7
	n, err = svc.Count(ctx, Questions, "SELECT Id FROM Question__c")
	require.NoError(t, err)
	assert.Equal(t, 42, n, "count served from cache")
	assert.Equal(t, 1, records.count("query_raw"))
	assert.Equal(t, 1, records.count("query_all"))
}

func TestService_GetNotFound(t *testing.T) {
	svc, records, mr := newTestService(t)
	ctx := context.Background()

	rec, ok, err := svc.Get(ctx, Authors, "a0X000000000099")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rec)
	assert.Empty(t, mr.Keys())

	_, _, err = svc.Get(ctx, Authors, "a0X000000000099")
	require.NoError(t, err)
	assert.Equal(t, 2, records.count("retrieve"), "not-found is not cached")
}

func TestService_GetCachedAndFieldsKeyed(t *testing.T) {
	svc, records, _ := newTestService(t)
	ctx := context.Background()
	records.put("Author__c", "a0X000000000001", map[string]any{"Name": "Ada"})

	for range 2 {
		rec, ok, err := svc.Get(ctx, Authors, "a0X000000000001")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Ada", rec.String("Name"))
		assert.Equal(t, "Author__c", rec.Type())
	}
	assert.Equal(t, 1, records.count("retrieve"))

	_, _, err := svc.Get(ctx, Authors, "a0X000000000001", "Name")
	require.NoError(t, err)
	assert.Equal(t, 2, records.count("retrieve"))
}

func TestService_MutationsInvalidateRelated(t *testing.T) {
	svc, records, mr := newTestService(t)
	ctx := context.Background()

	_, err := svc.Query(ctx, Questions, "SELECT Id FROM Question__c")
	require.NoError(t, err)
	_, err = svc.Query(ctx, Authors, "SELECT Id FROM Author__c")
	require.NoError(t, err)
	require.Len(t, mr.Keys(), 2)

	id, err := svc.Create(ctx, Answers, map[string]any{"Body__c": "42"})
	require.NoError(t, err)
	assert.True(t, records.exists("Answer__c", id))

	// answers 关联 questions；authors 不受影响
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "authors:")
}

func TestService_UpdateDelete(t *testing.T) {
	svc, records, mr := newTestService(t)
	ctx := context.Background()
	id, err := svc.Create(ctx, Tags, map[string]any{"Name": "go"})
	require.NoError(t, err)

	_, ok, err := svc.Get(ctx, Tags, id)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.Update(ctx, Tags, id, map[string]any{"Name": "golang"}))
	rec, ok, err := svc.Get(ctx, Tags, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "golang", rec.String("Name"), "update drops the cached record")

	require.NoError(t, svc.Delete(ctx, Tags, id))
	assert.Empty(t, mr.Keys())
	_, ok, err = svc.Get(ctx, Tags, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, records.count("retrieve"))
}

func TestService_FailedMutationKeepsCache(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()
	_, err := svc.Query(ctx, Authors, "SELECT Id FROM Author__c")
	require.NoError(t, err)

	err = svc.Update(ctx, Authors, "a0X000000000404", map[string]any{"Name": "x"})
	require.True(t, xforce.IsNotFound(err))
	assert.Len(t, mr.Keys(), 1)
}

func TestService_InvalidationFailureDoesNotMaskMutation(t *testing.T) {
	svc, records, mr := newTestService(t)
	ctx := context.Background()
	records.put("Article__c", "a0X000000000001", nil)
	mr.SetError("ERR unavailable")

	require.NoError(t, svc.Update(ctx, Articles, "a0X000000000001", map[string]any{"Title__c": "t"}))
	require.NoError(t, svc.Delete(ctx, Articles, "a0X000000000001"))
	assert.False(t, records.exists("Article__c", "a0X000000000001"))
}

func TestService_DeleteCascade(t *testing.T) {
	svc, records, mr := newTestService(t)
	ctx := context.Background()

	records.put("Question__c", "q1", nil)
	records.put("Answer__c", "ans1", nil)
	records.put("Answer__c", "ans2", nil)
	records.put("Answer__c", "ans3", nil)
	records.deleteErr["ans2"] = errors.New("ENTITY_IS_LOCKED")

	_, err := svc.Query(ctx, Questions, "SELECT Id FROM Question__c")
	require.NoError(t, err)
	_, err = svc.Query(ctx, Settings, "SELECT Id FROM Site_Settings__c")
	require.NoError(t, err)

	children := []Ref{{Answers, "ans1"}, {Answers, "ans2"}, {Answers, "ans3"}}
	err = svc.DeleteCascade(ctx, Questions, "q1", children...)
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 1)
	assert.Contains(t, merr.Errors[0].Error(), "answers ans2")

	assert.False(t, records.exists("Answer__c", "ans1"))
	assert.True(t, records.exists("Answer__c", "ans2"))
	assert.False(t, records.exists("Answer__c", "ans3"))
	assert.False(t, records.exists("Question__c", "q1"), "parent deleted after child failure")
	assert.Equal(t, 4, records.count("delete"))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "settings:")
}

func TestService_DeleteCascadeAllSucceed(t *testing.T) {
	svc, records, _ := newTestService(t)
	records.put("Category__c", "c1", nil)
	records.put("Article__c", "a1", nil)

	children := make([]Ref, 1, 4)
	children[0] = Ref{Articles, "a1"}
	require.NoError(t, svc.DeleteCascade(context.Background(), Categories, "c1", children...))
	assert.Len(t, children, 1)
	assert.Equal(t, Ref{}, children[:2][1], "caller slice untouched")
}

func TestService_Revalidate(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()
	_, err := svc.Query(ctx, Articles, "SELECT Id FROM Article__c")
	require.NoError(t, err)
	_, err = svc.Query(ctx, Categories, "SELECT Id FROM Category__c")
	require.NoError(t, err)
	_, err = svc.Query(ctx, Settings, "SELECT Id FROM Site_Settings__c")
	require.NoError(t, err)

	ns, err := svc.Revalidate(ctx, "categories")
	require.NoError(t, err)
	assert.Equal(t, []string{"categories", "articles"}, ns)
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "settings:")

	_, err = svc.Revalidate(ctx, "widgets")
	require.ErrorIs(t, err, ErrUnknownEntity)
}

func TestService_NoCache(t *testing.T) {
	records := newFakeRecords()
	svc, err := NewService(records, nil)
	require.NoError(t, err)
	assert.False(t, svc.Cache().Enabled())

	for range 2 {
		_, err := svc.Query(context.Background(), Articles, "SELECT Id FROM Article__c")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, records.count("query"))

	ns, err := svc.Revalidate(context.Background(), "settings")
	require.NoError(t, err)
	assert.Equal(t, []string{"settings"}, ns)
}
