package xcontent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xcrm/pkg/business/xforce"
	"github.com/omeyang/xcrm/pkg/storage/xcache"
)

// fakeRecords 是内存中的记录 API。
type fakeRecords struct {
	mu        sync.Mutex
	calls     map[string]int
	objects   map[string]map[string]xforce.Record
	deleteErr map[string]error
	total     int
	seq       int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		calls:     make(map[string]int),
		objects:   make(map[string]map[string]xforce.Record),
		deleteErr: make(map[string]error),
	}
}

func (f *fakeRecords) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRecords) put(kind, id string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects[kind] == nil {
		f.objects[kind] = make(map[string]xforce.Record)
	}
	rec := xforce.Record{"Id": id, "attributes": map[string]any{"type": kind}}
	for k, v := range fields {
		rec[k] = v
	}
	f.objects[kind][id] = rec
}

func (f *fakeRecords) exists(kind, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[kind][id]
	return ok
}

func notFound() error {
	return &xforce.APIError{StatusCode: 404, Message: "NOT_FOUND: The requested resource does not exist"}
}

func (f *fakeRecords) Query(_ context.Context, soql string) ([]xforce.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["query"]++
	return []xforce.Record{{"Id": "a0X000000000001", "Soql": soql}}, nil
}

func (f *fakeRecords) QueryAll(_ context.Context, soql string) ([]xforce.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["query_all"]++
	return []xforce.Record{{"Id": "a0X000000000001"}, {"Id": "a0X000000000002"}}, nil
}

func (f *fakeRecords) QueryRaw(_ context.Context, _ string) (*xforce.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["query_raw"]++
	return &xforce.QueryResult{TotalSize: f.total, Done: true}, nil
}

func (f *fakeRecords) Retrieve(_ context.Context, kind, id string, _ ...string) (xforce.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["retrieve"]++
	rec, ok := f.objects[kind][id]
	if !ok {
		return nil, notFound()
	}
	return rec, nil
}

func (f *fakeRecords) Create(_ context.Context, kind string, fields map[string]any) (string, error) {
	f.mu.Lock()
	f.calls["create"]++
	f.seq++
	id := fmt.Sprintf("a0X%015d", f.seq)
	f.mu.Unlock()
	f.put(kind, id, fields)
	return id, nil
}

func (f *fakeRecords) Update(_ context.Context, kind, id string, fields map[string]any) error {
	f.mu.Lock()
	f.calls["update"]++
	rec, ok := f.objects[kind][id]
	f.mu.Unlock()
	if !ok {
		return notFound()
	}
	merged := map[string]any{}
	for k, v := range rec {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	f.put(kind, id, merged)
	return nil
}

func (f *fakeRecords) Delete(_ context.Context, kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	if _, ok := f.objects[kind][id]; !ok {
		return notFound()
	}
	delete(f.objects[kind], id)
	return nil
}

var _ Records = (*fakeRecords)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService 返回基于 miniredis 缓存的 Service。
func newTestService(t *testing.T) (*Service, *fakeRecords, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := xcache.NewRedisStore(client)
	require.NoError(t, err)

	records := newFakeRecords()
	svc, err := NewService(records, xcache.New(store, xcache.WithLogger(discardLogger())), WithLogger(discardLogger()))
	require.NoError(t, err)
	return svc, records, mr
}
