package xforce

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 测试密钥
// =============================================================================

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func rsaKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return testKey
}

func pkcs8PEM(t testing.TB) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(rsaKey(t))
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func pkcs1PEM(t testing.TB) string {
	t.Helper()
	der := x509.MarshalPKCS1PrivateKey(rsaKey(t))
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))
}

// =============================================================================
// 假时钟
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// =============================================================================
// 假记录服务
// =============================================================================

const (
	testClientID = "3MVG9-test-consumer-key"
	testUsername = "integration@example.com"
)

// fakeOrg 同时扮演身份提供方和记录 API。
type fakeOrg struct {
	t      *testing.T
	server *httptest.Server

	mu      sync.Mutex
	records map[string]map[string]Record
	revoked map[string]bool
	pages   [][]Record
	search  []Record
	nextID  int

	tokenCalls  atomic.Int32
	queryCalls  atomic.Int32
	apiCalls    atomic.Int32
	tokenSeq    atomic.Int32
	tokenGate   chan struct{}
	tokenErrors []tokenFailure

	// intercept 返回 true 表示已处理请求
	intercept func(w http.ResponseWriter, r *http.Request) bool
}

type tokenFailure struct {
	status int
	body   string
}

func newFakeOrg(t *testing.T) *fakeOrg {
	t.Helper()
	org := &fakeOrg{
		t:       t,
		records: make(map[string]map[string]Record),
		revoked: make(map[string]bool),
	}
	org.server = httptest.NewServer(http.HandlerFunc(org.serve))
	t.Cleanup(org.server.Close)
	return org
}

func (o *fakeOrg) URL() string {
	return o.server.URL
}

// config 返回指向假服务的配置。
func (o *fakeOrg) config() *Config {
	return &Config{
		ClientID:      testClientID,
		Username:      testUsername,
		PrivateKey:    pkcs8PEM(o.t),
		InstanceURL:   o.server.URL,
		LoginURL:      o.server.URL,
		AllowInsecure: true,
	}
}

// newClient 创建连接假服务的客户端，测试结束时关闭。
func (o *fakeOrg) newClient(opts ...Option) *Client {
	o.t.Helper()
	return o.newClientWithConfig(o.config(), opts...)
}

func (o *fakeOrg) newClientWithConfig(cfg *Config, opts ...Option) *Client {
	o.t.Helper()
	c, err := NewClient(cfg, opts...)
	require.NoError(o.t, err)
	o.t.Cleanup(func() { _ = c.Close() })
	return c
}

// failToken 让接下来的交换依次返回给定失败。
func (o *fakeOrg) failToken(status int, body string) {
	o.mu.Lock()
	o.tokenErrors = append(o.tokenErrors, tokenFailure{status: status, body: body})
	o.mu.Unlock()
}

// revokeAll 让已签发的全部 Token 失效。
func (o *fakeOrg) revokeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := int32(1); i <= o.tokenSeq.Load(); i++ {
		o.revoked[tokenName(i)] = true
	}
}

// setPages 配置查询分页，每页一组记录。
func (o *fakeOrg) setPages(pages ...[]Record) {
	o.mu.Lock()
	o.pages = pages
	o.mu.Unlock()
}

func tokenName(n int32) string {
	return "00Dtest!token-" + strconv.Itoa(int(n))
}

func makeRecords(kind string, from, n int) []Record {
	out := make([]Record, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, Record{
			"attributes": map[string]any{"type": kind},
			"Id":         fmt.Sprintf("a0X%015d", i),
			"Name":       fmt.Sprintf("%s %d", kind, i),
		})
	}
	return out
}

func (o *fakeOrg) serve(w http.ResponseWriter, r *http.Request) {
	if o.intercept != nil && o.intercept(w, r) {
		return
	}
	if r.URL.Path == PathToken {
		o.serveToken(w, r)
		return
	}

	o.apiCalls.Add(1)
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	o.mu.Lock()
	revoked := o.revoked[token]
	o.mu.Unlock()
	if token == "" || revoked || !strings.HasPrefix(token, "00Dtest!token-") {
		writeJSON(w, http.StatusUnauthorized, []ErrorEntry{{ErrorCode: "INVALID_SESSION_ID", Message: "Session expired or invalid"}})
		return
	}
	if r.Header.Get(headerRequestID) == "" {
		writeJSON(w, http.StatusBadRequest, []ErrorEntry{{ErrorCode: "MISSING_REQUEST_ID", Message: "no request id"}})
		return
	}

	base := "/services/data/v" + DefaultAPIVersion
	switch {
	case r.URL.Path == base+"/query":
		o.serveQuery(w, r.URL.Query().Get("q"))
	case strings.HasPrefix(r.URL.Path, base+"/query/"):
		idx, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, base+"/query/cursor-"))
		o.servePage(w, idx)
	case r.URL.Path == base+"/search":
		o.mu.Lock()
		results := o.search
		o.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"searchRecords": results})
	case strings.HasPrefix(r.URL.Path, base+"/sobjects/"):
		o.serveSObject(w, r, strings.TrimPrefix(r.URL.Path, base+"/sobjects/"))
	default:
		writeJSON(w, http.StatusNotFound, []ErrorEntry{{ErrorCode: "NOT_FOUND", Message: "unknown resource"}})
	}
}

func (o *fakeOrg) serveToken(w http.ResponseWriter, r *http.Request) {
	o.tokenCalls.Add(1)
	if o.tokenGate != nil {
		<-o.tokenGate
	}

	o.mu.Lock()
	var failure *tokenFailure
	if len(o.tokenErrors) > 0 {
		f := o.tokenErrors[0]
		o.tokenErrors = o.tokenErrors[1:]
		failure = &f
	}
	o.mu.Unlock()
	if failure != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(failure.status)
		_, _ = w.Write([]byte(failure.body))
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_request", ErrorDescription: err.Error()})
		return
	}
	if r.PostForm.Get("grant_type") != GrantTypeJWTBearer {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "unsupported_grant_type", ErrorDescription: "grant type not supported"})
		return
	}
	if err := o.verifyAssertion(r.PostForm.Get("assertion")); err != nil {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_grant", ErrorDescription: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": tokenName(o.tokenSeq.Add(1)),
		"instance_url": o.server.URL,
		"token_type":   "Bearer",
		"scope":        "api",
	})
}

func (o *fakeOrg) verifyAssertion(assertion string) error {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(tok *jwt.Token) (any, error) {
		return &rsaKey(o.t).PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
	if err != nil {
		return err
	}
	if claims["iss"] != testClientID || claims["sub"] != testUsername || claims["aud"] != o.server.URL {
		return fmt.Errorf("unexpected claims %v", claims)
	}
	if _, ok := claims["exp"].(float64); !ok {
		return fmt.Errorf("missing exp")
	}
	return nil
}

func (o *fakeOrg) serveQuery(w http.ResponseWriter, soql string) {
	o.queryCalls.Add(1)
	if strings.Contains(soql, "COUNT()") {
		writeJSON(w, http.StatusOK, map[string]any{"totalSize": 42, "done": true, "records": []Record{}})
		return
	}
	o.servePage(w, 0)
}

func (o *fakeOrg) servePage(w http.ResponseWriter, idx int) {
	if idx > 0 {
		o.queryCalls.Add(1)
	}
	o.mu.Lock()
	pages := o.pages
	o.mu.Unlock()

	if idx >= len(pages) {
		writeJSON(w, http.StatusOK, map[string]any{"totalSize": 0, "done": true, "records": []Record{}})
		return
	}
	total := 0
	for _, p := range pages {
		total += len(p)
	}
	body := map[string]any{
		"totalSize": total,
		"done":      idx == len(pages)-1,
		"records":   pages[idx],
	}
	if idx < len(pages)-1 {
		body["nextRecordsUrl"] = fmt.Sprintf("/services/data/v%s/query/cursor-%d", DefaultAPIVersion, idx+1)
	}
	writeJSON(w, http.StatusOK, body)
}

func (o *fakeOrg) serveSObject(w http.ResponseWriter, r *http.Request, rest string) {
	kind, id, _ := strings.Cut(rest, "/")

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.records[kind] == nil {
		o.records[kind] = make(map[string]Record)
	}
	table := o.records[kind]

	switch r.Method {
	case http.MethodPost:
		var fields Record
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			writeJSON(w, http.StatusBadRequest, []ErrorEntry{{ErrorCode: "JSON_PARSER_ERROR", Message: err.Error()}})
			return
		}
		o.nextID++
		newID := fmt.Sprintf("a0Y%015d", o.nextID)
		fields["Id"] = newID
		fields["attributes"] = map[string]any{"type": kind}
		table[newID] = fields
		writeJSON(w, http.StatusCreated, createResponse{ID: newID, Success: true, Errors: []ErrorEntry{}})
	case http.MethodPatch:
		rec, ok := table[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, []ErrorEntry{{ErrorCode: "NOT_FOUND", Message: "The requested resource does not exist"}})
			return
		}
		var fields Record
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			writeJSON(w, http.StatusBadRequest, []ErrorEntry{{ErrorCode: "JSON_PARSER_ERROR", Message: err.Error()}})
			return
		}
		for k, v := range fields {
			rec[k] = v
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if _, ok := table[id]; !ok {
			writeJSON(w, http.StatusNotFound, []ErrorEntry{{ErrorCode: "ENTITY_IS_DELETED", Message: "entity is deleted"}})
			return
		}
		delete(table, id)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		rec, ok := table[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, []ErrorEntry{{ErrorCode: "NOT_FOUND", Message: "The requested resource does not exist"}})
			return
		}
		out := Record{"attributes": rec["attributes"], "Id": rec["Id"]}
		if fields := r.URL.Query().Get("fields"); fields != "" {
			for _, f := range strings.Split(fields, ",") {
				out[f] = rec[f]
			}
		} else {
			for k, v := range rec {
				out[k] = v
			}
		}
		writeJSON(w, http.StatusOK, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
