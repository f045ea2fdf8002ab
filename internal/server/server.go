package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/omeyang/xcrm/pkg/business/xcontent"
	"github.com/omeyang/xcrm/pkg/business/xforce"
	"github.com/omeyang/xcrm/pkg/storage/xcache"
)

const (
	// HeaderSecret webhook 共享密钥请求头。
	HeaderSecret = "X-Revalidate-Secret"

	headerRequestID = "X-Request-Id"
	maxBodySize     = 1 << 20
)

// 健康状态。
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// StatusSource 提供记录客户端状态，*xforce.Client 满足该接口。
type StatusSource interface {
	Status() xforce.Status
}

// StatsSource 提供缓存统计，*xcache.Aside 满足该接口。
type StatsSource interface {
	Stats(ctx context.Context) *xcache.Stats
}

// Revalidator 按实体名失效缓存，*xcontent.Service 满足该接口。
type Revalidator interface {
	Revalidate(ctx context.Context, entity string) ([]string, error)
}

// Health 是 /api/health 的响应体。
type Health struct {
	Status     string        `json:"status"`
	Salesforce xforce.Status `json:"salesforce"`
	Cache      *xcache.Stats `json:"cache"`
}

// RevalidateRequest 是 /api/revalidate 的请求体。
type RevalidateRequest struct {
	Entity string `json:"entity"`
	ID     string `json:"id,omitempty"`
}

// RevalidateResponse 是 /api/revalidate 的成功响应体。
type RevalidateResponse struct {
	Revalidated bool     `json:"revalidated"`
	Entity      string   `json:"entity"`
	ID          string   `json:"id,omitempty"`
	Namespaces  []string `json:"namespaces"`
	Now         int64    `json:"now"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Option 配置 Handler。
type Option func(*Handler)

// WithSecret 设置 webhook 密钥。未设置时 webhook 拒绝所有请求。
func WithSecret(secret string) Option {
	return func(h *Handler) {
		h.secret = []byte(secret)
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock 注入时钟，测试中使用。
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler 实现 HTTP 路由。
type Handler struct {
	crm    StatusSource
	cache  StatsSource
	reval  Revalidator
	secret []byte
	logger *slog.Logger
	now    func() time.Time
	mux    *http.ServeMux
}

var (
	_ StatusSource = (*xforce.Client)(nil)
	_ StatsSource  = (*xcache.Aside)(nil)
	_ Revalidator  = (*xcontent.Service)(nil)
)

// New 创建 Handler。cache 为 nil 时健康检查的 cache 字段为 null。
func New(crm StatusSource, cache StatsSource, reval Revalidator, opts ...Option) *Handler {
	h := &Handler{
		crm:    crm,
		cache:  cache,
		reval:  reval,
		logger: slog.Default(),
		now:    time.Now,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if len(h.secret) == 0 {
		h.logger.Warn("server: revalidate secret not configured, webhook disabled")
	}
	h.mux.HandleFunc("GET /api/health", h.health)
	h.mux.HandleFunc("POST /api/revalidate", h.revalidate)
	return h
}

// ServeHTTP 为每个请求分配请求 ID 并记录访问日志。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	id := r.Header.Get(headerRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(headerRequestID, id)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)

	h.logger.Info("server: request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.String("request_id", id),
		slog.Duration("duration", h.now().Sub(start)))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	st := h.crm.Status()
	body := Health{Status: StatusDegraded, Salesforce: st}
	if st.Connected {
		body.Status = StatusOK
	}
	if h.cache != nil {
		body.Cache = h.cache.Stats(r.Context())
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) revalidate(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r.Header.Get(HeaderSecret)) {
		h.logger.Warn("server: revalidate rejected", slog.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid secret"})
		return
	}

	var req RevalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if req.Entity == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "entity is required"})
		return
	}

	namespaces, err := h.reval.Revalidate(r.Context(), req.Entity)
	switch {
	case errors.Is(err, xcontent.ErrUnknownEntity):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown entity: " + req.Entity})
		return
	case err != nil:
		h.logger.Error("server: revalidate failed", slog.String("entity", req.Entity), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "revalidation failed"})
		return
	}

	h.logger.Info("server: revalidated",
		slog.String("entity", req.Entity),
		slog.String("id", req.ID),
		slog.Any("namespaces", namespaces))
	writeJSON(w, http.StatusOK, RevalidateResponse{
		Revalidated: true,
		Entity:      req.Entity,
		ID:          req.ID,
		Namespaces:  namespaces,
		Now:         h.now().UnixMilli(),
	})
}

func (h *Handler) authorized(got string) bool {
	if len(h.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), h.secret) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
