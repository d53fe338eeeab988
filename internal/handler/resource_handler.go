package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/careportal/internal/middleware"
	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/portal"
)

// キャッシュ状態を表すレスポンスヘッダー
const (
	headerCacheStale     = "X-Cache-Stale"
	headerCacheError     = "X-Cache-Error"
	headerCacheFetchedAt = "X-Cache-Fetched-At"
)

// ResourceRegistry はリソース名からEndpointを引くインターフェース。portal.Portalが実装する。
type ResourceRegistry interface {
	Resource(name string) (portal.Endpoint, error)
	Names() []string
}

// ResourceHandler はリソースのCRUDを提供するHTTPハンドラー。
// 書き込みの成功は操作したユーザーとロールとともに記録する。
type ResourceHandler struct {
	registry ResourceRegistry
	logger   *slog.Logger
}

// NewResourceHandler はResourceHandlerを生成する。
func NewResourceHandler(registry ResourceRegistry, logger *slog.Logger) *ResourceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceHandler{registry: registry, logger: logger}
}

// List はリソースの一覧を返す。
// GET /api/{resource}
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	writeDocument(w, ep.ListJSON(r.Context()))
}

// Get は指定IDのレコードを返す。
// GET /api/{resource}/{id}
func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	writeDocument(w, ep.GetJSON(r.Context(), chi.URLParam(r, "id")))
}

// Create はレコードを作成する。
// POST /api/{resource}
func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	body, err := readBody(r, w)
	if err != nil {
		writeError(w, err)
		return
	}

	created, err := ep.CreateJSON(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logWrite(r, ep.Name(), portal.OpCreate, "")
	writeRawJSON(w, http.StatusCreated, created)
}

// Update はレコードを部分更新する。
// PATCH /api/{resource}/{id}
func (h *ResourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	body, err := readBody(r, w)
	if err != nil {
		writeError(w, err)
		return
	}

	updated, err := ep.UpdateJSON(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logWrite(r, ep.Name(), portal.OpUpdate, chi.URLParam(r, "id"))
	writeRawJSON(w, http.StatusOK, updated)
}

// Delete はレコードを削除する。
// DELETE /api/{resource}/{id}
func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := ep.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.logWrite(r, ep.Name(), portal.OpDelete, id)
	w.WriteHeader(http.StatusNoContent)
}

// Names は利用可能なリソース名の一覧を返す。
// GET /api/resources
func (h *ResourceHandler) Names(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"resources": h.registry.Names()})
}

func (h *ResourceHandler) endpoint(w http.ResponseWriter, r *http.Request) (portal.Endpoint, bool) {
	ep, err := h.registry.Resource(chi.URLParam(r, "resource"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return ep, true
}

func (h *ResourceHandler) logWrite(r *http.Request, resource, op, id string) {
	attrs := []any{
		slog.String("resource", resource),
		slog.String("operation", op),
		slog.String("user_id", middleware.UserIDFromContext(r.Context())),
		slog.String("role", string(middleware.RoleFromContext(r.Context()))),
	}
	if id != "" {
		attrs = append(attrs, slog.String("id", id))
	}
	h.logger.Info("resource written", attrs...)
}

// writeDocument は読み取り結果を書き込む。
// データがあれば取得に失敗していても200で返し、古いデータであることをヘッダーで示す。
func writeDocument(w http.ResponseWriter, doc portal.Document) {
	if !doc.HasData {
		if doc.Err != nil {
			writeError(w, doc.Err)
			return
		}
		// 取得中のまま呼び出し元がキャンセルした場合
		writeError(w, model.NewServerError(0, "データを取得できませんでした"))
		return
	}

	if !doc.FetchedAt.IsZero() {
		w.Header().Set(headerCacheFetchedAt, doc.FetchedAt.UTC().Format(time.RFC3339))
	}
	if doc.Stale || doc.Err != nil {
		w.Header().Set(headerCacheStale, "true")
	}
	if doc.Err != nil {
		w.Header().Set(headerCacheError, string(model.KindOf(doc.Err)))
	}
	writeRawJSON(w, http.StatusOK, doc.Data)
}
