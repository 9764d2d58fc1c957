package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/forumscope/internal/catalog"
	"github.com/hitoshi/forumscope/internal/model"
)

// CatalogServiceInterface はカテゴリ・ソースハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	ListCategories(ctx context.Context, includeInactive bool) ([]*model.Category, error)
	CreateCategory(ctx context.Context, in catalog.CategoryInput) (*model.Category, error)
	ToggleCategory(ctx context.Context, id int64) (*model.Category, error)
	ListSources(ctx context.Context) ([]*model.Source, error)
	CreateSource(ctx context.Context, in catalog.SourceInput) (*model.Source, error)
}

// CatalogHandler はカテゴリとソースのHTTPハンドラー。
type CatalogHandler struct {
	service CatalogServiceInterface
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface) *CatalogHandler {
	return &CatalogHandler{service: service}
}

type createCategoryRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	IsActive    *bool  `json:"isActive"`
}

type createSourceRequest struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Type       string `json:"type"`
	CategoryID *int64 `json:"categoryId"`
	IsActive   *bool  `json:"isActive"`
}

// ListCategories はカテゴリ一覧を返す。
// GET /api/categories?includeInactive=bool
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("includeInactive"))

	categories, err := h.service.ListCategories(r.Context(), includeInactive)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, toCategoryResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateCategory はカテゴリを作成する（管理者）。
// POST /api/categories
func (h *CatalogHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.service.CreateCategory(r.Context(), catalog.CategoryInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryResponse(c))
}

// ToggleCategory はカテゴリの有効・無効を切り替える（管理者）。
// PATCH /api/categories/:id/toggle
func (h *CatalogHandler) ToggleCategory(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, ok := parseID(raw)
	if !ok {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewCategoryNotFoundError(raw))
		return
	}
	c, err := h.service.ToggleCategory(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryResponse(c))
}

// ListSources は登録済みソース一覧を返す。
// GET /api/sources
func (h *CatalogHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.service.ListSources(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]sourceResponse, 0, len(sources))
	for _, s := range sources {
		out = append(out, toSourceResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateSource はソースを登録する（管理者）。
// POST /api/sources
func (h *CatalogHandler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.service.CreateSource(r.Context(), catalog.SourceInput{
		Name:       req.Name,
		URL:        req.URL,
		Type:       model.SourceType(req.Type),
		CategoryID: req.CategoryID,
		IsActive:   req.IsActive,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSourceResponse(s))
}
