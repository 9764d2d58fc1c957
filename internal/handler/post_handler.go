package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/forumscope/internal/model"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	ListPosts(ctx context.Context, f model.PostFilter) ([]*model.Post, error)
	ListCategoryPosts(ctx context.Context, slug string, f model.PostFilter) ([]*model.Post, error)
	Search(ctx context.Context, q string) ([]*model.Post, error)
	GetPost(ctx context.Context, id int64) (*model.Post, error)
	DeletePost(ctx context.Context, id int64) error
	Vote(ctx context.Context, userID string, postID int64, voteType model.VoteType) (*model.VoteCounts, error)
	GetVote(ctx context.Context, userID string, postID int64) (model.VoteType, error)
	Curate(ctx context.Context, userID string, postID int64, curationType model.CurationType, reason string) (*model.Curation, error)
	ListCurations(ctx context.Context, userID string) ([]*model.Curation, error)
	CategoryAnalytics(ctx context.Context, slug string) (*model.CategoryAnalytics, error)
	TrendingSummary(ctx context.Context, categorySlug string) (*model.TrendingSummary, error)
}

// PostHandler は投稿・投票・キュレーションのHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface) *PostHandler {
	return &PostHandler{service: service}
}

type voteRequest struct {
	VoteType string `json:"voteType"`
}

type curateRequest struct {
	CurationType string `json:"curationType"`
	Reason       string `json:"reason"`
}

type trendingSummaryResponse struct {
	Summary       string `json:"summary"`
	SummaryHTML   string `json:"summaryHtml"`
	PostsAnalyzed int    `json:"postsAnalyzed"`
}

// parsePostFilter はクエリパラメータからフィルタを組み立てる。検証はサービス層で行う。
// limitは未指定・0なら既定値、上限超過は上限に丸める。負数はサービス層で拒否される。
func parsePostFilter(r *http.Request) (model.PostFilter, error) {
	q := r.URL.Query()
	f := model.PostFilter{
		CategorySlugs: csvParam(r, "categories"),
		Sources:       csvParam(r, "sources"),
		TimeRange:     model.TimeRange(q.Get("timeRange")),
		Search:        q.Get("search"),
		SortBy:        model.SortOrder(q.Get("sortBy")),
		Limit:         model.DefaultPostsPerPage,
	}
	for _, p := range csvParam(r, "priorities") {
		f.Priorities = append(f.Priorities, model.Priority(p))
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return f, model.NewInvalidFilterError("limit", raw)
		}
		switch {
		case limit > model.MaxPostsPerPage:
			f.Limit = model.MaxPostsPerPage
		case limit != 0:
			f.Limit = limit
		}
	}
	return f, nil
}

// postIDParam はパスの投稿IDを解析する。不正な場合は404を書き込む。
func postIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, ok := parseID(raw)
	if !ok {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewPostNotFoundError(0))
		return 0, false
	}
	return id, true
}

// ListPosts はフィルタ条件に一致する投稿一覧を返す。
// GET /api/posts?categories=&sources=&priorities=&timeRange=&sortBy=&search=
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	f, err := parsePostFilter(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	posts, err := h.service.ListPosts(r.Context(), f)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

// ListCategoryPosts はカテゴリ内の投稿一覧を返す。
// GET /api/categories/:slug/posts
func (h *PostHandler) ListCategoryPosts(w http.ResponseWriter, r *http.Request) {
	f, err := parsePostFilter(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	posts, err := h.service.ListCategoryPosts(r.Context(), chi.URLParam(r, "slug"), f)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

// Search はタイトル・本文の部分一致検索を行う。
// GET /api/search?q=
func (h *PostHandler) Search(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

// GetPost は投稿詳細を返す。
// GET /api/posts/:id
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := postIDParam(w, r)
	if !ok {
		return
	}
	post, err := h.service.GetPost(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// DeletePost は投稿を削除する（管理者）。
// DELETE /api/posts/:id
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := postIDParam(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePost(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Vote は投票を適用し、更新後の集計を返す。同じ種別の再投票は取り消しになる。
// POST /api/posts/:id/vote
func (h *PostHandler) Vote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := postIDParam(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	counts, err := h.service.Vote(r.Context(), userID, id, model.VoteType(req.VoteType))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voteResponse{
		Upvotes:   counts.Upvotes,
		Downvotes: counts.Downvotes,
		UserScore: counts.UserScore,
		UserVote:  string(counts.UserVote),
	})
}

// GetVote はユーザーの現在の投票を返す。未投票ならnull。
// GET /api/posts/:id/vote
func (h *PostHandler) GetVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := postIDParam(w, r)
	if !ok {
		return
	}
	vote, err := h.service.GetVote(r.Context(), userID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var voteType *string
	if vote != model.VoteTypeNone {
		s := string(vote)
		voteType = &s
	}
	writeJSON(w, http.StatusOK, map[string]*string{"voteType": voteType})
}

// Curate はキュレーション操作を記録する。
// POST /api/posts/:id/curate
func (h *PostHandler) Curate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := postIDParam(w, r)
	if !ok {
		return
	}
	var req curateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.Curate(r.Context(), userID, id, model.CurationType(req.CurationType), req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCurationResponse(c))
}

// ListCurations はユーザーのキュレーション履歴を新しい順に返す。
// GET /api/curations
func (h *PostHandler) ListCurations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	curations, err := h.service.ListCurations(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]curationResponse, 0, len(curations))
	for _, c := range curations {
		out = append(out, toCurationResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// CategoryAnalytics はカテゴリの集計値を返す。
// GET /api/categories/:slug/analytics
func (h *PostHandler) CategoryAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.CategoryAnalytics(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analyticsResponse{
		CategoryID:   a.CategoryID,
		TotalPosts:   a.TotalPosts,
		HotTopics:    a.HotTopics,
		TrendingNow:  a.TrendingNow,
		ActiveForums: a.ActiveForums,
		LastUpdated:  a.LastUpdated,
	})
}

// TrendingSummary は上位投稿のLLM要約を返す。
// GET /api/trending-summary?category=
func (h *PostHandler) TrendingSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.TrendingSummary(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trendingSummaryResponse{
		Summary:       s.Summary,
		SummaryHTML:   s.SummaryHTML,
		PostsAnalyzed: s.PostsAnalyzed,
	})
}
