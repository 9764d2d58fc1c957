// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/forumscope/internal/middleware"
	"github.com/hitoshi/forumscope/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodePostNotFound, model.ErrCodeCategoryNotFound,
		model.ErrCodeTaskNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidFilter, model.ErrCodeInvalidVoteType, model.ErrCodeInvalidCurationType,
		model.ErrCodeInvalidRequest, model.ErrCodeInvalidCategory, model.ErrCodeInvalidSource,
		model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeDuplicateCategory, model.ErrCodeTaskBusy, model.ErrCodeEmailTaken:
		return http.StatusConflict
	case model.ErrCodeSSRFBlocked, model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeSchedulerClosed:
		return http.StatusServiceUnavailable
	case model.ErrCodeFeedNotDetected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON はリクエストボディをデコードする。失敗時はエラーレスポンスを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// parseID はパスパラメータの数値IDを解析する。
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// requireUserID はコンテキストのユーザーIDを返す。未認証なら401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// csvParam はカンマ区切りのクエリパラメータを空要素を除いて返す。
func csvParam(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// --- レスポンス型 ---

type engagementResponse struct {
	Comments         int `json:"comments"`
	Upvotes          int `json:"upvotes"`
	Views            int `json:"views"`
	UpvotePercentage int `json:"upvotePercentage"`
}

// postResponse は投稿のAPIレスポンス。
type postResponse struct {
	ID            int64               `json:"id"`
	Title         string              `json:"title"`
	Content       string              `json:"content"`
	Summary       string              `json:"summary,omitempty"`
	SourceID      *int64              `json:"sourceId"`
	CategoryID    *int64              `json:"categoryId"`
	URL           string              `json:"url,omitempty"`
	Source        string              `json:"source"`
	Sentiment     string              `json:"sentiment"`
	Author        string              `json:"author"`
	PublishedAt   *time.Time          `json:"publishedAt"`
	ScrapedAt     time.Time           `json:"scrapedAt"`
	Engagement    *engagementResponse `json:"engagement"`
	Tags          []string            `json:"tags"`
	TrendingScore int                 `json:"trendingScore"`
	Priority      string              `json:"priority"`
	Upvotes       int                 `json:"upvotes"`
	Downvotes     int                 `json:"downvotes"`
	UserScore     int                 `json:"userScore"`
	IsCurated     bool                `json:"isCurated"`
	CuratedBy     string              `json:"curatedBy,omitempty"`
	CuratedAt     *time.Time          `json:"curatedAt,omitempty"`
}

func toPostResponse(p *model.Post) postResponse {
	resp := postResponse{
		ID:            p.ID,
		Title:         p.Title,
		Content:       p.Content,
		Summary:       p.Summary,
		SourceID:      p.SourceID,
		CategoryID:    p.CategoryID,
		URL:           p.URL,
		Source:        p.Source,
		Sentiment:     string(p.Sentiment),
		Author:        p.Author,
		PublishedAt:   p.PublishedAt,
		ScrapedAt:     p.ScrapedAt,
		Tags:          p.Tags,
		TrendingScore: p.TrendingScore,
		Priority:      string(p.Priority),
		Upvotes:       p.Upvotes,
		Downvotes:     p.Downvotes,
		UserScore:     p.UserScore,
		IsCurated:     p.IsCurated,
		CuratedBy:     p.CuratedBy,
		CuratedAt:     p.CuratedAt,
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if e := p.Engagement; e != nil {
		resp.Engagement = &engagementResponse{
			Comments:         e.Comments,
			Upvotes:          e.Upvotes,
			Views:            e.Views,
			UpvotePercentage: e.UpvotePercentage,
		}
	}
	return resp
}

func toPostResponses(posts []*model.Post) []postResponse {
	out := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, toPostResponse(p))
	}
	return out
}

type categoryResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toCategoryResponse(c *model.Category) categoryResponse {
	return categoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Slug:        c.Slug,
		Description: c.Description,
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

type analyticsResponse struct {
	CategoryID   int64     `json:"categoryId"`
	TotalPosts   int       `json:"totalPosts"`
	HotTopics    int       `json:"hotTopics"`
	TrendingNow  int       `json:"trendingNow"`
	ActiveForums int       `json:"activeForums"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

type sourceResponse struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Type       string    `json:"type"`
	IsActive   bool      `json:"isActive"`
	CategoryID *int64    `json:"categoryId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toSourceResponse(s *model.Source) sourceResponse {
	return sourceResponse{
		ID:         s.ID,
		Name:       s.Name,
		URL:        s.URL,
		Type:       string(s.Type),
		IsActive:   s.IsActive,
		CategoryID: s.CategoryID,
		CreatedAt:  s.CreatedAt,
	}
}

type voteResponse struct {
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
	UserScore int    `json:"userScore"`
	UserVote  string `json:"userVote"`
}

type curationResponse struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"userId"`
	PostID       int64     `json:"postId"`
	CurationType string    `json:"curationType"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toCurationResponse(c *model.Curation) curationResponse {
	return curationResponse{
		ID:           c.ID,
		UserID:       c.UserID,
		PostID:       c.PostID,
		CurationType: string(c.CurationType),
		Reason:       c.Reason,
		CreatedAt:    c.CreatedAt,
	}
}

type userResponse struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		ProfileImageURL: u.ProfileImageURL,
		CreatedAt:       u.CreatedAt,
	}
}
