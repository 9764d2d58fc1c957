package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/forumscope/internal/auth"
	"github.com/hitoshi/forumscope/internal/catalog"
	"github.com/hitoshi/forumscope/internal/middleware"
	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/post"
	"github.com/hitoshi/forumscope/internal/repository"
)

// stubSummarizer は固定の要約を返す。
type stubSummarizer struct{}

func (stubSummarizer) SummarizeTopics(ctx context.Context, posts []*model.Post) model.TrendingSummary {
	return model.TrendingSummary{Summary: "summary", SummaryHTML: "<p>summary</p>", PostsAnalyzed: len(posts)}
}

// allowAllValidator は全URLを許可するURLValidator。
type allowAllValidator struct{}

func (allowAllValidator) ValidateURL(string) error { return nil }

// integrationEnv はインメモリストアと実サービスで構成したルーターを保持する。
type integrationEnv struct {
	store  *repository.MemoryStore
	tasks  *mockTaskController
	router http.Handler
}

func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()

	authSvc := auth.NewService(store.Users(), auth.NewTokenIssuer([]byte("test-secret"), time.Hour),
		[]string{"admin@example.com"}, logger)
	postSvc := post.NewService(store.Posts(), store.Votes(), store.Curations(), store.Categories(), stubSummarizer{}, logger)
	catalogSvc := catalog.NewService(store.Categories(), store.Sources(), allowAllValidator{}, nil, logger)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	tasks := &mockTaskController{}
	router := NewRouter(&RouterDeps{
		Logger:         logger,
		RateLimiter:    rl,
		TokenVerifier:  authSvc,
		AdminChecker:   authSvc,
		AuthService:    authSvc,
		AuthConfig:     AuthHandlerConfig{TokenTTL: time.Hour},
		PostService:    postSvc,
		CatalogService: catalogSvc,
		Tasks:          tasks,
		Trending:       &mockTrendingProvider{},
		Analyzer:       &mockAnalyzer{},
	})
	return &integrationEnv{store: store, tasks: tasks, router: router}
}

// do はリクエストを実行する。tokenが空でなければBearerで送る。
func (e *integrationEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *integrationEnv) signup(t *testing.T, email string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": email, "password": "password123"})
	if w.Code != http.StatusCreated {
		t.Fatalf("signup %s: status = %d, body = %s", email, w.Code, w.Body.String())
	}
	var resp authResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode signup response: %v", err)
	}
	return resp.Token
}

func TestRouter_HealthAndSecurityHeaders(t *testing.T) {
	env := newIntegrationEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestRouter_UnknownRoute_ReturnsNotFound(t *testing.T) {
	env := newIntegrationEnv(t)

	w := env.do(t, http.MethodGet, "/api/unknown", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_AdminRoutes_RequireAdmin(t *testing.T) {
	env := newIntegrationEnv(t)
	adminToken := env.signup(t, "admin@example.com")
	userToken := env.signup(t, "pilot@example.com")

	category := map[string]string{"name": "Drones", "slug": "drones"}

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "未認証", token: "", wantStatus: http.StatusUnauthorized},
		{name: "不正なトークン", token: "garbage", wantStatus: http.StatusUnauthorized},
		{name: "一般ユーザー", token: userToken, wantStatus: http.StatusForbidden},
		{name: "管理者", token: adminToken, wantStatus: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/categories", tt.token, category)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body = %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRouter_SchedulerTrigger_AsAdmin(t *testing.T) {
	env := newIntegrationEnv(t)
	adminToken := env.signup(t, "admin@example.com")

	w := env.do(t, http.MethodPost, "/api/social-media/aggregate", adminToken, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	w = env.do(t, http.MethodPost, "/api/scrape", adminToken, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if len(env.tasks.triggered) != 2 || env.tasks.triggered[0] != TaskAggregation || env.tasks.triggered[1] != TaskRescoring {
		t.Errorf("triggered = %v", env.tasks.triggered)
	}
}

func TestRouter_AuthUser_WithCookie(t *testing.T) {
	env := newIntegrationEnv(t)
	token := env.signup(t, "pilot@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
	req.AddCookie(&http.Cookie{Name: middleware.TokenCookieName, Value: token})
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var user userResponse
	if err := json.NewDecoder(w.Body).Decode(&user); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if user.Email != "pilot@example.com" {
		t.Errorf("email = %q, want pilot@example.com", user.Email)
	}
}

// カテゴリ作成から人気順閲覧、投票、キュレーションまでの一連の流れ
func TestRouter_CategoryBrowseVoteFlow(t *testing.T) {
	env := newIntegrationEnv(t)
	adminToken := env.signup(t, "admin@example.com")
	userToken := env.signup(t, "pilot@example.com")
	ctx := context.Background()

	w := env.do(t, http.MethodPost, "/api/categories", adminToken, map[string]string{"name": "Drones", "slug": "drones"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create category: status = %d", w.Code)
	}
	var cat categoryResponse
	if err := json.NewDecoder(w.Body).Decode(&cat); err != nil {
		t.Fatalf("failed to decode category: %v", err)
	}

	now := time.Now()
	seed := []*model.Post{
		{Title: "Beginner drone question", URL: "https://example.com/q", Source: "forum", CategoryID: &cat.ID,
			TrendingScore: 40, Priority: model.PriorityHelp, PublishedAt: &now},
		{Title: "New DJI Mavic leaked", URL: "https://example.com/mavic", Source: "reddit", CategoryID: &cat.ID,
			TrendingScore: 95, Priority: model.PriorityHot, PublishedAt: &now},
	}
	for _, p := range seed {
		if err := env.store.Posts().Create(ctx, p); err != nil {
			t.Fatalf("seed post: %v", err)
		}
	}
	mavicID := seed[1].ID

	w = env.do(t, http.MethodGet, "/api/categories/drones/posts?sortBy=popular", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d", w.Code)
	}
	var posts []postResponse
	if err := json.NewDecoder(w.Body).Decode(&posts); err != nil {
		t.Fatalf("failed to decode posts: %v", err)
	}
	if len(posts) != 2 || posts[0].Title != "New DJI Mavic leaked" {
		t.Fatalf("posts = %+v, want Mavic first", posts)
	}

	votePath := "/api/posts/" + itoa(mavicID) + "/vote"

	// 未認証の投票は401
	if w = env.do(t, http.MethodPost, votePath, "", map[string]string{"voteType": "upvote"}); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous vote: status = %d, want 401", w.Code)
	}

	w = env.do(t, http.MethodPost, votePath, userToken, map[string]string{"voteType": "upvote"})
	var counts voteResponse
	if err := json.NewDecoder(w.Body).Decode(&counts); err != nil {
		t.Fatalf("failed to decode vote: %v", err)
	}
	if counts.Upvotes != 1 || counts.UserScore != 1 || counts.UserVote != "upvote" {
		t.Errorf("after upvote = %+v", counts)
	}

	// 同じ種別の再投票は取り消し
	w = env.do(t, http.MethodPost, votePath, userToken, map[string]string{"voteType": "upvote"})
	counts = voteResponse{}
	if err := json.NewDecoder(w.Body).Decode(&counts); err != nil {
		t.Fatalf("failed to decode vote: %v", err)
	}
	if counts.Upvotes != 0 || counts.UserScore != 0 || counts.UserVote != "" {
		t.Errorf("after toggle = %+v", counts)
	}

	w = env.do(t, http.MethodPost, "/api/posts/"+itoa(mavicID)+"/curate", userToken,
		map[string]string{"curationType": "feature", "reason": "great leak"})
	if w.Code != http.StatusCreated {
		t.Fatalf("curate: status = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/posts/"+itoa(mavicID), "", nil)
	var detail postResponse
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatalf("failed to decode post: %v", err)
	}
	if !detail.IsCurated {
		t.Error("feature後の投稿はisCurated=trueであるべき")
	}

	w = env.do(t, http.MethodGet, "/api/curations", userToken, nil)
	var curations []curationResponse
	if err := json.NewDecoder(w.Body).Decode(&curations); err != nil {
		t.Fatalf("failed to decode curations: %v", err)
	}
	if len(curations) != 1 || curations[0].PostID != mavicID {
		t.Errorf("curations = %+v", curations)
	}

	// 管理者による削除
	if w = env.do(t, http.MethodDelete, "/api/posts/"+itoa(mavicID), adminToken, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want 204", w.Code)
	}
	if w = env.do(t, http.MethodGet, "/api/posts/"+itoa(mavicID), "", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", w.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
