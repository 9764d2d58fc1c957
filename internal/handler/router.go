package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/forumscope/internal/metrics"
	"github.com/hitoshi/forumscope/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	TokenVerifier middleware.TokenVerifier
	AdminChecker  middleware.AdminChecker
	AuthService   AuthServiceInterface
	AuthConfig    AuthHandlerConfig

	PostService    PostServiceInterface
	CatalogService CatalogServiceInterface

	// 集約・スケジューラ
	Tasks    TaskController
	Trending TrendingTopicsProvider
	Analyzer ContentAnalyzer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → SecurityHeaders → CORS → Logging → Recovery → OptionalAuth → RateLimit(General)
//
// OptionalAuthでユーザーを特定してからレート制限を適用する。
// 認証必須のルートグループは Auth、管理者ルートは Auth → Admin を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, m))
	r.Use(middleware.NewRecoveryMiddleware(logger))

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	postHandler := NewPostHandler(deps.PostService)
	catalogHandler := NewCatalogHandler(deps.CatalogService)
	aggHandler := NewAggregationHandler(deps.Tasks, deps.Trending, deps.Analyzer)

	requireAuth := middleware.NewAuthMiddleware(deps.TokenVerifier)
	requireAdmin := middleware.NewAdminMiddleware(deps.AdminChecker)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewOptionalAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// --- 認証不要のルート ---
		r.Post("/auth/signup", authHandler.Signup)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		r.Get("/categories", catalogHandler.ListCategories)
		r.Get("/categories/{slug}/posts", postHandler.ListCategoryPosts)
		r.Get("/categories/{slug}/analytics", postHandler.CategoryAnalytics)
		r.Get("/sources", catalogHandler.ListSources)

		r.Get("/posts", postHandler.ListPosts)
		r.Get("/posts/{id}", postHandler.GetPost)
		r.Get("/search", postHandler.Search)
		r.Get("/trending-summary", postHandler.TrendingSummary)
		r.Get("/social-media/trending", aggHandler.TrendingTopics)

		// LLM呼び出しを伴うため専用のレート制限を追加
		r.With(deps.RateLimiter.AnalyzeMiddleware()).Post("/analyze", aggHandler.Analyze)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/auth/user", authHandler.User)
			r.Post("/posts/{id}/vote", postHandler.Vote)
			r.Get("/posts/{id}/vote", postHandler.GetVote)
			r.Post("/posts/{id}/curate", postHandler.Curate)
			r.Get("/curations", postHandler.ListCurations)

			// --- 管理者ルート ---
			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)

				r.Post("/categories", catalogHandler.CreateCategory)
				r.Patch("/categories/{id}/toggle", catalogHandler.ToggleCategory)
				r.Post("/sources", catalogHandler.CreateSource)
				r.Delete("/posts/{id}", postHandler.DeletePost)

				r.Post("/scrape", aggHandler.Scrape)
				r.Post("/social-media/aggregate", aggHandler.Aggregate)

				r.Get("/scheduler/status", aggHandler.SchedulerStatus)
				r.Post("/scheduler/tasks/{name}/start", aggHandler.StartTask)
				r.Post("/scheduler/tasks/{name}/stop", aggHandler.StopTask)
				r.Post("/scheduler/tasks/{name}/run", aggHandler.RunTask)
			})
		})
	})

	return r
}
