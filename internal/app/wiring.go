package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/forumscope/internal/adapter"
	"github.com/hitoshi/forumscope/internal/aggregate"
	"github.com/hitoshi/forumscope/internal/auth"
	"github.com/hitoshi/forumscope/internal/cache"
	"github.com/hitoshi/forumscope/internal/catalog"
	"github.com/hitoshi/forumscope/internal/classifier"
	"github.com/hitoshi/forumscope/internal/config"
	"github.com/hitoshi/forumscope/internal/handler"
	"github.com/hitoshi/forumscope/internal/ingest"
	"github.com/hitoshi/forumscope/internal/metrics"
	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/post"
	"github.com/hitoshi/forumscope/internal/repository"
	"github.com/hitoshi/forumscope/internal/security"
	"github.com/hitoshi/forumscope/internal/worker/cleanup"
	"github.com/hitoshi/forumscope/internal/worker/rescore"
	"github.com/hitoshi/forumscope/internal/worker/scheduler"
)

const (
	// cacheKeyPrefix はRedisキーの名前空間。
	cacheKeyPrefix = "forumscope:"
	// taskRetention は保持期間を過ぎた投稿の削除タスク名。
	taskRetention     = "retention"
	retentionInterval = 24 * time.Hour
)

// components はサブコマンド間で共有する依存関係一式。
type components struct {
	registry     *prometheus.Registry
	metrics      *metrics.Collector
	cache        cache.Cache
	closeCache   func() error
	classifier   *classifier.Classifier
	orchestrator *aggregate.Orchestrator
	sweep        *rescore.Sweep
	scheduler    *scheduler.Scheduler
	auth         *auth.Service
	posts        *post.Service
	catalog      *catalog.Service
}

// close は外部接続を解放する。
func (c *components) close() {
	if c.closeCache != nil {
		if err := c.closeCache(); err != nil {
			slog.Warn("failed to close cache", slog.String("error", err.Error()))
		}
	}
}

// buildComponents はDB接続と設定から全サービスを組み立て、スケジューラにタスクを登録する。
func buildComponents(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*components, error) {
	c := &components{registry: prometheus.NewRegistry()}
	c.metrics = metrics.NewCollector(c.registry)

	// 1. リポジトリ
	postRepo := repository.NewPostgresPostRepo(db)
	categoryRepo := repository.NewPostgresCategoryRepo(db)
	sourceRepo := repository.NewPostgresSourceRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	voteRepo := repository.NewPostgresVoteRepo(db)
	curationRepo := repository.NewPostgresCurationRepo(db)

	// 2. キャッシュ（REDIS_URL未設定または接続不可ならキャッシュなし）
	c.cache = openCache(cfg.RedisURL, logger, c)

	// 3. 外部取得用のセキュリティ
	guard := security.NewOutboundGuard(adapter.UserAgent)
	httpClient := guard.NewClient(cfg.AdapterTimeout, cfg.AdapterMaxSize)
	sanitizer := security.NewSanitizer()

	// 4. ソースアダプタ
	reddit := adapter.NewReddit(httpClient, cfg.RedditLimit)
	adapters := adapter.NewSet(cfg.AdapterTimeout, logger, c.metrics,
		reddit,
		adapter.NewYouTube(httpClient, sanitizer),
		adapter.NewRSS(httpClient, sanitizer),
		adapter.NewForum(httpClient, sanitizer),
	)

	// 5. 分類・要約
	if cfg.LLMAPIKey == "" {
		logger.Warn("LLM_API_KEY is not set; classification falls back to keyword rules")
	}
	llm := classifier.NewChatClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
	c.classifier = classifier.New(llm, logger, c.metrics)
	summarizer := classifier.NewSummarizer(llm, sanitizer, logger)

	// 6. 取り込みと集約
	ingestSvc := ingest.NewService(postRepo, categoryRepo, c.classifier, cfg.IngestInterval, logger, c.metrics)

	sources := aggregate.DefaultSources()
	if cfg.AggregationSourcesFile != "" {
		loaded, err := aggregate.LoadSources(cfg.AggregationSourcesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load aggregation sources: %w", err)
		}
		sources = loaded
	}
	c.orchestrator = aggregate.NewOrchestrator(sources, adapters, ingestSvc, postRepo,
		aggregate.Politeness{
			model.PlatformReddit:  cfg.PolitenessReddit,
			model.PlatformYouTube: cfg.PolitenessYouTube,
			model.PlatformRSS:     cfg.PolitenessRSS,
			model.PlatformForum:   cfg.PolitenessForum,
		},
		logger,
		aggregate.WithRegisteredSources(sourceRepo, categoryRepo),
		aggregate.WithCache(c.cache, cfg.SummaryCacheTTL),
	)

	// 7. 再スコアリング
	rescoreCfg := rescore.DefaultConfig()
	rescoreCfg.SampleSize = cfg.RescoreSampleSize
	rescoreCfg.Window = cfg.RescoreWindow
	rescoreCfg.APIInterval = cfg.RescoreAPIInterval
	rescoreCfg.MaxCallsPerCycle = cfg.RescoreMaxCalls
	c.sweep = rescore.NewSweep(postRepo, reddit, logger, c.metrics, rescoreCfg)

	// 8. スケジューラ
	c.scheduler = scheduler.New(logger, c.metrics)
	if err := c.scheduler.Register(handler.TaskAggregation, cfg.AggregationInterval, func(ctx context.Context) error {
		_, err := c.orchestrator.AggregateAllSources(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := c.scheduler.Register(handler.TaskRescoring, cfg.RescoreInterval, func(ctx context.Context) error {
		_, err := c.sweep.RunOnce(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if cfg.PostRetentionDays > 0 {
		retention := cleanup.NewRetentionJob(db, logger, cfg.PostRetentionDays)
		if err := c.scheduler.Register(taskRetention, retentionInterval, func(ctx context.Context) error {
			_, err := retention.Run(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}

	// 9. ユーザー向けサービス
	secret, err := jwtSecret(cfg.JWTSecret, logger)
	if err != nil {
		return nil, err
	}
	c.auth = auth.NewService(userRepo, auth.NewTokenIssuer(secret, cfg.TokenTTL), cfg.AdminEmails, logger)
	c.posts = post.NewService(postRepo, voteRepo, curationRepo, categoryRepo, summarizer, logger,
		post.WithSummaryCache(c.cache, cfg.SummaryCacheTTL))
	c.catalog = catalog.NewService(categoryRepo, sourceRepo, guard, catalog.NewFeedDetector(guard, httpClient), logger)

	return c, nil
}

// openCache はRedisキャッシュを開く。失敗した場合はキャッシュなしで続行する。
func openCache(redisURL string, logger *slog.Logger, c *components) cache.Cache {
	if redisURL == "" {
		return cache.Nop{}
	}
	rc, err := cache.NewRedisCache(redisURL, cacheKeyPrefix)
	if err != nil {
		logger.Warn("invalid REDIS_URL; running without cache", slog.String("error", err.Error()))
		return cache.Nop{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		logger.Warn("redis is unreachable; running without cache", slog.String("error", err.Error()))
		rc.Close()
		return cache.Nop{}
	}
	c.closeCache = rc.Close
	logger.Info("redis cache connected")
	return rc
}

// jwtSecret はトークン署名鍵を返す。未設定の場合はランダムに生成する。
// 生成した鍵はプロセス内でのみ有効なため、再起動で既存トークンは無効になる。
func jwtSecret(configured string, logger *slog.Logger) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	logger.Warn("JWT_SECRET is not set; generated a random secret, tokens will not survive restarts")
	return secret, nil
}
