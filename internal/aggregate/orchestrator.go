// Package aggregate は設定済みソースを巡回して候補を集め、取り込みを駆動する。
// ソーシャル由来投稿のトレンド集計も提供する。
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/forumscope/internal/adapter"
	"github.com/hitoshi/forumscope/internal/cache"
	"github.com/hitoshi/forumscope/internal/ingest"
	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/repository"
)

// Fetcher はソースから候補を取得する。失敗時は空スライスを返す。
type Fetcher interface {
	Fetch(ctx context.Context, src adapter.SourceConfig) []model.Candidate
}

// Ingester は候補を一括で取り込む。
type Ingester interface {
	IngestAll(ctx context.Context, candidates []model.Candidate) (ingest.Summary, error)
}

// Politeness はソース種別ごとの最小取得間隔。
type Politeness map[model.Platform]time.Duration

// Report は1回の集約実行の結果。
type Report struct {
	Sources    int
	Candidates int
	Ingest     ingest.Summary
	Duration   time.Duration
}

// Orchestrator は集約処理を統括する。
type Orchestrator struct {
	sources    []adapter.SourceConfig
	fetcher    Fetcher
	ingester   Ingester
	posts      repository.PostRepository
	registered repository.SourceRepository
	categories repository.CategoryRepository
	limiters   map[model.Platform]*rate.Limiter
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option はOrchestratorの任意設定。
type Option func(*Orchestrator)

// WithRegisteredSources はAPIで登録された有効なソースも集約対象に加える。
func WithRegisteredSources(sources repository.SourceRepository, categories repository.CategoryRepository) Option {
	return func(o *Orchestrator) {
		o.registered = sources
		o.categories = categories
	}
}

// WithCache はトレンド集計結果のキャッシュを設定する。
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.cache = c
		o.cacheTTL = ttl
	}
}

// NewOrchestrator はOrchestratorを生成する。
func NewOrchestrator(
	sources []adapter.SourceConfig,
	fetcher Fetcher,
	ingester Ingester,
	posts repository.PostRepository,
	politeness Politeness,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		sources:  sources,
		fetcher:  fetcher,
		ingester: ingester,
		posts:    posts,
		limiters: make(map[model.Platform]*rate.Limiter),
		cache:    cache.Nop{},
		logger:   logger,
		now:      time.Now,
	}
	for platform, interval := range politeness {
		if interval > 0 {
			o.limiters[platform] = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AggregateAllSources は全ソースを直列に取得し、集めた候補をまとめて取り込む。
// ソース単位の失敗はログに記録して処理を続ける。
func (o *Orchestrator) AggregateAllSources(ctx context.Context) (Report, error) {
	start := o.now()
	sources := o.collectSources(ctx)

	o.logger.Info("ソーシャルメディア集約を開始します",
		slog.Int("sources", len(sources)),
	)

	var all []model.Candidate
	for _, src := range sources {
		if limiter, ok := o.limiters[src.Type]; ok {
			if err := limiter.Wait(ctx); err != nil {
				return Report{Sources: len(sources), Candidates: len(all)}, fmt.Errorf("集約が中断されました: %w", err)
			}
		}

		candidates := o.fetcher.Fetch(ctx, src)
		for i := range candidates {
			candidates[i].CategorySlug = src.CategorySlug
		}
		all = append(all, candidates...)
	}

	o.logger.Info("ソーシャルメディアから候補を収集しました",
		slog.Int("candidates", len(all)),
	)

	summary, err := o.ingester.IngestAll(ctx, all)
	report := Report{
		Sources:    len(sources),
		Candidates: len(all),
		Ingest:     summary,
		Duration:   time.Since(start),
	}
	if err != nil {
		return report, fmt.Errorf("候補の取り込みに失敗しました: %w", err)
	}

	if summary.Inserted > 0 {
		o.invalidateTrending(ctx)
	}

	o.logger.Info("ソーシャルメディア集約が完了しました",
		slog.Int("sources", report.Sources),
		slog.Int("candidates", report.Candidates),
		slog.Int("inserted", summary.Inserted),
		slog.Float64("duration_ms", float64(report.Duration.Milliseconds())),
	)
	return report, nil
}

// collectSources は設定済みソースに、登録済みの有効なソースを重複なく追加する。
func (o *Orchestrator) collectSources(ctx context.Context) []adapter.SourceConfig {
	sources := append([]adapter.SourceConfig{}, o.sources...)
	if o.registered == nil || o.categories == nil {
		return sources
	}

	registered, err := o.registered.List(ctx)
	if err != nil {
		o.logger.Warn("登録済みソースの取得に失敗しました", slog.String("error", err.Error()))
		return sources
	}

	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		seen[s.String()] = struct{}{}
	}

	slugs := make(map[int64]string)
	for _, src := range registered {
		if !src.IsActive || src.CategoryID == nil {
			continue
		}
		slug, ok := slugs[*src.CategoryID]
		if !ok {
			cat, err := o.categories.FindByID(ctx, *src.CategoryID)
			if err != nil || cat == nil {
				o.logger.Warn("ソースのカテゴリを解決できません",
					slog.String("source", src.Name),
					slog.Int64("category_id", *src.CategoryID),
				)
				continue
			}
			slug = cat.Slug
			slugs[*src.CategoryID] = slug
		}

		cfg, ok := SourceConfigFromModel(src, slug)
		if !ok {
			o.logger.Warn("ソースのURLから取得対象を特定できません",
				slog.String("source", src.Name),
				slog.String("url", src.URL),
			)
			continue
		}
		if _, dup := seen[cfg.String()]; dup {
			continue
		}
		seen[cfg.String()] = struct{}{}
		sources = append(sources, cfg)
	}
	return sources
}

// SourceConfigFromModel は登録済みソースを取得設定に変換する。
// redditは/r/<name>、youtubeはchannel_idクエリまたは/channel/<id>から識別子を取り出す。
func SourceConfigFromModel(src *model.Source, categorySlug string) (adapter.SourceConfig, bool) {
	cfg := adapter.SourceConfig{Name: src.Name, CategorySlug: categorySlug}
	u, err := url.Parse(strings.TrimSpace(src.URL))
	if err != nil || u.Host == "" {
		return cfg, false
	}

	switch src.Type {
	case model.SourceTypeReddit:
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "r" || parts[1] == "" {
			return cfg, false
		}
		cfg.Type, cfg.Identifier = model.PlatformReddit, parts[1]
	case model.SourceTypeYouTube:
		id := u.Query().Get("channel_id")
		if id == "" {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) == 2 && parts[0] == "channel" {
				id = parts[1]
			}
		}
		if id == "" {
			return cfg, false
		}
		cfg.Type, cfg.Identifier = model.PlatformYouTube, id
	case model.SourceTypeRSS:
		cfg.Type, cfg.Identifier = model.PlatformRSS, u.String()
	case model.SourceTypeForum, model.SourceTypeCommunity:
		cfg.Type, cfg.Identifier = model.PlatformForum, u.String()
	default:
		return cfg, false
	}
	return cfg, true
}
