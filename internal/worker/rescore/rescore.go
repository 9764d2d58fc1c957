// Package rescore は保存済み投稿の反応指標とトレンドスコアを定期的に再計算する。
package rescore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/forumscope/internal/adapter"
	"github.com/hitoshi/forumscope/internal/metrics"
	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/repository"
)

// EngagementFetcher はReddit投稿の最新の反応指標を取得する。
// テスト時にモックに差し替え可能。
type EngagementFetcher interface {
	FetchEngagement(ctx context.Context, postURL string) (*adapter.PostEngagement, error)
}

// Config は再スコアリングの設定パラメータ。
type Config struct {
	// SampleSize は1サイクルで再計算する投稿数（デフォルト: 50）。
	SampleSize int
	// Window は対象とする投稿の公開日時の範囲（デフォルト: 168時間）。
	Window time.Duration
	// APIInterval はReddit呼び出しの最低間隔（デフォルト: 2秒）。
	APIInterval time.Duration
	// MaxCallsPerCycle は1サイクルあたりの最大Reddit呼び出し回数（デフォルト: 25）。
	MaxCallsPerCycle int
	// FailureThreshold はバックオフを開始する連続失敗回数（デフォルト: 3）。
	FailureThreshold int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		SampleSize:       50,
		Window:           168 * time.Hour,
		APIInterval:      2 * time.Second,
		MaxCallsPerCycle: 25,
		FailureThreshold: 3,
		InitialBackoff:   30 * time.Minute,
		MaxBackoff:       6 * time.Hour,
	}
}

// Result は1サイクルの結果。
type Result struct {
	Sampled   int
	Refreshed int
	Updated   int
	Failed    int
	Calls     int
	Skipped   bool
}

// Sweep は再スコアリングジョブ。
// 連続失敗の状態をサイクル間で保持するため、RunOnceを並行に呼び出してはならない。
type Sweep struct {
	posts   repository.PostRepository
	reddit  EngagementFetcher
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	config  Config
	now     func() time.Time

	consecutiveFailures int
	backoffUntil        time.Time
}

// NewSweep はSweepを生成する。redditがnilの場合は保存済みの指標のみで再計算する。
func NewSweep(
	posts repository.PostRepository,
	reddit EngagementFetcher,
	logger *slog.Logger,
	m metrics.MetricsCollector,
	config Config,
) *Sweep {
	if m == nil {
		m = metrics.Nop{}
	}
	limit := rate.Inf
	if config.APIInterval > 0 {
		limit = rate.Every(config.APIInterval)
	}
	return &Sweep{
		posts:   posts,
		reddit:  reddit,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		metrics: m,
		config:  config,
		now:     time.Now,
	}
}

// RunOnce は1回の再スコアリングサイクルを実行する。
// 再スコアリングされていない投稿、次に古く再スコアリングされた投稿の順に対象とする。
func (s *Sweep) RunOnce(ctx context.Context) (Result, error) {
	start := s.now()
	var res Result

	posts, err := s.posts.ListForRescore(ctx, start.Add(-s.config.Window), s.config.SampleSize)
	if err != nil {
		return res, fmt.Errorf("再スコアリング対象の取得に失敗しました: %w", err)
	}
	res.Sampled = len(posts)
	if len(posts) == 0 {
		s.logger.Info("再スコアリング対象の投稿はありません")
		return res, nil
	}

	fetchEnabled := s.reddit != nil
	if fetchEnabled && start.Before(s.backoffUntil) {
		s.logger.Info("Reddit取得はバックオフ中のため保存済みの指標で再計算します",
			slog.Time("backoff_until", s.backoffUntil),
		)
		fetchEnabled = false
		res.Skipped = true
	}

	for _, p := range posts {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		engagement := copyEngagement(p.Engagement)

		if fetchEnabled && adapter.IsRedditURL(p.URL) {
			if res.Calls >= s.config.MaxCallsPerCycle {
				s.logger.Info("1サイクルあたりの最大Reddit呼び出し回数に達しました",
					slog.Int("api_call_count", res.Calls),
				)
				fetchEnabled = false
			} else {
				if err := s.limiter.Wait(ctx); err != nil {
					return res, err
				}
				res.Calls++
				fresh, err := s.reddit.FetchEngagement(ctx, p.URL)
				if err != nil {
					res.Failed++
					s.metrics.RecordRescore("fetch_error")
					s.logger.Warn("Reddit反応指標の取得に失敗しました",
						slog.Int64("post_id", p.ID),
						slog.String("url", p.URL),
						slog.String("error", err.Error()),
					)
					if s.recordFailure(start) {
						fetchEnabled = false
					}
				} else {
					s.consecutiveFailures = 0
					s.backoffUntil = time.Time{}
					engagement = mergeEngagement(engagement, fresh)
					res.Refreshed++
				}
			}
		}

		score := ComputeTrendingScore(p.ScoreBase(), engagement, postAge(p, start))
		if err := s.posts.UpdateScores(ctx, p.ID, engagement, score, start); err != nil {
			res.Failed++
			s.metrics.RecordRescore("update_error")
			s.logger.Error("トレンドスコアの更新に失敗しました",
				slog.Int64("post_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Updated++
		s.metrics.RecordRescore("updated")
	}

	s.logger.Info("再スコアリングサイクルが完了しました",
		slog.Int("sampled", res.Sampled),
		slog.Int("refreshed", res.Refreshed),
		slog.Int("updated", res.Updated),
		slog.Int("failed", res.Failed),
		slog.Int("api_call_count", res.Calls),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// recordFailure は連続失敗を数え、閾値に達したらバックオフを設定してtrueを返す。
func (s *Sweep) recordFailure(now time.Time) bool {
	s.consecutiveFailures++
	if s.consecutiveFailures < s.config.FailureThreshold {
		return false
	}
	backoff := adapter.CalculateBackoff(
		s.consecutiveFailures-s.config.FailureThreshold+1,
		s.config.InitialBackoff,
		s.config.MaxBackoff,
	)
	s.backoffUntil = now.Add(backoff)
	s.logger.Warn("連続エラーによりバックオフを適用します",
		slog.Int("consecutive_errors", s.consecutiveFailures),
		slog.Duration("backoff_duration", backoff),
	)
	return true
}

func postAge(p *model.Post, now time.Time) time.Duration {
	ref := p.ScrapedAt
	if p.PublishedAt != nil {
		ref = *p.PublishedAt
	}
	if age := now.Sub(ref); age > 0 {
		return age
	}
	return 0
}

func copyEngagement(e *model.Engagement) *model.Engagement {
	if e == nil {
		return nil
	}
	cp := *e
	cp.UpvotePercentage = ClampUpvotePercentage(cp.UpvotePercentage)
	return &cp
}

// mergeEngagement は取得した指標で保存済みの指標を更新する。閲覧数は保持する。
func mergeEngagement(prev *model.Engagement, fresh *adapter.PostEngagement) *model.Engagement {
	e := &model.Engagement{UpvotePercentage: model.DefaultUpvotePercentage}
	if prev != nil {
		*e = *prev
	}
	e.Upvotes = fresh.Score
	e.Comments = fresh.NumComments
	if fresh.UpvotePercentage > 0 {
		e.UpvotePercentage = fresh.UpvotePercentage
	}
	e.UpvotePercentage = ClampUpvotePercentage(e.UpvotePercentage)
	return e
}

// ClampUpvotePercentage は高評価率を[50,100]に収める。
func ClampUpvotePercentage(p int) int {
	if p < 50 {
		return 50
	}
	if p > 100 {
		return 100
	}
	return p
}

const (
	// scoreHalfLife は反応指標の寄与が半減するまでの経過時間。
	scoreHalfLife  = 48 * time.Hour
	baseWeight     = 0.4
)

// ComputeTrendingScore は基準スコア・反応指標・経過時間からトレンドスコアを算出する。
// baseには取り込み時のスコアを渡す。前回の算出結果を渡すと減衰が累積する。
// 反応指標は対数で1〜100に写像し、高評価率と経過時間で減衰させた値を基準スコアと加重平均する。
// 指標がない場合は基準スコアを経過時間で減衰させる。
func ComputeTrendingScore(base int, e *model.Engagement, age time.Duration) int {
	if age < 0 {
		age = 0
	}
	decay := math.Pow(0.5, age.Hours()/scoreHalfLife.Hours())

	if e == nil {
		return model.ClampTrendingScore(int(math.Round(float64(base) * decay)))
	}

	interactions := math.Max(0, float64(e.Upvotes)) + 2*math.Max(0, float64(e.Comments))
	signal := math.Min(100, 25*math.Log10(1+interactions))
	signal *= float64(ClampUpvotePercentage(e.UpvotePercentage)) / 100
	signal *= decay

	score := baseWeight*float64(base) + (1-baseWeight)*signal
	return model.ClampTrendingScore(int(math.Round(score)))
}
