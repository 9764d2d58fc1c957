// Package ingest は投稿候補の重複排除・分類・保存を行う。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/forumscope/internal/metrics"
	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/repository"
)

// Outcome は1候補の取り込み結果。
type Outcome string

const (
	OutcomeInserted           Outcome = "inserted"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeMissingURL         Outcome = "missing_url"
	OutcomeUnresolvedCategory Outcome = "unresolved_category"
	OutcomeFailed             Outcome = "failed"
)

// Classifier は投稿の分類を行う。失敗時もフォールバック結果を返す。
type Classifier interface {
	Classify(ctx context.Context, title, content string) model.ContentAnalysis
}

// Summary は一括取り込みの集計結果。
type Summary struct {
	Inserted   int
	Duplicates int
	MissingURL int
	Unresolved int
	Failed     int
}

// Total は処理した候補数を返す。
func (s Summary) Total() int {
	return s.Inserted + s.Duplicates + s.MissingURL + s.Unresolved + s.Failed
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeInserted:
		s.Inserted++
	case OutcomeDuplicate:
		s.Duplicates++
	case OutcomeMissingURL:
		s.MissingURL++
	case OutcomeUnresolvedCategory:
		s.Unresolved++
	case OutcomeFailed:
		s.Failed++
	}
}

// Service は候補の取り込みを行う。
// 分類器のレート制限に配慮し、分類呼び出しは一定間隔で1件ずつ実行する。
type Service struct {
	posts      repository.PostRepository
	categories repository.CategoryRepository
	classifier Classifier
	pacer      *rate.Limiter
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	now        func() time.Time
}

// NewService はServiceを生成する。intervalは分類呼び出しの最小間隔（0以下で無制限）。
func NewService(
	posts repository.PostRepository,
	categories repository.CategoryRepository,
	classifier Classifier,
	interval time.Duration,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Service{
		posts:      posts,
		categories: categories,
		classifier: classifier,
		pacer:      rate.NewLimiter(limit, 1),
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// CategoryMap は有効なカテゴリのスラッグからIDへの対応表を返す。集約の1実行につき1回構築する。
func (s *Service) CategoryMap(ctx context.Context) (map[string]int64, error) {
	categories, err := s.categories.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	m := make(map[string]int64, len(categories))
	for _, c := range categories {
		m[c.Slug] = c.ID
	}
	return m, nil
}

// Ingest は1件の候補を取り込む。重複・URLなし・カテゴリ未解決はエラーではなくOutcomeで返す。
// 保存に失敗した場合のみエラーを返す。
func (s *Service) Ingest(ctx context.Context, c model.Candidate, categoryIDs map[string]int64) (Outcome, error) {
	outcome, err := s.ingest(ctx, c, categoryIDs)
	s.metrics.RecordIngest(string(outcome))
	return outcome, err
}

func (s *Service) ingest(ctx context.Context, c model.Candidate, categoryIDs map[string]int64) (Outcome, error) {
	url := strings.TrimSpace(c.URL)
	if url == "" {
		s.logger.Debug("URLのない候補をスキップしました",
			slog.String("external_id", c.ExternalID),
			slog.String("platform", string(c.Platform)),
		)
		return OutcomeMissingURL, nil
	}

	exists, err := s.posts.ExistsByURL(ctx, url)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("重複確認に失敗しました: %w", err)
	}
	if exists {
		return OutcomeDuplicate, nil
	}

	categoryID, ok := categoryIDs[c.CategorySlug]
	if !ok {
		s.logger.Warn("カテゴリを解決できないため候補をスキップしました",
			slog.String("category", c.CategorySlug),
			slog.String("url", url),
		)
		return OutcomeUnresolvedCategory, nil
	}

	if err := s.pacer.Wait(ctx); err != nil {
		return OutcomeFailed, fmt.Errorf("取り込みが中断されました: %w", err)
	}
	analysis := s.classifier.Classify(ctx, c.Title, c.Content)

	post := &model.Post{
		Title:         c.Title,
		Content:       c.Content,
		Summary:       analysis.Summary,
		CategoryID:    &categoryID,
		URL:           url,
		Source:        c.SourceDisplayName(),
		Sentiment:     analysis.Sentiment,
		Author:        c.Author,
		ScrapedAt:     s.now(),
		Engagement:    c.PostEngagement(),
		Tags:          analysis.Tags,
		TrendingScore: model.ClampTrendingScore(analysis.TrendingScore),
		Priority:      analysis.Priority,
	}
	if !c.PublishedAt.IsZero() {
		publishedAt := c.PublishedAt
		post.PublishedAt = &publishedAt
	}

	if err := s.posts.Create(ctx, post); err != nil {
		if errors.Is(err, repository.ErrDuplicateURL) {
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, fmt.Errorf("投稿の保存に失敗しました: %w", err)
	}

	s.logger.Info("投稿を追加しました",
		slog.Int64("post_id", post.ID),
		slog.String("title", post.Title),
		slog.String("platform", string(c.Platform)),
		slog.String("category", c.CategorySlug),
	)
	return OutcomeInserted, nil
}

// IngestAll は候補を順番に取り込む。1件の保存失敗は記録して残りの処理を続ける。
// カテゴリ対応表を構築できない場合のみエラーを返す。
func (s *Service) IngestAll(ctx context.Context, candidates []model.Candidate) (Summary, error) {
	var summary Summary

	categoryIDs, err := s.CategoryMap(ctx)
	if err != nil {
		return summary, err
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		outcome, err := s.Ingest(ctx, c, categoryIDs)
		if err != nil {
			s.logger.Error("候補の取り込みに失敗しました",
				slog.String("title", c.Title),
				slog.String("url", c.URL),
				slog.String("error", err.Error()),
			)
		}
		summary.add(outcome)
	}

	s.logger.Info("候補の取り込みが完了しました",
		slog.Int("candidates", len(candidates)),
		slog.Int("inserted", summary.Inserted),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("missing_url", summary.MissingURL),
		slog.Int("unresolved_category", summary.Unresolved),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}
