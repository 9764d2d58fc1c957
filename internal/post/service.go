// Package post は投稿の検索・投票・キュレーションとカテゴリ単位の集計を提供する。
package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/forumscope/internal/cache"
	"github.com/hitoshi/forumscope/internal/classifier"
	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/repository"
)

// trendingSummaryPostLimit は要約に渡す投稿数の上限。
const trendingSummaryPostLimit = 10

// Summarizer は投稿群のトレンド要約を生成する。
type Summarizer interface {
	SummarizeTopics(ctx context.Context, posts []*model.Post) model.TrendingSummary
}

// Service は投稿関連のユースケースを実装する。
type Service struct {
	posts      repository.PostRepository
	votes      repository.VoteRepository
	curations  repository.CurationRepository
	categories repository.CategoryRepository
	summarizer Summarizer
	cache      cache.Cache
	summaryTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithSummaryCache はトレンド要約のキャッシュを設定する。
func WithSummaryCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.summaryTTL = ttl
	}
}

// NewService はServiceを生成する。
func NewService(
	posts repository.PostRepository,
	votes repository.VoteRepository,
	curations repository.CurationRepository,
	categories repository.CategoryRepository,
	summarizer Summarizer,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		posts:      posts,
		votes:      votes,
		curations:  curations,
		categories: categories,
		summarizer: summarizer,
		cache:      cache.Nop{},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPosts はフィルタ条件に一致する投稿を返す。
func (s *Service) ListPosts(ctx context.Context, f model.PostFilter) ([]*model.Post, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	posts, err := s.posts.List(ctx, f, s.now())
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// ListCategoryPosts は指定カテゴリの投稿を返す。カテゴリが存在しない場合はCATEGORY_NOT_FOUND。
func (s *Service) ListCategoryPosts(ctx context.Context, slug string, f model.PostFilter) ([]*model.Post, error) {
	if _, err := s.findCategory(ctx, slug); err != nil {
		return nil, err
	}
	f.CategorySlugs = []string{slug}
	return s.ListPosts(ctx, f)
}

// Search はタイトルまたは本文に語句を含む投稿を返す。空の語句はINVALID_REQUEST。
func (s *Service) Search(ctx context.Context, q string) ([]*model.Post, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, model.NewInvalidRequestError("検索語句を指定してください")
	}
	return s.ListPosts(ctx, model.PostFilter{Search: q, Limit: model.DefaultPostsPerPage})
}

// GetPost は投稿を取得する。見つからない場合はPOST_NOT_FOUND。
func (s *Service) GetPost(ctx context.Context, id int64) (*model.Post, error) {
	p, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	return p, nil
}

// DeletePost は投稿を削除する。
func (s *Service) DeletePost(ctx context.Context, id int64) error {
	err := s.posts.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewPostNotFoundError(id)
	}
	if err != nil {
		return err
	}
	s.logger.Info("投稿を削除しました", slog.Int64("post_id", id))
	return nil
}

// Vote は投票状態を遷移させ、更新後のカウンタを返す。
// 同じ種別の再投票は取り消し、異なる種別への投票は付け替えとなる。
func (s *Service) Vote(ctx context.Context, userID string, postID int64, voteType model.VoteType) (*model.VoteCounts, error) {
	if !voteType.IsValid() {
		return nil, model.NewInvalidVoteTypeError(string(voteType))
	}
	counts, err := s.votes.ApplyVote(ctx, userID, postID, voteType)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewPostNotFoundError(postID)
	}
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// GetVote はユーザーの現在の投票種別を返す。未投票の場合は空文字。
func (s *Service) GetVote(ctx context.Context, userID string, postID int64) (model.VoteType, error) {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return model.VoteTypeNone, err
	}
	v, err := s.votes.FindVote(ctx, userID, postID)
	if err != nil {
		return model.VoteTypeNone, fmt.Errorf("投票の取得に失敗しました: %w", err)
	}
	if v == nil {
		return model.VoteTypeNone, nil
	}
	return v.VoteType, nil
}

// Curate はキュレーション記録を追加する。featureの場合のみ投稿がキュレーション済みになる。
func (s *Service) Curate(ctx context.Context, userID string, postID int64, curationType model.CurationType, reason string) (*model.Curation, error) {
	if !curationType.IsValid() {
		return nil, model.NewInvalidCurationTypeError(string(curationType))
	}
	c := &model.Curation{
		UserID:       userID,
		PostID:       postID,
		CurationType: curationType,
		Reason:       strings.TrimSpace(reason),
	}
	err := s.curations.Create(ctx, c)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewPostNotFoundError(postID)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCurations はユーザーのキュレーション記録を新しい順に返す。
func (s *Service) ListCurations(ctx context.Context, userID string) ([]*model.Curation, error) {
	return s.curations.ListByUser(ctx, userID)
}

// CategoryAnalytics はカテゴリ単位の集計値を返す。
func (s *Service) CategoryAnalytics(ctx context.Context, slug string) (*model.CategoryAnalytics, error) {
	c, err := s.findCategory(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.posts.CategoryAnalytics(ctx, c.ID, s.now())
}

// TrendingSummary はトレンドスコア上位の投稿をLLMで要約する。
// categorySlugが空の場合は全カテゴリが対象。
func (s *Service) TrendingSummary(ctx context.Context, categorySlug string) (*model.TrendingSummary, error) {
	f := model.PostFilter{SortBy: model.SortPopular, Limit: trendingSummaryPostLimit}
	if categorySlug != "" {
		if _, err := s.findCategory(ctx, categorySlug); err != nil {
			return nil, err
		}
		f.CategorySlugs = []string{categorySlug}
	}

	key := "trending-summary:" + categorySlug
	var cached model.TrendingSummary
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		return &cached, nil
	}

	posts, err := s.ListPosts(ctx, f)
	if err != nil {
		return nil, err
	}

	summary := s.summarizer.SummarizeTopics(ctx, posts)
	// 生成に失敗した要約はキャッシュしない
	if s.summaryTTL > 0 && summary.Summary != classifier.SummaryUnavailable {
		if err := cache.SetJSON(ctx, s.cache, key, summary, s.summaryTTL); err != nil {
			s.logger.Warn("トレンド要約のキャッシュ保存に失敗しました", slog.String("error", err.Error()))
		}
	}
	return &summary, nil
}

func (s *Service) findCategory(ctx context.Context, slug string) (*model.Category, error) {
	c, err := s.categories.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewCategoryNotFoundError(slug)
	}
	return c, nil
}
