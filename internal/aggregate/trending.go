package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hitoshi/forumscope/internal/cache"
	"github.com/hitoshi/forumscope/internal/model"
)

const (
	trendingTagLimit     = 10
	defaultTrendingRange = model.TimeRangeDay
)

var trendingRanges = []model.TimeRange{
	model.TimeRangeHour, model.TimeRangeDay, model.TimeRangeWeek, model.TimeRangeMonth, model.TimeRangeAll,
}

func trendingCacheKey(tr model.TimeRange) string {
	return "trending:" + string(tr)
}

// GetTrendingTopics はソーシャル由来の投稿を期間で絞り込み、ソース別件数とタグ頻度の上位10件を返す。
// タグは小文字に正規化し、同数の場合は先に出現したものを優先する。
func (o *Orchestrator) GetTrendingTopics(ctx context.Context, tr model.TimeRange) (*model.TrendingTopics, error) {
	if tr == "" {
		tr = defaultTrendingRange
	}
	if !tr.IsValid() {
		return nil, model.NewInvalidFilterError("timeRange", string(tr))
	}

	var cached model.TrendingTopics
	if cache.GetJSON(ctx, o.cache, trendingCacheKey(tr), &cached) {
		return &cached, nil
	}

	posts, err := o.posts.List(ctx, model.PostFilter{
		Sources:   model.SocialSourceNames,
		TimeRange: tr,
		SortBy:    model.SortPopular,
	}, o.now())
	if err != nil {
		return nil, fmt.Errorf("トレンド集計用の投稿取得に失敗しました: %w", err)
	}

	topics := ComputeTrendingTopics(posts, tr)
	topics.LastUpdated = o.now()

	if o.cacheTTL > 0 {
		if err := cache.SetJSON(ctx, o.cache, trendingCacheKey(tr), topics, o.cacheTTL); err != nil {
			o.logger.Warn("トレンド集計のキャッシュ保存に失敗しました", slog.String("error", err.Error()))
		}
	}
	return topics, nil
}

// ComputeTrendingTopics は投稿列からトレンド集計を計算する。
func ComputeTrendingTopics(posts []*model.Post, tr model.TimeRange) *model.TrendingTopics {
	breakdown := make(map[string]int)
	counts := make(map[string]int)
	var order []string

	for _, p := range posts {
		breakdown[p.Source]++
		for _, tag := range p.Tags {
			key := strings.ToLower(strings.TrimSpace(tag))
			if key == "" {
				continue
			}
			if _, ok := counts[key]; !ok {
				order = append(order, key)
			}
			counts[key]++
		}
	}

	// orderは初出順。安定ソートで同数時の初出順を保つ。
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > trendingTagLimit {
		order = order[:trendingTagLimit]
	}

	tags := make([]model.TagCount, 0, len(order))
	for _, tag := range order {
		tags = append(tags, model.TagCount{Tag: tag, Count: counts[tag]})
	}

	return &model.TrendingTopics{
		TotalPosts:        len(posts),
		PlatformBreakdown: breakdown,
		TrendingTags:      tags,
		TimeRange:         tr,
	}
}

func (o *Orchestrator) invalidateTrending(ctx context.Context) {
	keys := make([]string, 0, len(trendingRanges))
	for _, tr := range trendingRanges {
		keys = append(keys, trendingCacheKey(tr))
	}
	if err := o.cache.Delete(ctx, keys...); err != nil {
		o.logger.Warn("トレンド集計のキャッシュ削除に失敗しました", slog.String("error", err.Error()))
	}
}
