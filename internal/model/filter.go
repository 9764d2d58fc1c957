package model

import (
	"sort"
	"strings"
	"time"
)

// TimeRange は投稿一覧の公開日時下限を表す。
type TimeRange string

const (
	TimeRangeHour  TimeRange = "1h"
	TimeRangeDay   TimeRange = "24h"
	TimeRangeWeek  TimeRange = "7d"
	TimeRangeMonth TimeRange = "30d"
	TimeRangeAll   TimeRange = "all"
)

var timeRangeDurations = map[TimeRange]time.Duration{
	TimeRangeHour:  time.Hour,
	TimeRangeDay:   24 * time.Hour,
	TimeRangeWeek:  7 * 24 * time.Hour,
	TimeRangeMonth: 30 * 24 * time.Hour,
}

// IsValid は指定可能な期間かどうかを返す。空文字は「指定なし」として有効。
func (tr TimeRange) IsValid() bool {
	if tr == "" || tr == TimeRangeAll {
		return true
	}
	_, ok := timeRangeDurations[tr]
	return ok
}

// Since は now を基準にした下限時刻を返す。下限がない場合は false を返す。
func (tr TimeRange) Since(now time.Time) (time.Time, bool) {
	d, ok := timeRangeDurations[tr]
	if !ok {
		return time.Time{}, false
	}
	return now.Add(-d), true
}

// SortOrder は投稿一覧の並び順を表す。
type SortOrder string

const (
	SortRecent    SortOrder = "recent"
	SortPopular   SortOrder = "popular"
	SortDiscussed SortOrder = "discussed"
	SortCommunity SortOrder = "community"
)

// IsValid は指定可能な並び順かどうかを返す。空文字は recent と同等。
func (o SortOrder) IsValid() bool {
	switch o {
	case "", SortRecent, SortPopular, SortDiscussed, SortCommunity:
		return true
	}
	return false
}

// 一覧APIの取得件数。limit未指定は既定値、上限を超える指定は上限に丸める。
const (
	DefaultPostsPerPage = 50
	MaxPostsPerPage     = 100
)

// PostFilter は投稿一覧の絞り込み条件を表す。全条件はAND結合される。
type PostFilter struct {
	CategorySlugs []string
	Sources       []string
	Priorities    []Priority
	TimeRange     TimeRange
	Search        string
	SortBy        SortOrder
	Limit         int
}

// Validate はフィルタ値を検証する。
func (f PostFilter) Validate() error {
	if !f.TimeRange.IsValid() {
		return NewInvalidFilterError("timeRange", string(f.TimeRange))
	}
	if !f.SortBy.IsValid() {
		return NewInvalidFilterError("sortBy", string(f.SortBy))
	}
	for _, p := range f.Priorities {
		if !p.IsValid() {
			return NewInvalidFilterError("priorities", string(p))
		}
	}
	if f.Limit < 0 {
		return NewInvalidFilterError("limit", "negative")
	}
	return nil
}

// Matches は投稿がフィルタ条件を満たすかを判定する。
// categorySlug は投稿の所属カテゴリのスラッグ（未所属なら空文字）。
func (f PostFilter) Matches(p *Post, categorySlug string, now time.Time) bool {
	if len(f.CategorySlugs) > 0 && !containsString(f.CategorySlugs, categorySlug) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, p.Source) {
		return false
	}
	if len(f.Priorities) > 0 {
		found := false
		for _, pr := range f.Priorities {
			if pr == p.Priority {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if since, ok := f.TimeRange.Since(now); ok {
		if p.PublishedAt == nil || p.PublishedAt.Before(since) {
			return false
		}
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Title), q) && !strings.Contains(strings.ToLower(p.Content), q) {
			return false
		}
	}
	return true
}

// SortPosts は並び順に従って投稿を安定ソートする。同値の場合はID降順。
func SortPosts(posts []*Post, order SortOrder) {
	key := func(p *Post) int64 {
		switch order {
		case SortPopular:
			return int64(p.TrendingScore)
		case SortDiscussed:
			return int64(p.CommentCount())
		case SortCommunity:
			return int64(p.UserScore)
		default:
			if p.PublishedAt == nil {
				return -1 << 62
			}
			return p.PublishedAt.UnixNano()
		}
	}
	sort.SliceStable(posts, func(i, j int) bool {
		ki, kj := key(posts[i]), key(posts[j])
		if ki != kj {
			return ki > kj
		}
		return posts[i].ID > posts[j].ID
	})
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
