package model

import "time"

// Category は趣味コミュニティの分類を表す。
// 物理削除は行わず、IsActiveの切り替えのみで無効化する。
type Category struct {
	ID          int64
	Name        string
	Slug        string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CategoryAnalytics はカテゴリ単位の集計値を表す。
type CategoryAnalytics struct {
	CategoryID   int64
	TotalPosts   int
	HotTopics    int
	TrendingNow  int
	ActiveForums int
	LastUpdated  time.Time
}
