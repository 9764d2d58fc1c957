package model

import "time"

// TagCount はタグと出現数の組を表す。
type TagCount struct {
	Tag   string
	Count int
}

// TrendingTopics はソーシャル由来投稿のトレンド集計結果を表す。
type TrendingTopics struct {
	TotalPosts        int
	PlatformBreakdown map[string]int
	TrendingTags      []TagCount
	TimeRange         TimeRange
	LastUpdated       time.Time
}

// TrendingSummary はLLMによるトレンド要約を表す。
type TrendingSummary struct {
	Summary       string
	SummaryHTML   string
	PostsAnalyzed int
}
