package model

import "time"

// Priority は投稿の緊急度・分類を表す。
type Priority string

const (
	PriorityHot      Priority = "hot"
	PriorityTrending Priority = "trending"
	PriorityNews     Priority = "news"
	PriorityHelp     Priority = "help"
	PriorityMarket   Priority = "market"
	PriorityNormal   Priority = "normal"
)

// IsValid は定義済みの優先度かどうかを返す。
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHot, PriorityTrending, PriorityNews, PriorityHelp, PriorityMarket, PriorityNormal:
		return true
	}
	return false
}

// Sentiment は投稿の感情極性を表す。
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// IsValid は定義済みの感情極性かどうかを返す。
func (s Sentiment) IsValid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Engagement は投稿の反応指標を表す。postsテーブルにはJSONBで保存する。
type Engagement struct {
	Comments         int `json:"comments"`
	Upvotes          int `json:"upvotes"`
	Views            int `json:"views"`
	UpvotePercentage int `json:"upvotePercentage"`
}

// DefaultUpvotePercentage はソーシャル由来の投稿に設定する高評価率の既定値。
const DefaultUpvotePercentage = 85

// Post は集約された投稿を表す。
// URLは重複排除キーであり、空でないURLごとに最大1件のみ保存される。
type Post struct {
	ID            int64
	Title         string
	Content       string
	Summary       string
	SourceID      *int64
	CategoryID    *int64
	URL           string
	Source        string // 表示用ソース名（Reddit, YouTube, RSS Feed など）
	Sentiment     Sentiment
	Author        string
	PublishedAt   *time.Time
	ScrapedAt     time.Time
	Engagement    *Engagement
	Tags          []string
	TrendingScore int
	// BaseScore は取り込み時に分類器が付けたスコア。再スコアリングの起点で、以後は変更しない。
	BaseScore     int
	Priority      Priority
	Upvotes       int
	Downvotes     int
	UserScore     int // Upvotes - Downvotes
	IsCurated     bool
	CuratedBy     string
	CuratedAt     *time.Time
	RescoredAt    *time.Time
}

// CommentCount はソート用のコメント数を返す。Engagement未設定時は0。
func (p *Post) CommentCount() int {
	if p.Engagement == nil {
		return 0
	}
	return p.Engagement.Comments
}

// ContentAnalysis は分類器の出力を表す。
type ContentAnalysis struct {
	Summary       string
	Tags          []string
	Priority      Priority
	TrendingScore int
	Sentiment     Sentiment
}

// ScoreBase は再スコアリングの起点となるスコアを返す。
// BaseScore導入前の行は0なので、その場合は現在のトレンドスコアを使う。
func (p *Post) ScoreBase() int {
	if p.BaseScore > 0 {
		return p.BaseScore
	}
	return p.TrendingScore
}

// ClampTrendingScore はトレンドスコアを[1,100]に収める。
func ClampTrendingScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 100 {
		return 100
	}
	return score
}
