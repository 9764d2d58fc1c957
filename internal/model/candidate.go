package model

import "time"

// Platform は取得元プロバイダを表す。
type Platform string

const (
	PlatformReddit  Platform = "reddit"
	PlatformYouTube Platform = "youtube"
	PlatformRSS     Platform = "rss"
	PlatformForum   Platform = "forum"
)

// 表示用ソース名。トレンド集計はこれらの名前で絞り込む。
const (
	SourceNameReddit  = "Reddit"
	SourceNameYouTube = "YouTube"
	SourceNameRSS     = "RSS Feed"
	SourceNameTwitter = "Twitter/X"
	SourceNameForum   = "Forum"
)

// SocialSourceNames はソーシャル由来とみなす表示用ソース名の一覧。
var SocialSourceNames = []string{SourceNameReddit, SourceNameYouTube, SourceNameTwitter, SourceNameRSS}

// DisplayName はプラットフォームの表示用ソース名を返す。
func (p Platform) DisplayName() string {
	switch p {
	case PlatformReddit:
		return SourceNameReddit
	case PlatformYouTube:
		return SourceNameYouTube
	case PlatformRSS:
		return SourceNameRSS
	case PlatformForum:
		return SourceNameForum
	}
	return string(p)
}

// CandidateEngagement はアダプタが取得した反応指標を表す。
type CandidateEngagement struct {
	Score        int
	CommentCount int
}

// Candidate はアダプタが正規化した未保存の投稿候補を表す。
type Candidate struct {
	ExternalID   string
	Title        string
	Content      string
	Author       string
	URL          string
	PublishedAt  time.Time
	Platform     Platform
	SourceName   string // フォーラム名など。ソーシャル系では未使用
	Thumbnail    string
	Engagement   *CandidateEngagement
	CategorySlug string
}

// SourceDisplayName は保存時の表示用ソース名を返す。
// フォーラムは設定されたサイト名を優先する。
func (c Candidate) SourceDisplayName() string {
	if c.Platform == PlatformForum && c.SourceName != "" {
		return c.SourceName
	}
	return c.Platform.DisplayName()
}

// PostEngagement は候補の反応指標から投稿のEngagementを組み立てる。
// スコアもコメント数もない場合はnilを返す。
func (c Candidate) PostEngagement() *Engagement {
	if c.Engagement == nil || (c.Engagement.Score == 0 && c.Engagement.CommentCount == 0) {
		return nil
	}
	return &Engagement{
		Comments:         c.Engagement.CommentCount,
		Upvotes:          c.Engagement.Score,
		Views:            0,
		UpvotePercentage: DefaultUpvotePercentage,
	}
}
