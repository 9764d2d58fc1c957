package model

import "time"

// SourceType はソースの種別を表す。
type SourceType string

const (
	SourceTypeReddit    SourceType = "reddit"
	SourceTypeForum     SourceType = "forum"
	SourceTypeCommunity SourceType = "community"
	SourceTypeRSS       SourceType = "rss"
	SourceTypeYouTube   SourceType = "youtube"
)

// IsValid は定義済みのソース種別かどうかを返す。
func (t SourceType) IsValid() bool {
	switch t {
	case SourceTypeReddit, SourceTypeForum, SourceTypeCommunity, SourceTypeRSS, SourceTypeYouTube:
		return true
	}
	return false
}

// Source は集約対象の配信元（サブレディット、チャンネル、フィード、フォーラム）を表す。
type Source struct {
	ID         int64
	Name       string
	URL        string
	Type       SourceType
	IsActive   bool
	CategoryID *int64
	CreatedAt  time.Time
}
