package model

import "time"

// CurationType はキュレーション操作の種別を表す。
type CurationType string

const (
	CurationTypeBookmark CurationType = "bookmark"
	CurationTypeFeature  CurationType = "feature"
	CurationTypeHide     CurationType = "hide"
	CurationTypeReport   CurationType = "report"
)

// IsValid は定義済みのキュレーション種別かどうかを返す。
func (c CurationType) IsValid() bool {
	switch c {
	case CurationTypeBookmark, CurationTypeFeature, CurationTypeHide, CurationTypeReport:
		return true
	}
	return false
}

// Curation はユーザーによる投稿への注釈操作の記録を表す。追記のみ。
// feature の場合のみ投稿側の IsCurated / CuratedBy / CuratedAt が更新される。
type Curation struct {
	ID           int64
	UserID       string
	PostID       int64
	CurationType CurationType
	Reason       string
	CreatedAt    time.Time
}
