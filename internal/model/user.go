// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 投票・キュレーションはIDで参照する。
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	FirstName       string
	LastName        string
	ProfileImageURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
