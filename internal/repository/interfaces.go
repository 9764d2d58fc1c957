// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/forumscope/internal/model"
)

var (
	// ErrNotFound は更新系操作の対象が存在しない場合に返される。
	// 参照系は従来どおり nil, nil を返す。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate は一意制約違反（カテゴリのslug/name、ユーザーのemail）を表す。
	ErrDuplicate = errors.New("duplicate record")
	// ErrDuplicateURL は同一URLの投稿が既に存在する場合に返される。
	ErrDuplicateURL = errors.New("post with the same url already exists")
)

// CategoryRepository はカテゴリの永続化インターフェース。
type CategoryRepository interface {
	// List はカテゴリを名前順に取得する。includeInactiveがfalseの場合は有効なもののみ。
	List(ctx context.Context, includeInactive bool) ([]*model.Category, error)
	// FindByID は指定IDのカテゴリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Category, error)
	// FindBySlug は指定スラッグのカテゴリを取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Category, error)
	// Create はカテゴリを作成する。slugまたはnameが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, category *model.Category) error
	// ToggleActive は有効フラグを反転する。見つからない場合はnilを返す。
	ToggleActive(ctx context.Context, id int64) (*model.Category, error)
}

// SourceRepository はソースの永続化インターフェース。
type SourceRepository interface {
	List(ctx context.Context) ([]*model.Source, error)
	Create(ctx context.Context, source *model.Source) error
}

// PostRepository は投稿の永続化と検索のインターフェース。
type PostRepository interface {
	// List はフィルタ条件に一致する投稿をソート・件数制限して返す。
	List(ctx context.Context, filter model.PostFilter, now time.Time) ([]*model.Post, error)
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Post, error)
	// ExistsByURL は同一URLの投稿が保存済みかを返す。
	ExistsByURL(ctx context.Context, url string) (bool, error)
	// Create は投稿を作成する。URLが重複する場合はErrDuplicateURLを返す。
	Create(ctx context.Context, post *model.Post) error
	// Delete は投稿を削除する。見つからない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id int64) error
	// ListForRescore はsince以降に公開された投稿を、再スコアリングが古い順にlimit件返す。
	ListForRescore(ctx context.Context, since time.Time, limit int) ([]*model.Post, error)
	// UpdateScores は反応指標とトレンドスコアを更新する。
	UpdateScores(ctx context.Context, id int64, engagement *model.Engagement, trendingScore int, rescoredAt time.Time) error
	// CategoryAnalytics はカテゴリ単位の集計値を返す。
	CategoryAnalytics(ctx context.Context, categoryID int64, now time.Time) (*model.CategoryAnalytics, error)
}

// VoteRepository は投票の永続化インターフェース。
type VoteRepository interface {
	// ApplyVote は投票状態を遷移させ、投稿のカウンタを同一トランザクションで更新する。
	// 投稿が存在しない場合はErrNotFoundを返す。
	ApplyVote(ctx context.Context, userID string, postID int64, clicked model.VoteType) (*model.VoteCounts, error)
	// FindVote はユーザーの投票を取得する。未投票の場合はnilを返す。
	FindVote(ctx context.Context, userID string, postID int64) (*model.Vote, error)
}

// CurationRepository はキュレーション記録の永続化インターフェース。
type CurationRepository interface {
	// Create はキュレーション記録を追加する。featureの場合は投稿のキュレーション状態も更新する。
	// 投稿が存在しない場合はErrNotFoundを返す。
	Create(ctx context.Context, curation *model.Curation) error
	// ListByUser はユーザーのキュレーション記録を新しい順に返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Curation, error)
}

// UserRepository はユーザーの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// Create はユーザーを作成する。emailが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error
}
