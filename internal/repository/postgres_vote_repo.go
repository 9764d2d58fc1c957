package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forumscope/internal/model"
)

// PostgresVoteRepo はPostgreSQLを使用した投票リポジトリ。
type PostgresVoteRepo struct {
	db *sql.DB
}

// NewPostgresVoteRepo はPostgresVoteRepoを生成する。
func NewPostgresVoteRepo(db *sql.DB) *PostgresVoteRepo {
	return &PostgresVoteRepo{db: db}
}

// ApplyVote は投票状態の遷移と投稿カウンタの更新を同一トランザクションで行う。
// 投稿行をFOR UPDATEでロックするため、同一投稿への投票は直列化される。
func (r *PostgresVoteRepo) ApplyVote(ctx context.Context, userID string, postID int64, clicked model.VoteType) (*model.VoteCounts, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM posts WHERE id = $1 FOR UPDATE`, postID).Scan(&locked)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("投稿のロックに失敗しました: %w", err)
	}

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT vote_type FROM user_votes WHERE user_id = $1 AND post_id = $2`,
		userID, postID,
	).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("投票状態の取得に失敗しました: %w", err)
	}

	transition := model.NextVoteState(model.VoteType(current), clicked)

	switch {
	case current == "":
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_votes (user_id, post_id, vote_type) VALUES ($1, $2, $3)`,
			userID, postID, string(transition.Next))
	case transition.Next == model.VoteTypeNone:
		_, err = tx.ExecContext(ctx,
			`DELETE FROM user_votes WHERE user_id = $1 AND post_id = $2`,
			userID, postID)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE user_votes SET vote_type = $3 WHERE user_id = $1 AND post_id = $2`,
			userID, postID, string(transition.Next))
	}
	if err != nil {
		return nil, fmt.Errorf("投票の保存に失敗しました: %w", err)
	}

	counts := &model.VoteCounts{UserVote: transition.Next}
	err = tx.QueryRowContext(ctx,
		`UPDATE posts SET upvotes = upvotes + $2, downvotes = downvotes + $3
		 WHERE id = $1
		 RETURNING upvotes, downvotes, user_score`,
		postID, transition.UpvoteDelta, transition.DownvoteDelta,
	).Scan(&counts.Upvotes, &counts.Downvotes, &counts.UserScore)
	if err != nil {
		return nil, fmt.Errorf("投票カウンタの更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return counts, nil
}

// FindVote はユーザーの投票を取得する。未投票の場合はnilを返す。
func (r *PostgresVoteRepo) FindVote(ctx context.Context, userID string, postID int64) (*model.Vote, error) {
	v := &model.Vote{}
	var voteType string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, post_id, vote_type, created_at
		 FROM user_votes WHERE user_id = $1 AND post_id = $2`,
		userID, postID,
	).Scan(&v.ID, &v.UserID, &v.PostID, &voteType, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投票の取得に失敗しました: %w", err)
	}
	v.VoteType = model.VoteType(voteType)
	return v, nil
}

// compile-time interface check
var _ VoteRepository = (*PostgresVoteRepo)(nil)
