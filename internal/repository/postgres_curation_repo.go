package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forumscope/internal/model"
)

// PostgresCurationRepo はPostgreSQLを使用したキュレーションリポジトリ。
type PostgresCurationRepo struct {
	db *sql.DB
}

// NewPostgresCurationRepo はPostgresCurationRepoを生成する。
func NewPostgresCurationRepo(db *sql.DB) *PostgresCurationRepo {
	return &PostgresCurationRepo{db: db}
}

// Create はキュレーション記録を追加する。
// featureの場合は同一トランザクションで投稿のis_curated/curated_by/curated_atを更新する。
func (r *PostgresCurationRepo) Create(ctx context.Context, c *model.Curation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, c.PostID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("投稿の存在確認に失敗しました: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO user_curations (user_id, post_id, curation_type, reason)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		c.UserID, c.PostID, string(c.CurationType), nullString(c.Reason),
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("キュレーションの作成に失敗しました: %w", err)
	}

	if c.CurationType == model.CurationTypeFeature {
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET is_curated = true, curated_by = $2, curated_at = $3 WHERE id = $1`,
			c.PostID, c.UserID, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("投稿のキュレーション状態の更新に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByUser はユーザーのキュレーション記録を新しい順に返す。
func (r *PostgresCurationRepo) ListByUser(ctx context.Context, userID string) ([]*model.Curation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, post_id, curation_type, reason, created_at
		 FROM user_curations WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("キュレーション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	curations := []*model.Curation{}
	for rows.Next() {
		c := &model.Curation{}
		var curationType string
		var reason sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &c.PostID, &curationType, &reason, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("キュレーションのスキャンに失敗しました: %w", err)
		}
		c.CurationType = model.CurationType(curationType)
		c.Reason = nullStringValue(reason)
		curations = append(curations, c)
	}
	return curations, rows.Err()
}

// compile-time interface check
var _ CurationRepository = (*PostgresCurationRepo)(nil)
