// Package cleanup は保持期間を過ぎた投稿を削除する保持ジョブを提供する。
// キュレーション済み（feature）の投稿と投票のある投稿は残す。
// 投票・キュレーション記録はCASCADE削除される。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// purgeQuery は公開日時（未設定なら取得日時）が保持期間より古い投稿を削除する。
const purgeQuery = `DELETE FROM posts
 WHERE COALESCE(published_at, scraped_at) < now() - $1::interval
   AND is_curated = false
   AND upvotes = 0 AND downvotes = 0`

// RetentionJob は保持期間を超過した投稿を削除するジョブ。冪等。
type RetentionJob struct {
	db            Executor
	logger        *slog.Logger
	retentionDays int
}

// NewRetentionJob はRetentionJobを生成する。
func NewRetentionJob(db Executor, logger *slog.Logger, retentionDays int) *RetentionJob {
	return &RetentionJob{
		db:            db,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

// RetentionDays は保持日数を返す。
func (j *RetentionJob) RetentionDays() int {
	return j.retentionDays
}

// Run は保持期間を超過した投稿を削除し、削除件数を返す。
func (j *RetentionJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, purgeQuery, fmt.Sprintf("%d days", j.retentionDays))
	if err != nil {
		return 0, fmt.Errorf("投稿の保持期間クリーンアップに失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("投稿の保持期間クリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.retentionDays),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return deleted, nil
}
