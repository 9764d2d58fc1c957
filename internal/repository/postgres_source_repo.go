package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forumscope/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

// List は全ソースを名前順に取得する。
func (r *PostgresSourceRepo) List(ctx context.Context) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, url, type, is_active, category_id, created_at
		 FROM sources ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		s := &model.Source{}
		var sourceType string
		var categoryID sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &sourceType, &s.IsActive, &categoryID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("ソースのスキャンに失敗しました: %w", err)
		}
		s.Type = model.SourceType(sourceType)
		s.CategoryID = nullInt64Ptr(categoryID)
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// Create はソースを作成し、採番されたIDを設定する。
func (r *PostgresSourceRepo) Create(ctx context.Context, s *model.Source) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sources (name, url, type, is_active, category_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		s.Name, s.URL, string(s.Type), s.IsActive, nullInt64(s.CategoryID),
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("ソースの作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)
