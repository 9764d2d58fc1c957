package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forumscope/internal/model"
)

// PostgresCategoryRepo はPostgreSQLを使用したカテゴリリポジトリ。
type PostgresCategoryRepo struct {
	db *sql.DB
}

// NewPostgresCategoryRepo はPostgresCategoryRepoを生成する。
func NewPostgresCategoryRepo(db *sql.DB) *PostgresCategoryRepo {
	return &PostgresCategoryRepo{db: db}
}

const categoryColumns = `id, name, slug, description, is_active, created_at, updated_at`

func scanCategory(s rowScanner) (*model.Category, error) {
	c := &model.Category{}
	if err := s.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

// List はカテゴリを名前順に取得する。
func (r *PostgresCategoryRepo) List(ctx context.Context, includeInactive bool) ([]*model.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []*model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("カテゴリのスキャンに失敗しました: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// FindByID は指定IDのカテゴリを取得する。見つからない場合はnilを返す。
func (r *PostgresCategoryRepo) FindByID(ctx context.Context, id int64) (*model.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
	}
	return c, nil
}

// FindBySlug は指定スラッグのカテゴリを取得する。見つからない場合はnilを返す。
func (r *PostgresCategoryRepo) FindBySlug(ctx context.Context, slug string) (*model.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE slug = $1`, slug))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スラッグによるカテゴリの取得に失敗しました: %w", err)
	}
	return c, nil
}

// Create はカテゴリを作成し、採番されたIDと日時を設定する。
func (r *PostgresCategoryRepo) Create(ctx context.Context, c *model.Category) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO categories (name, slug, description, is_active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		c.Name, c.Slug, c.Description, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("カテゴリの作成に失敗しました: %w", err)
	}
	return nil
}

// ToggleActive は有効フラグを反転する。見つからない場合はnilを返す。
func (r *PostgresCategoryRepo) ToggleActive(ctx context.Context, id int64) (*model.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx,
		`UPDATE categories SET is_active = NOT is_active, updated_at = now()
		 WHERE id = $1
		 RETURNING `+categoryColumns, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カテゴリの有効状態の切り替えに失敗しました: %w", err)
	}
	return c, nil
}

// compile-time interface check
var _ CategoryRepository = (*PostgresCategoryRepo)(nil)
