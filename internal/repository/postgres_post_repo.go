package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/forumscope/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

const postColumns = `p.id, p.title, p.content, p.summary, p.source_id, p.category_id, p.url, p.source,
	p.sentiment, p.author, p.published_at, p.scraped_at, p.engagement, p.tags, p.trending_score,
	p.priority, p.upvotes, p.downvotes, p.user_score, p.is_curated, p.curated_by, p.curated_at, p.rescored_at, p.base_score`

func scanPost(s rowScanner) (*model.Post, error) {
	p := &model.Post{}
	var summary, url, curatedBy sql.NullString
	var sourceID, categoryID sql.NullInt64
	var publishedAt, curatedAt, rescoredAt sql.NullTime
	var engagement []byte
	var sentiment, priority string
	var tags pq.StringArray

	err := s.Scan(
		&p.ID, &p.Title, &p.Content, &summary, &sourceID, &categoryID, &url, &p.Source,
		&sentiment, &p.Author, &publishedAt, &p.ScrapedAt, &engagement, &tags, &p.TrendingScore,
		&priority, &p.Upvotes, &p.Downvotes, &p.UserScore, &p.IsCurated, &curatedBy, &curatedAt, &rescoredAt, &p.BaseScore,
	)
	if err != nil {
		return nil, err
	}

	p.Summary = nullStringValue(summary)
	p.URL = nullStringValue(url)
	p.CuratedBy = nullStringValue(curatedBy)
	p.SourceID = nullInt64Ptr(sourceID)
	p.CategoryID = nullInt64Ptr(categoryID)
	p.PublishedAt = nullTimePtr(publishedAt)
	p.CuratedAt = nullTimePtr(curatedAt)
	p.RescoredAt = nullTimePtr(rescoredAt)
	p.Sentiment = model.Sentiment(sentiment)
	p.Priority = model.Priority(priority)
	p.Tags = []string(tags)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if len(engagement) > 0 {
		p.Engagement = &model.Engagement{}
		if err := json.Unmarshal(engagement, p.Engagement); err != nil {
			return nil, fmt.Errorf("engagementの解析に失敗しました: %w", err)
		}
	}
	return p, nil
}

func marshalEngagement(e *model.Engagement) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	return json.Marshal(e)
}

// escapeLike はILIKEパターン中のワイルドカード文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// buildPostListQuery はフィルタからSELECT文と引数を組み立てる。
func buildPostListQuery(f model.PostFilter, now time.Time) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.CategorySlugs) > 0 {
		conds = append(conds, "p.category_id IN (SELECT id FROM categories WHERE slug = ANY("+arg(pq.Array(f.CategorySlugs))+"))")
	}
	if len(f.Sources) > 0 {
		conds = append(conds, "p.source = ANY("+arg(pq.Array(f.Sources))+")")
	}
	if len(f.Priorities) > 0 {
		priorities := make([]string, len(f.Priorities))
		for i, pr := range f.Priorities {
			priorities[i] = string(pr)
		}
		conds = append(conds, "p.priority = ANY("+arg(pq.Array(priorities))+")")
	}
	if since, ok := f.TimeRange.Since(now); ok {
		conds = append(conds, "p.published_at >= "+arg(since))
	}
	if f.Search != "" {
		ph := arg("%" + escapeLike(f.Search) + "%")
		conds = append(conds, "(p.title ILIKE "+ph+" OR p.content ILIKE "+ph+")")
	}

	query := "SELECT " + postColumns + " FROM posts p"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	switch f.SortBy {
	case model.SortPopular:
		query += " ORDER BY p.trending_score DESC, p.id DESC"
	case model.SortDiscussed:
		query += " ORDER BY COALESCE((p.engagement->>'comments')::int, 0) DESC, p.id DESC"
	case model.SortCommunity:
		query += " ORDER BY p.user_score DESC, p.id DESC"
	default:
		query += " ORDER BY p.published_at DESC NULLS LAST, p.id DESC"
	}

	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	return query, args
}

// List はフィルタ条件に一致する投稿を返す。
func (r *PostgresPostRepo) List(ctx context.Context, f model.PostFilter, now time.Time) ([]*model.Post, error) {
	query, args := buildPostListQuery(f, now)
	return r.queryPosts(ctx, query, args...)
}

func (r *PostgresPostRepo) queryPosts(ctx context.Context, query string, args ...any) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	posts := []*model.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿のスキャンに失敗しました: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id int64) (*model.Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts p WHERE p.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return p, nil
}

// ExistsByURL は同一URLの投稿が保存済みかを返す。
func (r *PostgresPostRepo) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE url = $1)`, url,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("URLによる投稿の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create は投稿を作成し、採番されたIDを設定する。
func (r *PostgresPostRepo) Create(ctx context.Context, p *model.Post) error {
	engagement, err := marshalEngagement(p.Engagement)
	if err != nil {
		return fmt.Errorf("engagementのエンコードに失敗しました: %w", err)
	}
	if p.ScrapedAt.IsZero() {
		p.ScrapedAt = time.Now()
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	if p.BaseScore == 0 {
		p.BaseScore = p.TrendingScore
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO posts (title, content, summary, source_id, category_id, url, source, sentiment,
		                    author, published_at, scraped_at, engagement, tags, trending_score, priority,
		                    upvotes, downvotes, base_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id, user_score`,
		p.Title, p.Content, nullString(p.Summary), nullInt64(p.SourceID), nullInt64(p.CategoryID),
		nullString(p.URL), p.Source, string(p.Sentiment), p.Author, nullTime(p.PublishedAt), p.ScrapedAt,
		engagement, pq.Array(tags), p.TrendingScore, string(p.Priority), p.Upvotes, p.Downvotes, p.BaseScore,
	).Scan(&p.ID, &p.UserScore)
	if isUniqueViolation(err) {
		return ErrDuplicateURL
	}
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は投稿を削除する。投票・キュレーションはCASCADE削除される。
func (r *PostgresPostRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForRescore は再スコアリング対象の投稿を返す。
// 一度も再スコアリングされていないもの、次に古いものの順。
func (r *PostgresPostRepo) ListForRescore(ctx context.Context, since time.Time, limit int) ([]*model.Post, error) {
	return r.queryPosts(ctx,
		`SELECT `+postColumns+` FROM posts p
		 WHERE p.published_at >= $1
		 ORDER BY p.rescored_at ASC NULLS FIRST, p.trending_score DESC, p.id
		 LIMIT $2`,
		since, limit,
	)
}

// UpdateScores は反応指標とトレンドスコアを更新する。
func (r *PostgresPostRepo) UpdateScores(ctx context.Context, id int64, engagement *model.Engagement, trendingScore int, rescoredAt time.Time) error {
	data, err := marshalEngagement(engagement)
	if err != nil {
		return fmt.Errorf("engagementのエンコードに失敗しました: %w", err)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET engagement = $2, trending_score = $3, rescored_at = $4 WHERE id = $1`,
		id, data, trendingScore, rescoredAt,
	)
	if err != nil {
		return fmt.Errorf("スコアの更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CategoryAnalytics はカテゴリ単位の集計値を返す。
func (r *PostgresPostRepo) CategoryAnalytics(ctx context.Context, categoryID int64, now time.Time) (*model.CategoryAnalytics, error) {
	a := &model.CategoryAnalytics{CategoryID: categoryID, LastUpdated: now}
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE priority = 'hot'),
		        count(*) FILTER (WHERE priority = 'trending'),
		        count(DISTINCT source)
		 FROM posts WHERE category_id = $1`,
		categoryID,
	).Scan(&a.TotalPosts, &a.HotTopics, &a.TrendingNow, &a.ActiveForums)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ集計に失敗しました: %w", err)
	}
	return a, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
