package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/forumscope/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, password_hash, first_name, last_name, profile_image_url, created_at, updated_at`

func scanUser(s rowScanner) (*model.User, error) {
	u := &model.User{}
	var passwordHash, firstName, lastName, profileImageURL sql.NullString
	if err := s.Scan(&u.ID, &u.Email, &passwordHash, &firstName, &lastName, &profileImageURL, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.PasswordHash = nullStringValue(passwordHash)
	u.FirstName = nullStringValue(firstName)
	u.LastName = nullStringValue(lastName)
	u.ProfileImageURL = nullStringValue(profileImageURL)
	return u, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return u, nil
}

// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return u, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(u.Email)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, nullString(u.PasswordHash), nullString(u.FirstName), nullString(u.LastName),
		nullString(u.ProfileImageURL), u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
