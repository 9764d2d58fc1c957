// Package auth はメールアドレスとパスワードによる認証とトークン発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/repository"
)

const (
	minPasswordLength = 8
	// bcryptは72バイトを超える部分を無視する
	maxPasswordBytes = 72
	bcryptCost       = bcrypt.DefaultCost
)

// SignupInput は新規登録の入力。
type SignupInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users  repository.UserRepository
	tokens *TokenIssuer
	admins map[string]struct{}
	logger *slog.Logger
}

// NewService はServiceを生成する。
// adminEmailsが空の場合、認証済みユーザーは全員管理者として扱う。
func NewService(users repository.UserRepository, tokens *TokenIssuer, adminEmails []string, logger *slog.Logger) *Service {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &Service{users: users, tokens: tokens, admins: admins, logger: logger}
}

// Signup はユーザーを作成し、トークンを発行する。登録済みのメールアドレスはEMAIL_TAKEN。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.User, string, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, "", err
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		return nil, "", model.NewInvalidRequestError(fmt.Sprintf("passwordは%d文字以上で入力してください", minPasswordLength))
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, "", model.NewInvalidRequestError("passwordが長すぎます")
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, "", model.NewEmailTakenError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.users.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, "", model.NewEmailTakenError()
	}
	if err != nil {
		return nil, "", fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("ユーザーを登録しました", slog.String("user_id", user.ID))
	return user, token, nil
}

// Login は認証情報を検証してトークンを発行する。
// メールアドレス未登録とパスワード不一致は区別せずINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, "", model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", model.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("ユーザーがログインしました", slog.String("user_id", user.ID))
	return user, token, nil
}

// CurrentUser はユーザーを取得する。存在しない場合はUSER_NOT_FOUND。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Authenticate はトークンを検証してクレームを返す。
func (s *Service) Authenticate(token string) (*Claims, error) {
	return s.tokens.Parse(token)
}

// IsAdmin はメールアドレスが管理者かどうかを返す。
func (s *Service) IsAdmin(email string) bool {
	if len(s.admins) == 0 {
		return true
	}
	_, ok := s.admins[strings.ToLower(email)]
	return ok
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", model.NewInvalidRequestError("emailの形式が正しくありません")
	}
	return strings.ToLower(addr.Address), nil
}
