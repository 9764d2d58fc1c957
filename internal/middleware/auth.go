// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/forumscope/internal/auth"
	"github.com/hitoshi/forumscope/internal/model"
)

// TokenCookieName は認証トークンを保持するCookie名。
const TokenCookieName = "token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	emailContextKey  = contextKey("email")
)

// TokenVerifier はトークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Authenticate(token string) (*auth.Claims, error)
}

// AdminChecker は管理者判定に必要なインターフェース。
type AdminChecker interface {
	IsAdmin(email string) bool
}

// tokenFromRequest はAuthorizationヘッダー（Bearer）またはCookieからトークンを取り出す。
// 両方ある場合はヘッダーを優先する。
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(TokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// NewAuthMiddleware はトークンを検証し、認証済みユーザーをコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401を返す。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			claims, err := verifier.Authenticate(token)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), claims.UserID, claims.Email)))
		})
	}
}

// NewOptionalAuthMiddleware は有効なトークンがあればユーザーを注入し、なければそのまま通す。
// 投稿一覧などで自分の投票状態を返すために使う。
func NewOptionalAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := tokenFromRequest(r); token != "" {
				if claims, err := verifier.Authenticate(token); err == nil {
					r = r.WithContext(ContextWithUser(r.Context(), claims.UserID, claims.Email))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewAdminMiddleware は管理者以外のリクエストに403を返すミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func NewAdminMiddleware(checker AdminChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := UserIDFromContext(r.Context()); err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !checker.IsAdmin(EmailFromContext(r.Context())) {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// EmailFromContext はリクエストコンテキストからメールアドレスを取得する。未設定なら空文字。
func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(emailContextKey).(string)
	return email
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithUser はコンテキストにユーザーIDとメールアドレスを注入する。
// アクセスログ用にユーザーIDを書き戻す。
func ContextWithUser(ctx context.Context, userID, email string) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = userID
	}
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, emailContextKey, email)
}
