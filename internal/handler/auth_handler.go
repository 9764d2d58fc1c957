package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/forumscope/internal/auth"
	"github.com/hitoshi/forumscope/internal/middleware"
	"github.com/hitoshi/forumscope/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, in auth.SignupInput) (*model.User, string, error)
	Login(ctx context.Context, email, password string) (*model.User, string, error)
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
	TokenTTL     time.Duration // トークンCookieの有効期間
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

// Signup はユーザーを登録し、トークンを発行する。
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := h.service.Signup(r.Context(), auth.SignupInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.setTokenCookie(w, token, int(h.config.TokenTTL.Seconds()))
	writeJSON(w, http.StatusCreated, authResponse{User: toUserResponse(user), Token: token})
}

// Login は認証情報を検証し、トークンを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.setTokenCookie(w, token, int(h.config.TokenTTL.Seconds()))
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(user), Token: token})
}

// Logout はトークンCookieを削除する。トークン自体は失効させない。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.setTokenCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// User は現在のログインユーザー情報を返す。
// GET /api/auth/user
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	user, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
