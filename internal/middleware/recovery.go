package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
)

// NewRecoveryMiddleware はハンドラー内のpanicを500レスポンスに変換する。
// http.ErrAbortHandlerは接続切断の合図なので再送出する。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				attrs := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					attrs = append(attrs, slog.String("route", rctx.RoutePattern()))
				}
				if info, ok := r.Context().Value(requestInfoContextKey).(*requestInfo); ok && info.userID != "" {
					attrs = append(attrs, slog.String("user_id", info.userID))
				}
				logger.Error("ハンドラーでpanicが発生しました", attrs...)
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
