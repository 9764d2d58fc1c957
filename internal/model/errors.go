// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, post, category, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodePostNotFound        = "POST_NOT_FOUND"
	ErrCodeCategoryNotFound    = "CATEGORY_NOT_FOUND"
	ErrCodeInvalidFilter       = "INVALID_FILTER"
	ErrCodeInvalidVoteType     = "INVALID_VOTE_TYPE"
	ErrCodeInvalidCurationType = "INVALID_CURATION_TYPE"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidCategory     = "INVALID_CATEGORY"
	ErrCodeDuplicateCategory   = "DUPLICATE_CATEGORY"
	ErrCodeInvalidSource       = "INVALID_SOURCE"
	ErrCodeInvalidURL          = "INVALID_URL"
	ErrCodeSSRFBlocked         = "SSRF_BLOCKED"
	ErrCodeFetchFailed         = "FETCH_FAILED"
	ErrCodeFeedNotDetected     = "FEED_NOT_DETECTED"
	ErrCodeTaskNotFound        = "TASK_NOT_FOUND"
	ErrCodeTaskBusy            = "TASK_BUSY"
	ErrCodeSchedulerClosed     = "SCHEDULER_CLOSED"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeRateLimited         = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID int64) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %d", postID),
		Category: "post",
		Action:   "投稿IDを確認してください。",
	}
}

// NewCategoryNotFoundError はカテゴリ未検出エラーを生成する。
func NewCategoryNotFoundError(ref string) *APIError {
	return &APIError{
		Code:     ErrCodeCategoryNotFound,
		Message:  fmt.Sprintf("指定されたカテゴリが見つかりません: %s", ref),
		Category: "category",
		Action:   "カテゴリのスラッグまたはIDを確認してください。",
	}
}

// NewInvalidFilterError は無効なフィルタエラーを生成する。
func NewInvalidFilterError(name, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なフィルタです: %s=%s", name, value),
		Category: "validation",
		Action:   "timeRange は 1h, 24h, 7d, 30d, all、sortBy は recent, popular, discussed, community を指定してください。",
	}
}

// NewInvalidVoteTypeError は無効な投票種別エラーを生成する。
func NewInvalidVoteTypeError(voteType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidVoteType,
		Message:  fmt.Sprintf("無効な投票種別です: %q", voteType),
		Category: "validation",
		Action:   "voteType には upvote または downvote を指定してください。",
	}
}

// NewInvalidCurationTypeError は無効なキュレーション種別エラーを生成する。
func NewInvalidCurationTypeError(curationType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCurationType,
		Message:  fmt.Sprintf("無効なキュレーション種別です: %q", curationType),
		Category: "validation",
		Action:   "curationType には bookmark, feature, hide, report のいずれかを指定してください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストの内容を確認してください。",
	}
}

// NewCategoryValidationError はカテゴリ入力のバリデーションエラーを生成する。
func NewCategoryValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCategory,
		Message:  fmt.Sprintf("カテゴリの入力が不正です: %s", reason),
		Category: "validation",
		Action:   "name は50文字以内、slug は英小文字・数字・ハイフンのみ、description は200文字以内で入力してください。",
	}
}

// NewDuplicateCategoryError はスラッグまたは名前が重複したカテゴリの作成エラーを生成する。
func NewDuplicateCategoryError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateCategory,
		Message:  fmt.Sprintf("同じスラッグまたは名前のカテゴリが既に存在します: %s", slug),
		Category: "validation",
		Action:   "別のスラッグと名前を指定してください。",
	}
}

// NewSourceValidationError はソース入力のバリデーションエラーを生成する。
func NewSourceValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSource,
		Message:  fmt.Sprintf("ソースの入力が不正です: %s", reason),
		Category: "validation",
		Action:   "type には reddit, forum, community, rss, youtube のいずれかを指定してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "source",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewFeedNotDetectedError はフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("指定されたURLからRSS/Atomフィードを検出できませんでした: %s", url),
		Category: "source",
		Action:   "フィードのURLを直接入力するか、フィードが公開されているページのURLを確認してください。",
	}
}

// NewTaskNotFoundError は未登録タスクの指定エラーを生成する。
func NewTaskNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("タスクが見つかりません: %s", name),
		Category: "scheduler",
		Action:   "GET /api/scheduler/status でタスク名を確認してください。",
	}
}

// NewTaskBusyError は実行中タスクの重複起動エラーを生成する。
func NewTaskBusyError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskBusy,
		Message:  fmt.Sprintf("タスクは実行中です: %s", name),
		Category: "scheduler",
		Action:   "実行が完了してから再度お試しください。",
	}
}

// NewSchedulerClosedError は停止処理中のスケジューラへの操作エラーを生成する。
func NewSchedulerClosedError() *APIError {
	return &APIError{
		Code:     ErrCodeSchedulerClosed,
		Message:  "スケジューラは停止処理中です",
		Category: "scheduler",
		Action:   "サーバーの再起動後に再度お試しください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   fmt.Sprintf("%d秒ほど待ってから再度お試しください。", retryAfterSec),
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
