package adapter

import (
	"errors"
	"net/http"
	"time"
)

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultGone は投稿が削除済み・非公開（404/410/401/403）。再試行しない。
	FetchResultGone
	// FetchResultBackoff はレート制限またはサーバーエラー（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は上記以外。
	FetchResultUnknown
)

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == http.StatusOK:
		return FetchResultOK
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return FetchResultGone
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return FetchResultGone
	case statusCode == http.StatusTooManyRequests:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// ClassifyError はアダプタが返したエラーを取得結果に分類する。
// ネットワークエラーなどステータスを伴わないエラーはバックオフ扱いとする。
func ClassifyError(err error) FetchResult {
	if err == nil {
		return FetchResultOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return ClassifyHTTPStatus(se.StatusCode)
	}
	return FetchResultBackoff
}

// CalculateBackoff は連続失敗回数に基づく指数バックオフ遅延を計算する。
// initialから2倍ずつ増加し、maxDelayで頭打ちになる。
func CalculateBackoff(consecutiveFailures int, initial, maxDelay time.Duration) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	delay := initial
	for i := 1; i < consecutiveFailures; i++ {
		delay *= 2
		if delay > maxDelay {
			return maxDelay
		}
	}
	return delay
}
