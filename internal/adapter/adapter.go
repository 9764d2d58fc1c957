// Package adapter は外部プロバイダ（Reddit, YouTube, RSS, フォーラム）から投稿候補を取得し、
// 共通のCandidate形式に正規化する。
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hitoshi/forumscope/internal/model"
)

// UserAgent は全アダプタが送信するUser-Agent。
const UserAgent = "ForumScope Bot 1.0 (for hobby forum aggregation)"

// HTTPDoer はHTTPリクエストの実行を抽象化する。
// 本番ではSSRF防止付きクライアント、テストではhttptestのクライアントを渡す。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SourceConfig は集約対象の1ソースを表す。
// Identifierはプラットフォームごとにサブレディット名、チャンネルID、フィードURL、フォーラムURLを表す。
type SourceConfig struct {
	Type         model.Platform  `json:"type"`
	Identifier   string          `json:"identifier"`
	CategorySlug string          `json:"category"`
	Name         string          `json:"name,omitempty"`
	Selectors    *ForumSelectors `json:"selectors,omitempty"`
}

// String はログ出力用の表記を返す。
func (s SourceConfig) String() string {
	return string(s.Type) + ":" + s.Identifier
}

// Adapter は1種類のプロバイダから投稿候補を取得する。
type Adapter interface {
	Platform() model.Platform
	Fetch(ctx context.Context, src SourceConfig) ([]model.Candidate, error)
}

// StatusError は想定外のHTTPステータスを表す。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}

// getBody はGETリクエストを送り、200以外はStatusErrorとして返す。
func getBody(ctx context.Context, client HTTPDoer, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	return body, nil
}

// stableID はリンクまたはGUIDから安定した外部IDを導出する。
func stableID(prefix, key string) string {
	sum := sha256.Sum256([]byte(key))
	return prefix + hex.EncodeToString(sum[:])[:16]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
