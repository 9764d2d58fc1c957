package adapter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/forumscope/internal/model"
)

// mockAdapter はテスト用のAdapter実装。
type mockAdapter struct {
	platform model.Platform
	fetchFn  func(ctx context.Context, src SourceConfig) ([]model.Candidate, error)
}

func (m *mockAdapter) Platform() model.Platform { return m.platform }

func (m *mockAdapter) Fetch(ctx context.Context, src SourceConfig) ([]model.Candidate, error) {
	return m.fetchFn(ctx, src)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestSet_Fetch(t *testing.T) {
	ok := &mockAdapter{platform: model.PlatformReddit, fetchFn: func(context.Context, SourceConfig) ([]model.Candidate, error) {
		return []model.Candidate{{Title: "a"}, {Title: "b"}}, nil
	}}
	failing := &mockAdapter{platform: model.PlatformRSS, fetchFn: func(context.Context, SourceConfig) ([]model.Candidate, error) {
		return nil, errors.New("connection reset")
	}}
	panicking := &mockAdapter{platform: model.PlatformForum, fetchFn: func(context.Context, SourceConfig) ([]model.Candidate, error) {
		panic("selector exploded")
	}}
	slow := &mockAdapter{platform: model.PlatformYouTube, fetchFn: func(ctx context.Context, _ SourceConfig) ([]model.Candidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	tests := []struct {
		name    string
		src     SourceConfig
		want    int
		wantLog string
	}{
		{name: "成功", src: SourceConfig{Type: model.PlatformReddit, Identifier: "drones"}, want: 2, wantLog: "ソースを取得しました"},
		{name: "エラーは空結果", src: SourceConfig{Type: model.PlatformRSS, Identifier: "https://x"}, want: 0, wantLog: "connection reset"},
		{name: "パニックは空結果", src: SourceConfig{Type: model.PlatformForum, Identifier: "https://f"}, want: 0, wantLog: "selector exploded"},
		{name: "タイムアウトは空結果", src: SourceConfig{Type: model.PlatformYouTube, Identifier: "UC1"}, want: 0, wantLog: "deadline exceeded"},
		{name: "未対応の種別", src: SourceConfig{Type: "twitter", Identifier: "x"}, want: 0, wantLog: "未対応のソース種別です"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			set := NewSet(50*time.Millisecond, newTestLogger(&buf), nil, ok, failing, panicking, slow)

			got := set.Fetch(context.Background(), tt.src)
			if got == nil {
				t.Fatal("expected non-nil slice")
			}
			if len(got) != tt.want {
				t.Errorf("expected %d candidates, got %d", tt.want, len(got))
			}
			if !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("expected log to contain %q, got %s", tt.wantLog, buf.String())
			}
		})
	}
}

func TestSet_Supports(t *testing.T) {
	var buf bytes.Buffer
	set := NewSet(time.Second, newTestLogger(&buf), nil, NewReddit(nil, 0), NewForum(nil, nil))
	if !set.Supports(model.PlatformReddit) || !set.Supports(model.PlatformForum) {
		t.Error("expected registered platforms to be supported")
	}
	if set.Supports(model.PlatformYouTube) {
		t.Error("expected youtube to be unsupported")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := map[int]FetchResult{
		200: FetchResultOK,
		404: FetchResultGone,
		410: FetchResultGone,
		403: FetchResultGone,
		429: FetchResultBackoff,
		503: FetchResultBackoff,
		302: FetchResultUnknown,
	}
	for code, want := range tests {
		if got := ClassifyHTTPStatus(code); got != want {
			t.Errorf("ClassifyHTTPStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	initial := 2 * time.Second
	maxDelay := 30 * time.Second
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.failures, initial, maxDelay); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestFetchErrorLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"429はrate_limited", &StatusError{URL: "https://www.reddit.com/r/fpv/hot.json", StatusCode: 429}, "rate_limited"},
		{"5xxもrate_limited", &StatusError{StatusCode: 503}, "rate_limited"},
		{"404はgone", &StatusError{StatusCode: 404}, "gone"},
		{"403はgone", &StatusError{StatusCode: 403}, "gone"},
		{"ネットワークエラー", errors.New("dial tcp: i/o timeout"), "error"},
		{"その他のステータス", &StatusError{StatusCode: 302}, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fetchErrorLabel(tt.err); got != tt.want {
				t.Errorf("fetchErrorLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}
