package catalog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/forumscope/internal/adapter"
	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/repository"
	"github.com/hitoshi/forumscope/internal/security"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mockDetector はDetectFeedURLの結果を差し替える。
type mockDetector struct {
	detectFn func(ctx context.Context, pageURL string) (string, error)
	calls    int
}

func (m *mockDetector) DetectFeedURL(ctx context.Context, pageURL string) (string, error) {
	m.calls++
	if m.detectFn != nil {
		return m.detectFn(ctx, pageURL)
	}
	return pageURL, nil
}

func newTestService(detector FeedURLDetector) (*Service, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	var buf bytes.Buffer
	guard := security.NewOutboundGuard(adapter.UserAgent)
	return NewService(store.Categories(), store.Sources(), guard, detector, newTestLogger(&buf)), store
}

func boolPtr(b bool) *bool { return &b }

func TestCreateCategory(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	c, err := svc.CreateCategory(ctx, CategoryInput{Name: " Drones ", Slug: "drones", Description: "Multirotors"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID == 0 || c.Name != "Drones" || !c.IsActive {
		t.Errorf("unexpected category %+v", c)
	}

	inactive, err := svc.CreateCategory(ctx, CategoryInput{Name: "Boats", Slug: "rc-boats", IsActive: boolPtr(false)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inactive.IsActive {
		t.Error("expected inactive category")
	}
}

func TestCreateCategory_Validation(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CategoryInput
		code string
	}{
		{"名前なし", CategoryInput{Slug: "a"}, model.ErrCodeInvalidCategory},
		{"名前が長すぎる", CategoryInput{Name: strings.Repeat("あ", 51), Slug: "a"}, model.ErrCodeInvalidCategory},
		{"スラッグに大文字", CategoryInput{Name: "A", Slug: "Drones"}, model.ErrCodeInvalidCategory},
		{"スラッグに空白", CategoryInput{Name: "A", Slug: "rc cars"}, model.ErrCodeInvalidCategory},
		{"スラッグなし", CategoryInput{Name: "A"}, model.ErrCodeInvalidCategory},
		{"説明が長すぎる", CategoryInput{Name: "A", Slug: "a", Description: strings.Repeat("x", 201)}, model.ErrCodeInvalidCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateCategory(ctx, tt.in)
			assertAPIError(t, err, tt.code)
		})
	}

	// 50文字ちょうどは許可
	if _, err := svc.CreateCategory(ctx, CategoryInput{Name: strings.Repeat("あ", 50), Slug: "long"}); err != nil {
		t.Errorf("expected 50 characters to be accepted: %v", err)
	}
}

func TestCreateCategory_Duplicate(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	svc.CreateCategory(ctx, CategoryInput{Name: "Drones", Slug: "drones"})
	_, err := svc.CreateCategory(ctx, CategoryInput{Name: "Other", Slug: "drones"})
	assertAPIError(t, err, model.ErrCodeDuplicateCategory)
	_, err = svc.CreateCategory(ctx, CategoryInput{Name: "Drones", Slug: "drones-2"})
	assertAPIError(t, err, model.ErrCodeDuplicateCategory)
}

func TestListAndToggleCategories(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	empty, err := svc.ListCategories(ctx, false)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %v, %v", empty, err)
	}

	a, _ := svc.CreateCategory(ctx, CategoryInput{Name: "Drones", Slug: "drones"})
	svc.CreateCategory(ctx, CategoryInput{Name: "Woodworking", Slug: "woodworking"})

	toggled, err := svc.ToggleCategory(ctx, a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toggled.IsActive {
		t.Error("expected category to be deactivated")
	}

	active, _ := svc.ListCategories(ctx, false)
	if len(active) != 1 || active[0].Slug != "woodworking" {
		t.Errorf("unexpected active categories %+v", active)
	}
	all, _ := svc.ListCategories(ctx, true)
	if len(all) != 2 {
		t.Errorf("expected 2 categories including inactive, got %d", len(all))
	}

	_, err = svc.ToggleCategory(ctx, 9999)
	assertAPIError(t, err, model.ErrCodeCategoryNotFound)
}

func TestCreateSource(t *testing.T) {
	detector := &mockDetector{detectFn: func(context.Context, string) (string, error) {
		return "https://blog.example.com/feed.xml", nil
	}}
	svc, store := newTestService(detector)
	ctx := context.Background()
	cat := &model.Category{Name: "Drones", Slug: "drones", IsActive: true}
	store.Categories().Create(ctx, cat)

	src, err := svc.CreateSource(ctx, SourceInput{Name: "Blog", URL: "https://blog.example.com/", Type: "RSS", CategoryID: &cat.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.URL != "https://blog.example.com/feed.xml" || src.Type != model.SourceTypeRSS || !src.IsActive {
		t.Errorf("unexpected source %+v", src)
	}

	reddit, err := svc.CreateSource(ctx, SourceInput{Name: "r/fpv", URL: "https://www.reddit.com/r/fpv/", Type: model.SourceTypeReddit})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reddit.URL != "https://www.reddit.com/r/fpv/" {
		t.Errorf("non-rss url must be stored as is, got %q", reddit.URL)
	}
	if detector.calls != 1 {
		t.Errorf("expected detector only for rss, got %d calls", detector.calls)
	}

	list, _ := svc.ListSources(ctx)
	if len(list) != 2 || list[0].Name != "Blog" {
		t.Errorf("unexpected sources %+v", list)
	}
}

func TestCreateSource_Errors(t *testing.T) {
	detector := &mockDetector{detectFn: func(_ context.Context, u string) (string, error) {
		return "", model.NewFeedNotDetectedError(u)
	}}
	svc, _ := newTestService(detector)
	ctx := context.Background()
	missing := int64(9999)

	tests := []struct {
		name string
		in   SourceInput
		code string
	}{
		{"名前なし", SourceInput{URL: "https://a.example.com", Type: model.SourceTypeForum}, model.ErrCodeInvalidSource},
		{"未対応の種別", SourceInput{Name: "X", URL: "https://x.com", Type: "twitter"}, model.ErrCodeInvalidSource},
		{"存在しないカテゴリ", SourceInput{Name: "X", URL: "https://a.example.com", Type: model.SourceTypeForum, CategoryID: &missing}, model.ErrCodeCategoryNotFound},
		{"内部アドレス", SourceInput{Name: "X", URL: "http://192.168.1.10/forum", Type: model.SourceTypeForum}, model.ErrCodeSSRFBlocked},
		{"不正なスキーム", SourceInput{Name: "X", URL: "file:///etc/passwd", Type: model.SourceTypeForum}, model.ErrCodeInvalidURL},
		{"URLなし", SourceInput{Name: "X", Type: model.SourceTypeCommunity}, model.ErrCodeInvalidURL},
		{"フィード未検出", SourceInput{Name: "X", URL: "https://a.example.com", Type: model.SourceTypeRSS}, model.ErrCodeFeedNotDetected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSource(ctx, tt.in)
			assertAPIError(t, err, tt.code)
		})
	}
}
