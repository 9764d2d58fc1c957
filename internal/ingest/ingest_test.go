package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/repository"
)

// mockClassifier はテスト用のClassifier実装。
type mockClassifier struct {
	calls int
}

func (m *mockClassifier) Classify(_ context.Context, title, _ string) model.ContentAnalysis {
	m.calls++
	return model.ContentAnalysis{
		Summary:       "summary of " + title,
		Tags:          []string{"DJI"},
		Priority:      model.PriorityNews,
		TrendingScore: 85,
		Sentiment:     model.SentimentPositive,
	}
}

// failingPostRepo は指定URLの保存だけを失敗させる。
type failingPostRepo struct {
	repository.PostRepository
	failURL string
}

func (r *failingPostRepo) Create(ctx context.Context, p *model.Post) error {
	if p.URL == r.failURL {
		return errors.New("connection lost")
	}
	return r.PostRepository.Create(ctx, p)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func setup(t *testing.T) (*repository.MemoryStore, int64) {
	t.Helper()
	store := repository.NewMemoryStore()
	cat := &model.Category{Name: "Drones", Slug: "drones", IsActive: true}
	if err := store.Categories().Create(context.Background(), cat); err != nil {
		t.Fatalf("failed to create category: %v", err)
	}
	inactive := &model.Category{Name: "Archived", Slug: "archived", IsActive: false}
	if err := store.Categories().Create(context.Background(), inactive); err != nil {
		t.Fatalf("failed to create category: %v", err)
	}
	return store, cat.ID
}

func candidate(url string) model.Candidate {
	return model.Candidate{
		ExternalID:   "reddit_x",
		Title:        "DJI Mavic 4 Pro Release Delays",
		Content:      "Posted to r/drones",
		Author:       "pilot42",
		URL:          url,
		PublishedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Platform:     model.PlatformReddit,
		Engagement:   &model.CandidateEngagement{Score: 321, CommentCount: 45},
		CategorySlug: "drones",
	}
}

func TestIngest_PersistsClassifiedPost(t *testing.T) {
	store, catID := setup(t)
	var buf bytes.Buffer
	cls := &mockClassifier{}
	svc := NewService(store.Posts(), store.Categories(), cls, 0, newTestLogger(&buf), nil)

	ids, err := svc.CategoryMap(context.Background())
	if err != nil {
		t.Fatalf("CategoryMap failed: %v", err)
	}
	if _, ok := ids["archived"]; ok {
		t.Error("expected inactive category to be excluded")
	}

	outcome, err := svc.Ingest(context.Background(), candidate("https://reddit.com/r/drones/comments/abc/"), ids)
	if err != nil || outcome != OutcomeInserted {
		t.Fatalf("expected inserted, got %v %v", outcome, err)
	}

	posts, _ := store.Posts().List(context.Background(), model.PostFilter{}, time.Now())
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	p := posts[0]
	if p.Source != "Reddit" {
		t.Errorf("expected source Reddit, got %q", p.Source)
	}
	if p.CategoryID == nil || *p.CategoryID != catID {
		t.Errorf("unexpected category %v", p.CategoryID)
	}
	if p.Summary != "summary of DJI Mavic 4 Pro Release Delays" || p.Priority != model.PriorityNews || p.TrendingScore != 85 {
		t.Errorf("unexpected classification fields %+v", p)
	}
	want := model.Engagement{Comments: 45, Upvotes: 321, Views: 0, UpvotePercentage: 85}
	if p.Engagement == nil || *p.Engagement != want {
		t.Errorf("unexpected engagement %+v", p.Engagement)
	}
	if p.PublishedAt == nil || !p.PublishedAt.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected publishedAt %v", p.PublishedAt)
	}
}

func TestIngestAll_DeduplicatesByURL(t *testing.T) {
	store, _ := setup(t)
	var buf bytes.Buffer
	cls := &mockClassifier{}
	svc := NewService(store.Posts(), store.Categories(), cls, 0, newTestLogger(&buf), nil)

	url := "https://reddit.com/r/drones/comments/dup/"
	summary, err := svc.IngestAll(context.Background(), []model.Candidate{candidate(url), candidate(url)})
	if err != nil {
		t.Fatalf("IngestAll failed: %v", err)
	}
	if summary.Inserted != 1 || summary.Duplicates != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if cls.calls != 1 {
		t.Errorf("expected classifier to be called once, got %d", cls.calls)
	}

	// 2回目の実行でも増えない
	if _, err := svc.IngestAll(context.Background(), []model.Candidate{candidate(url)}); err != nil {
		t.Fatalf("IngestAll failed: %v", err)
	}
	posts, _ := store.Posts().List(context.Background(), model.PostFilter{}, time.Now())
	if len(posts) != 1 {
		t.Errorf("expected exactly 1 stored post, got %d", len(posts))
	}
}

func TestIngestAll_SkipsAndContinues(t *testing.T) {
	store, _ := setup(t)
	var buf bytes.Buffer
	posts := &failingPostRepo{PostRepository: store.Posts(), failURL: "https://example.com/fail"}
	svc := NewService(posts, store.Categories(), &mockClassifier{}, 0, newTestLogger(&buf), nil)

	unresolved := candidate("https://example.com/unknown-category")
	unresolved.CategorySlug = "general"
	archived := candidate("https://example.com/archived")
	archived.CategorySlug = "archived"
	noURL := candidate("")

	summary, err := svc.IngestAll(context.Background(), []model.Candidate{
		unresolved,
		archived,
		noURL,
		candidate("https://example.com/fail"),
		candidate("https://example.com/ok"),
	})
	if err != nil {
		t.Fatalf("IngestAll failed: %v", err)
	}

	want := Summary{Inserted: 1, MissingURL: 1, Unresolved: 2, Failed: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
	if summary.Total() != 5 {
		t.Errorf("expected total 5, got %d", summary.Total())
	}

	stored, _ := store.Posts().List(context.Background(), model.PostFilter{}, time.Now())
	if len(stored) != 1 || stored[0].URL != "https://example.com/ok" {
		t.Errorf("unexpected stored posts %+v", stored)
	}
}

func TestIngest_ForumSourceName(t *testing.T) {
	store, _ := setup(t)
	var buf bytes.Buffer
	svc := NewService(store.Posts(), store.Categories(), &mockClassifier{}, 0, newTestLogger(&buf), nil)

	c := candidate("https://mavicpilots.com/threads/1/")
	c.Platform = model.PlatformForum
	c.SourceName = "MavicPilots"
	c.Engagement = nil

	ids, _ := svc.CategoryMap(context.Background())
	if _, err := svc.Ingest(context.Background(), c, ids); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	posts, _ := store.Posts().List(context.Background(), model.PostFilter{}, time.Now())
	if posts[0].Source != "MavicPilots" {
		t.Errorf("expected forum name as source, got %q", posts[0].Source)
	}
	if posts[0].Engagement != nil {
		t.Errorf("expected nil engagement, got %+v", posts[0].Engagement)
	}
}

func TestIngestAll_Paced(t *testing.T) {
	store, _ := setup(t)
	var buf bytes.Buffer
	svc := NewService(store.Posts(), store.Categories(), &mockClassifier{}, 30*time.Millisecond, newTestLogger(&buf), nil)

	start := time.Now()
	_, err := svc.IngestAll(context.Background(), []model.Candidate{
		candidate("https://example.com/1"),
		candidate("https://example.com/2"),
		candidate("https://example.com/3"),
	})
	if err != nil {
		t.Fatalf("IngestAll failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("expected classifier calls to be paced, took %v", elapsed)
	}
}

func TestIngestAll_CanceledContext(t *testing.T) {
	store, _ := setup(t)
	var buf bytes.Buffer
	svc := NewService(store.Posts(), store.Categories(), &mockClassifier{}, 0, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := svc.IngestAll(ctx, []model.Candidate{candidate("https://example.com/1")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if summary.Inserted != 0 {
		t.Errorf("expected nothing inserted, got %+v", summary)
	}
}
