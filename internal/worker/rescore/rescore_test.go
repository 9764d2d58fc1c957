package rescore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/forumscope/internal/adapter"
	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/repository"
)

// --- モック定義 ---

// mockFetcher はEngagementFetcherのテスト用モック。
type mockFetcher struct {
	mu      sync.Mutex
	fetchFn func(ctx context.Context, postURL string) (*adapter.PostEngagement, error)
	urls    []string
}

func (m *mockFetcher) FetchEngagement(ctx context.Context, postURL string) (*adapter.PostEngagement, error) {
	m.mu.Lock()
	m.urls = append(m.urls, postURL)
	m.mu.Unlock()
	if m.fetchFn != nil {
		return m.fetchFn(ctx, postURL)
	}
	return &adapter.PostEngagement{}, nil
}

// failingUpdateRepo はUpdateScoresのみ失敗させる。
type failingUpdateRepo struct {
	repository.PostRepository
}

func (r *failingUpdateRepo) UpdateScores(context.Context, int64, *model.Engagement, int, time.Time) error {
	return errors.New("db down")
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.APIInterval = 0
	return cfg
}

func newTestSweep(posts repository.PostRepository, f EngagementFetcher, cfg Config) (*Sweep, *bytes.Buffer) {
	var buf bytes.Buffer
	s := NewSweep(posts, f, newTestLogger(&buf), nil, cfg)
	s.now = func() time.Time { return testNow }
	return s, &buf
}

func addPost(t *testing.T, store *repository.MemoryStore, p *model.Post) *model.Post {
	t.Helper()
	if err := store.Posts().Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create post: %v", err)
	}
	return p
}

func at(d time.Duration) *time.Time {
	v := testNow.Add(-d)
	return &v
}

// --- ComputeTrendingScore ---

func TestComputeTrendingScore(t *testing.T) {
	tests := []struct {
		name string
		base int
		e    *model.Engagement
		age  time.Duration
		want int
	}{
		{"指標なし・経過なしは基準値", 50, nil, 0, 50},
		{"指標なしは半減期で減衰", 50, nil, 48 * time.Hour, 25},
		{"千件の反応", 0, &model.Engagement{Upvotes: 999, UpvotePercentage: 100}, 0, 45},
		{"高評価率で減衰", 100, &model.Engagement{Upvotes: 999, UpvotePercentage: 60}, 0, 67},
		{"経過時間で減衰", 0, &model.Engagement{Upvotes: 999, UpvotePercentage: 100}, 96 * time.Hour, 11},
		{"下限は1", 0, &model.Engagement{}, 0, 1},
		{"上限は100", 100, &model.Engagement{Upvotes: 1_000_000_000, UpvotePercentage: 100}, 0, 100},
		{"負の経過時間は0扱い", 50, nil, -time.Hour, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeTrendingScore(tt.base, tt.e, tt.age); got != tt.want {
				t.Errorf("ComputeTrendingScore() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestComputeTrendingScore_Deterministic(t *testing.T) {
	e := &model.Engagement{Upvotes: 120, Comments: 33, UpvotePercentage: 91}
	first := ComputeTrendingScore(42, e, 7*time.Hour)
	for i := 0; i < 10; i++ {
		if got := ComputeTrendingScore(42, e, 7*time.Hour); got != first {
			t.Fatalf("non-deterministic result %d vs %d", got, first)
		}
	}
}

func TestClampUpvotePercentage(t *testing.T) {
	for in, want := range map[int]int{0: 50, 49: 50, 50: 50, 85: 85, 100: 100, 130: 100} {
		if got := ClampUpvotePercentage(in); got != want {
			t.Errorf("ClampUpvotePercentage(%d) = %d, want %d", in, got, want)
		}
	}
}

// --- Sweep.RunOnce ---

func TestRunOnce_RefreshesRedditAndRecomputesOthers(t *testing.T) {
	store := repository.NewMemoryStore()
	redditPost := addPost(t, store, &model.Post{
		Title: "Mavic 4 leak", URL: "https://www.reddit.com/r/drones/comments/abc/mavic_4_leak/", Source: "Reddit",
		PublishedAt: at(time.Hour), TrendingScore: 40,
		Engagement: &model.Engagement{Upvotes: 10, Comments: 1, Views: 5, UpvotePercentage: 85},
	})
	rssPost := addPost(t, store, &model.Post{
		Title: "Blog", URL: "https://blog.example.com/a", Source: "RSS Feed",
		PublishedAt: at(time.Hour), TrendingScore: 60,
	})
	oldPost := addPost(t, store, &model.Post{
		Title: "Old", URL: "https://www.reddit.com/r/drones/comments/old/", Source: "Reddit",
		PublishedAt: at(30 * 24 * time.Hour), TrendingScore: 70,
	})

	fetcher := &mockFetcher{fetchFn: func(context.Context, string) (*adapter.PostEngagement, error) {
		return &adapter.PostEngagement{Score: 999, NumComments: 0, UpvotePercentage: 30}, nil
	}}
	s, _ := newTestSweep(store.Posts(), fetcher, testConfig())

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sampled != 2 || res.Refreshed != 1 || res.Updated != 2 || res.Calls != 1 || res.Failed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(fetcher.urls) != 1 || fetcher.urls[0] != redditPost.URL {
		t.Errorf("expected only the reddit post to be fetched, got %v", fetcher.urls)
	}

	ctx := context.Background()
	got, _ := store.Posts().FindByID(ctx, redditPost.ID)
	wantEng := model.Engagement{Upvotes: 999, Comments: 0, Views: 5, UpvotePercentage: 50}
	if got.Engagement == nil || *got.Engagement != wantEng {
		t.Errorf("engagement = %+v, want %+v", got.Engagement, wantEng)
	}
	if want := ComputeTrendingScore(40, &wantEng, time.Hour); got.TrendingScore != want {
		t.Errorf("reddit score = %d, want %d", got.TrendingScore, want)
	}
	if got.RescoredAt == nil || !got.RescoredAt.Equal(testNow) {
		t.Errorf("unexpected rescoredAt %v", got.RescoredAt)
	}

	got, _ = store.Posts().FindByID(ctx, rssPost.ID)
	if got.TrendingScore != 59 || got.Engagement != nil {
		t.Errorf("unexpected rss post %+v", got)
	}

	got, _ = store.Posts().FindByID(ctx, oldPost.ID)
	if got.RescoredAt != nil || got.TrendingScore != 70 {
		t.Errorf("expected post outside window to be untouched, got %+v", got)
	}
}

func TestRunOnce_MaxCallsPerCycle(t *testing.T) {
	store := repository.NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		addPost(t, store, &model.Post{Title: id, URL: "https://reddit.com/r/fpv/comments/" + id + "/", Source: "Reddit", PublishedAt: at(time.Hour)})
	}
	fetcher := &mockFetcher{}
	cfg := testConfig()
	cfg.MaxCallsPerCycle = 2
	s, _ := newTestSweep(store.Posts(), fetcher, cfg)

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Calls != 2 || len(fetcher.urls) != 2 {
		t.Errorf("expected 2 calls, got %d (%v)", res.Calls, fetcher.urls)
	}
	if res.Updated != 3 {
		t.Errorf("expected all sampled posts to be rescored, got %d", res.Updated)
	}
}

func TestRunOnce_BackoffOnConsecutiveFailures(t *testing.T) {
	store := repository.NewMemoryStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		addPost(t, store, &model.Post{Title: id, URL: "https://www.reddit.com/r/fpv/comments/" + id + "/", Source: "Reddit", PublishedAt: at(time.Hour), TrendingScore: 30})
	}
	fetcher := &mockFetcher{fetchFn: func(context.Context, string) (*adapter.PostEngagement, error) {
		return nil, &adapter.StatusError{URL: "https://www.reddit.com", StatusCode: 429}
	}}
	cfg := testConfig()
	cfg.FailureThreshold = 2
	s, buf := newTestSweep(store.Posts(), fetcher, cfg)

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Calls != 2 || res.Failed != 2 || res.Updated != 4 {
		t.Errorf("unexpected result %+v", res)
	}
	if want := testNow.Add(cfg.InitialBackoff); !s.backoffUntil.Equal(want) {
		t.Errorf("backoffUntil = %v, want %v", s.backoffUntil, want)
	}
	if !strings.Contains(buf.String(), "バックオフを適用します") {
		t.Error("expected backoff to be logged")
	}

	// バックオフ中は取得せず保存済みの指標で再計算する
	res, err = s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Skipped || res.Calls != 0 || res.Updated != 4 {
		t.Errorf("unexpected result during backoff %+v", res)
	}
	if len(fetcher.urls) != 2 {
		t.Errorf("expected no further calls, got %d", len(fetcher.urls))
	}
}

func TestRunOnce_SuccessResetsFailures(t *testing.T) {
	store := repository.NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		addPost(t, store, &model.Post{Title: id, URL: "https://www.reddit.com/r/fpv/comments/" + id + "/", Source: "Reddit", PublishedAt: at(time.Hour)})
	}
	calls := 0
	fetcher := &mockFetcher{fetchFn: func(context.Context, string) (*adapter.PostEngagement, error) {
		calls++
		if calls == 2 {
			return &adapter.PostEngagement{Score: 5, NumComments: 1, UpvotePercentage: 90}, nil
		}
		return nil, errors.New("timeout")
	}}
	cfg := testConfig()
	cfg.FailureThreshold = 2
	s, _ := newTestSweep(store.Posts(), fetcher, cfg)

	res, _ := s.RunOnce(context.Background())
	if res.Calls != 3 || res.Refreshed != 1 || res.Failed != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if !s.backoffUntil.IsZero() || s.consecutiveFailures != 1 {
		t.Errorf("expected failures to reset after success, got %d until %v", s.consecutiveFailures, s.backoffUntil)
	}
}

// 繰り返し実行しても減衰は取り込み時のスコアからの1回分だけで、累積しないこと
func TestRunOnce_RepeatedSweepsDoNotCompoundDecay(t *testing.T) {
	store := repository.NewMemoryStore()
	rss := addPost(t, store, &model.Post{
		Title: "Build log", URL: "https://rcgroups.example.com/build-log", Source: "RSS Feed",
		PublishedAt: at(24 * time.Hour), TrendingScore: 85,
	})
	forum := addPost(t, store, &model.Post{
		Title: "Hangar", URL: "https://mavicpilots.com/threads/hangar", Source: "MavicPilots",
		PublishedAt: at(24 * time.Hour), TrendingScore: 70,
		Engagement: &model.Engagement{Comments: 40, UpvotePercentage: 85},
	})

	s, _ := newTestSweep(store.Posts(), nil, testConfig())
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		elapsed := time.Duration(i) * 3 * time.Hour
		s.now = func() time.Time { return testNow.Add(elapsed) }
		if _, err := s.RunOnce(ctx); err != nil {
			t.Fatalf("sweep %d: unexpected error: %v", i, err)
		}

		age := 24*time.Hour + elapsed
		got, _ := store.Posts().FindByID(ctx, rss.ID)
		if want := ComputeTrendingScore(85, nil, age); got.TrendingScore != want {
			t.Errorf("sweep %d: rss score = %d, want %d", i, got.TrendingScore, want)
		}
		if got.BaseScore != 85 {
			t.Errorf("sweep %d: base score changed to %d", i, got.BaseScore)
		}
		got, _ = store.Posts().FindByID(ctx, forum.ID)
		if want := ComputeTrendingScore(70, got.Engagement, age); got.TrendingScore != want {
			t.Errorf("sweep %d: forum score = %d, want %d", i, got.TrendingScore, want)
		}
	}

	got, _ := store.Posts().FindByID(ctx, rss.ID)
	if got.TrendingScore != 44 {
		t.Errorf("score after 45h = %d, want 44", got.TrendingScore)
	}
}

func TestRunOnce_WithoutRedditClient(t *testing.T) {
	store := repository.NewMemoryStore()
	p := addPost(t, store, &model.Post{
		Title: "a", URL: "https://www.reddit.com/r/fpv/comments/a/", Source: "Reddit",
		PublishedAt: at(time.Hour), TrendingScore: 50,
		Engagement: &model.Engagement{Upvotes: 3, UpvotePercentage: 20},
	})
	s, _ := newTestSweep(store.Posts(), nil, testConfig())

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Calls != 0 || res.Updated != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	got, _ := store.Posts().FindByID(context.Background(), p.ID)
	if got.Engagement.UpvotePercentage != 50 {
		t.Errorf("expected upvotePercentage clamped to 50, got %d", got.Engagement.UpvotePercentage)
	}
}

func TestRunOnce_UpdateError(t *testing.T) {
	store := repository.NewMemoryStore()
	addPost(t, store, &model.Post{Title: "a", URL: "https://blog.example.com/a", PublishedAt: at(time.Hour)})
	s, buf := newTestSweep(&failingUpdateRepo{store.Posts()}, nil, testConfig())

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 1 || res.Updated != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.Contains(buf.String(), "db down") {
		t.Error("expected update error to be logged")
	}
}

func TestRunOnce_Empty(t *testing.T) {
	s, _ := newTestSweep(repository.NewMemoryStore().Posts(), &mockFetcher{}, testConfig())
	res, err := s.RunOnce(context.Background())
	if err != nil || res.Sampled != 0 {
		t.Errorf("unexpected result %+v, %v", res, err)
	}
}

func TestRunOnce_PacesRedditCalls(t *testing.T) {
	store := repository.NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		addPost(t, store, &model.Post{Title: id, URL: "https://www.reddit.com/r/fpv/comments/" + id + "/", Source: "Reddit", PublishedAt: at(time.Hour)})
	}
	cfg := testConfig()
	cfg.APIInterval = 40 * time.Millisecond
	s, _ := newTestSweep(store.Posts(), &mockFetcher{}, cfg)

	start := time.Now()
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("expected paced calls, elapsed %v", elapsed)
	}
}

func TestRunOnce_Cancelled(t *testing.T) {
	store := repository.NewMemoryStore()
	addPost(t, store, &model.Post{Title: "a", URL: "https://blog.example.com/a", PublishedAt: at(time.Hour)})
	s, _ := newTestSweep(store.Posts(), nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
