package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/forumscope/internal/adapter"
	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/security"
)

// allowAll はテストサーバー(127.0.0.1)への接続を許可するバリデータ。
type allowAll struct{}

func (allowAll) ValidateURL(string) error { return nil }

const rssBody = `<?xml version="1.0"?><rss version="2.0"><channel><title>RC Groups</title></channel></rss>`

func newDetectorServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != adapter.UserAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		w.Write([]byte(rssBody))
	})
	mux.HandleFunc("/generic.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(rssBody))
	})
	mux.HandleFunc("/blog", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<!DOCTYPE html><html><head>
<title>Blog</title>
<link rel="alternate" type="application/rss+xml" href="https://feeds.example.com/blog.rss">
<link rel="alternate" type="application/rss+xml" href="/feed.xml">
<link rel="alternate" type="application/atom+xml" href="/atom.xml">
</head><body><link rel="alternate" type="application/atom+xml" href="/ignored.xml"></body></html>`))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>No feed</title></head><body></body></html>`))
	})
	mux.HandleFunc("/image", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %s, want %s", apiErr.Code, code)
	}
}

func TestDetectFeedURL(t *testing.T) {
	ts := newDetectorServer(t)
	d := NewFeedDetector(allowAll{}, ts.Client())
	ctx := context.Background()

	tests := []struct {
		name string
		path string
		want string
	}{
		{"RSSのContent-Typeはそのまま", "/feed.xml", ts.URL + "/feed.xml"},
		{"汎用XMLは本文で判定", "/generic.xml", ts.URL + "/generic.xml"},
		{"HTMLは同一ホストのAtomを優先", "/blog", ts.URL + "/atom.xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.DetectFeedURL(ctx, ts.URL+tt.path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectFeedURL_Errors(t *testing.T) {
	ts := newDetectorServer(t)
	d := NewFeedDetector(allowAll{}, ts.Client())
	ctx := context.Background()

	_, err := d.DetectFeedURL(ctx, ts.URL+"/plain")
	assertAPIError(t, err, model.ErrCodeFeedNotDetected)

	_, err = d.DetectFeedURL(ctx, ts.URL+"/image")
	assertAPIError(t, err, model.ErrCodeFeedNotDetected)

	_, err = d.DetectFeedURL(ctx, ts.URL+"/broken")
	assertAPIError(t, err, model.ErrCodeFetchFailed)

	_, err = d.DetectFeedURL(ctx, "")
	assertAPIError(t, err, model.ErrCodeInvalidURL)
}

func TestDetectFeedURL_BlockedByGuard(t *testing.T) {
	guard := security.NewOutboundGuard(adapter.UserAgent)
	d := NewFeedDetector(guard, http.DefaultClient)
	ctx := context.Background()

	for _, u := range []string{"http://127.0.0.1/feed", "http://10.0.0.5/", "http://localhost:8080/"} {
		_, err := d.DetectFeedURL(ctx, u)
		assertAPIError(t, err, model.ErrCodeSSRFBlocked)
	}

	_, err := d.DetectFeedURL(ctx, "ftp://example.com/feed")
	assertAPIError(t, err, model.ErrCodeInvalidURL)
}

func TestPickFeed(t *testing.T) {
	links := []feedLink{
		{URL: "https://other.example.com/a.rss"},
		{URL: "https://blog.example.com/b.rss"},
		{URL: "https://other.example.com/c.atom", Atom: true},
	}
	if got := pickFeed(links, "https://blog.example.com/"); got != "https://blog.example.com/b.rss" {
		t.Errorf("expected same-host feed, got %q", got)
	}
	if got := pickFeed(links[:1], "https://blog.example.com/"); got != "https://other.example.com/a.rss" {
		t.Errorf("expected the only feed, got %q", got)
	}
	if got := pickFeed(nil, "https://blog.example.com/"); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
