package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/forumscope/internal/model"
)

const xenforoPage = `<html><body>
<div class="structItemContainer">
  <div class="structItem structItem--thread">
    <div class="structItem-title"><a href="/threads/mini-4-pro-gimbal-drift.12345/">Mini 4 Pro gimbal drift</a></div>
    <div class="structItem-minor"><a class="username">skyhawk</a> <time class="u-dt" datetime="2024-05-02T08:30:00+0000">May 2</time></div>
    <div class="structItem-snippet">After the <b>latest</b> firmware my gimbal drifts.</div>
    <div class="structItem-cell structItem-cell--meta"><dl class="pairs"><dt>Replies</dt><dd>1.2K</dd></dl></div>
  </div>
  <div class="structItem structItem--thread">
    <div class="structItem-title"><a href="https://mavicpilots.com/threads/avata-2-review.999/#post-1">Avata 2 review</a></div>
    <div class="structItem-cell structItem-cell--meta"><dl class="pairs"><dt>Replies</dt><dd>37</dd></dl></div>
  </div>
  <div class="structItem structItem--thread">
    <div class="structItem-title"></div>
  </div>
</div>
</body></html>`

func TestForum_Fetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(xenforoPage))
	}))
	defer ts.Close()

	now := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	f := NewForum(ts.Client(), nil)
	f.now = func() time.Time { return now }

	got, err := f.Fetch(context.Background(), SourceConfig{
		Type:       model.PlatformForum,
		Identifier: ts.URL + "/forums/mavic-4-pro.200/",
		Name:       "MavicPilots",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}

	first := got[0]
	if first.URL != ts.URL+"/threads/mini-4-pro-gimbal-drift.12345/" {
		t.Errorf("expected resolved link, got %q", first.URL)
	}
	if first.Author != "skyhawk" {
		t.Errorf("unexpected author %q", first.Author)
	}
	if !strings.Contains(first.Content, "latest firmware") {
		t.Errorf("unexpected content %q", first.Content)
	}
	if first.Engagement == nil || first.Engagement.CommentCount != 1200 {
		t.Errorf("unexpected engagement %+v", first.Engagement)
	}
	if !first.PublishedAt.Equal(time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected publishedAt %v", first.PublishedAt)
	}
	if first.SourceDisplayName() != "MavicPilots" {
		t.Errorf("unexpected source display name %q", first.SourceDisplayName())
	}

	second := got[1]
	if second.URL != "https://mavicpilots.com/threads/avata-2-review.999/" {
		t.Errorf("expected fragment removed, got %q", second.URL)
	}
	if second.Content != "Discussion on MavicPilots" || second.Author != "Unknown" {
		t.Errorf("unexpected defaults content=%q author=%q", second.Content, second.Author)
	}
	if !second.PublishedAt.Equal(now) {
		t.Errorf("expected fallback to now, got %v", second.PublishedAt)
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"37", 37, true},
		{"1,234", 1234, true},
		{"1.2K", 1200, true},
		{"3m", 3000000, true},
		{" 5 ", 5, true},
		{"", 0, false},
		{"many", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseCount(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseCount(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
