package adapter

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/forumscope/internal/model"
)

const forumMaxThreads = 20

// ForumSelectors はスレッド一覧ページから各要素を取り出すCSSセレクタ。
// Thread以外のセレクタはスレッド要素からの相対指定。
type ForumSelectors struct {
	Thread  string `json:"thread"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Replies string `json:"replies"`
	Time    string `json:"time"`
	Snippet string `json:"snippet"`
}

// XenForoSelectors はXenForo 2系のスレッド一覧に対応する既定セレクタ。
var XenForoSelectors = ForumSelectors{
	Thread:  ".structItem--thread",
	Title:   ".structItem-title a[href*='threads/']",
	Author:  ".structItem-minor .username",
	Replies: ".structItem-cell--meta dl.pairs dd",
	Time:    "time.u-dt",
	Snippet: ".structItem-snippet",
}

// Forum はフォーラムのスレッド一覧ページをスクレイピングするアダプタ。
type Forum struct {
	client  HTTPDoer
	cleaner TextCleaner
	now     func() time.Time
}

// NewForum はフォーラムアダプタを生成する。
func NewForum(client HTTPDoer, cleaner TextCleaner) *Forum {
	return &Forum{client: client, cleaner: cleaner, now: time.Now}
}

func (f *Forum) Platform() model.Platform { return model.PlatformForum }

// Fetch はスレッド一覧から最大20件のスレッドを候補として返す。
func (f *Forum) Fetch(ctx context.Context, src SourceConfig) ([]model.Candidate, error) {
	pageURL := strings.TrimSpace(src.Identifier)
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("フォーラムURLが不正です: %q", pageURL)
	}

	sel := XenForoSelectors
	if src.Selectors != nil && src.Selectors.Thread != "" {
		sel = *src.Selectors
	}

	body, err := getBody(ctx, f.client, pageURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTMLのパースに失敗: %w", err)
	}

	name := firstNonEmpty(src.Name, base.Hostname())
	now := f.now()
	candidates := []model.Candidate{}

	doc.Find(sel.Thread).EachWithBreak(func(_ int, thread *goquery.Selection) bool {
		titleSel := thread.Find(sel.Title).First()
		title := strings.TrimSpace(titleSel.Text())
		href, ok := titleSel.Attr("href")
		if title == "" || !ok {
			return true
		}
		link, err := base.Parse(href)
		if err != nil {
			return true
		}
		link.Fragment = ""

		content := ""
		if sel.Snippet != "" {
			content = strings.TrimSpace(thread.Find(sel.Snippet).First().Text())
			if f.cleaner != nil {
				content = f.cleaner.PlainText(content)
			}
		}

		publishedAt := now
		if sel.Time != "" {
			if ts, ok := thread.Find(sel.Time).First().Attr("datetime"); ok {
				if t, ok := parseForumTime(ts); ok {
					publishedAt = t
				}
			}
		}

		c := model.Candidate{
			ExternalID:  stableID("forum_", link.String()),
			Title:       title,
			Content:     firstNonEmpty(content, "Discussion on "+name),
			Author:      firstNonEmpty(strings.TrimSpace(thread.Find(sel.Author).First().Text()), "Unknown"),
			URL:         link.String(),
			PublishedAt: publishedAt,
			Platform:    model.PlatformForum,
			SourceName:  name,
		}
		if sel.Replies != "" {
			if replies, ok := ParseCount(thread.Find(sel.Replies).First().Text()); ok {
				c.Engagement = &model.CandidateEngagement{CommentCount: replies}
			}
		}

		candidates = append(candidates, c)
		return len(candidates) < forumMaxThreads
	})

	return candidates, nil
}

// ParseCount は "1,234" や "1.2K", "3M" のような表記の件数を整数にする。
func ParseCount(s string) (int, bool) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if s == "" {
		return 0, false
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return int(math.Round(v * mult)), true
}

// XenForoは "2024-05-02T08:30:00+0000" 形式を出力する。
var forumTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05-0700"}

func parseForumTime(s string) (time.Time, bool) {
	for _, layout := range forumTimeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
