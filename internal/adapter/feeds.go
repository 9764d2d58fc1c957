package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/forumscope/internal/model"
)

const (
	youtubeBaseURL  = "https://www.youtube.com"
	youtubeMaxItems = 10
	rssMaxItems     = 15
	feedAccept      = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"
)

// TextCleaner はHTMLを含むテキストをプレーンテキストにする。
type TextCleaner interface {
	PlainText(raw string) string
}

var youtubeVideoID = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([^&\n?#]+)`)

// YouTubeThumbnail は動画URLからサムネイルURLを導出する。動画IDが取れない場合は空文字列。
func YouTubeThumbnail(videoURL string) string {
	m := youtubeVideoID.FindStringSubmatch(videoURL)
	if m == nil {
		return ""
	}
	return "https://img.youtube.com/vi/" + m[1] + "/mqdefault.jpg"
}

func parseFeed(ctx context.Context, client HTTPDoer, feedURL string) (*gofeed.Feed, error) {
	body, err := getBody(ctx, client, feedURL, feedAccept)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}
	return feed, nil
}

func itemPublishedAt(item *gofeed.Item, now time.Time) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return now
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

// itemLink はリンクを返す。リンクがなくGUIDがURL形式の場合はGUIDを使う。
func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	if strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://") {
		return item.GUID
	}
	return ""
}

// mediaDescription はYouTubeのmedia:group/media:descriptionを取り出す。
func mediaDescription(item *gofeed.Item) string {
	media, ok := item.Extensions["media"]
	if !ok {
		return ""
	}
	for _, group := range media["group"] {
		for _, desc := range group.Children["description"] {
			if desc.Value != "" {
				return desc.Value
			}
		}
	}
	return ""
}

// YouTube はチャンネルの動画フィードを取得するアダプタ。
type YouTube struct {
	client  HTTPDoer
	cleaner TextCleaner
	baseURL string
	now     func() time.Time
}

// NewYouTube はYouTubeアダプタを生成する。
func NewYouTube(client HTTPDoer, cleaner TextCleaner) *YouTube {
	return &YouTube{client: client, cleaner: cleaner, baseURL: youtubeBaseURL, now: time.Now}
}

// SetBaseURL はフィードの基点URLを差し替える（テスト用）。
func (y *YouTube) SetBaseURL(baseURL string) {
	y.baseURL = strings.TrimRight(baseURL, "/")
}

func (y *YouTube) Platform() model.Platform { return model.PlatformYouTube }

// Fetch はチャンネルの最新動画を最大10件取得する。
func (y *YouTube) Fetch(ctx context.Context, src SourceConfig) ([]model.Candidate, error) {
	channelID := strings.TrimSpace(src.Identifier)
	if channelID == "" {
		return nil, fmt.Errorf("チャンネルIDが空です")
	}

	feedURL := y.baseURL + "/feeds/videos.xml?channel_id=" + url.QueryEscape(channelID)
	feed, err := parseFeed(ctx, y.client, feedURL)
	if err != nil {
		return nil, err
	}

	items := feed.Items
	if len(items) > youtubeMaxItems {
		items = items[:youtubeMaxItems]
	}

	candidates := make([]model.Candidate, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		link := itemLink(item)
		guid := firstNonEmpty(item.GUID, link)
		parts := strings.Split(guid, ":")
		content := firstNonEmpty(mediaDescription(item), item.Description, item.Content)
		if y.cleaner != nil {
			content = y.cleaner.PlainText(content)
		}

		candidates = append(candidates, model.Candidate{
			ExternalID:  "youtube_" + parts[len(parts)-1],
			Title:       firstNonEmpty(item.Title, "Untitled Video"),
			Content:     firstNonEmpty(content, "YouTube video content"),
			Author:      firstNonEmpty(itemAuthor(item), feed.Title, "Unknown"),
			URL:         link,
			PublishedAt: itemPublishedAt(item, y.now()),
			Platform:    model.PlatformYouTube,
			SourceName:  feed.Title,
			Thumbnail:   YouTubeThumbnail(link),
		})
	}
	return candidates, nil
}

// RSS は汎用のRSS/Atomフィードを取得するアダプタ。
type RSS struct {
	client  HTTPDoer
	cleaner TextCleaner
	now     func() time.Time
}

// NewRSS はRSSアダプタを生成する。
func NewRSS(client HTTPDoer, cleaner TextCleaner) *RSS {
	return &RSS{client: client, cleaner: cleaner, now: time.Now}
}

func (r *RSS) Platform() model.Platform { return model.PlatformRSS }

// Fetch はフィードの先頭15件を取得する。
func (r *RSS) Fetch(ctx context.Context, src SourceConfig) ([]model.Candidate, error) {
	feedURL := strings.TrimSpace(src.Identifier)
	if feedURL == "" {
		return nil, fmt.Errorf("フィードURLが空です")
	}

	feed, err := parseFeed(ctx, r.client, feedURL)
	if err != nil {
		return nil, err
	}

	sourceName := firstNonEmpty(src.Name, feed.Title, model.SourceNameRSS)
	items := feed.Items
	if len(items) > rssMaxItems {
		items = items[:rssMaxItems]
	}

	candidates := make([]model.Candidate, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		link := itemLink(item)
		content := firstNonEmpty(item.Content, item.Description)
		if r.cleaner != nil {
			content = r.cleaner.PlainText(content)
		}

		candidates = append(candidates, model.Candidate{
			ExternalID:  stableID("rss_", firstNonEmpty(link, item.GUID, item.Title)),
			Title:       firstNonEmpty(item.Title, "Untitled Post"),
			Content:     firstNonEmpty(content, "RSS feed content"),
			Author:      firstNonEmpty(itemAuthor(item), sourceName),
			URL:         link,
			PublishedAt: itemPublishedAt(item, r.now()),
			Platform:    model.PlatformRSS,
			SourceName:  sourceName,
		})
	}
	return candidates, nil
}
