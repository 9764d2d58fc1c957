package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/forumscope/internal/adapter"
	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/security"
)

// URLValidator は外部URLへのアクセス可否を検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// feedLink はHTMLのlink要素から見つかったフィード。
type feedLink struct {
	URL  string
	Atom bool
}

// FeedDetector はページURLからRSS/Atomフィードを特定する。
type FeedDetector struct {
	validator URLValidator
	client    adapter.HTTPDoer
}

// NewFeedDetector はFeedDetectorを生成する。
func NewFeedDetector(validator URLValidator, client adapter.HTTPDoer) *FeedDetector {
	return &FeedDetector{validator: validator, client: client}
}

// DetectFeedURL はURLがフィードであればそのまま、HTMLページであればhead内で告知されたフィードのURLを返す。
// 内部ネットワーク宛てはSSRF_BLOCKED、取得失敗はFETCH_FAILED、見つからない場合はFEED_NOT_DETECTED。
func (d *FeedDetector) DetectFeedURL(ctx context.Context, pageURL string) (string, error) {
	if err := validateOutboundURL(d.validator, pageURL); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", adapter.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, security.ErrBlockedDestination) {
			return "", model.NewSSRFBlockedError()
		}
		return "", model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", model.NewFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	mediaType = strings.ToLower(mediaType)

	if isFeed(mediaType, body) {
		return pageURL, nil
	}
	if !strings.Contains(mediaType, "html") {
		return "", model.NewFeedNotDetectedError(pageURL)
	}

	links := feedLinksFromHTML(body, pageURL)
	best := pickFeed(links, pageURL)
	if best == "" {
		return "", model.NewFeedNotDetectedError(pageURL)
	}
	return best, nil
}

// validateOutboundURL はURL検証エラーをAPIエラーに変換する。
func validateOutboundURL(v URLValidator, rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return model.NewInvalidURLError("URLが入力されていません")
	}
	if v == nil {
		return nil
	}
	err := v.ValidateURL(rawURL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, security.ErrBlockedDestination):
		return model.NewSSRFBlockedError()
	default:
		return model.NewInvalidURLError(err.Error())
	}
}

// isFeed はContent-Typeと本文の先頭からRSS/Atomかを判定する。
func isFeed(mediaType string, body []byte) bool {
	switch mediaType {
	case "application/rss+xml", "application/atom+xml":
		return true
	case "text/xml", "application/xml", "":
	default:
		return false
	}

	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	lower := bytes.ToLower(head)
	if bytes.Contains(lower, []byte("<rss")) || bytes.Contains(lower, []byte("<rdf:rdf")) {
		return true
	}
	return bytes.Contains(lower, []byte("<feed")) && bytes.Contains(lower, []byte("http://www.w3.org/2005/atom"))
}

// feedLinksFromHTML はhead内の rel="alternate" なRSS/Atomリンクを出現順に返す。
func feedLinksFromHTML(body []byte, pageURL string) []feedLink {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []feedLink
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) == "body" {
				return links
			}
			if string(name) != "link" || !hasAttr {
				continue
			}

			attrs := map[string]string{}
			for more := true; more; {
				var k, v []byte
				k, v, more = z.TagAttr()
				attrs[strings.ToLower(string(k))] = string(v)
			}
			if !hasToken(attrs["rel"], "alternate") || attrs["href"] == "" {
				continue
			}
			typ := strings.ToLower(attrs["type"])
			if typ != "application/rss+xml" && typ != "application/atom+xml" {
				continue
			}
			ref, err := url.Parse(strings.TrimSpace(attrs["href"]))
			if err != nil {
				continue
			}
			links = append(links, feedLink{
				URL:  base.ResolveReference(ref).String(),
				Atom: typ == "application/atom+xml",
			})
		}
	}
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(strings.ToLower(list)) {
		if f == token {
			return true
		}
	}
	return false
}

// pickFeed は同一ホストのフィード、Atom、出現順の優先度で1件選ぶ。
func pickFeed(links []feedLink, pageURL string) string {
	host := hostOf(pageURL)
	best, bestScore := "", -1
	for _, l := range links {
		score := 0
		if hostOf(l.URL) == host {
			score += 2
		}
		if l.Atom {
			score++
		}
		if score > bestScore {
			best, bestScore = l.URL, score
		}
	}
	return best
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
