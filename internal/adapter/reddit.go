package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/forumscope/internal/model"
)

const (
	redditBaseURL = "https://www.reddit.com"
	// redditPermalinkBase は保存する投稿URLの基点。重複排除キーになるため固定する。
	redditPermalinkBase = "https://reddit.com"
	defaultRedditLimit  = 25
)

// Reddit はサブレディットのhotリスティングを取得するアダプタ。
type Reddit struct {
	client  HTTPDoer
	baseURL string
	limit   int
}

// NewReddit はRedditアダプタを生成する。limitが0以下の場合は25件。
func NewReddit(client HTTPDoer, limit int) *Reddit {
	if limit <= 0 {
		limit = defaultRedditLimit
	}
	return &Reddit{client: client, baseURL: redditBaseURL, limit: limit}
}

// SetBaseURL はAPIの基点URLを差し替える（テスト用）。
func (r *Reddit) SetBaseURL(baseURL string) {
	r.baseURL = strings.TrimRight(baseURL, "/")
}

func (r *Reddit) Platform() model.Platform { return model.PlatformReddit }

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Thumbnail   string  `json:"thumbnail"`
	UpvoteRatio float64 `json:"upvote_ratio"`
}

// Fetch はサブレディットのhotリスティングを取得する。
func (r *Reddit) Fetch(ctx context.Context, src SourceConfig) ([]model.Candidate, error) {
	subreddit := strings.TrimPrefix(strings.TrimSpace(src.Identifier), "r/")
	if subreddit == "" {
		return nil, fmt.Errorf("サブレディット名が空です")
	}

	endpoint := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", r.baseURL, url.PathEscape(subreddit), r.limit)
	body, err := getBody(ctx, r.client, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("Redditレスポンスの解析に失敗: %w", err)
	}

	candidates := make([]model.Candidate, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		p := child.Data
		if p.ID == "" || p.Permalink == "" {
			continue
		}
		sub := firstNonEmpty(p.Subreddit, subreddit)
		c := model.Candidate{
			ExternalID:  "reddit_" + p.ID,
			Title:       p.Title,
			Content:     firstNonEmpty(p.Selftext, "Posted to r/"+sub),
			Author:      p.Author,
			URL:         redditPermalinkBase + p.Permalink,
			PublishedAt: time.Unix(int64(p.CreatedUTC), 0).UTC(),
			Platform:    model.PlatformReddit,
			SourceName:  "r/" + sub,
			Engagement:  &model.CandidateEngagement{Score: p.Score, CommentCount: p.NumComments},
		}
		if strings.HasPrefix(p.Thumbnail, "http") {
			c.Thumbnail = p.Thumbnail
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// PostEngagement は再スコアリング用に取得した1投稿の反応指標。
type PostEngagement struct {
	Score       int
	NumComments int
	// UpvotePercentage は0〜100の高評価率。取得できない場合は0。
	UpvotePercentage int
}

// FetchEngagement は保存済み投稿URLから最新の反応指標を取得する。
func (r *Reddit) FetchEngagement(ctx context.Context, postURL string) (*PostEngagement, error) {
	u, err := url.Parse(postURL)
	if err != nil || u.Path == "" {
		return nil, fmt.Errorf("RedditのURLではありません: %s", postURL)
	}
	endpoint := r.baseURL + strings.TrimRight(u.Path, "/") + ".json"

	body, err := getBody(ctx, r.client, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	var listings []redditListing
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, fmt.Errorf("Redditレスポンスの解析に失敗: %w", err)
	}
	if len(listings) == 0 || len(listings[0].Data.Children) == 0 {
		return nil, fmt.Errorf("投稿データが含まれていません: %s", postURL)
	}

	p := listings[0].Data.Children[0].Data
	return &PostEngagement{
		Score:            p.Score,
		NumComments:      p.NumComments,
		UpvotePercentage: int(math.Round(p.UpvoteRatio * 100)),
	}, nil
}

// IsRedditURL は保存済みURLがReddit投稿かどうかを返す。
func IsRedditURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "reddit.com" || strings.HasSuffix(host, ".reddit.com")
}
