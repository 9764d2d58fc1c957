package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hitoshi/forumscope/internal/adapter"
	"github.com/hitoshi/forumscope/internal/model"
)

// DefaultSources は組み込みの集約対象ソース一覧。
func DefaultSources() []adapter.SourceConfig {
	return []adapter.SourceConfig{
		{Type: model.PlatformReddit, Identifier: "drones", CategorySlug: "drones"},
		{Type: model.PlatformReddit, Identifier: "radiocontrol", CategorySlug: "rc-cars"},
		{Type: model.PlatformReddit, Identifier: "fpv", CategorySlug: "drones"},
		{Type: model.PlatformReddit, Identifier: "Multicopter", CategorySlug: "drones"},
		{Type: model.PlatformReddit, Identifier: "rccars", CategorySlug: "rc-cars"},
		{Type: model.PlatformReddit, Identifier: "woodworking", CategorySlug: "woodworking"},
		{Type: model.PlatformReddit, Identifier: "DIY", CategorySlug: "diy"},

		{Type: model.PlatformYouTube, Identifier: "UCiVmHW7d57ICmEf9WGIp1CA", CategorySlug: "drones"},
		{Type: model.PlatformYouTube, Identifier: "UC3ioIOr3tH6Yz8qzr418R-g", CategorySlug: "drones"},

		{Type: model.PlatformRSS, Identifier: "https://www.rcgroups.com/forums/-/index.rss", CategorySlug: "rc-cars", Name: "RC Groups"},
		{Type: model.PlatformRSS, Identifier: "https://blog.dronedeploy.com/feed", CategorySlug: "drones", Name: "DroneDeploy Blog"},

		{Type: model.PlatformForum, Identifier: "https://mavicpilots.com/forums/", CategorySlug: "drones", Name: "MavicPilots"},
	}
}

// LoadSources はJSONファイルからソース一覧を読み込む。pathが空の場合は組み込み一覧を返す。
func LoadSources(path string) ([]adapter.SourceConfig, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSources(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ソース定義ファイルの読み込みに失敗しました: %w", err)
	}
	var sources []adapter.SourceConfig
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("ソース定義ファイルの解析に失敗しました: %w", err)
	}
	return NormalizeSources(sources)
}

// NormalizeSources は種別を正規化し、必須項目を検証する。
// communityはフォーラムとして扱う。
func NormalizeSources(sources []adapter.SourceConfig) ([]adapter.SourceConfig, error) {
	out := make([]adapter.SourceConfig, 0, len(sources))
	for i, src := range sources {
		src.Type = model.Platform(strings.ToLower(strings.TrimSpace(string(src.Type))))
		if src.Type == model.Platform(model.SourceTypeCommunity) {
			src.Type = model.PlatformForum
		}
		src.Identifier = strings.TrimSpace(src.Identifier)
		src.CategorySlug = strings.TrimSpace(src.CategorySlug)

		switch src.Type {
		case model.PlatformReddit, model.PlatformYouTube, model.PlatformRSS, model.PlatformForum:
		default:
			return nil, fmt.Errorf("sources[%d]: 未対応のソース種別です: %q", i, src.Type)
		}
		if src.Identifier == "" {
			return nil, fmt.Errorf("sources[%d]: identifierは必須です", i)
		}
		if src.CategorySlug == "" {
			return nil, fmt.Errorf("sources[%d]: categoryは必須です", i)
		}
		out = append(out, src)
	}
	return out, nil
}
