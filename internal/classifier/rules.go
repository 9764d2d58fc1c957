package classifier

import (
	"strings"
	"unicode"

	"github.com/hitoshi/forumscope/internal/model"
)

const (
	// maxTags は分類結果に含めるタグの上限。
	maxTags = 6
	// summaryLength はフォールバック要約に使う本文の文字数。
	summaryLength = 200
	// defaultTrendingScore はスコア不明時の既定値。
	defaultTrendingScore = 50
)

// TagVocabulary はフォールバック時のタグ抽出に使う固定語彙。順序がタグの出力順になる。
var TagVocabulary = []string{
	"DJI", "Mavic", "Phantom", "Mini", "FPV", "Battery", "Firmware",
	"FAA", "Part 107", "Drone", "RC", "Racing", "Camera", "Gimbal",
}

// PriorityRule はキーワードのいずれかに一致した場合に適用する優先度。
type PriorityRule struct {
	Priority model.Priority
	Keywords []string
}

// PriorityRules は上から順に評価され、最初に一致したルールが採用される。
var PriorityRules = []PriorityRule{
	{Priority: model.PriorityHelp, Keywords: []string{"help", "advice", "how to"}},
	{Priority: model.PriorityMarket, Keywords: []string{"release", "announcement", "market"}},
	{Priority: model.PriorityNews, Keywords: []string{"breaking", "news", "emergency"}},
	{Priority: model.PriorityHot, Keywords: []string{"hot", "fire", "urgent"}},
	{Priority: model.PriorityTrending, Keywords: []string{"trending", "popular"}},
}

// keywordExclusions はキーワードを含むが別の意味になる語。判定前にテキストから取り除く。
// "photo" や "shot" が "hot" に一致しないようにする。
var keywordExclusions = map[string][]string{
	"hot": {"photo", "shot", "hotel"},
}

// wholeWordKeywords は部分文字列では誤検出が多すぎるため語単位で照合するキーワード。
var wholeWordKeywords = map[string]bool{
	"rc": true,
}

// containsKeyword は小文字化済みのテキストにキーワードが含まれるかを返す。
func containsKeyword(text, keyword string) bool {
	kw := strings.ToLower(keyword)
	for _, ex := range keywordExclusions[kw] {
		text = strings.ReplaceAll(text, ex, " ")
	}
	if !wholeWordKeywords[kw] {
		return strings.Contains(text, kw)
	}
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if w == kw {
			return true
		}
	}
	return false
}

// DeterminePriority はタイトルと本文から優先度を判定する。
// "released" や "helpful" のような語形変化も部分一致で拾う。
func DeterminePriority(title, content string) model.Priority {
	text := strings.ToLower(title + " " + content)
	for _, rule := range PriorityRules {
		for _, kw := range rule.Keywords {
			if containsKeyword(text, kw) {
				return rule.Priority
			}
		}
	}
	return model.PriorityNormal
}

// ExtractTags は固定語彙に含まれる語をテキストから抽出する。最大maxTags件。
func ExtractTags(text string) []string {
	lower := strings.ToLower(text)
	tags := []string{}
	for _, kw := range TagVocabulary {
		if containsKeyword(lower, kw) {
			tags = append(tags, kw)
			if len(tags) == maxTags {
				break
			}
		}
	}
	return tags
}

// FallbackSummary は本文の先頭を要約として返す。
func FallbackSummary(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) > summaryLength {
		runes = runes[:summaryLength]
	}
	return string(runes) + "..."
}

// Fallback は外部呼び出しを行わない決定的な分類を返す。
func Fallback(title, content string) model.ContentAnalysis {
	return model.ContentAnalysis{
		Summary:       FallbackSummary(content),
		Tags:          ExtractTags(title + " " + content),
		Priority:      DeterminePriority(title, content),
		TrendingScore: defaultTrendingScore,
		Sentiment:     model.SentimentNeutral,
	}
}
