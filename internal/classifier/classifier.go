// Package classifier は投稿のタイトルと本文から要約・タグ・優先度・トレンドスコア・感情極性を導出する。
// LLMによる分類を優先し、失敗時は決定的なキーワードルールにフォールバックする。
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/hitoshi/forumscope/internal/metrics"
	"github.com/hitoshi/forumscope/internal/model"
)

const classifySystemPrompt = "You are an expert at analyzing forum content for hobby communities. Respond with valid JSON only."

const classifyPromptTemplate = `Analyze this forum post and provide a structured response in JSON format:

Title: %s
Content: %s

Return an object with these fields:
1. summary: a concise 2-3 sentence summary
2. tags: array of 3-6 relevant tags/keywords
3. priority: one of "hot", "trending", "news", "help", "market", "normal"
4. trendingScore: number 1-100 indicating how trending this topic likely is
5. sentiment: "positive", "neutral" or "negative"

Use "help" for questions that need answers, "market" for product announcements and releases,
"news" for breaking news, "hot" for high engagement topics and "trending" for popular discussions.`

// maxPromptContent はプロンプトに含める本文の最大文字数。
const maxPromptContent = 4000

// Classifier はLLMとフォールバックルールを組み合わせた分類器。
type Classifier struct {
	llm     Completer
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// New はClassifierを生成する。llmがnilの場合は常にフォールバックを使用する。
func New(llm Completer, logger *slog.Logger, m metrics.MetricsCollector) *Classifier {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Classifier{llm: llm, logger: logger, metrics: m}
}

// Classify は投稿を分類する。LLMの失敗は呼び出し元に伝播せず、フォールバック結果を返す。
func (c *Classifier) Classify(ctx context.Context, title, content string) model.ContentAnalysis {
	if c.llm == nil {
		c.metrics.RecordClassification("fallback")
		return Fallback(title, content)
	}

	raw, err := c.llm.Complete(ctx, CompletionRequest{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   fmt.Sprintf(classifyPromptTemplate, title, truncateRunes(content, maxPromptContent)),
		JSONMode:     true,
	})
	if err == nil {
		var analysis model.ContentAnalysis
		analysis, err = ParseAnalysis(raw, title, content)
		if err == nil {
			c.metrics.RecordClassification("llm")
			return analysis
		}
	}

	if err != ErrAPIKeyMissing {
		c.logger.Warn("LLM分類に失敗したためフォールバックを使用します",
			slog.String("title", truncateRunes(title, 80)),
			slog.String("error", err.Error()),
		)
	}
	c.metrics.RecordClassification("fallback")
	return Fallback(title, content)
}

type llmAnalysis struct {
	Summary       string   `json:"summary"`
	Tags          []string `json:"tags"`
	Priority      string   `json:"priority"`
	TrendingScore *float64 `json:"trendingScore"`
	Sentiment     string   `json:"sentiment"`
}

// ParseAnalysis はLLMのJSON応答を解析し、欠損値を既定値で補う。
// trendingScoreは[1,100]に丸め込まれる。
func ParseAnalysis(raw, title, content string) (model.ContentAnalysis, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var parsed llmAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return model.ContentAnalysis{}, fmt.Errorf("分類結果のJSON解析に失敗しました: %w", err)
	}

	result := model.ContentAnalysis{
		Summary:       strings.TrimSpace(parsed.Summary),
		Tags:          normalizeTags(parsed.Tags),
		Priority:      model.Priority(strings.ToLower(strings.TrimSpace(parsed.Priority))),
		TrendingScore: defaultTrendingScore,
		Sentiment:     model.Sentiment(strings.ToLower(strings.TrimSpace(parsed.Sentiment))),
	}

	if result.Summary == "" {
		result.Summary = FallbackSummary(content)
	}
	if len(result.Tags) == 0 {
		result.Tags = ExtractTags(title + " " + content)
	}
	if !result.Priority.IsValid() {
		result.Priority = model.PriorityNormal
	}
	if !result.Sentiment.IsValid() {
		result.Sentiment = model.SentimentNeutral
	}
	if parsed.TrendingScore != nil && !math.IsNaN(*parsed.TrendingScore) {
		score := math.Max(0, math.Min(math.Round(*parsed.TrendingScore), 101))
		result.TrendingScore = model.ClampTrendingScore(int(score))
	}

	return result, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := []string{}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
