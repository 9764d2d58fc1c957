package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/forumscope/internal/model"
)

// SummaryUnavailable は要約を生成できなかった場合に返す文言。
const SummaryUnavailable = "Unable to generate summary at this time"

const summarizeSystemPrompt = "You are an expert at summarizing trending topics in hobby communities. Provide a concise overview of the main themes and trends."

// MarkdownRenderer はMarkdownを安全なHTMLに変換する。
type MarkdownRenderer interface {
	RenderMarkdown(md string) (string, error)
}

// Summarizer は複数の投稿から話題の傾向を要約する。
type Summarizer struct {
	llm      Completer
	renderer MarkdownRenderer
	logger   *slog.Logger
}

// NewSummarizer はSummarizerを生成する。
func NewSummarizer(llm Completer, renderer MarkdownRenderer, logger *slog.Logger) *Summarizer {
	return &Summarizer{llm: llm, renderer: renderer, logger: logger}
}

// SummarizeTopics は投稿群の傾向をLLMで要約する。失敗時はSummaryUnavailableを返し、エラーにはしない。
func (s *Summarizer) SummarizeTopics(ctx context.Context, posts []*model.Post) model.TrendingSummary {
	result := model.TrendingSummary{Summary: SummaryUnavailable, PostsAnalyzed: len(posts)}
	if s.llm == nil || len(posts) == 0 {
		return result
	}

	text, err := s.llm.Complete(ctx, CompletionRequest{
		SystemPrompt: summarizeSystemPrompt,
		UserPrompt:   "Summarize the key trends and hot topics from these forum discussions:\n\n" + topicsText(posts),
	})
	if err != nil {
		if err != ErrAPIKeyMissing {
			s.logger.Warn("トレンド要約の生成に失敗しました",
				slog.Int("posts", len(posts)),
				slog.String("error", err.Error()),
			)
		}
		return result
	}
	if strings.TrimSpace(text) == "" {
		return result
	}

	result.Summary = text
	if s.renderer != nil {
		html, err := s.renderer.RenderMarkdown(text)
		if err != nil {
			s.logger.Warn("要約のHTML変換に失敗しました", slog.String("error", err.Error()))
		} else {
			result.SummaryHTML = html
		}
	}
	return result
}

func topicsText(posts []*model.Post) string {
	parts := make([]string, 0, len(posts))
	for _, p := range posts {
		summary := p.Summary
		if summary == "" {
			summary = truncateRunes(p.Content, 100)
		}
		parts = append(parts, fmt.Sprintf("Title: %s\nSummary: %s", p.Title, summary))
	}
	return strings.Join(parts, "\n\n")
}
