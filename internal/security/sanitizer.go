package security

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Sanitizer は外部コンテンツのプレーンテキスト化と、表示用HTMLの無害化を行う。
// bluemondayのポリシーはスレッドセーフなため、1つのインスタンスを共有してよい。
type Sanitizer struct {
	strict   *bluemonday.Policy
	ugc      *bluemonday.Policy
	markdown goldmark.Markdown
}

// NewSanitizer はSanitizerを生成する。
func NewSanitizer() *Sanitizer {
	ugc := bluemonday.UGCPolicy()
	ugc.RequireNoReferrerOnLinks(true)
	ugc.AddTargetBlankToFullyQualifiedLinks(true)

	return &Sanitizer{
		strict: bluemonday.StrictPolicy(),
		ugc:    ugc,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Linkify),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
	}
}

// PlainText はHTMLタグを除去し、実体参照を戻して空白を1つにまとめたテキストを返す。
// フィードやフォーラムから取得した本文の保存前に使う。
func (s *Sanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(s.strict.Sanitize(raw))
	return strings.Join(strings.Fields(text), " ")
}

// SafeHTML はユーザー生成コンテンツ向けポリシーでHTMLを無害化する。
func (s *Sanitizer) SafeHTML(raw string) string {
	return s.ugc.Sanitize(raw)
}

// RenderMarkdown はMarkdownをHTMLに変換し、無害化して返す。
func (s *Sanitizer) RenderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return s.ugc.Sanitize(buf.String()), nil
}
