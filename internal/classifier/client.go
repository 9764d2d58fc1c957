package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrAPIKeyMissing はAPIキー未設定時に返される。分類器はフォールバックに切り替える。
var ErrAPIKeyMissing = errors.New("LLM APIキーが設定されていません")

// CompletionRequest はチャット補完の呼び出しパラメータ。
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	JSONMode     bool
	MaxTokens    int
	Temperature  float64
}

// Completer はテキスト補完サービスの抽象。
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// HTTPDoer はHTTPリクエストの実行を抽象化する。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ChatClient はOpenAI互換のchat completions APIクライアント。
type ChatClient struct {
	http    HTTPDoer
	baseURL string
	apiKey  string
	model   string
}

// NewChatClient はChatClientを生成する。baseURLが空の場合はOpenAIのエンドポイントを使用する。
func NewChatClient(baseURL, apiKey, model string, timeout time.Duration) *ChatClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o"
	}
	return &ChatClient{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
	}
}

// SetHTTPClient はHTTPクライアントを差し替える（テスト用）。
func (c *ChatClient) SetHTTPClient(client HTTPDoer) {
	c.http = client
}

// Complete はチャット補完を実行し、最初の候補の本文を返す。
func (c *ChatClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c.apiKey == "" {
		return "", ErrAPIKeyMissing
	}

	payload := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: strings.TrimSpace(req.SystemPrompt)},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("リクエストの構築に失敗しました: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "ForumScope/1.0")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("LLM APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("LLM APIレスポンスの読み取りに失敗しました: %w", err)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("LLM APIがエラーを返しました: %s", resp.Status)
		}
		return "", fmt.Errorf("LLM APIレスポンスの解析に失敗しました: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(completion.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("LLM APIがエラーを返しました: %s", msg)
	}

	if len(completion.Choices) == 0 {
		return "", errors.New("LLM APIが結果を返しませんでした")
	}

	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
