package handler

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/forumscope/internal/model"
	"github.com/hitoshi/forumscope/internal/worker/scheduler"
)

// スケジューラに登録するタスク名
const (
	TaskAggregation = "aggregation"
	TaskRescoring   = "rescoring"
)

// 分析リクエストの上限
const (
	maxAnalyzeTitleLength   = 500
	maxAnalyzeContentLength = 20000
)

// TaskController はスケジューラ操作のインターフェース。
type TaskController interface {
	Start(name string) error
	Stop(name string) error
	Trigger(name string) error
	Status() []scheduler.TaskStatus
	StatusOf(name string) (scheduler.TaskStatus, error)
}

// TrendingTopicsProvider はソーシャル由来投稿のトレンド集計を返す。
type TrendingTopicsProvider interface {
	GetTrendingTopics(ctx context.Context, tr model.TimeRange) (*model.TrendingTopics, error)
}

// ContentAnalyzer はコンテンツ分類を行う。失敗時もフォールバック結果を返す。
type ContentAnalyzer interface {
	Classify(ctx context.Context, title, content string) model.ContentAnalysis
}

// AggregationHandler は集約・分析・スケジューラ管理のHTTPハンドラー。
type AggregationHandler struct {
	tasks    TaskController
	trending TrendingTopicsProvider
	analyzer ContentAnalyzer
}

// NewAggregationHandler はAggregationHandlerを生成する。
func NewAggregationHandler(tasks TaskController, trending TrendingTopicsProvider, analyzer ContentAnalyzer) *AggregationHandler {
	return &AggregationHandler{tasks: tasks, trending: trending, analyzer: analyzer}
}

type analyzeRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type contentAnalysisResponse struct {
	Summary       string   `json:"summary"`
	Tags          []string `json:"tags"`
	Priority      string   `json:"priority"`
	TrendingScore int      `json:"trendingScore"`
	Sentiment     string   `json:"sentiment"`
}

type tagCountResponse struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type trendingTopicsResponse struct {
	TotalPosts        int                `json:"totalPosts"`
	PlatformBreakdown map[string]int     `json:"platformBreakdown"`
	TrendingTags      []tagCountResponse `json:"trendingTags"`
	TimeRange         string             `json:"timeRange"`
	LastUpdated       time.Time          `json:"lastUpdated"`
}

type triggerResponse struct {
	Task    string `json:"task"`
	Message string `json:"message"`
}

// Analyze はタイトルと本文を分類する。
// POST /api/analyze
func (h *AggregationHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	title := strings.TrimSpace(req.Title)
	switch {
	case title == "":
		handleServiceError(w, model.NewInvalidRequestError("titleは必須です"))
		return
	case utf8.RuneCountInString(title) > maxAnalyzeTitleLength:
		handleServiceError(w, model.NewInvalidRequestError("titleが長すぎます"))
		return
	case utf8.RuneCountInString(req.Content) > maxAnalyzeContentLength:
		handleServiceError(w, model.NewInvalidRequestError("contentが長すぎます"))
		return
	}

	a := h.analyzer.Classify(r.Context(), title, req.Content)
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, contentAnalysisResponse{
		Summary:       a.Summary,
		Tags:          tags,
		Priority:      string(a.Priority),
		TrendingScore: a.TrendingScore,
		Sentiment:     string(a.Sentiment),
	})
}

// TrendingTopics はソーシャル由来投稿のタグ・プラットフォーム集計を返す。
// GET /api/social-media/trending?timeRange=
func (h *AggregationHandler) TrendingTopics(w http.ResponseWriter, r *http.Request) {
	tr := model.TimeRange(r.URL.Query().Get("timeRange"))
	if tr == "" {
		tr = model.TimeRangeDay
	}
	t, err := h.trending.GetTrendingTopics(r.Context(), tr)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	tags := make([]tagCountResponse, 0, len(t.TrendingTags))
	for _, tc := range t.TrendingTags {
		tags = append(tags, tagCountResponse{Tag: tc.Tag, Count: tc.Count})
	}
	breakdown := t.PlatformBreakdown
	if breakdown == nil {
		breakdown = map[string]int{}
	}
	writeJSON(w, http.StatusOK, trendingTopicsResponse{
		TotalPosts:        t.TotalPosts,
		PlatformBreakdown: breakdown,
		TrendingTags:      tags,
		TimeRange:         string(t.TimeRange),
		LastUpdated:       t.LastUpdated,
	})
}

// Aggregate は集約タスクを非同期で起動する。
// POST /api/social-media/aggregate
func (h *AggregationHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, TaskAggregation, "ソーシャルメディア集約を開始しました")
}

// Scrape は再スコアリングタスクを非同期で起動する。
// POST /api/scrape
func (h *AggregationHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, TaskRescoring, "フォーラムの再スキャンを開始しました")
}

// RunTask は任意のタスクを非同期で起動する（管理者）。
// POST /api/scheduler/tasks/:name/run
func (h *AggregationHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, chi.URLParam(r, "name"), "タスクを開始しました")
}

func (h *AggregationHandler) trigger(w http.ResponseWriter, name, message string) {
	if err := h.tasks.Trigger(name); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, triggerResponse{Task: name, Message: message})
}

// SchedulerStatus は全タスクの状態を返す（管理者）。
// GET /api/scheduler/status
func (h *AggregationHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]scheduler.TaskStatus{"tasks": h.tasks.Status()})
}

// StartTask はタスクの定期実行を開始する（管理者）。
// POST /api/scheduler/tasks/:name/start
func (h *AggregationHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	h.changeState(w, chi.URLParam(r, "name"), h.tasks.Start)
}

// StopTask はタスクの定期実行を停止する。実行中の処理は中断しない（管理者）。
// POST /api/scheduler/tasks/:name/stop
func (h *AggregationHandler) StopTask(w http.ResponseWriter, r *http.Request) {
	h.changeState(w, chi.URLParam(r, "name"), h.tasks.Stop)
}

func (h *AggregationHandler) changeState(w http.ResponseWriter, name string, fn func(string) error) {
	if err := fn(name); err != nil {
		handleServiceError(w, err)
		return
	}
	status, err := h.tasks.StatusOf(name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
