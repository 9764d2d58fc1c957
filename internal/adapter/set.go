package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/forumscope/internal/metrics"
	"github.com/hitoshi/forumscope/internal/model"
)

// Set はプラットフォームごとのアダプタを束ね、失敗を吸収して呼び出す。
type Set struct {
	adapters map[model.Platform]Adapter
	timeout  time.Duration
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
}

// NewSet はSetを生成する。timeoutは1ソースあたりの取得時間の上限。
func NewSet(timeout time.Duration, logger *slog.Logger, m metrics.MetricsCollector, adapters ...Adapter) *Set {
	if m == nil {
		m = metrics.Nop{}
	}
	s := &Set{
		adapters: make(map[model.Platform]Adapter, len(adapters)),
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
	}
	for _, a := range adapters {
		s.adapters[a.Platform()] = a
	}
	return s
}

// Supports は指定プラットフォームのアダプタが登録されているかを返す。
func (s *Set) Supports(p model.Platform) bool {
	_, ok := s.adapters[p]
	return ok
}

// Fetch はソースから候補を取得する。ネットワーク・パース・タイムアウト・パニックのいずれも
// ログに記録して空スライスを返し、呼び出し元には伝播しない。
func (s *Set) Fetch(ctx context.Context, src SourceConfig) (candidates []model.Candidate) {
	a, ok := s.adapters[src.Type]
	if !ok {
		s.logger.Warn("未対応のソース種別です",
			slog.String("source", src.String()),
		)
		s.metrics.RecordAdapterFetch(string(src.Type), "unsupported", 0)
		return []model.Candidate{}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("アダプタでパニックが発生しました",
				slog.String("source", src.String()),
				slog.String("platform", string(src.Type)),
				slog.String("panic", fmt.Sprint(r)),
			)
			s.metrics.RecordAdapterFetch(string(src.Type), "panic", 0)
			candidates = []model.Candidate{}
		}
	}()

	fetchCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := a.Fetch(fetchCtx, src)
	duration := time.Since(start)
	s.metrics.RecordFetchLatency(string(src.Type), duration)
	if err != nil {
		s.logger.Warn("ソースの取得に失敗しました",
			slog.String("source", src.String()),
			slog.String("platform", string(src.Type)),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordAdapterFetch(string(src.Type), fetchErrorLabel(err), 0)
		return []model.Candidate{}
	}
	if result == nil {
		result = []model.Candidate{}
	}

	s.logger.Info("ソースを取得しました",
		slog.String("source", src.String()),
		slog.String("platform", string(src.Type)),
		slog.Int("candidates", len(result)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	s.metrics.RecordAdapterFetch(string(src.Type), "success", len(result))
	return result
}

// fetchErrorLabel は取得失敗をメトリクスのラベルに変換する。
func fetchErrorLabel(err error) string {
	switch ClassifyError(err) {
	case FetchResultGone:
		return "gone"
	case FetchResultBackoff:
		var se *StatusError
		if errors.As(err, &se) {
			return "rate_limited"
		}
		return "error"
	default:
		return "error"
	}
}
