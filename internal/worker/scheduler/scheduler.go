// Package scheduler は名前付きタスクの定期実行を管理する。
// タスクごとに開始・停止・即時実行・状態取得を提供し、同一タスクの多重実行は行わない。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/forumscope/internal/metrics"
	"github.com/hitoshi/forumscope/internal/model"
)

// TaskFunc はスケジューラから呼び出される処理。
type TaskFunc func(ctx context.Context) error

// タスクの状態
const (
	StateRunning = "running"
	StateStopped = "stopped"
)

// TaskStatus はタスクの状態を表す。
type TaskStatus struct {
	Name         string     `json:"name"`
	State        string     `json:"state"`
	Executing    bool       `json:"executing"`
	Interval     string     `json:"interval"`
	LastRunAt    *time.Time `json:"lastRunAt,omitempty"`
	LastDuration string     `json:"lastDuration,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc

	stop chan struct{} // 開始中のみ非nil
	busy atomic.Bool

	lastRunAt    time.Time
	lastDuration time.Duration
	lastErr      string
}

// Scheduler は登録済みタスクのティッカーを管理する。
// Stopは次回以降の起動を止めるだけで、実行中の処理は中断しない。
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	order  []string
	closed bool // Shutdown後はStart/Trigger/RunNowを受け付けない
	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc

	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// New はSchedulerを生成する。
func New(logger *slog.Logger, m metrics.MetricsCollector) *Scheduler {
	if m == nil {
		m = metrics.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:   make(map[string]*task),
		runCtx:  ctx,
		cancel:  cancel,
		logger:  logger,
		metrics: m,
	}
}

// Register はタスクを停止状態で登録する。
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("タスク %s の実行間隔が不正です: %s", name, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("タスク %s は登録済みです", name)
	}
	s.tasks[name] = &task{name: name, interval: interval, fn: fn}
	s.order = append(s.order, name)
	return nil
}

func (s *Scheduler) lookup(name string) (*task, error) {
	t, ok := s.tasks[name]
	if !ok {
		return nil, model.NewTaskNotFoundError(name)
	}
	return t, nil
}

// Start はタスクの定期実行を開始する。開始済みの場合は何もしない。
// 最初の実行は1間隔後。
func (s *Scheduler) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.NewSchedulerClosedError()
	}
	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	if t.stop != nil {
		return nil
	}
	t.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(t, t.stop)

	s.logger.Info("タスクを開始しました",
		slog.String("task", name),
		slog.Duration("interval", t.interval),
	)
	return nil
}

// Stop はタスクの定期実行を停止する。停止済みの場合は何もしない。
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	if t.stop == nil {
		return nil
	}
	close(t.stop)
	t.stop = nil

	s.logger.Info("タスクを停止しました", slog.String("task", name))
	return nil
}

// StartAll は全タスクを開始する。
func (s *Scheduler) StartAll() {
	for _, name := range s.names() {
		_ = s.Start(name)
	}
}

// StopAll は全タスクを停止する。
func (s *Scheduler) StopAll() {
	for _, name := range s.names() {
		_ = s.Stop(name)
	}
}

// Shutdown は全タスクを停止し、実行中の処理の完了を待つ。
// 以後のStart/Trigger/RunNowはSCHEDULER_CLOSEDエラーになる。
// ctxが先に終了した場合は実行中の処理をキャンセルして戻る。
func (s *Scheduler) Shutdown(ctx context.Context) error {
	// wg.Addはs.mu配下で行うので、closedを立てた後はWaitと競合しない
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.StopAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.order...)
}

func (s *Scheduler) loop(t *task, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !t.busy.CompareAndSwap(false, true) {
				s.logger.Warn("前回の実行が完了していないためスキップします", slog.String("task", t.name))
				s.metrics.RecordTaskRun(t.name, "skipped", 0)
				continue
			}
			// 実行エラーはexecute内でログに記録済み
			_ = s.execute(s.runCtx, t, "schedule")
		}
	}
}

// RunNow はタスクを同期的に即時実行し、処理のエラーを返す。
// 実行中の場合はTASK_BUSYエラーを返す。Shutdownは完了を待つ。
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.NewSchedulerClosedError()
	}
	t, err := s.lookup(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !t.busy.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return model.NewTaskBusyError(name)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	return s.execute(ctx, t, "manual")
}

// Trigger はタスクをバックグラウンドで即時実行する。
// 実行中の場合はTASK_BUSYエラーを返す。
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.NewSchedulerClosedError()
	}
	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	if !t.busy.CompareAndSwap(false, true) {
		return model.NewTaskBusyError(name)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.execute(s.runCtx, t, "manual")
	}()
	return nil
}

// execute はbusyを取得済みのタスクを実行する。panicは回復してエラーとして扱う。
func (s *Scheduler) execute(ctx context.Context, t *task, trigger string) (err error) {
	defer t.busy.Store(false)

	start := time.Now()
	s.logger.Info("タスクを実行します",
		slog.String("task", t.name),
		slog.String("trigger", trigger),
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("タスク %s でpanicが発生しました: %v", t.name, r)
			}
		}()
		err = t.fn(ctx)
	}()

	duration := time.Since(start)
	result := "success"
	if err != nil {
		result = "error"
		s.logger.Error("タスクの実行に失敗しました",
			slog.String("task", t.name),
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("タスクが完了しました",
			slog.String("task", t.name),
			slog.String("trigger", trigger),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	}
	s.metrics.RecordTaskRun(t.name, result, duration)

	s.mu.Lock()
	t.lastRunAt = start
	t.lastDuration = duration
	t.lastErr = ""
	if err != nil {
		t.lastErr = err.Error()
	}
	s.mu.Unlock()
	return err
}

// Status は登録順にタスクの状態を返す。
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.statusLocked(s.tasks[name]))
	}
	return out
}

// StatusOf は指定タスクの状態を返す。
func (s *Scheduler) StatusOf(name string) (TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(name)
	if err != nil {
		return TaskStatus{}, err
	}
	return s.statusLocked(t), nil
}

func (s *Scheduler) statusLocked(t *task) TaskStatus {
	st := TaskStatus{
		Name:      t.name,
		State:     StateStopped,
		Executing: t.busy.Load(),
		Interval:  t.interval.String(),
		LastError: t.lastErr,
	}
	if t.stop != nil {
		st.State = StateRunning
	}
	if !t.lastRunAt.IsZero() {
		at := t.lastRunAt
		st.LastRunAt = &at
		st.LastDuration = t.lastDuration.String()
	}
	return st
}
