// Package logger はJSON構造化ログの出力先とレベルを設定する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions はローテーション付きログファイルの設定。Pathが空ならファイル出力しない。
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。未知の値はInfo。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// NewWriter はwに加えてサイズでローテーションするログファイルへも書き出すWriterを返す。
// 返されたCloserはファイルを閉じる。ファイル出力しない場合は何もしない。
func NewWriter(w io.Writer, opts FileOptions) (io.Writer, io.Closer) {
	if opts.Path == "" {
		return w, io.NopCloser(nil)
	}
	file := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	return io.MultiWriter(w, file), file
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定し、そのロガーを返す。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, level)
	slog.SetDefault(logger)
	return logger
}
