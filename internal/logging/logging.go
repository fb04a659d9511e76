// Package logging は設定に応じた構造化ロガーを作成する
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"v4l2snap/internal/config"
)

// ParseLevel はログレベル名を slog.Level に変換する
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("無効なログレベル: %s", name)
	}
}

// New は w に出力する slog.Logger を作成する
func New(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("無効なログ形式: %s", cfg.Format)
	}
	return slog.New(h), nil
}
