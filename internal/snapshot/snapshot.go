// Package snapshot はカメラから1枚のフレームを取得してJPEGとして保存する
package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"v4l2snap/internal/camera"
	"v4l2snap/internal/pixel"
)

// DefaultOutputPath は出力ファイルの既定パス
const DefaultOutputPath = "v4l2_frame.jpg"

// Result はキャプチャ結果
type Result struct {
	ID         string             `json:"id"`
	Device     string             `json:"device"`
	Format     camera.FrameFormat `json:"-"`
	Sequence   uint32             `json:"sequence"`
	BytesUsed  uint32             `json:"bytes_used"`
	Written    int64              `json:"written"`
	Path       string             `json:"path,omitempty"`
	CapturedAt time.Time          `json:"captured_at"`
	Duration   time.Duration      `json:"duration"`
	// CleanupErr は後片付けの失敗。キャプチャ自体が成功していても設定されうる
	CleanupErr error `json:"-"`
}

// Capturer はセッションを1回ずつ作成してフレームを取得する
type Capturer struct {
	driver  camera.Driver
	config  camera.Config
	quality int
	logger  *slog.Logger
	now     func() time.Time
}

// NewCapturer は新しいCapturerを作成する
func NewCapturer(driver camera.Driver, config camera.Config, quality int, logger *slog.Logger) (*Capturer, error) {
	if quality < MinQuality || quality > MaxQuality {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, quality)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Capturer{
		driver:  driver,
		config:  config,
		quality: quality,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Device はキャプチャ対象のデバイスを返す
func (c *Capturer) Device() string {
	return c.config.Device
}

// Capture はフレームを1枚取得し、JPEGとして w に書き込む
//
// セッションはどの経路でも閉じられる。返すエラーは最初に発生したものだけで、
// 後片付けの失敗はログに記録したうえで Result.CleanupErr に設定する。
func (c *Capturer) Capture(ctx context.Context, w io.Writer) (*Result, error) {
	result := &Result{
		ID:     uuid.NewString(),
		Device: c.config.Device,
	}
	logger := c.logger.With(slog.String("capture_id", result.ID))
	started := c.now()

	session := camera.NewSession(c.driver, c.config, logger)
	err := session.Capture(ctx, func(frame *camera.Frame) error {
		result.Format = frame.Format
		result.Sequence = frame.Sequence
		result.BytesUsed = frame.BytesUsed
		result.CapturedAt = c.now()

		jw, err := NewJPEGWriter(&countingWriter{w: w, n: &result.Written}, c.quality)
		if err != nil {
			return err
		}
		if err := pixel.Convert(frame.Source(), jw); err != nil {
			return fmt.Errorf("フレームの変換に失敗: %w", err)
		}
		return nil
	})
	result.Duration = c.now().Sub(started)
	result.CleanupErr = session.CleanupErr()

	if result.CleanupErr != nil {
		logger.Warn("後片付けに失敗しました", slog.Any("error", result.CleanupErr))
	}
	if err != nil {
		logger.Error("キャプチャに失敗しました", slog.Any("error", err))
		return result, err
	}

	logger.Info("JPEGを書き込みました",
		slog.Int64("bytes", result.Written),
		slog.Int("quality", c.quality),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// CaptureToFile はフレームを1枚取得して path に保存する
// 一時ファイルに書き込んでから置き換えるため、失敗時に既存のファイルは壊れない
func (c *Capturer) CaptureToFile(ctx context.Context, path string) (*Result, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &Result{Device: c.config.Device}, fmt.Errorf("%w: %w", ErrOutputIO, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	result, err := c.Capture(ctx, tmp)
	if cerr := tmp.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("%w: %w", ErrOutputIO, cerr)
	}
	if err != nil {
		return result, err
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return result, fmt.Errorf("%w: %w", ErrOutputIO, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return result, fmt.Errorf("%w: %w", ErrOutputIO, err)
	}
	committed = true
	result.Path = path

	c.logger.Info("画像を保存しました",
		slog.String("capture_id", result.ID),
		slog.String("path", path))
	return result, nil
}

// countingWriter は書き込んだバイト数を数える
type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrOutputIO, err)
	}
	return n, nil
}
