package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"v4l2snap/internal/camera"
	"v4l2snap/internal/config"
	"v4l2snap/internal/pixel"
	"v4l2snap/internal/snapshot"
)

// CaptureIDHeader はキャプチャIDを返すレスポンスヘッダー
const CaptureIDHeader = "X-Capture-ID"

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバーのリッスン情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// CaptureStats はキャプチャの統計
type CaptureStats struct {
	Total          int        `json:"total"`
	Failed         int        `json:"failed"`
	LastCaptureID  string     `json:"last_capture_id,omitempty"`
	LastCapturedAt *time.Time `json:"last_captured_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Status    string       `json:"status"`
	Server    ServerInfo   `json:"server"`
	Device    string       `json:"device"`
	Quality   int          `json:"quality"`
	Uptime    string       `json:"uptime"`
	Captures  CaptureStats `json:"captures"`
	Timestamp time.Time    `json:"timestamp"`
}

// DevicesResponse はデバイス一覧の応答
type DevicesResponse struct {
	Devices []*camera.DeviceInfo `json:"devices"`
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	CaptureID string    `json:"capture_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler はAPIエンドポイントを実装する
type Handler struct {
	config    *config.Config
	driver    camera.Driver
	capturer  *snapshot.Capturer
	discovery camera.Discovery
	logger    *slog.Logger
	started   time.Time

	// デバイスは同時に1セッションしか扱えないためキャプチャを直列化する
	captureMu sync.Mutex

	statsMu sync.Mutex
	stats   CaptureStats
}

// NewHandler は新しいHandlerを作成する
func NewHandler(cfg *config.Config, driver camera.Driver, capturer *snapshot.Capturer, discovery camera.Discovery, logger *slog.Logger) *Handler {
	return &Handler{
		config:    cfg,
		driver:    driver,
		capturer:  capturer,
		discovery: discovery,
		logger:    logger,
		started:   time.Now(),
	}
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	h.statsMu.Lock()
	stats := h.stats
	h.statsMu.Unlock()

	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Device:    h.capturer.Device(),
		Quality:   h.config.Output.Quality,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Captures:  stats,
		Timestamp: time.Now(),
	})
}

// GetDevices はデバイス一覧取得エンドポイントの実装
func (h *Handler) GetDevices(c *gin.Context) {
	ctx := c.Request.Context()

	devices, err := h.discovery.ScanDevices(ctx)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "scan_failed", err, "")
		return
	}

	infos := make([]*camera.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		info, err := h.discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			h.logger.Warn("デバイス情報を取得できません",
				slog.String("device", device), slog.Any("error", err))
			continue
		}
		infos = append(infos, info)
	}

	c.JSON(http.StatusOK, DevicesResponse{Devices: infos})
}

// GetSnapshot はフレームを1枚取得してJPEGで返す
// quality クエリで品質を上書きできる
func (h *Handler) GetSnapshot(c *gin.Context) {
	capturer := h.capturer
	if q := c.Query("quality"); q != "" {
		quality, err := strconv.Atoi(q)
		if err != nil {
			h.respondError(c, http.StatusBadRequest, "invalid_quality",
				fmt.Errorf("%w: %s", snapshot.ErrInvalidQuality, q), "")
			return
		}
		capturer, err = snapshot.NewCapturer(h.driver, h.config.Capture.Session(), quality, h.logger)
		if err != nil {
			h.respondError(c, http.StatusBadRequest, snapshot.ErrorCode(err), err, "")
			return
		}
	}

	h.captureMu.Lock()
	var buf bytes.Buffer
	result, err := capturer.Capture(c.Request.Context(), &buf)
	h.captureMu.Unlock()

	h.record(result, err)
	c.Header(CaptureIDHeader, result.ID)
	if err != nil {
		h.respondError(c, statusForError(err), snapshot.ErrorCode(err), err, result.ID)
		return
	}

	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

// Root はルートパスのハンドラ
func (h *Handler) Root(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>v4l2snap</title>
</head>
<body>
    <h1>v4l2snap</h1>
    <p>サーバーが正常に起動しています。</p>
    <p><img src="/api/snapshot" alt="snapshot"></p>
    <p>スナップショット: <a href="/api/snapshot">/api/snapshot</a></p>
    <p>デバイス一覧: <a href="/api/devices">/api/devices</a></p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`))
}

func (h *Handler) record(result *snapshot.Result, err error) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	h.stats.Total++
	h.stats.LastCaptureID = result.ID
	if err != nil {
		h.stats.Failed++
		h.stats.LastError = err.Error()
		return
	}
	capturedAt := result.CapturedAt
	h.stats.LastCapturedAt = &capturedAt
	h.stats.LastError = ""
}

func (h *Handler) respondError(c *gin.Context, status int, code string, err error, captureID string) {
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		CaptureID: captureID,
		Timestamp: time.Now(),
	})
}

// statusForError はエラー分類からHTTPステータスを決める
func statusForError(err error) int {
	switch {
	case errors.Is(err, snapshot.ErrInvalidQuality):
		return http.StatusBadRequest
	case errors.Is(err, camera.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, camera.ErrRetriesExhausted),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, camera.ErrUnsupportedDevice),
		errors.Is(err, pixel.ErrUnsupportedPixelFormat),
		errors.Is(err, pixel.ErrInvalidGeometry):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
