package snapshot

import (
	"context"
	"errors"

	"v4l2snap/internal/camera"
	"v4l2snap/internal/pixel"
)

// 終了コード
const (
	ExitOK                     = 0
	ExitFailure                = 1
	ExitUsage                  = 2
	ExitDeviceUnavailable      = 3
	ExitUnsupportedDevice      = 4
	ExitQueryFailed            = 5
	ExitBufferRequestFailed    = 6
	ExitMapFailed              = 7
	ExitEnqueueFailed          = 8
	ExitStreamStartFailed      = 9
	ExitDequeueFailed          = 10
	ExitUnsupportedPixelFormat = 11
	ExitInvalidGeometry        = 12
	ExitOutputIO               = 13
	ExitStreamStopFailed       = 14
	ExitUnmapFailed            = 15
	ExitCloseFailed            = 16
	ExitInterrupted            = 130
)

// classification はエラー分類と終了コード・識別子の対応
// 先頭から順に errors.Is で照合する
var classification = []struct {
	kind error
	exit int
	code string
}{
	{context.Canceled, ExitInterrupted, "interrupted"},
	{context.DeadlineExceeded, ExitInterrupted, "timeout"},
	{ErrInvalidQuality, ExitUsage, "invalid_quality"},
	{camera.ErrDeviceUnavailable, ExitDeviceUnavailable, "device_unavailable"},
	{camera.ErrUnsupportedDevice, ExitUnsupportedDevice, "unsupported_device"},
	{camera.ErrQueryFailed, ExitQueryFailed, "query_failed"},
	{camera.ErrBufferRequestFailed, ExitBufferRequestFailed, "buffer_request_failed"},
	{camera.ErrMapFailed, ExitMapFailed, "map_failed"},
	{camera.ErrEnqueueFailed, ExitEnqueueFailed, "enqueue_failed"},
	{camera.ErrStreamStartFailed, ExitStreamStartFailed, "stream_start_failed"},
	{camera.ErrRetriesExhausted, ExitDequeueFailed, "retries_exhausted"},
	{camera.ErrDequeueFailed, ExitDequeueFailed, "dequeue_failed"},
	{pixel.ErrUnsupportedPixelFormat, ExitUnsupportedPixelFormat, "unsupported_pixel_format"},
	{pixel.ErrInvalidGeometry, ExitInvalidGeometry, "invalid_geometry"},
	{ErrOutputIO, ExitOutputIO, "output_io"},
	{camera.ErrStreamStopFailed, ExitStreamStopFailed, "stream_stop_failed"},
	{camera.ErrUnmapFailed, ExitUnmapFailed, "unmap_failed"},
	{camera.ErrCloseFailed, ExitCloseFailed, "close_failed"},
}

// ExitCode はエラーに対応するプロセスの終了コードを返す
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, c := range classification {
		if errors.Is(err, c.kind) {
			return c.exit
		}
	}
	return ExitFailure
}

// ErrorCode はエラーの分類を表す識別子を返す
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range classification {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "internal_error"
}
