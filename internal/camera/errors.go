package camera

import (
	"errors"
	"fmt"
)

// Step はキャプチャセッションの各ステップ
type Step int

const (
	StepOpen Step = iota + 1
	StepQueryCapabilities
	StepQueryCropCapabilities
	StepQueryFormat
	StepRequestBuffers
	StepMapBuffer
	StepEnqueue
	StepStreamOn
	StepDequeue
	StepStreamOff
	StepUnmap
	StepClose
)

var stepNames = map[Step]string{
	StepOpen:                  "open",
	StepQueryCapabilities:     "query_capabilities",
	StepQueryCropCapabilities: "query_crop_capabilities",
	StepQueryFormat:           "query_format",
	StepRequestBuffers:        "request_buffers",
	StepMapBuffer:             "map_buffer",
	StepEnqueue:               "enqueue",
	StepStreamOn:              "stream_on",
	StepDequeue:               "dequeue",
	StepStreamOff:             "stream_off",
	StepUnmap:                 "unmap",
	StepClose:                 "close",
}

// String はステップ名を返す
func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// エラー分類。StepError の Kind として使われ、errors.Is で判定できる
var (
	ErrDeviceUnavailable   = errors.New("デバイスを開けません")
	ErrUnsupportedDevice   = errors.New("ビデオキャプチャに対応していないデバイスです")
	ErrQueryFailed         = errors.New("デバイス情報の取得に失敗")
	ErrBufferRequestFailed = errors.New("バッファの要求に失敗")
	ErrMapFailed           = errors.New("バッファのマッピングに失敗")
	ErrEnqueueFailed       = errors.New("バッファのキュー投入に失敗")
	ErrStreamStartFailed   = errors.New("ストリームの開始に失敗")
	ErrDequeueFailed       = errors.New("バッファの取り出しに失敗")
	ErrStreamStopFailed    = errors.New("ストリームの停止に失敗")
	ErrUnmapFailed         = errors.New("バッファのアンマップに失敗")
	ErrCloseFailed         = errors.New("デバイスのクローズに失敗")
)

var (
	// ErrTryAgain はフレームがまだ準備できていないことを示す
	// 失敗ではなく再試行の合図として扱う
	ErrTryAgain = errors.New("フレームが未準備です")

	// ErrRetriesExhausted は取り出しの再試行上限に達したことを示す
	ErrRetriesExhausted = errors.New("再試行回数の上限に達しました")

	// ErrInvalidState はセッションの状態に合わない操作が呼ばれたことを示す
	ErrInvalidState = errors.New("セッションの状態が不正です")
)

// StepError は失敗したステップ、エラー分類、元のエラーを保持する
type StepError struct {
	Step Step
	Kind error
	Err  error
}

// Error はエラーメッセージを返す
func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Step, e.Kind, e.Err)
}

// Unwrap は分類と元のエラーの両方を返す
func (e *StepError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newStepError(step Step, kind, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Err: err}
}
