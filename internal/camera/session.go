package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State はセッションの状態
type State int

const (
	StateIdle State = iota
	StateOpened
	StateNegotiated
	StateMapped
	StateQueued
	StateStreaming
	StateFrameReady
	StateClosed
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateOpened:     "opened",
	StateNegotiated: "negotiated",
	StateMapped:     "mapped",
	StateQueued:     "queued",
	StateStreaming:  "streaming",
	StateFrameReady: "frame_ready",
	StateClosed:     "closed",
}

// String は状態名を返す
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	DefaultDevice        = "/dev/video0"
	DefaultBufferCount   = 1
	DefaultRetryInterval = time.Second
)

// Config はキャプチャセッションの設定
type Config struct {
	Device        string
	BufferCount   uint32
	RetryInterval time.Duration
	// MaxDequeueRetries は未準備による再試行の上限。0以下なら無制限
	MaxDequeueRetries int
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Device:        DefaultDevice,
		BufferCount:   DefaultBufferCount,
		RetryInterval: DefaultRetryInterval,
	}
}

// release は後片付けのために積まれる解放処理
type release struct {
	step Step
	kind error
	fn   func() error
}

// Session は1枚のフレームを取得するためのV4L2セッション
//
// 取得に成功したリソースは解放処理としてスタックに積まれ、Close で
// 逆順に解放される。どのステップで失敗しても、それまでに取得した
// リソースだけが解放される。
type Session struct {
	driver Driver
	config Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	device   Device
	state    State
	caps     DeviceCapabilities
	crop     *CropCapabilities
	format   FrameFormat
	granted  uint32
	buffer   *FrameBuffer
	frame    *Frame
	releases []release
	closeErr error
}

// NewSession は新しいセッションを作成する
func NewSession(driver Driver, config Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Device == "" {
		config.Device = DefaultDevice
	}
	if config.BufferCount == 0 {
		config.BufferCount = DefaultBufferCount
	}
	return &Session{
		driver: driver,
		config: config,
		logger: logger.With(slog.String("device", config.Device)),
		sleep:  sleepContext,
		state:  StateIdle,
	}
}

// Start はデバイスを開き、ストリーミング開始までを行う
// 失敗した場合も Close を呼んで取得済みのリソースを解放すること
func (s *Session) Start(ctx context.Context) error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: Start は %s 状態では呼べません", ErrInvalidState, s.state)
	}

	steps := []func(context.Context) error{
		s.open,
		s.queryCapabilities,
		s.queryCropCapabilities,
		s.queryFormat,
		s.requestBuffers,
		s.mapBuffer,
		s.enqueue,
		s.streamOn,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) open(_ context.Context) error {
	dev, err := s.driver.Open(s.config.Device)
	if err != nil {
		s.logger.Error("デバイスを開けません", slog.Any("error", err))
		return newStepError(StepOpen, ErrDeviceUnavailable, err)
	}
	s.device = dev
	s.push(StepClose, ErrCloseFailed, dev.Close)
	s.state = StateOpened
	s.logger.Debug("デバイスを開きました")
	return nil
}

func (s *Session) queryCapabilities(_ context.Context) error {
	caps, err := s.device.QueryCapabilities()
	if err != nil {
		s.logger.Error("ケーパビリティの取得に失敗", slog.Any("error", err))
		return newStepError(StepQueryCapabilities, ErrQueryFailed, err)
	}
	s.caps = caps
	s.logger.Info("デバイス情報", slog.Any("capabilities", caps))

	if !caps.CanCapture() {
		s.logger.Error("ビデオキャプチャに対応していません",
			slog.String("effective", caps.Effective().String()))
		return newStepError(StepQueryCapabilities, ErrUnsupportedDevice,
			fmt.Errorf("%s は VIDEO_CAPTURE を持ちません", s.config.Device))
	}
	return nil
}

// queryCropCapabilities は切り抜き能力を取得する
// 取得できないドライバーもあるため失敗は警告に留める
func (s *Session) queryCropCapabilities(_ context.Context) error {
	crop, err := s.device.QueryCropCapabilities()
	if err != nil {
		s.logger.Warn("切り抜き能力を取得できません",
			slog.Any("error", newStepError(StepQueryCropCapabilities, ErrQueryFailed, err)))
		return nil
	}
	s.crop = &crop
	s.logger.Info("切り抜き能力", slog.Any("cropcap", crop))
	return nil
}

func (s *Session) queryFormat(_ context.Context) error {
	format, err := s.device.QueryFormat()
	if err != nil {
		s.logger.Error("フォーマットの取得に失敗", slog.Any("error", err))
		return newStepError(StepQueryFormat, ErrQueryFailed, err)
	}
	s.format = format
	if !format.Colorspace.Known() {
		s.logger.Warn("未知の色空間です", slog.String("colorspace", format.Colorspace.String()))
	}
	s.logger.Info("キャプチャフォーマット", slog.Any("format", format))
	s.state = StateNegotiated
	return nil
}

func (s *Session) requestBuffers(_ context.Context) error {
	granted, err := s.device.RequestBuffers(s.config.BufferCount)
	if err != nil {
		s.logger.Error("バッファの要求に失敗", slog.Any("error", err))
		return newStepError(StepRequestBuffers, ErrBufferRequestFailed, err)
	}
	if granted == 0 {
		s.logger.Error("バッファが割り当てられませんでした")
		return newStepError(StepRequestBuffers, ErrBufferRequestFailed,
			errors.New("割り当てられたバッファ数が0です"))
	}
	s.granted = granted
	if granted != s.config.BufferCount {
		s.logger.Info("要求と異なるバッファ数が割り当てられました",
			slog.Uint64("requested", uint64(s.config.BufferCount)),
			slog.Uint64("granted", uint64(granted)))
	}
	return nil
}

// mapBuffer は先頭のバッファだけをマッピングする
func (s *Session) mapBuffer(_ context.Context) error {
	info, err := s.device.QueryBuffer(0)
	if err != nil {
		s.logger.Error("バッファ情報の取得に失敗", slog.Any("error", err))
		return newStepError(StepMapBuffer, ErrMapFailed, err)
	}

	data, err := s.device.Map(info)
	if err != nil {
		s.logger.Error("バッファのマッピングに失敗", slog.Any("error", err),
			slog.Uint64("length", uint64(info.Length)),
			slog.Uint64("offset", uint64(info.Offset)))
		return newStepError(StepMapBuffer, ErrMapFailed, err)
	}

	s.buffer = &FrameBuffer{index: info.Index, data: data}
	s.push(StepUnmap, ErrUnmapFailed, func() error {
		region := s.buffer.release()
		if region == nil {
			return nil
		}
		return s.device.Unmap(region)
	})
	s.state = StateMapped
	s.logger.Debug("バッファをマッピングしました",
		slog.Uint64("index", uint64(info.Index)),
		slog.Uint64("length", uint64(info.Length)))
	return nil
}

func (s *Session) enqueue(_ context.Context) error {
	if err := s.device.Enqueue(s.buffer.index); err != nil {
		s.logger.Error("バッファのキュー投入に失敗", slog.Any("error", err))
		return newStepError(StepEnqueue, ErrEnqueueFailed, err)
	}
	s.state = StateQueued
	return nil
}

func (s *Session) streamOn(_ context.Context) error {
	if err := s.device.StreamOn(); err != nil {
		s.logger.Error("ストリームの開始に失敗", slog.Any("error", err))
		return newStepError(StepStreamOn, ErrStreamStartFailed, err)
	}
	s.push(StepStreamOff, ErrStreamStopFailed, s.device.StreamOff)
	s.state = StateStreaming
	s.logger.Debug("ストリームを開始しました")
	return nil
}

// Dequeue はフレームが準備できるまで待って取り出す
//
// 未準備の場合は RetryInterval だけ待って再試行する。MaxDequeueRetries が
// 正の場合は再試行回数の上限とし、超えると ErrRetriesExhausted を返す。
// ctx がキャンセルされた場合は ctx.Err() を返す。
func (s *Session) Dequeue(ctx context.Context) (*Frame, error) {
	if s.state != StateStreaming {
		return nil, fmt.Errorf("%w: Dequeue は %s 状態では呼べません", ErrInvalidState, s.state)
	}

	retries := 0
	for {
		buf, err := s.device.Dequeue()
		if err == nil {
			return s.accept(buf, retries)
		}
		if !errors.Is(err, ErrTryAgain) {
			s.logger.Error("バッファの取り出しに失敗", slog.Any("error", err))
			return nil, newStepError(StepDequeue, ErrDequeueFailed, err)
		}

		retries++
		if s.config.MaxDequeueRetries > 0 && retries > s.config.MaxDequeueRetries {
			s.logger.Error("フレームを取得できませんでした", slog.Int("retries", retries-1))
			return nil, newStepError(StepDequeue, ErrDequeueFailed,
				fmt.Errorf("%w: %d回再試行しました", ErrRetriesExhausted, retries-1))
		}
		s.logger.Debug("フレーム未準備のため再試行します", slog.Int("retry", retries))
		if err := s.sleep(ctx, s.config.RetryInterval); err != nil {
			return nil, err
		}
	}
}

func (s *Session) accept(buf DequeuedBuffer, retries int) (*Frame, error) {
	if buf.Index != s.buffer.index {
		s.logger.Error("想定外のバッファが返されました", slog.Uint64("index", uint64(buf.Index)))
		return nil, newStepError(StepDequeue, ErrDequeueFailed,
			fmt.Errorf("バッファ番号 %d を期待しましたが %d が返されました", s.buffer.index, buf.Index))
	}

	s.frame = &Frame{
		Format:    s.format,
		Index:     buf.Index,
		BytesUsed: buf.BytesUsed,
		Sequence:  buf.Sequence,
		Buffer:    s.buffer,
	}
	s.state = StateFrameReady
	s.logger.Info("フレームを取得しました",
		slog.Uint64("sequence", uint64(buf.Sequence)),
		slog.Uint64("bytesused", uint64(buf.BytesUsed)),
		slog.Int("retries", retries))
	return s.frame, nil
}

// Close は取得済みのリソースを逆順に解放する
// 途中で失敗しても残りの解放を続け、全てのエラーをまとめて返す
// 2回目以降の呼び出しは何もしない
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}

	var errs []error
	for i := len(s.releases) - 1; i >= 0; i-- {
		r := s.releases[i]
		if err := r.fn(); err != nil {
			s.logger.Warn("リソースの解放に失敗",
				slog.String("step", r.step.String()), slog.Any("error", err))
			errs = append(errs, newStepError(r.step, r.kind, err))
			continue
		}
		s.logger.Debug("リソースを解放しました", slog.String("step", r.step.String()))
	}
	s.releases = nil
	s.device = nil
	s.frame = nil
	s.state = StateClosed
	s.closeErr = errors.Join(errs...)
	return s.closeErr
}

// Capture はストリーミング開始からフレーム取得までを行い、バッファが
// マッピングされている間に fn を呼ぶ。セッションはどの経路でも閉じられる
//
// 戻り値は最初に発生したエラーで、後片付けの失敗で置き換えられることはない。
// 後片付けの失敗は CleanupErr で取得できる。
func (s *Session) Capture(ctx context.Context, fn func(*Frame) error) error {
	defer func() {
		_ = s.Close()
	}()

	if err := s.Start(ctx); err != nil {
		return err
	}
	frame, err := s.Dequeue(ctx)
	if err != nil {
		return err
	}
	return fn(frame)
}

// CleanupErr は Close で発生した解放処理のエラーを返す
func (s *Session) CleanupErr() error {
	return s.closeErr
}

func (s *Session) push(step Step, kind error, fn func() error) {
	s.releases = append(s.releases, release{step: step, kind: kind, fn: fn})
}

// State は現在の状態を返す
func (s *Session) State() State {
	return s.state
}

// Config はセッションの設定を返す
func (s *Session) Config() Config {
	return s.config
}

// Capabilities は取得済みのケーパビリティを返す
func (s *Session) Capabilities() DeviceCapabilities {
	return s.caps
}

// CropCapabilities は切り抜き能力を返す。取得できなかった場合は nil
func (s *Session) CropCapabilities() *CropCapabilities {
	return s.crop
}

// Format はネゴシエーション済みのフォーマットを返す
func (s *Session) Format() FrameFormat {
	return s.format
}

// GrantedBuffers はドライバーが割り当てたバッファ数を返す
func (s *Session) GrantedBuffers() uint32 {
	return s.granted
}

// sleepContext は d だけ待つ。ctx がキャンセルされたらその時点で戻る
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
