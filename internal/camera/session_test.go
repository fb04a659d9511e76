package camera

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

const testDevice = "/dev/video0"

func newTestDevice() *MockDevice {
	format := NewYUYVFormat(4, 2)
	frame := []byte{
		128, 128, 128, 128, 16, 128, 235, 128,
		100, 90, 150, 200, 250, 255, 5, 0,
	}
	return NewMockDevice(format, frame)
}

// newTestSession はモックデバイスと、待機時間を記録するセッションを作成する
func newTestSession(dev *MockDevice, cfg Config) (*Session, *[]time.Duration) {
	if cfg.Device == "" {
		cfg.Device = testDevice
	}
	driver := NewMockDriver(map[string]*MockDevice{cfg.Device: dev})
	session := NewSession(driver, cfg, nil)

	var slept []time.Duration
	session.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return session, &slept
}

// releaseEvents は解放系の操作だけを順に取り出す
func releaseEvents(dev *MockDevice) []string {
	var out []string
	for _, e := range dev.Events() {
		switch e {
		case "streamoff", "munmap", "close":
			out = append(out, e)
		}
	}
	return out
}

func TestSession_CaptureFrame(t *testing.T) {
	dev := newTestDevice()
	session, _ := newTestSession(dev, DefaultConfig())
	ctx := context.Background()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if session.State() != StateStreaming {
		t.Errorf("Expected state streaming, got %s", session.State())
	}

	frame, err := session.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if session.State() != StateFrameReady {
		t.Errorf("Expected state frame_ready, got %s", session.State())
	}
	if !bytes.Equal(frame.Buffer.Bytes(), dev.Frame) {
		t.Errorf("Expected frame data %v, got %v", dev.Frame, frame.Buffer.Bytes())
	}
	if frame.BytesUsed != uint32(len(dev.Frame)) {
		t.Errorf("Expected bytesused %d, got %d", len(dev.Frame), frame.BytesUsed)
	}
	if frame.Format.Width != 4 || frame.Format.Height != 2 {
		t.Errorf("Unexpected frame format %s", frame.Format)
	}

	src := frame.Source()
	if src.Stride != 8 || src.Width != 4 || src.Height != 2 {
		t.Errorf("Unexpected source geometry %dx%d stride %d", src.Width, src.Height, src.Stride)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if session.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", session.State())
	}
	if frame.Buffer.Valid() {
		t.Error("Buffer must be invalid after Close")
	}

	want := []string{
		"open", "querycap", "cropcap", "g_fmt", "reqbufs", "querybuf", "mmap",
		"qbuf", "streamon", "dqbuf", "streamoff", "munmap", "close",
	}
	if got := dev.Events(); !slices.Equal(got, want) {
		t.Errorf("Expected events %v, got %v", want, got)
	}
	if dev.Streaming() || dev.Mapped() {
		t.Error("Device must be stopped and unmapped after Close")
	}
}

func TestSession_TeardownOnFailure(t *testing.T) {
	injected := errors.New("injected")

	testCases := []struct {
		name        string
		step        Step
		startErr    error // Start が返すべき分類（nil なら成功）
		dequeueErr  error // Dequeue が返すべき分類（nil なら成功）
		closeErr    error // Close が返すべき分類（nil なら成功）
		wantRelease []string
	}{
		{"open失敗", StepOpen, ErrDeviceUnavailable, nil, nil, nil},
		{"querycap失敗", StepQueryCapabilities, ErrQueryFailed, nil, nil, []string{"close"}},
		{"g_fmt失敗", StepQueryFormat, ErrQueryFailed, nil, nil, []string{"close"}},
		{"reqbufs失敗", StepRequestBuffers, ErrBufferRequestFailed, nil, nil, []string{"close"}},
		{"mmap失敗", StepMapBuffer, ErrMapFailed, nil, nil, []string{"close"}},
		{"qbuf失敗", StepEnqueue, ErrEnqueueFailed, nil, nil, []string{"munmap", "close"}},
		{"streamon失敗", StepStreamOn, ErrStreamStartFailed, nil, nil, []string{"munmap", "close"}},
		{"dqbuf失敗", StepDequeue, nil, ErrDequeueFailed, nil, []string{"streamoff", "munmap", "close"}},
		{"streamoff失敗", StepStreamOff, nil, nil, ErrStreamStopFailed, []string{"streamoff", "munmap", "close"}},
		{"munmap失敗", StepUnmap, nil, nil, ErrUnmapFailed, []string{"streamoff", "munmap", "close"}},
		{"close失敗", StepClose, nil, nil, ErrCloseFailed, []string{"streamoff", "munmap", "close"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := newTestDevice().FailAt(tc.step, injected)
			session, _ := newTestSession(dev, DefaultConfig())
			ctx := context.Background()

			err := session.Start(ctx)
			if tc.startErr != nil {
				if !errors.Is(err, tc.startErr) {
					t.Fatalf("Expected Start error %v, got %v", tc.startErr, err)
				}
				if !errors.Is(err, injected) {
					t.Errorf("Expected cause to be preserved, got %v", err)
				}
				var stepErr *StepError
				if !errors.As(err, &stepErr) || stepErr.Step != tc.step {
					t.Errorf("Expected StepError at %s, got %v", tc.step, err)
				}
			} else {
				if err != nil {
					t.Fatalf("Start failed: %v", err)
				}
				_, err = session.Dequeue(ctx)
				if tc.dequeueErr != nil {
					if !errors.Is(err, tc.dequeueErr) {
						t.Fatalf("Expected Dequeue error %v, got %v", tc.dequeueErr, err)
					}
				} else if err != nil {
					t.Fatalf("Dequeue failed: %v", err)
				}
			}

			err = session.Close()
			if tc.closeErr != nil {
				if !errors.Is(err, tc.closeErr) {
					t.Errorf("Expected Close error %v, got %v", tc.closeErr, err)
				}
			} else if err != nil {
				t.Errorf("Close failed: %v", err)
			}

			if got := releaseEvents(dev); !slices.Equal(got, tc.wantRelease) {
				t.Errorf("Expected release order %v, got %v", tc.wantRelease, got)
			}
			if dev.Count("streamoff") > 0 && dev.Count("streamon") == 0 {
				t.Error("streamoff must only run after a successful streamon")
			}
		})
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	dev := newTestDevice()
	session, _ := newTestSession(dev, DefaultConfig())

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if n := dev.Count("close"); n != 1 {
		t.Errorf("Expected device to be closed once, got %d", n)
	}
}

func TestSession_CloseWithoutStart(t *testing.T) {
	session, _ := newTestSession(newTestDevice(), DefaultConfig())
	if err := session.Close(); err != nil {
		t.Fatalf("Close on idle session failed: %v", err)
	}
}

func TestSession_CropFailureIsNotFatal(t *testing.T) {
	dev := newTestDevice().FailAt(StepQueryCropCapabilities, errors.New("EINVAL"))
	session, _ := newTestSession(dev, DefaultConfig())
	defer func() {
		_ = session.Close()
	}()

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start must succeed without crop capabilities: %v", err)
	}
	if session.CropCapabilities() != nil {
		t.Error("Expected nil crop capabilities")
	}
	if _, err := session.Dequeue(context.Background()); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
}

func TestSession_RejectsNonCaptureDevice(t *testing.T) {
	testCases := []struct {
		name string
		caps DeviceCapabilities
	}{
		{
			"出力専用デバイス",
			DeviceCapabilities{Capabilities: CapabilitySet(CapVideoOutput | CapStreaming)},
		},
		{
			// 物理デバイスはキャプチャ可能でも、このノードはメタデータ専用
			"メタデータノード",
			DeviceCapabilities{
				Capabilities: CapabilitySet(CapVideoCapture | CapMetaCapture | CapDeviceCaps),
				DeviceCaps:   CapabilitySet(CapMetaCapture | CapStreaming),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := newTestDevice()
			dev.Capabilities = tc.caps
			session, _ := newTestSession(dev, DefaultConfig())

			err := session.Start(context.Background())
			if !errors.Is(err, ErrUnsupportedDevice) {
				t.Fatalf("Expected ErrUnsupportedDevice, got %v", err)
			}
			if err := session.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if got := releaseEvents(dev); !slices.Equal(got, []string{"close"}) {
				t.Errorf("Expected only close, got %v", got)
			}
			if dev.Count("g_fmt") != 0 {
				t.Error("Format must not be queried for unsupported device")
			}
		})
	}
}

func TestSession_GrantedBuffers(t *testing.T) {
	t.Run("0個は失敗", func(t *testing.T) {
		dev := newTestDevice()
		dev.GrantedBuffers = 0
		session, _ := newTestSession(dev, DefaultConfig())

		err := session.Start(context.Background())
		if !errors.Is(err, ErrBufferRequestFailed) {
			t.Fatalf("Expected ErrBufferRequestFailed, got %v", err)
		}
		_ = session.Close()
		if dev.Count("mmap") != 0 {
			t.Error("Expected no mapping when no buffers were granted")
		}
	})

	t.Run("複数割り当てでも先頭のみ使用", func(t *testing.T) {
		dev := newTestDevice()
		dev.GrantedBuffers = 4
		session, _ := newTestSession(dev, DefaultConfig())
		defer func() {
			_ = session.Close()
		}()

		if err := session.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if session.GrantedBuffers() != 4 {
			t.Errorf("Expected 4 granted buffers, got %d", session.GrantedBuffers())
		}
		if n := dev.Count("mmap"); n != 1 {
			t.Errorf("Expected 1 mapping, got %d", n)
		}
		if n := dev.Count("qbuf"); n != 1 {
			t.Errorf("Expected 1 enqueue, got %d", n)
		}
	})
}

func TestSession_DequeueRetries(t *testing.T) {
	dev := newTestDevice()
	dev.TryAgain = 3
	cfg := DefaultConfig()
	cfg.RetryInterval = 250 * time.Millisecond
	session, slept := newTestSession(dev, cfg)
	defer func() {
		_ = session.Close()
	}()

	ctx := context.Background()
	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := session.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if n := dev.Count("dqbuf"); n != 4 {
		t.Errorf("Expected 4 dequeue attempts, got %d", n)
	}
	// 再試行中にキュー投入やストリーム開始をやり直さない
	if n := dev.Count("qbuf"); n != 1 {
		t.Errorf("Expected 1 enqueue, got %d", n)
	}
	if n := dev.Count("streamon"); n != 1 {
		t.Errorf("Expected 1 stream on, got %d", n)
	}
	want := []time.Duration{cfg.RetryInterval, cfg.RetryInterval, cfg.RetryInterval}
	if !slices.Equal(*slept, want) {
		t.Errorf("Expected sleeps %v, got %v", want, *slept)
	}
}

func TestSession_QueryBufferFailure(t *testing.T) {
	dev := newTestDevice()
	dev.QueryBufferErr = errors.New("EINVAL")
	session, _ := newTestSession(dev, DefaultConfig())

	err := session.Start(context.Background())
	if !errors.Is(err, ErrMapFailed) {
		t.Fatalf("Expected ErrMapFailed, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepMapBuffer {
		t.Errorf("Expected map_buffer step error, got %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if n := dev.Count("mmap"); n != 0 {
		t.Errorf("Expected no mmap, got %d", n)
	}
	if got := releaseEvents(dev); !slices.Equal(got, []string{"close"}) {
		t.Errorf("Expected release [close], got %v", got)
	}
}

func TestSession_DequeueRetriesExhausted(t *testing.T) {
	dev := newTestDevice()
	dev.TryAgain = 10
	cfg := DefaultConfig()
	cfg.MaxDequeueRetries = 2
	session, slept := newTestSession(dev, cfg)

	ctx := context.Background()
	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, err := session.Dequeue(ctx)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Expected ErrRetriesExhausted, got %v", err)
	}
	if n := dev.Count("dqbuf"); n != 3 {
		t.Errorf("Expected 3 dequeue attempts, got %d", n)
	}
	if len(*slept) != 2 {
		t.Errorf("Expected 2 sleeps, got %d", len(*slept))
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := releaseEvents(dev); !slices.Equal(got, []string{"streamoff", "munmap", "close"}) {
		t.Errorf("Unexpected release order %v", got)
	}
}

func TestSession_DequeueCancelled(t *testing.T) {
	dev := newTestDevice()
	dev.TryAgain = 1000
	session := NewSession(NewMockDriver(map[string]*MockDevice{testDevice: dev}), DefaultConfig(), nil)
	defer func() {
		_ = session.Close()
	}()

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := session.Dequeue(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if n := dev.Count("dqbuf"); n != 1 {
		t.Errorf("Expected a single attempt before cancellation, got %d", n)
	}
}

func TestSession_UnexpectedBufferIndex(t *testing.T) {
	dev := newTestDevice()
	index := uint32(3)
	dev.DequeueIndex = &index
	session, _ := newTestSession(dev, DefaultConfig())
	defer func() {
		_ = session.Close()
	}()

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := session.Dequeue(context.Background()); !errors.Is(err, ErrDequeueFailed) {
		t.Fatalf("Expected ErrDequeueFailed, got %v", err)
	}
}

func TestSession_InvalidState(t *testing.T) {
	session, _ := newTestSession(newTestDevice(), DefaultConfig())
	ctx := context.Background()

	if _, err := session.Dequeue(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState before Start, got %v", err)
	}
	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := session.Start(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on second Start, got %v", err)
	}
	_ = session.Close()
	if _, err := session.Dequeue(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState after Close, got %v", err)
	}
}

func TestNewSession_Defaults(t *testing.T) {
	session := NewSession(NewMockDriver(nil), Config{}, nil)
	cfg := session.Config()
	if cfg.Device != DefaultDevice {
		t.Errorf("Expected device %s, got %s", DefaultDevice, cfg.Device)
	}
	if cfg.BufferCount != DefaultBufferCount {
		t.Errorf("Expected buffer count %d, got %d", DefaultBufferCount, cfg.BufferCount)
	}
	if session.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", session.State())
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestSession_Capture(t *testing.T) {
	t.Run("フレームはマッピング中に渡される", func(t *testing.T) {
		dev := newTestDevice()
		session, _ := newTestSession(dev, DefaultConfig())

		var seen []byte
		err := session.Capture(context.Background(), func(frame *Frame) error {
			if !frame.Buffer.Valid() {
				t.Error("Buffer must be mapped inside the callback")
			}
			seen = append([]byte(nil), frame.Buffer.Bytes()...)
			return nil
		})
		if err != nil {
			t.Fatalf("Capture failed: %v", err)
		}
		if !bytes.Equal(seen, dev.Frame) {
			t.Errorf("Expected %v, got %v", dev.Frame, seen)
		}
		if session.State() != StateClosed {
			t.Errorf("Expected closed session, got %s", session.State())
		}
	})

	t.Run("後片付けの失敗は主エラーを置き換えない", func(t *testing.T) {
		dev := newTestDevice().
			FailAt(StepDequeue, errors.New("EIO")).
			FailAt(StepClose, errors.New("EBADF"))
		session, _ := newTestSession(dev, DefaultConfig())

		err := session.Capture(context.Background(), func(*Frame) error {
			t.Error("callback must not run when dequeue fails")
			return nil
		})
		if !errors.Is(err, ErrDequeueFailed) {
			t.Fatalf("Expected ErrDequeueFailed, got %v", err)
		}
		if errors.Is(err, ErrCloseFailed) {
			t.Error("Cleanup failure must not be part of the primary error")
		}
		if !errors.Is(session.CleanupErr(), ErrCloseFailed) {
			t.Errorf("Expected cleanup error ErrCloseFailed, got %v", session.CleanupErr())
		}
	})

	t.Run("コールバックのエラー", func(t *testing.T) {
		dev := newTestDevice()
		session, _ := newTestSession(dev, DefaultConfig())
		want := errors.New("encode failed")

		err := session.Capture(context.Background(), func(*Frame) error { return want })
		if !errors.Is(err, want) {
			t.Fatalf("Expected callback error, got %v", err)
		}
		if got := releaseEvents(dev); !slices.Equal(got, []string{"streamoff", "munmap", "close"}) {
			t.Errorf("Unexpected release order %v", got)
		}
	})
}
