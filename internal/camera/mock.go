package camera

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"v4l2snap/internal/pixel"
)

// MockDriver はテスト用のドライバー
// 登録されたパスだけが開ける
type MockDriver struct {
	mu      sync.Mutex
	Devices map[string]*MockDevice
	OpenErr error
}

// NewMockDriver は新しいMockDriverを作成する
func NewMockDriver(devices map[string]*MockDevice) *MockDriver {
	if devices == nil {
		devices = make(map[string]*MockDevice)
	}
	return &MockDriver{Devices: devices}
}

// Open は登録済みのモックデバイスを返す
func (d *MockDriver) Open(path string) (Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	dev, ok := d.Devices[path]
	if !ok {
		return nil, fmt.Errorf("%s: デバイスが見つかりません", path)
	}
	if err := dev.fail(StepOpen); err != nil {
		return nil, err
	}
	dev.reset()
	dev.record("open")
	return dev, nil
}

// Paths は登録済みのデバイスパスを返す
func (d *MockDriver) Paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	paths := make([]string, 0, len(d.Devices))
	for path := range d.Devices {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// MockDevice はメモリ上でV4L2デバイスを模倣する
type MockDevice struct {
	mu sync.Mutex

	Capabilities DeviceCapabilities
	Crop         CropCapabilities
	Format       FrameFormat
	// Frame は取り出し時にバッファへ書き込まれるデータ
	Frame []byte
	// BufferLength はマッピングの長さ。0なら SizeImage を使う
	BufferLength uint32
	// GrantedBuffers は割り当てるバッファ数。負なら要求どおり
	GrantedBuffers int
	// TryAgain は取り出しが ErrTryAgain を返す回数
	TryAgain int
	// DequeueIndex が設定されていれば取り出し時にその番号を返す
	DequeueIndex *uint32
	// QueryBufferErr が設定されていればバッファ情報の問い合わせで返す
	QueryBufferErr error
	// Failures はステップごとに返すエラー
	Failures map[Step]error

	events    []string
	mapped    []byte
	queued    bool
	streaming bool
	tries     int
	sequence  uint32
}

// NewMockDevice はYUYVキャプチャに対応したモックデバイスを作成する
func NewMockDevice(format FrameFormat, frame []byte) *MockDevice {
	return &MockDevice{
		Capabilities: DeviceCapabilities{
			Driver:       "mock",
			Card:         "Mock Camera",
			BusInfo:      "platform:mock",
			Version:      0x00060800,
			Capabilities: CapabilitySet(CapVideoCapture | CapStreaming | CapDeviceCaps),
			DeviceCaps:   CapabilitySet(CapVideoCapture | CapStreaming),
		},
		Crop: CropCapabilities{
			Bounds:      Rect{Width: format.Width, Height: format.Height},
			DefaultRect: Rect{Width: format.Width, Height: format.Height},
			PixelAspect: Fraction{Numerator: 1, Denominator: 1},
		},
		Format:         format,
		Frame:          frame,
		GrantedBuffers: -1,
		Failures:       make(map[Step]error),
	}
}

// NewYUYVFormat はパディングのないYUYVフォーマットを返す
func NewYUYVFormat(width, height uint32) FrameFormat {
	return FrameFormat{
		Type:         BufferTypeVideoCapture,
		Width:        width,
		Height:       height,
		PixelFormat:  pixel.FormatYUYV,
		Field:        FieldNone,
		BytesPerLine: width * 2,
		SizeImage:    width * height * 2,
		Colorspace:   ColorspaceSMPTE170M,
	}
}

// FailAt は指定したステップで err を返すよう設定する
func (m *MockDevice) FailAt(step Step, err error) *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Failures == nil {
		m.Failures = make(map[Step]error)
	}
	m.Failures[step] = err
	return m
}

// Events は呼び出された操作を順に返す
func (m *MockDevice) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// Count は指定した操作が呼ばれた回数を返す
func (m *MockDevice) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e == name {
			n++
		}
	}
	return n
}

// Streaming はストリーミング中かを返す
func (m *MockDevice) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

// Mapped はマッピングが残っているかを返す
func (m *MockDevice) Mapped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapped != nil
}

func (m *MockDevice) QueryCapabilities() (DeviceCapabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "querycap")
	if err := m.failLocked(StepQueryCapabilities); err != nil {
		return DeviceCapabilities{}, err
	}
	return m.Capabilities, nil
}

func (m *MockDevice) QueryCropCapabilities() (CropCapabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "cropcap")
	if err := m.failLocked(StepQueryCropCapabilities); err != nil {
		return CropCapabilities{}, err
	}
	return m.Crop, nil
}

func (m *MockDevice) QueryFormat() (FrameFormat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "g_fmt")
	if err := m.failLocked(StepQueryFormat); err != nil {
		return FrameFormat{}, err
	}
	return m.Format, nil
}

func (m *MockDevice) RequestBuffers(count uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "reqbufs")
	if err := m.failLocked(StepRequestBuffers); err != nil {
		return 0, err
	}
	if m.GrantedBuffers >= 0 {
		return uint32(m.GrantedBuffers), nil
	}
	return count, nil
}

func (m *MockDevice) QueryBuffer(index uint32) (BufferInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "querybuf")
	if m.QueryBufferErr != nil {
		return BufferInfo{}, m.QueryBufferErr
	}
	length := m.BufferLength
	if length == 0 {
		length = m.Format.SizeImage
	}
	return BufferInfo{Index: index, Length: length, Offset: index * length}, nil
}

func (m *MockDevice) Map(info BufferInfo) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "mmap")
	if err := m.failLocked(StepMapBuffer); err != nil {
		return nil, err
	}
	m.mapped = make([]byte, info.Length)
	return m.mapped, nil
}

func (m *MockDevice) Unmap(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "munmap")
	if err := m.failLocked(StepUnmap); err != nil {
		return err
	}
	if m.mapped == nil || len(data) != len(m.mapped) {
		return errors.New("マッピングされていない領域です")
	}
	m.mapped = nil
	return nil
}

func (m *MockDevice) Enqueue(index uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "qbuf")
	if err := m.failLocked(StepEnqueue); err != nil {
		return err
	}
	m.queued = true
	return nil
}

func (m *MockDevice) StreamOn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "streamon")
	if err := m.failLocked(StepStreamOn); err != nil {
		return err
	}
	m.streaming = true
	return nil
}

func (m *MockDevice) Dequeue() (DequeuedBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "dqbuf")
	if err := m.failLocked(StepDequeue); err != nil {
		return DequeuedBuffer{}, err
	}
	if !m.streaming || !m.queued {
		return DequeuedBuffer{}, errors.New("キューにバッファがありません")
	}
	if m.tries < m.TryAgain {
		m.tries++
		return DequeuedBuffer{}, ErrTryAgain
	}

	n := copy(m.mapped, m.Frame)
	m.queued = false
	m.sequence++
	index := uint32(0)
	if m.DequeueIndex != nil {
		index = *m.DequeueIndex
	}
	return DequeuedBuffer{Index: index, BytesUsed: uint32(n), Sequence: m.sequence - 1}, nil
}

func (m *MockDevice) StreamOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "streamoff")
	if err := m.failLocked(StepStreamOff); err != nil {
		return err
	}
	m.streaming = false
	return nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "close")
	return m.failLocked(StepClose)
}

func (m *MockDevice) fail(step Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failLocked(step)
}

func (m *MockDevice) failLocked(step Step) error {
	if m.Failures == nil {
		return nil
	}
	return m.Failures[step]
}

func (m *MockDevice) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	m.mapped = nil
	m.queued = false
	m.streaming = false
	m.tries = 0
}

func (m *MockDevice) record(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}
