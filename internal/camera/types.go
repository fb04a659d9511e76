package camera

import (
	"fmt"
	"log/slog"

	"v4l2snap/internal/pixel"
)

// Capability はV4L2デバイスのケーパビリティフラグ1つを表す
type Capability uint32

const (
	CapVideoCapture       Capability = 0x00000001
	CapVideoOutput        Capability = 0x00000002
	CapVideoOverlay       Capability = 0x00000004
	CapVBICapture         Capability = 0x00000010
	CapVBIOutput          Capability = 0x00000020
	CapSlicedVBICapture   Capability = 0x00000040
	CapSlicedVBIOutput    Capability = 0x00000080
	CapRDSCapture         Capability = 0x00000100
	CapVideoOutputOverlay Capability = 0x00000200
	CapHWFreqSeek         Capability = 0x00000400
	CapRDSOutput          Capability = 0x00000800
	CapVideoCaptureMplane Capability = 0x00001000
	CapVideoOutputMplane  Capability = 0x00002000
	CapVideoM2MMplane     Capability = 0x00004000
	CapVideoM2M           Capability = 0x00008000
	CapTuner              Capability = 0x00010000
	CapAudio              Capability = 0x00020000
	CapRadio              Capability = 0x00040000
	CapModulator          Capability = 0x00080000
	CapSDRCapture         Capability = 0x00100000
	CapExtPixFormat       Capability = 0x00200000
	CapSDROutput          Capability = 0x00400000
	CapMetaCapture        Capability = 0x00800000
	CapReadWrite          Capability = 0x01000000
	CapAsyncIO            Capability = 0x02000000
	CapStreaming          Capability = 0x04000000
	CapMetaOutput         Capability = 0x08000000
	CapTouch              Capability = 0x10000000
	CapIOMC               Capability = 0x20000000
	CapDeviceCaps         Capability = 0x80000000
)

// capabilityNames はビット順に並んだフラグ名の一覧
var capabilityNames = []struct {
	flag Capability
	name string
}{
	{CapVideoCapture, "VIDEO_CAPTURE"},
	{CapVideoOutput, "VIDEO_OUTPUT"},
	{CapVideoOverlay, "VIDEO_OVERLAY"},
	{CapVBICapture, "VBI_CAPTURE"},
	{CapVBIOutput, "VBI_OUTPUT"},
	{CapSlicedVBICapture, "SLICED_VBI_CAPTURE"},
	{CapSlicedVBIOutput, "SLICED_VBI_OUTPUT"},
	{CapRDSCapture, "RDS_CAPTURE"},
	{CapVideoOutputOverlay, "VIDEO_OUTPUT_OVERLAY"},
	{CapHWFreqSeek, "HW_FREQ_SEEK"},
	{CapRDSOutput, "RDS_OUTPUT"},
	{CapVideoCaptureMplane, "VIDEO_CAPTURE_MPLANE"},
	{CapVideoOutputMplane, "VIDEO_OUTPUT_MPLANE"},
	{CapVideoM2MMplane, "VIDEO_M2M_MPLANE"},
	{CapVideoM2M, "VIDEO_M2M"},
	{CapTuner, "TUNER"},
	{CapAudio, "AUDIO"},
	{CapRadio, "RADIO"},
	{CapModulator, "MODULATOR"},
	{CapSDRCapture, "SDR_CAPTURE"},
	{CapExtPixFormat, "EXT_PIX_FORMAT"},
	{CapSDROutput, "SDR_OUTPUT"},
	{CapMetaCapture, "META_CAPTURE"},
	{CapReadWrite, "READWRITE"},
	{CapAsyncIO, "ASYNCIO"},
	{CapStreaming, "STREAMING"},
	{CapMetaOutput, "META_OUTPUT"},
	{CapTouch, "TOUCH"},
	{CapIOMC, "IO_MC"},
	{CapDeviceCaps, "DEVICE_CAPS"},
}

// String はフラグ名を返す
func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.flag == c {
			return n.name
		}
	}
	return fmt.Sprintf("Capability(0x%08X)", uint32(c))
}

// CapabilitySet はケーパビリティフラグの集合
type CapabilitySet uint32

// Has は指定したフラグが含まれているかを返す
func (s CapabilitySet) Has(c Capability) bool {
	return uint32(s)&uint32(c) == uint32(c)
}

// Names は含まれているフラグ名をビット順に返す
func (s CapabilitySet) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, n := range capabilityNames {
		if s.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return names
}

// String は16進数表現を返す
func (s CapabilitySet) String() string {
	return fmt.Sprintf("0x%08X", uint32(s))
}

// LogValue は構造化ログ用の値を返す
func (s CapabilitySet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("raw", s.String()),
		slog.Any("flags", s.Names()),
	)
}

// DeviceCapabilities はデバイスから取得した識別情報とケーパビリティ
type DeviceCapabilities struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities CapabilitySet // 物理デバイス全体の能力
	DeviceCaps   CapabilitySet // このデバイスノードの能力
}

// Effective はこのデバイスノードで有効なケーパビリティを返す
// ドライバーが DEVICE_CAPS を報告している場合は DeviceCaps を優先する
func (c DeviceCapabilities) Effective() CapabilitySet {
	if c.Capabilities.Has(CapDeviceCaps) {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// CanCapture はビデオキャプチャに対応しているかを返す
func (c DeviceCapabilities) CanCapture() bool {
	return c.Effective().Has(CapVideoCapture)
}

// VersionString はカーネルバージョン形式の文字列を返す
func (c DeviceCapabilities) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", byte(c.Version>>16), byte(c.Version>>8), byte(c.Version))
}

// LogValue は構造化ログ用の値を返す
func (c DeviceCapabilities) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("driver", c.Driver),
		slog.String("card", c.Card),
		slog.String("bus_info", c.BusInfo),
		slog.String("version", c.VersionString()),
		slog.Any("capabilities", c.Capabilities),
		slog.Any("device_caps", c.DeviceCaps),
	)
}

// Rect は切り抜き矩形
type Rect struct {
	Left   int32
	Top    int32
	Width  uint32
	Height uint32
}

// LogValue は構造化ログ用の値を返す
func (r Rect) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("left", int64(r.Left)),
		slog.Int64("top", int64(r.Top)),
		slog.Uint64("width", uint64(r.Width)),
		slog.Uint64("height", uint64(r.Height)),
	)
}

// Fraction は有理数（分子/分母）
type Fraction struct {
	Numerator   uint32
	Denominator uint32
}

// String は "分子:分母" 形式で返す
func (f Fraction) String() string {
	return fmt.Sprintf("%d:%d", f.Numerator, f.Denominator)
}

// CropCapabilities は切り抜き能力（境界、既定矩形、ピクセルアスペクト比）
type CropCapabilities struct {
	Bounds      Rect
	DefaultRect Rect
	PixelAspect Fraction
}

// LogValue は構造化ログ用の値を返す
func (c CropCapabilities) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("bounds", c.Bounds),
		slog.Any("defrect", c.DefaultRect),
		slog.String("pixel_aspect", c.PixelAspect.String()),
	)
}

// Field はフィールド順序（インターレース方式）
type Field uint32

const (
	FieldAny          Field = 0
	FieldNone         Field = 1
	FieldTop          Field = 2
	FieldBottom       Field = 3
	FieldInterlaced   Field = 4
	FieldSeqTB        Field = 5
	FieldSeqBT        Field = 6
	FieldAlternate    Field = 7
	FieldInterlacedTB Field = 8
	FieldInterlacedBT Field = 9
)

var fieldNames = map[Field]string{
	FieldAny:          "ANY",
	FieldNone:         "NONE",
	FieldTop:          "TOP",
	FieldBottom:       "BOTTOM",
	FieldInterlaced:   "INTERLACED",
	FieldSeqTB:        "SEQ_TB",
	FieldSeqBT:        "SEQ_BT",
	FieldAlternate:    "ALTERNATE",
	FieldInterlacedTB: "INTERLACED_TB",
	FieldInterlacedBT: "INTERLACED_BT",
}

// String はフィールド名を返す。未知の値は数値のまま表示する
func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint32(f))
}

// Colorspace はV4L2の色空間タグ
type Colorspace uint32

const (
	ColorspaceDefault     Colorspace = 0
	ColorspaceSMPTE170M   Colorspace = 1 // ITU-R 601 (NTSC/PAL)
	ColorspaceSMPTE240M   Colorspace = 2
	ColorspaceREC709      Colorspace = 3
	ColorspaceBT878       Colorspace = 4
	Colorspace470SystemM  Colorspace = 5
	Colorspace470SystemBG Colorspace = 6
	ColorspaceJPEG        Colorspace = 7
	ColorspaceSRGB        Colorspace = 8
	ColorspaceOPRGB       Colorspace = 9
	ColorspaceBT2020      Colorspace = 10
	ColorspaceRaw         Colorspace = 11
	ColorspaceDCIP3       Colorspace = 12
)

var colorspaceNames = map[Colorspace]string{
	ColorspaceDefault:     "DEFAULT",
	ColorspaceSMPTE170M:   "SMPTE170M",
	ColorspaceSMPTE240M:   "SMPTE240M",
	ColorspaceREC709:      "REC709",
	ColorspaceBT878:       "BT878",
	Colorspace470SystemM:  "470_SYSTEM_M",
	Colorspace470SystemBG: "470_SYSTEM_BG",
	ColorspaceJPEG:        "JPEG",
	ColorspaceSRGB:        "SRGB",
	ColorspaceOPRGB:       "OPRGB",
	ColorspaceBT2020:      "BT2020",
	ColorspaceRaw:         "RAW",
	ColorspaceDCIP3:       "DCI_P3",
}

// Known は既知の色空間かどうかを返す
func (c Colorspace) Known() bool {
	_, ok := colorspaceNames[c]
	return ok
}

// String は色空間名を返す。未知の値は拒否せず数値のまま表示する
func (c Colorspace) String() string {
	if name, ok := colorspaceNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint32(c))
}

// BufferType はV4L2バッファの種類
type BufferType uint32

const (
	BufferTypeVideoCapture BufferType = 1
)

// String はバッファ種別名を返す
func (t BufferType) String() string {
	if t == BufferTypeVideoCapture {
		return "VIDEO_CAPTURE"
	}
	return fmt.Sprintf("BufferType(%d)", uint32(t))
}

// FrameFormat はネゴシエーション済みのキャプチャフォーマット
type FrameFormat struct {
	Type         BufferType
	Width        uint32
	Height       uint32
	PixelFormat  pixel.FourCC
	Field        Field
	BytesPerLine uint32 // ストライド（アライメントにより幅×画素サイズを超えることがある）
	SizeImage    uint32
	Colorspace   Colorspace
	// Priv はドライバー固有の値
	Priv         uint32
}

// Stride は行間のバイト数を返す
// ドライバーが0を報告したYUYVでは詰めた行サイズとみなす
func (f FrameFormat) Stride() int {
	if f.BytesPerLine == 0 && f.PixelFormat == pixel.FormatYUYV {
		return int(f.Width) * 2
	}
	return int(f.BytesPerLine)
}

// String は "640x480 YUYV" のような短い表現を返す
func (f FrameFormat) String() string {
	return fmt.Sprintf("%dx%d %s", f.Width, f.Height, f.PixelFormat)
}

// LogValue は構造化ログ用の値を返す
func (f FrameFormat) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", f.Type.String()),
		slog.Uint64("width", uint64(f.Width)),
		slog.Uint64("height", uint64(f.Height)),
		slog.String("pixelformat", f.PixelFormat.String()),
		slog.String("pixelformat_code", fmt.Sprintf("0x%08X", uint32(f.PixelFormat))),
		slog.String("field", f.Field.String()),
		slog.Uint64("bytesperline", uint64(f.BytesPerLine)),
		slog.Uint64("sizeimage", uint64(f.SizeImage)),
		slog.String("colorspace", f.Colorspace.String()),
		slog.Uint64("colorspace_code", uint64(f.Colorspace)),
		slog.Uint64("priv", uint64(f.Priv)),
	)
}
