// Package pixel はキャプチャしたフレームのピクセルフォーマット変換を担う
//
// 対応する入力はYUYV（YUV 4:2:2 パック形式）のみで、出力は行単位の
// インターリーブRGBとしてRowWriterに渡される。画像全体をバッファせず、
// 変換側のメモリ使用量は1行分に収まる。
package pixel

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedPixelFormat = errors.New("サポートされていないピクセルフォーマット")
	ErrInvalidGeometry        = errors.New("無効な画像ジオメトリ")
)

const (
	yuyvBytesPerPixel = 2
	rgbChannels       = 3
	chromaBias        = 128
)

// ColorSpace は出力サンプルの色空間
type ColorSpace int

const (
	ColorSpaceRGB ColorSpace = iota + 1
)

// String は色空間名を返す
func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceRGB:
		return "RGB"
	default:
		return fmt.Sprintf("ColorSpace(%d)", int(c))
	}
}

// Source は変換対象のフレームを表す
// Data は借用であり、Convert の終了後に参照を保持してはならない
type Source struct {
	Data   []byte
	Width  int
	Height int
	Stride int // 行の先頭間のバイト数（パディングを含む）
	Format FourCC
}

// RowWriter は変換結果を受け取るエンコーダー
//
// WriteRow に渡される行バッファは次の呼び出しで再利用されるため、
// 実装側で保持する場合はコピーすること。
type RowWriter interface {
	Begin(width, height, channels int, cs ColorSpace) error
	WriteRow(row []byte) error
	Finish() error
}

// Convert はYUYVフレームをRGBに変換し、上から順に1行ずつ dst に渡す
func Convert(src Source, dst RowWriter) error {
	// フォーマットはバッファに触れる前に検査する
	if src.Format != FormatYUYV {
		return fmt.Errorf("%w: %s (0x%08X)", ErrUnsupportedPixelFormat, src.Format, uint32(src.Format))
	}
	if err := src.validate(); err != nil {
		return err
	}

	if err := dst.Begin(src.Width, src.Height, rgbChannels, ColorSpaceRGB); err != nil {
		return fmt.Errorf("エンコーダーの初期化に失敗: %w", err)
	}

	line := make([]byte, src.Width*rgbChannels)
	for y := 0; y < src.Height; y++ {
		ConvertRow(line, src.row(y))
		if err := dst.WriteRow(line); err != nil {
			return fmt.Errorf("%d行目の書き込みに失敗: %w", y, err)
		}
	}

	if err := dst.Finish(); err != nil {
		return fmt.Errorf("エンコーダーの終了処理に失敗: %w", err)
	}
	return nil
}

// ConvertRow はYUYVの1行をRGBに変換する
// dst は len(src)/2*3 バイト以上必要
func ConvertRow(dst, src []byte) {
	for i, o := 0, 0; i+3 < len(src); i, o = i+4, o+6 {
		y1 := float64(src[i])
		u := float64(int(src[i+1]) - chromaBias)
		y2 := float64(src[i+2])
		v := float64(int(src[i+3]) - chromaBias)

		dst[o], dst[o+1], dst[o+2] = yuvToRGB(y1, u, v)
		dst[o+3], dst[o+4], dst[o+5] = yuvToRGB(y2, u, v)
	}
}

func yuvToRGB(y, u, v float64) (r, g, b byte) {
	r = clamp(y + 1.370705*v)
	g = clamp(y - 0.698001*v - 0.337633*u)
	b = clamp(y + 1.732446*u)
	return r, g, b
}

// clamp は [0,255] に丸めて小数部を切り捨てる
func clamp(x float64) byte {
	if x <= 0 {
		return 0
	}
	if x >= 255 {
		return 255
	}
	return byte(x)
}

// validate はジオメトリとバッファ長を検証する
func (s Source) validate() error {
	if s.Width < 0 || s.Height < 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, s.Width, s.Height)
	}
	if s.Width%2 != 0 {
		return fmt.Errorf("%w: 幅は偶数である必要があります (width=%d)", ErrInvalidGeometry, s.Width)
	}

	rowBytes := s.Width * yuyvBytesPerPixel
	if s.Stride < rowBytes {
		return fmt.Errorf("%w: ストライド %d が行サイズ %d より小さい", ErrInvalidGeometry, s.Stride, rowBytes)
	}
	if s.Height > 0 {
		need := (s.Height-1)*s.Stride + rowBytes
		if len(s.Data) < need {
			return fmt.Errorf("%w: バッファが短すぎます (%d < %d)", ErrInvalidGeometry, len(s.Data), need)
		}
	}
	return nil
}

// row はストライドを使って y 行目のピクセルデータを返す
func (s Source) row(y int) []byte {
	start := y * s.Stride
	return s.Data[start : start+s.Width*yuyvBytesPerPixel]
}
