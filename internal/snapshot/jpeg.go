package snapshot

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"v4l2snap/internal/pixel"
)

const (
	// DefaultQuality はJPEGの既定品質
	DefaultQuality = 90
	MinQuality     = 1
	MaxQuality     = 100
)

var (
	ErrOutputIO       = errors.New("画像の出力に失敗")
	ErrInvalidQuality = errors.New("無効なJPEG品質")
)

// JPEGWriter は行単位のRGBを受け取りJPEGとして書き出す
type JPEGWriter struct {
	w       io.Writer
	quality int
	img     *image.RGBA
	next    int
}

// NewJPEGWriter は新しいJPEGWriterを作成する
func NewJPEGWriter(w io.Writer, quality int) (*JPEGWriter, error) {
	if quality < MinQuality || quality > MaxQuality {
		return nil, fmt.Errorf("%w: %d (%d〜%d)", ErrInvalidQuality, quality, MinQuality, MaxQuality)
	}
	return &JPEGWriter{w: w, quality: quality}, nil
}

// Begin は画像の大きさを設定する
func (j *JPEGWriter) Begin(width, height, channels int, cs pixel.ColorSpace) error {
	if channels != 3 || cs != pixel.ColorSpaceRGB {
		return fmt.Errorf("RGB 3チャンネルのみ対応しています: %s %dch", cs, channels)
	}
	j.img = image.NewRGBA(image.Rect(0, 0, width, height))
	j.next = 0
	return nil
}

// WriteRow は次の1行を書き込む
func (j *JPEGWriter) WriteRow(row []byte) error {
	if j.img == nil {
		return errors.New("Begin が呼ばれていません")
	}
	bounds := j.img.Bounds()
	if j.next >= bounds.Dy() {
		return fmt.Errorf("行数が高さ %d を超えました", bounds.Dy())
	}
	if len(row) < bounds.Dx()*3 {
		return fmt.Errorf("行が短すぎます (%d < %d)", len(row), bounds.Dx()*3)
	}

	dst := j.img.Pix[j.next*j.img.Stride:]
	for x := 0; x < bounds.Dx(); x++ {
		dst[x*4] = row[x*3]
		dst[x*4+1] = row[x*3+1]
		dst[x*4+2] = row[x*3+2]
		dst[x*4+3] = 0xFF
	}
	j.next++
	return nil
}

// Finish は全行を受け取った後にJPEGへエンコードする
func (j *JPEGWriter) Finish() error {
	if j.img == nil {
		return errors.New("Begin が呼ばれていません")
	}
	if j.next != j.img.Bounds().Dy() {
		return fmt.Errorf("行数が不足しています (%d/%d)", j.next, j.img.Bounds().Dy())
	}
	if err := jpeg.Encode(j.w, j.img, &jpeg.Options{Quality: j.quality}); err != nil {
		return fmt.Errorf("%w: %w", ErrOutputIO, err)
	}
	return nil
}
