package camera

import (
	"v4l2snap/internal/pixel"
)

// FrameBuffer はmmapしたキャプチャバッファのビュー
// セッションが所有し、アンマップ後は空になる
type FrameBuffer struct {
	index uint32
	data  []byte
}

// Index はドライバー上のバッファ番号を返す
func (b *FrameBuffer) Index() uint32 {
	return b.index
}

// Len はマッピングの長さを返す。解放後は0
func (b *FrameBuffer) Len() int {
	return len(b.data)
}

// Valid はマッピングが有効かを返す
func (b *FrameBuffer) Valid() bool {
	return b.data != nil
}

// Bytes はマッピング領域を返す
// 取り出しからアンマップまでの間だけ読み取ってよい
func (b *FrameBuffer) Bytes() []byte {
	return b.data
}

// release はマッピングを無効化し、解放すべき領域を返す
func (b *FrameBuffer) release() []byte {
	data := b.data
	b.data = nil
	return data
}

// Frame は取り出し済みのフレーム
type Frame struct {
	Format    FrameFormat
	Index     uint32
	BytesUsed uint32
	Sequence  uint32
	Buffer    *FrameBuffer
}

// Source はピクセル変換用の入力を返す
func (f *Frame) Source() pixel.Source {
	return pixel.Source{
		Data:   f.Buffer.Bytes(),
		Width:  int(f.Format.Width),
		Height: int(f.Format.Height),
		Stride: f.Format.Stride(),
		Format: f.Format.PixelFormat,
	}
}
