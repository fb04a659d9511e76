//go:build linux && (amd64 || arm64 || riscv64)

package camera

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// カーネルABIと一致しない場合はコンパイルエラーになる
var (
	_ [0]struct{} = [unsafe.Sizeof(v4l2Capability{}) - 104]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2PixFormat{}) - 48]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Format{}) - 208]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2RequestBuffers{}) - 20]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Cropcap{}) - 44]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Buffer{}) - 88]struct{}{}

	_ [0]struct{} = [unsafe.Offsetof(v4l2Format{}.raw) - 8]struct{}{}
	_ [0]struct{} = [unsafe.Offsetof(v4l2Buffer{}.timestamp) - 24]struct{}{}
	_ [0]struct{} = [unsafe.Offsetof(v4l2Buffer{}.offset) - 64]struct{}{}
)

// v4l2Format has size 208 bytes.
// union はポインタを含むため8バイト境界に配置される
type v4l2Format struct {
	typ uint32
	_   [4]byte
	raw [200]byte
}

// v4l2Buffer has size 88 bytes.
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	offset    uint32 // m.offset
	_         uint32 // m union padding
	length    uint32
	reserved2 uint32
	reserved  uint32
}
