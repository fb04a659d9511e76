//go:build linux && (386 || arm)

package camera

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Cropcap{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
)

// v4l2Format has size 204 bytes.
type v4l2Format struct {
	typ uint32
	raw [200]byte
}

// v4l2Buffer has size 68 bytes.
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
	length    uint32
	reserved2 uint32
	reserved  uint32
}
