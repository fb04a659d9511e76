//go:build linux && (amd64 || arm64 || riscv64 || 386 || arm)

package camera

import (
	"bytes"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"v4l2snap/internal/pixel"
)

const (
	bufTypeVideoCapture = 1
	memoryMMAP          = 1
)

// 汎用のioctl番号レイアウト。powerpc・mips・sparc はビット配置が異なる
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func iow(typ, nr, size uintptr) uintptr {
	return ioc(iocWrite, typ, nr, size)
}

func ior(typ, nr, size uintptr) uintptr {
	return ioc(iocRead, typ, nr, size)
}

func iowr(typ, nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

var (
	vidiocQuerycap  = ior('V', 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocGFmt      = iowr('V', 4, unsafe.Sizeof(v4l2Format{}))
	vidiocReqbufs   = iowr('V', 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQuerybuf  = iowr('V', 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf      = iowr('V', 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf     = iowr('V', 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn  = iow('V', 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = iow('V', 19, unsafe.Sizeof(int32(0)))
	vidiocCropcap   = iowr('V', 58, unsafe.Sizeof(v4l2Cropcap{}))
)

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2RequestBuffers has size 20 bytes.
type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2Rect struct {
	left   int32
	top    int32
	width  uint32
	height uint32
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2Cropcap has size 44 bytes.
type v4l2Cropcap struct {
	typ         uint32
	bounds      v4l2Rect
	defrect     v4l2Rect
	pixelaspect v4l2Fract
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// pix は fmt union をピクセルフォーマットとして解釈する
func (f *v4l2Format) pix() *v4l2PixFormat {
	return (*v4l2PixFormat)(unsafe.Pointer(&f.raw[0]))
}

// V4L2Driver はioctlで実デバイスを操作するドライバー
type V4L2Driver struct{}

// NewV4L2Driver は新しいV4L2Driverを作成する
func NewV4L2Driver() Driver {
	return &V4L2Driver{}
}

// Open はデバイスノードを開く
func (d *V4L2Driver) Open(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &v4l2Device{fd: fd, path: path}, nil
}

type v4l2Device struct {
	fd   int
	path string
}

func (d *v4l2Device) QueryCapabilities() (DeviceCapabilities, error) {
	var c v4l2Capability
	if err := ioctl(d.fd, vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return DeviceCapabilities{}, fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}
	return DeviceCapabilities{
		Driver:       cString(c.driver[:]),
		Card:         cString(c.card[:]),
		BusInfo:      cString(c.busInfo[:]),
		Version:      c.version,
		Capabilities: CapabilitySet(c.capabilities),
		DeviceCaps:   CapabilitySet(c.deviceCaps),
	}, nil
}

func (d *v4l2Device) QueryCropCapabilities() (CropCapabilities, error) {
	c := v4l2Cropcap{typ: bufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocCropcap, unsafe.Pointer(&c)); err != nil {
		return CropCapabilities{}, fmt.Errorf("VIDIOC_CROPCAP: %w", err)
	}
	return CropCapabilities{
		Bounds:      toRect(c.bounds),
		DefaultRect: toRect(c.defrect),
		PixelAspect: Fraction{Numerator: c.pixelaspect.numerator, Denominator: c.pixelaspect.denominator},
	}, nil
}

func (d *v4l2Device) QueryFormat() (FrameFormat, error) {
	f := v4l2Format{typ: bufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return FrameFormat{}, fmt.Errorf("VIDIOC_G_FMT: %w", err)
	}
	p := f.pix()
	return FrameFormat{
		Type:         BufferType(f.typ),
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  pixel.FourCC(p.pixelformat),
		Field:        Field(p.field),
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
		Colorspace:   Colorspace(p.colorspace),
		Priv:         p.priv,
	}, nil
}

func (d *v4l2Device) RequestBuffers(count uint32) (uint32, error) {
	req := v4l2RequestBuffers{
		count:  count,
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	return req.count, nil
}

func (d *v4l2Device) QueryBuffer(index uint32) (BufferInfo, error) {
	buf := v4l2Buffer{
		index:  index,
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return BufferInfo{}, fmt.Errorf("VIDIOC_QUERYBUF: %w", err)
	}
	return BufferInfo{Index: buf.index, Length: buf.length, Offset: buf.offset}, nil
}

func (d *v4l2Device) Map(info BufferInfo) ([]byte, error) {
	data, err := unix.Mmap(d.fd, int64(info.Offset), int(info.Length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}

func (d *v4l2Device) Unmap(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

func (d *v4l2Device) Enqueue(index uint32) error {
	buf := v4l2Buffer{
		index:  index,
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF: %w", err)
	}
	return nil
}

func (d *v4l2Device) StreamOn() error {
	typ := int32(bufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	return nil
}

func (d *v4l2Device) Dequeue() (DequeuedBuffer, error) {
	buf := v4l2Buffer{
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := ioctl(d.fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return DequeuedBuffer{}, ErrTryAgain
		}
		return DequeuedBuffer{}, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	return DequeuedBuffer{Index: buf.index, BytesUsed: buf.bytesused, Sequence: buf.sequence}, nil
}

func (d *v4l2Device) StreamOff() error {
	typ := int32(bufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	return nil
}

func (d *v4l2Device) Close() error {
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	return nil
}

// ioctl はシグナル割り込みの場合に再試行する
func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

func toRect(r v4l2Rect) Rect {
	return Rect{Left: r.left, Top: r.top, Width: r.width, Height: r.height}
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
