//go:build !linux || !(amd64 || arm64 || riscv64 || 386 || arm)

package camera

import (
	"errors"
	"fmt"
)

// V4L2Driver はこのプラットフォームでは利用できない
type V4L2Driver struct{}

// NewV4L2Driver は常に失敗するドライバーを返す
func NewV4L2Driver() Driver {
	return &V4L2Driver{}
}

// Open は errors.ErrUnsupported を返す
func (d *V4L2Driver) Open(path string) (Device, error) {
	return nil, fmt.Errorf("%s: V4L2はLinuxでのみ利用できます: %w", path, errors.ErrUnsupported)
}
