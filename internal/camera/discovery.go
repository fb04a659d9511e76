package camera

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// DevicePattern はV4L2デバイスノードのパターン
const DevicePattern = "/dev/video*"

// FormatSummary はデバイスの現在のフォーマットの要約
type FormatSummary struct {
	Width        uint32 `json:"width"`
	Height       uint32 `json:"height"`
	PixelFormat  string `json:"pixelformat"`
	BytesPerLine uint32 `json:"bytesperline"`
	SizeImage    uint32 `json:"sizeimage"`
	Colorspace   string `json:"colorspace"`
}

// DeviceInfo はデバイスの詳細情報
type DeviceInfo struct {
	Device       string         `json:"device"`
	Name         string         `json:"name"`
	Driver       string         `json:"driver"`
	BusInfo      string         `json:"bus_info"`
	Version      string         `json:"version"`
	Capabilities []string       `json:"capabilities"`
	CanCapture   bool           `json:"can_capture"`
	Format       *FormatSummary `json:"format,omitempty"`
}

// Discovery はカメラデバイスの検出を行うインターフェース
type Discovery interface {
	// ScanDevices はキャプチャ可能なデバイスをデバイス番号順に返す
	ScanDevices(ctx context.Context) ([]string, error)
	// IsDeviceAvailable はデバイスが開けるかを返す
	IsDeviceAvailable(ctx context.Context, device string) bool
	// GetDeviceInfo はデバイスに問い合わせて詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceDiscovery はドライバー経由でデバイスを検出する
type DeviceDiscovery struct {
	driver Driver
	list   func() ([]string, error)
}

// NewDiscovery は /dev/video* を走査するDiscoveryを作成する
func NewDiscovery(driver Driver) *DeviceDiscovery {
	return NewDiscoveryWithLister(driver, func() ([]string, error) {
		return filepath.Glob(DevicePattern)
	})
}

// NewDiscoveryWithLister は候補パスの列挙方法を指定してDiscoveryを作成する
func NewDiscoveryWithLister(driver Driver, list func() ([]string, error)) *DeviceDiscovery {
	return &DeviceDiscovery{driver: driver, list: list}
}

// ScanDevices はシステム内のキャプチャ可能なデバイスをスキャンする
func (d *DeviceDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	devices := make([]string, 0, len(matches))
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		info, err := d.GetDeviceInfo(ctx, match)
		if err != nil {
			continue
		}
		// メタデータ用ノードなどキャプチャできないものは除外
		if info.CanCapture {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが開けるかチェックする
func (d *DeviceDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	dev, err := d.driver.Open(device)
	if err != nil {
		return false
	}
	_ = dev.Close()
	return true
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *DeviceDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := d.driver.Open(device)
	if err != nil {
		return nil, fmt.Errorf("デバイスが利用できません: %s: %w", device, errors.Join(ErrDeviceUnavailable, err))
	}
	defer func() {
		_ = dev.Close()
	}()

	caps, err := dev.QueryCapabilities()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", device, newStepError(StepQueryCapabilities, ErrQueryFailed, err))
	}

	info := &DeviceInfo{
		Device:       device,
		Name:         generateDeviceName(device, caps.Card),
		Driver:       caps.Driver,
		BusInfo:      caps.BusInfo,
		Version:      caps.VersionString(),
		Capabilities: caps.Effective().Names(),
		CanCapture:   caps.CanCapture(),
	}

	// フォーマットはキャプチャ可能なデバイスでのみ問い合わせる
	if info.CanCapture {
		if format, err := dev.QueryFormat(); err == nil {
			info.Format = &FormatSummary{
				Width:        format.Width,
				Height:       format.Height,
				PixelFormat:  format.PixelFormat.String(),
				BytesPerLine: format.BytesPerLine,
				SizeImage:    format.SizeImage,
				Colorspace:   format.Colorspace.String(),
			}
		}
	}

	return info, nil
}

// generateDeviceName はカード名、なければデバイス番号から表示名を生成する
func generateDeviceName(device, card string) string {
	if card != "" {
		return card
	}
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

var deviceNumberPattern = regexp.MustCompile(`video(\d+)$`)

// extractDeviceNumber はデバイスパスからデバイス番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberPattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return -1
	}
	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return -1
	}
	return num
}
