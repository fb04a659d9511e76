// Package main はV4L2デバイスから1フレームを取得してJPEGに保存するコマンドです
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"v4l2snap/internal/camera"
	"v4l2snap/internal/config"
	"v4l2snap/internal/logging"
	"v4l2snap/internal/snapshot"
)

func main() {
	os.Exit(run())
}

func run() int {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイルのパス")
		device     = flag.String("device", "", "キャプチャデバイス (デフォルト: /dev/video0)")
		output     = flag.String("output", "", "出力ファイル (デフォルト: v4l2_frame.jpg)")
		quality    = flag.Int("quality", 0, "JPEG品質 1-100 (デフォルト: 90)")
		list       = flag.Bool("list", false, "キャプチャ可能なデバイスを一覧表示")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("v4l2snap")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  v4l2snap [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		return snapshot.ExitOK
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗しました: %v\n", err)
		return snapshot.ExitUsage
	}

	// コマンドラインオプションで設定を上書き
	if *device != "" {
		cfg.Capture.Device = *device
	}
	if *output != "" {
		cfg.Output.Path = *output
	}
	if *quality != 0 {
		cfg.Output.Quality = *quality
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "設定が無効です: %v\n", err)
		return snapshot.ExitUsage
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガーの作成に失敗しました: %v\n", err)
		return snapshot.ExitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := camera.NewV4L2Driver()

	if *list {
		return listDevices(ctx, camera.NewDiscovery(driver), logger)
	}

	capturer, err := snapshot.NewCapturer(driver, cfg.Capture.Session(), cfg.Output.Quality, logger)
	if err != nil {
		logger.Error("キャプチャの初期化に失敗しました", slog.Any("error", err))
		return snapshot.ExitCode(err)
	}

	result, err := capturer.CaptureToFile(ctx, cfg.Output.Path)
	if err != nil {
		logger.Error("フレームの取得に失敗しました",
			slog.String("code", snapshot.ErrorCode(err)),
			slog.Any("error", err))
		return snapshot.ExitCode(err)
	}

	fmt.Printf("%s を保存しました (%s, %d bytes)\n", result.Path, result.Format, result.Written)
	return snapshot.ExitOK
}

// listDevices はキャプチャ可能なデバイスの情報をJSONで出力する
func listDevices(ctx context.Context, discovery camera.Discovery, logger *slog.Logger) int {
	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		logger.Error("デバイスのスキャンに失敗しました", slog.Any("error", err))
		if errors.Is(err, context.Canceled) {
			return snapshot.ExitInterrupted
		}
		return snapshot.ExitFailure
	}

	infos := make([]*camera.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		info, err := discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			logger.Warn("デバイス情報を取得できません",
				slog.String("device", device), slog.Any("error", err))
			continue
		}
		infos = append(infos, info)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(infos); err != nil {
		logger.Error("出力に失敗しました", slog.Any("error", err))
		return snapshot.ExitOutputIO
	}
	return snapshot.ExitOK
}
