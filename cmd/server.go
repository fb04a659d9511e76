// Package main はスナップショットサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"v4l2snap/internal/camera"
	"v4l2snap/internal/config"
	"v4l2snap/internal/logging"
	"v4l2snap/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイルのパス")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		device     = flag.String("device", "", "キャプチャデバイス (デフォルト: /dev/video0)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("v4l2snap server")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗しました: %v\n", err)
		os.Exit(2)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *device != "" {
		cfg.Capture.Device = *device
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "設定が無効です: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガーの作成に失敗しました: %v\n", err)
		os.Exit(2)
	}

	driver := camera.NewV4L2Driver()

	// サーバーを作成
	srv, err := server.New(cfg, driver, camera.NewDiscovery(driver), logger)
	if err != nil {
		logger.Error("サーバーの作成に失敗しました", slog.Any("error", err))
		os.Exit(1)
	}

	// サーバーを起動
	if err := srv.Start(context.Background()); err != nil {
		logger.Error("サーバーの起動に失敗しました", slog.Any("error", err))
		os.Exit(1)
	}
}
