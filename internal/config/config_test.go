package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestConfigLoad はデフォルト設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg == nil {
		t.Fatal("設定がnilです")
	}

	// キャプチャ設定の検証
	if cfg.Capture.Device != "/dev/video0" {
		t.Errorf("デフォルトデバイスが一致しません: %s", cfg.Capture.Device)
	}
	if cfg.Capture.BufferCount != 1 {
		t.Errorf("デフォルトバッファ数が一致しません: %d", cfg.Capture.BufferCount)
	}
	if cfg.Capture.RetryInterval != time.Second {
		t.Errorf("デフォルト再試行間隔が一致しません: %s", cfg.Capture.RetryInterval)
	}
	if cfg.Capture.MaxDequeueRetries != 0 {
		t.Errorf("再試行回数はデフォルトで無制限であるべきです: %d", cfg.Capture.MaxDequeueRetries)
	}

	// 出力設定の検証
	if cfg.Output.Path != "v4l2_frame.jpg" {
		t.Errorf("デフォルト出力パスが一致しません: %s", cfg.Output.Path)
	}
	if cfg.Output.Quality != 90 {
		t.Errorf("デフォルト品質が一致しません: %d", cfg.Output.Quality)
	}

	// サーバー設定の検証
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
}

// TestConfigLoadFile は設定ファイルの読み込みをテストする
func TestConfigLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `capture:
  device: /dev/video2
  buffer_count: 4
  retry_interval: 250ms
  max_dequeue_retries: 20
output:
  path: /tmp/out.jpg
  quality: 75
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("設定ファイルの作成に失敗しました: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Capture.Device != "/dev/video2" {
		t.Errorf("デバイスが一致しません: %s", cfg.Capture.Device)
	}
	if cfg.Capture.BufferCount != 4 {
		t.Errorf("バッファ数が一致しません: %d", cfg.Capture.BufferCount)
	}
	if cfg.Capture.RetryInterval != 250*time.Millisecond {
		t.Errorf("再試行間隔が一致しません: %s", cfg.Capture.RetryInterval)
	}
	if cfg.Output.Quality != 75 {
		t.Errorf("品質が一致しません: %d", cfg.Output.Quality)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("ログ形式が一致しません: %s", cfg.Log.Format)
	}
	// ファイルに書かれていない項目はデフォルト値のまま
	if cfg.Server.Port != 8080 {
		t.Errorf("ポート番号はデフォルト値であるべきです: %d", cfg.Server.Port)
	}

	session := cfg.Capture.Session()
	if session.Device != "/dev/video2" || session.MaxDequeueRetries != 20 || session.BufferCount != 4 {
		t.Errorf("セッション設定が一致しません: %+v", session)
	}
}

// TestConfigLoadMissingFile は存在しない設定ファイルを無視することをテストする
func TestConfigLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("存在しないファイルはエラーにすべきではありません: %v", err)
	}
	if cfg.Capture.Device != "/dev/video0" {
		t.Errorf("デフォルト値が使われていません: %s", cfg.Capture.Device)
	}
}

// TestConfigLoadInvalidFile は不正な設定ファイルをテストする
func TestConfigLoadInvalidFile(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"YAMLの構文エラー", "capture: [unclosed"},
		{"不正な期間", "capture:\n  retry_interval: soon\n"},
		{"範囲外の品質", "output:\n  quality: 150\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatalf("設定ファイルの作成に失敗しました: %v", err)
			}
			_, err := Load(path)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("ErrInvalidConfig が期待されましたが %v でした", err)
			}
		})
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{"正常な設定", func(c *Config) {}, false},
		{"無効なポート番号", func(c *Config) { c.Server.Port = 99999 }, true},
		{"デバイスパスなし", func(c *Config) { c.Capture.Device = "" }, true},
		{"バッファ数0", func(c *Config) { c.Capture.BufferCount = 0 }, true},
		{"負の再試行間隔", func(c *Config) { c.Capture.RetryInterval = -time.Second }, true},
		{"負の再試行回数", func(c *Config) { c.Capture.MaxDequeueRetries = -1 }, true},
		{"出力パスなし", func(c *Config) { c.Output.Path = "" }, true},
		{"品質0", func(c *Config) { c.Output.Quality = 0 }, true},
		{"不明なログレベル", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"不明なログ形式", func(c *Config) { c.Log.Format = "xml" }, true},
		{"大文字のログレベル", func(c *Config) { c.Log.Level = "DEBUG" }, false},
		{"再試行間隔0", func(c *Config) { c.Capture.RetryInterval = 0 }, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("V4L2SNAP_DEVICE", "/dev/video5")
	t.Setenv("V4L2SNAP_OUTPUT", "/tmp/frame.jpg")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数からホストが設定されていません: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数からポートが設定されていません: got %d", cfg.Server.Port)
	}
	if cfg.Capture.Device != "/dev/video5" {
		t.Errorf("環境変数からデバイスが設定されていません: got %s", cfg.Capture.Device)
	}
	if cfg.Output.Path != "/tmp/frame.jpg" {
		t.Errorf("環境変数から出力パスが設定されていません: got %s", cfg.Output.Path)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("環境変数からログレベルが設定されていません: got %s", cfg.Log.Level)
	}
}

// TestEnvironmentOverridesFile は環境変数が設定ファイルより優先されることをテストする
func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("capture:\n  device: /dev/video1\n"), 0o600); err != nil {
		t.Fatalf("設定ファイルの作成に失敗しました: %v", err)
	}
	t.Setenv("V4L2SNAP_DEVICE", "/dev/video9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}
	if cfg.Capture.Device != "/dev/video9" {
		t.Errorf("環境変数が優先されていません: got %s", cfg.Capture.Device)
	}
}
