package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"v4l2snap/internal/camera"
	"v4l2snap/internal/snapshot"
)

// ErrInvalidConfig は設定の検証エラー
var ErrInvalidConfig = errors.New("無効な設定")

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Output  OutputConfig  `yaml:"output"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// CaptureConfig はキャプチャセッションの設定
type CaptureConfig struct {
	Device      string `yaml:"device"`       // デバイスパス (例: /dev/video0)
	BufferCount uint32 `yaml:"buffer_count"` // 要求するバッファ数

	// 取り出しの再試行設定
	RetryInterval     time.Duration `yaml:"retry_interval"`      // 再試行間隔
	MaxDequeueRetries int           `yaml:"max_dequeue_retries"` // 0 なら無制限
}

// OutputConfig は出力画像の設定
type OutputConfig struct {
	Path    string `yaml:"path"`    // 出力ファイルのパス
	Quality int    `yaml:"quality"` // JPEG品質 (1〜100)
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Device:        camera.DefaultDevice,
			BufferCount:   camera.DefaultBufferCount,
			RetryInterval: camera.DefaultRetryInterval,
		},
		Output: OutputConfig{
			Path:    snapshot.DefaultOutputPath,
			Quality: snapshot.DefaultQuality,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は設定を読み込む
// デフォルト値、設定ファイル、環境変数の順に上書きして検証する
// path が空の場合や存在しない場合は設定ファイルを読まない
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: 設定ファイルの解析に失敗: %s: %w", ErrInvalidConfig, path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Capture.Device = getEnvOrDefault("V4L2SNAP_DEVICE", c.Capture.Device)
	c.Output.Path = getEnvOrDefault("V4L2SNAP_OUTPUT", c.Output.Path)
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("LOG_FORMAT", c.Log.Format)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// キャプチャ設定の検証
	if c.Capture.Device == "" {
		errs = append(errs, errors.New("デバイスパスが設定されていません"))
	}
	if c.Capture.BufferCount == 0 {
		errs = append(errs, errors.New("バッファ数は1以上である必要があります"))
	}
	if c.Capture.RetryInterval < 0 {
		errs = append(errs, fmt.Errorf("無効な再試行間隔: %s", c.Capture.RetryInterval))
	}
	if c.Capture.MaxDequeueRetries < 0 {
		errs = append(errs, fmt.Errorf("無効な再試行回数: %d", c.Capture.MaxDequeueRetries))
	}

	// 出力設定の検証
	if c.Output.Path == "" {
		errs = append(errs, errors.New("出力パスが設定されていません"))
	}
	if c.Output.Quality < snapshot.MinQuality || c.Output.Quality > snapshot.MaxQuality {
		errs = append(errs, fmt.Errorf("無効なJPEG品質: %d", c.Output.Quality))
	}

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("タイムアウトが負の値です"))
	}

	// ログ設定の検証
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("無効なログレベル: %s", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("無効なログ形式: %s", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Session はキャプチャセッション用の設定を返す
func (c *CaptureConfig) Session() camera.Config {
	return camera.Config{
		Device:            c.Device,
		BufferCount:       c.BufferCount,
		RetryInterval:     c.RetryInterval,
		MaxDequeueRetries: c.MaxDequeueRetries,
	}
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
