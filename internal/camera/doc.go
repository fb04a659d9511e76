// Package camera V4L2デバイスから1枚のフレームを取得するセッションを担う
//
// # 責務
// - デバイスのケーパビリティ・切り抜き能力・フォーマットの問い合わせ
// - mmapバッファの確保、キュー投入、ストリーミングの開始と停止
// - 取得済みリソースの逆順解放
// - /dev/video* の検出とデバイス情報の取得
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 外部コマンドに頼らずカメラから静止画を1枚取得したい
// - どのステップで失敗したかをエラーから判別したい
// - 接続されているキャプチャデバイスの一覧と詳細を知りたい
//
// # 仕様
// - Session: open → querycap → cropcap → g_fmt → reqbufs → mmap → qbuf → streamon → dqbuf
// - Close: streamoff → munmap → close の順に、取得できたものだけを解放
// - 取り出しは未準備(EAGAIN)の間 RetryInterval ごとに再試行する
// - Driver: 本番は V4L2Driver（ioctl）、テストは MockDriver
// - エラーは StepError として返り、errors.Is で分類を判定できる
//
// # 前提要件
//   - Linux カーネルの V4L2 ドライバー（uvcvideo など）
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
