// Package server は、スナップショットを配信するHTTPサーバーを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// キャプチャ要求の直列化を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - JPEGスナップショットの配信
//   - デバイス一覧とシステム状態の提供
//   - エラー分類からHTTPステータスへの変換
//
// 仕様:
//   - ルーティングにはgin-gonic/ginを使用
//   - キャプチャは1リクエストずつ実行する（デバイスは同時に1セッションのみ）
//   - リクエストのキャンセルはキャプチャに伝播する
//   - グレースフルシャットダウンに対応
package server
