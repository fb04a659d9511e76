package camera

// Driver はキャプチャデバイスを開く
// 本番ではV4L2のioctlに、テストではメモリ上のモックに結び付けられる
type Driver interface {
	// Open はデバイスノードを読み書き・ノンブロッキングで開く
	Open(path string) (Device, error)
}

// Device はセッションが依存するキャプチャデバイスの操作一覧
type Device interface {
	QueryCapabilities() (DeviceCapabilities, error)
	QueryCropCapabilities() (CropCapabilities, error)
	QueryFormat() (FrameFormat, error)

	// RequestBuffers はmmap用のバッファを要求し、実際に割り当てられた数を返す
	RequestBuffers(count uint32) (uint32, error)
	// QueryBuffer はバッファの長さとオフセットを取得する
	QueryBuffer(index uint32) (BufferInfo, error)
	Map(info BufferInfo) ([]byte, error)
	Unmap(data []byte) error

	Enqueue(index uint32) error
	StreamOn() error
	// Dequeue は完了したバッファを取り出す
	// フレームが未準備の場合は ErrTryAgain を返す
	Dequeue() (DequeuedBuffer, error)
	StreamOff() error

	Close() error
}

// BufferInfo はドライバーが割り当てたバッファの位置情報
type BufferInfo struct {
	Index  uint32
	Length uint32
	Offset uint32
}

// DequeuedBuffer は取り出したバッファの情報
type DequeuedBuffer struct {
	Index     uint32
	BytesUsed uint32
	Sequence  uint32
}
