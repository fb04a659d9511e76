package pixel

import "fmt"

// FourCC は4文字のピクセルフォーマットコード（リトルエンディアン）
type FourCC uint32

// 既知のピクセルフォーマット
const (
	FormatYUYV  FourCC = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24 // YUV 4:2:2 パック形式
	FormatMJPEG FourCC = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24
	FormatRGB24 FourCC = 'R' | 'G'<<8 | 'B'<<16 | '3'<<24
	FormatNV12  FourCC = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
)

// NewFourCC は4文字の文字列からFourCCを作成する
func NewFourCC(code string) (FourCC, error) {
	if len(code) != 4 {
		return 0, fmt.Errorf("FourCCは4文字である必要があります: %q", code)
	}
	return FourCC(code[0]) | FourCC(code[1])<<8 | FourCC(code[2])<<16 | FourCC(code[3])<<24, nil
}

// String は4文字表現を返す。表示できない文字は '.' に置き換える
func (f FourCC) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '.'
		}
	}
	return string(b)
}
