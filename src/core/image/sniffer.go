package image

import "bytes"

// 图片格式魔数签名
var (
	jpegSignature = []byte{0xFF, 0xD8, 0xFF}
	pngSignature  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	gif87aSig     = []byte("GIF87a")
	gif89aSig     = []byte("GIF89a")
	riffSignature = []byte("RIFF")
	webpSignature = []byte("WEBP")
)

// DetectFormat 通过文件头魔数识别图片格式，与文件扩展名无关
// 不足12字节的数据一律视为无法识别
func DetectFormat(data []byte) (Format, bool) {
	if len(data) < 12 {
		return "", false
	}

	// JPEG: FF D8 FF
	if bytes.HasPrefix(data, jpegSignature) {
		return FormatJPEG, true
	}

	// PNG: 固定8字节签名
	if bytes.HasPrefix(data, pngSignature) {
		return FormatPNG, true
	}

	// GIF: GIF87a 或 GIF89a
	if bytes.HasPrefix(data, gif87aSig) || bytes.HasPrefix(data, gif89aSig) {
		return FormatGIF, true
	}

	// WebP: RIFF....WEBP，4-7字节是RIFF块长度，不参与判断
	if bytes.HasPrefix(data, riffSignature) && bytes.Equal(data[8:12], webpSignature) {
		return FormatWebP, true
	}

	return "", false
}
