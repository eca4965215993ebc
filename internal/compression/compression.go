package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
)

// maxDecompressedSize 单帧解压后的上限，防止压缩炸弹
const maxDecompressedSize = 16 << 20

// Compressor 压缩器接口
type Compressor interface {
	Compress([]byte) ([]byte, error)   // 压缩数据
	Decompress([]byte) ([]byte, error) // 解压缩数据
}

// GzipCompressor Gzip压缩实现
type GzipCompressor struct{}

// Compress 使用Gzip压缩数据
func (g *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress 使用Gzip解压缩数据
func (g *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("data too short to be gzip compressed")
	}
	// gzip魔数（1F 8B）
	if data[0] != 0x1F || data[1] != 0x8B {
		return nil, fmt.Errorf("invalid gzip header")
	}

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressedSize)
	}
	return out, nil
}

// SnappyCompressor Snappy压缩实现
type SnappyCompressor struct{}

// Compress 使用Snappy压缩数据
func (s *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

// Decompress 使用Snappy解压缩数据
func (s *SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress failed: %w", err)
	}
	if n > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressedSize)
	}
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress failed: %w", err)
	}
	return decoded, nil
}

// NoneCompressor 不压缩
type NoneCompressor struct{}

func (NoneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (NoneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

// GetCompressor 根据名称获取压缩器，名称来自帧的 payload_encoding
func GetCompressor(name string) Compressor {
	switch name {
	case "snappy":
		return &SnappyCompressor{}
	case "none", "pb", "":
		return NoneCompressor{}
	default:
		return &GzipCompressor{}
	}
}
