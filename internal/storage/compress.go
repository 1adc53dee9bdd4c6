package storage

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	encodingNone = ""
	encodingZstd = "zstd"

	// Logs shorter than this are stored uncompressed.
	compressThreshold = 512
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("storage: creating zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("storage: creating zstd decoder: %v", err))
	}
}

// encodeLogs returns the stored form of logs and its encoding tag.
func encodeLogs(logs string) ([]byte, string) {
	if len(logs) < compressThreshold {
		return []byte(logs), encodingNone
	}
	return zstdEncoder.EncodeAll([]byte(logs), nil), encodingZstd
}

func decodeLogs(data []byte, encoding string) (string, error) {
	switch encoding {
	case encodingNone:
		return string(data), nil
	case encodingZstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return "", fmt.Errorf("decompressing logs: %w", err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("unknown logs encoding %q", encoding)
	}
}
