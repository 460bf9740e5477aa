package lens

import (
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompress compresses a byte slice using zstd, used for pristine source snapshots.
func ZstdCompress(dst, data []byte) []byte {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(err) // theoretically not possible
	}
	defer func() { _ = encoder.Close() }()

	return encoder.EncodeAll(data, dst)
}

// ZstdDecompress decompresses a zstd-compressed byte slice and returns the original data.
func ZstdDecompress(dst, data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, dst)
}

// SnappyCompress compresses a byte slice using snappy, used for the small function records.
func SnappyCompress(dst, data []byte) []byte {
	return s2.EncodeSnappyBest(dst, data)
}

// SnappyDecompress decompresses a snappy-compressed byte slice.
func SnappyDecompress(dst, data []byte) ([]byte, error) {
	return snappy.Decode(dst, data)
}
