// Compression for large log payloads.
//
// Record bodies above Options.CompressThreshold are Zstd-compressed before
// framing. The record header carries a flag bit so readers know whether to
// decompress; small bodies are stored raw since the zstd frame overhead
// would outweigh any saving.
package quire

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Shared encoder/decoder; both are documented as safe for concurrent use.
// Allocated once because zstd encoder/decoder construction is expensive
// (internal state tables, dictionaries).
//
// SpeedFastest is deliberate: compression runs on every logged mutation
// (hot path) while decompression runs only during recovery (cold path).
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

func decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(ErrDecompress, err.Error())
	}
	return out, nil
}
