// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compressionTag identifies the algorithm used for a stored blob
// payload. Tags are persisted in blob records, so the values are
// format constants.
type compressionTag uint8

const (
	// compressionNone stores the payload uncompressed. Chosen for
	// content the probe finds incompressible (ciphertext, media,
	// already-compressed archives).
	compressionNone compressionTag = 0

	// compressionLZ4 is LZ4 block compression. Fast with modest
	// ratios; chosen when content compresses a little but not enough
	// to pay the zstd CPU cost.
	compressionLZ4 compressionTag = 1

	// compressionZstd is zstd at the default level. Chosen for
	// text-like content where the probe sees a strong ratio.
	compressionZstd compressionTag = 2
)

func (tag compressionTag) String() string {
	switch tag {
	case compressionNone:
		return "none"
	case compressionLZ4:
		return "lz4"
	case compressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("blobstore: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blobstore: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible is returned when the compressed output would not
// be smaller than the input. The caller falls back to compressionNone.
var errIncompressible = errors.New("data is incompressible")

// compressAuto probes the data to pick an algorithm, compresses, and
// returns the payload with the tag used. Incompressible data is
// returned unchanged under compressionNone.
func compressAuto(data []byte) ([]byte, compressionTag, error) {
	tag := selectCompression(data)

	payload, err := compress(data, tag)
	if err != nil {
		if errors.Is(err, errIncompressible) {
			return data, compressionNone, nil
		}
		return nil, 0, err
	}
	return payload, tag, nil
}

// selectCompression probes with zstd and picks by ratio: strong
// ratios take zstd and marginal ones take the cheaper LZ4; anything
// below 1.1x is stored uncompressed.
func selectCompression(data []byte) compressionTag {
	if len(data) == 0 {
		return compressionNone
	}

	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))

	switch {
	case ratio >= 1.5:
		return compressionZstd
	case ratio >= 1.1:
		return compressionLZ4
	default:
		return compressionNone
	}
}

func compress(data []byte, tag compressionTag) ([]byte, error) {
	switch tag {
	case compressionNone:
		return data, nil
	case compressionLZ4:
		return compressLZ4(data)
	case compressionZstd:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// decompress reverses compress. The uncompressedSize must match the
// original length exactly; a mismatch is corruption.
func decompress(payload []byte, tag compressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case compressionNone:
		if len(payload) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d",
				len(payload), uncompressedSize)
		}
		return payload, nil
	case compressionLZ4:
		return decompressLZ4(payload, uncompressedSize)
	case compressionZstd:
		return decompressZstd(payload, uncompressedSize)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible. Also reject output that is not actually
	// smaller than the input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(payload []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(payload, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(payload []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, 0, uncompressedSize)
	result, err := zstdDecoder.DecodeAll(payload, destination)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
