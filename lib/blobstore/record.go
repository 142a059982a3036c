// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"fmt"

	"github.com/fathomworks/fathom/lib/codec"
	"github.com/fathomworks/fathom/lib/fingerprint"
)

// blobRecordVersion is the format version of stored blob records.
// Bump when the record shape or payload encoding changes.
const blobRecordVersion = 1

// blobRecord is the stored envelope around blob bytes. The
// fingerprint is computed over the uncompressed data and verified on
// every read, so silent corruption in either backend surfaces as an
// explicit error instead of wrong bytes.
type blobRecord struct {
	Version          int              `cbor:"version"`
	Fingerprint      fingerprint.Hash `cbor:"fingerprint"`
	Compression      uint8            `cbor:"compression"`
	UncompressedSize int              `cbor:"uncompressed_size"`
	Payload          []byte           `cbor:"payload"`
}

// encodeRecord wraps blob bytes in a compressed, fingerprinted record.
func encodeRecord(data []byte) ([]byte, error) {
	payload, tag, err := compressAuto(data)
	if err != nil {
		return nil, fmt.Errorf("compressing blob: %w", err)
	}

	record := blobRecord{
		Version:          blobRecordVersion,
		Fingerprint:      fingerprint.Blob(data),
		Compression:      uint8(tag),
		UncompressedSize: len(data),
		Payload:          payload,
	}
	raw, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding blob record: %w", err)
	}
	return raw, nil
}

// decodeRecord unwraps a stored record back into blob bytes,
// decompressing and verifying the fingerprint.
func decodeRecord(raw []byte) ([]byte, error) {
	var record blobRecord
	if err := codec.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decoding blob record: %w", err)
	}
	if record.Version != blobRecordVersion {
		return nil, fmt.Errorf("blob record version %d is not supported (expected %d)",
			record.Version, blobRecordVersion)
	}

	data, err := decompress(record.Payload, compressionTag(record.Compression), record.UncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("decompressing blob: %w", err)
	}
	if fingerprint.Blob(data) != record.Fingerprint {
		return nil, fmt.Errorf("blob fingerprint mismatch (stored data is corrupt)")
	}
	return data, nil
}
