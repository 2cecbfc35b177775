// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Well-known store keys.
const (
	KeyOffer  = "offer"
	KeyAnswer = "answer"
)

// Record is a session description as stored under KeyOffer or
// KeyAnswer. It marshals to the same {"type","sdp"} object as a
// browser's RTCSessionDescription.
type Record struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ErrEmptyRecord is returned when decoding a record with no SDP.
var ErrEmptyRecord = errors.New("signaling: record has no sdp")

// Compression selects how Encode wraps a record.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression maps a config name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("signaling: unknown compression %q", name)
	}
}

const (
	zstdPrefix = "zstd:"
	lz4Prefix  = "lz4:"
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("signaling: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(16<<20))
	if err != nil {
		panic("signaling: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode renders record as a store value. Compressed forms are
// "zstd:<base64>" and "lz4:<base64 of uvarint length + block>"; a
// record that does not shrink is stored as plain JSON.
func Encode(record Record, compression Compression) (string, error) {
	plain, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("signaling: encoding record: %w", err)
	}

	var packed []byte
	var prefix string
	switch compression {
	case CompressionNone:
		return string(plain), nil
	case CompressionZstd:
		prefix = zstdPrefix
		packed = zstdEncoder.EncodeAll(plain, nil)
	case CompressionLZ4:
		prefix = lz4Prefix
		block := make([]byte, lz4.CompressBlockBound(len(plain)))
		written, err := lz4.CompressBlock(plain, block, nil)
		if err != nil {
			return "", fmt.Errorf("signaling: lz4 compress: %w", err)
		}
		if written > 0 {
			packed = binary.AppendUvarint(nil, uint64(len(plain)))
			packed = append(packed, block[:written]...)
		}
	default:
		return "", fmt.Errorf("signaling: unsupported compression %s", compression)
	}

	encoded := prefix + base64.StdEncoding.EncodeToString(packed)
	if len(packed) == 0 || len(encoded) >= len(plain) {
		return string(plain), nil
	}
	return encoded, nil
}

// Decode parses a store value written by Encode, or a plain JSON
// record written by any other client.
func Decode(value string) (Record, error) {
	plain, err := unwrap(value)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(plain, &record); err != nil {
		return Record{}, fmt.Errorf("signaling: decoding record: %w", err)
	}
	if strings.TrimSpace(record.SDP) == "" {
		return Record{}, ErrEmptyRecord
	}
	return record, nil
}

func unwrap(value string) ([]byte, error) {
	switch {
	case strings.HasPrefix(value, zstdPrefix):
		packed, err := base64.StdEncoding.DecodeString(value[len(zstdPrefix):])
		if err != nil {
			return nil, fmt.Errorf("signaling: zstd envelope: %w", err)
		}
		plain, err := zstdDecoder.DecodeAll(packed, nil)
		if err != nil {
			return nil, fmt.Errorf("signaling: zstd decompress: %w", err)
		}
		return plain, nil
	case strings.HasPrefix(value, lz4Prefix):
		packed, err := base64.StdEncoding.DecodeString(value[len(lz4Prefix):])
		if err != nil {
			return nil, fmt.Errorf("signaling: lz4 envelope: %w", err)
		}
		size, n := binary.Uvarint(packed)
		if n <= 0 || size > 16<<20 {
			return nil, errors.New("signaling: lz4 envelope: bad length header")
		}
		plain := make([]byte, size)
		read, err := lz4.UncompressBlock(packed[n:], plain)
		if err != nil {
			return nil, fmt.Errorf("signaling: lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("signaling: lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return plain, nil
	}
	return []byte(value), nil
}
