// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress decodes the compressed blobs served by the CDN:
// manifests and chunks. Both use self-describing streaming frame
// formats, so the format is detected from the first four bytes rather
// than carried out of band.
package compress

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Format identifies a frame format. Values are stable; they appear in
// build descriptors as the "compression" field.
type Format uint8

const (
	// FormatZstd is a zstd frame. This is what the CDN serves for
	// manifests and chunks.
	FormatZstd Format = 1

	// FormatLZ4 is an LZ4 frame. Accepted for mirrors that repack
	// content for faster decode.
	FormatLZ4 Format = 2
)

// Frame magic numbers, as they appear on the wire (little-endian).
var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// ErrUnknownFormat is returned when a blob starts with neither the
// zstd nor the LZ4 frame magic.
var ErrUnknownFormat = errors.New("unknown compression format")

// String returns the format name.
func (format Format) String() string {
	switch format {
	case FormatZstd:
		return "zstd"
	case FormatLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", format)
	}
}

// ParseFormat parses a format name.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "zstd":
		return FormatZstd, nil
	case "lz4":
		return FormatLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression format %q", name)
	}
}

// Detect returns the format of a blob from its leading bytes.
func Detect(prefix []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(prefix, zstdMagic):
		return FormatZstd, nil
	case bytes.HasPrefix(prefix, lz4Magic):
		return FormatLZ4, nil
	default:
		return 0, ErrUnknownFormat
	}
}

// zstd decoders are pooled: creating one allocates its window, and
// every chunk download needs one. Concurrency 1 keeps each decoder
// synchronous on the worker that owns it.
var zstdDecoders = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic("compress: zstd decoder initialization failed: " + err.Error())
		}
		return decoder
	},
}

// NewReader returns a streaming decompressor over r. The frame format
// is detected from the stream itself. Close releases the decoder; it
// does not close r.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	buffered := bufio.NewReader(r)
	prefix, err := buffered.Peek(len(zstdMagic))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading frame magic: %w", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("reading frame magic: %w", err)
	}

	format, err := Detect(prefix)
	if err != nil {
		return nil, fmt.Errorf("% x: %w", prefix, err)
	}

	switch format {
	case FormatZstd:
		decoder := zstdDecoders.Get().(*zstd.Decoder)
		if err := decoder.Reset(buffered); err != nil {
			zstdDecoders.Put(decoder)
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return &zstdReader{decoder: decoder}, nil
	default:
		return io.NopCloser(lz4.NewReader(buffered)), nil
	}
}

type zstdReader struct {
	decoder *zstd.Decoder
}

func (reader *zstdReader) Read(p []byte) (int, error) {
	if reader.decoder == nil {
		return 0, errors.New("zstd: read after close")
	}
	n, err := reader.decoder.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("zstd: %w", err)
	}
	return n, err
}

func (reader *zstdReader) Close() error {
	if reader.decoder == nil {
		return nil
	}
	// Detach the decoder from the source before pooling it.
	_ = reader.decoder.Reset(nil)
	zstdDecoders.Put(reader.decoder)
	reader.decoder = nil
	return nil
}

// Decompress reads all of r through the detected decompressor. limit
// bounds the decompressed size; more output than limit is an error. A
// non-positive limit means unbounded.
func Decompress(r io.Reader, limit int64) ([]byte, error) {
	reader, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var buffer bytes.Buffer
	if limit > 0 {
		buffer.Grow(int(min(limit, 64<<20)))
		written, err := io.Copy(&buffer, io.LimitReader(reader, limit+1))
		if err != nil {
			return nil, err
		}
		if written > limit {
			return nil, fmt.Errorf("decompressed size exceeds %d bytes", limit)
		}
		return buffer.Bytes(), nil
	}

	if _, err := io.Copy(&buffer, reader); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// zstdEncoder is shared; EncodeAll is safe for concurrent use.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		// Empty input still produces a decodable frame.
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
}

// Compress encodes data as a single frame of the given format. Used by
// lib/pack to publish content and by tests to build fixtures.
func Compress(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatZstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2+64)), nil

	case FormatLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression format %d", format)
	}
}
