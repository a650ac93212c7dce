package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression tags the stored frame. The numeric values are persisted.
type Compression byte

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// maxValueSize bounds the allocation a corrupt length prefix can cause.
const maxValueSize = 64 << 20

var errCorruptFrame = errors.New("corrupt cache frame")

func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", name)
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", byte(c))
}

// codec frames values as: tag byte, then either the raw value (tag 0) or
// uvarint raw length followed by the compressed payload. Frames written
// under any algorithm remain readable whatever the current setting is.
type codec struct {
	algo     Compression
	minBytes int
	zenc     *zstd.Encoder
	zdec     *zstd.Decoder
}

func newCodec(algo Compression, minBytes int) (*codec, error) {
	c := &codec{algo: algo, minBytes: minBytes}
	var err error
	if c.zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	if c.zdec, err = zstd.NewReader(nil); err != nil {
		c.zenc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return c, nil
}

func (c *codec) encode(raw []byte) []byte {
	if c.algo == CompressionNone || len(raw) < c.minBytes {
		return rawFrame(raw)
	}
	var payload []byte
	switch c.algo {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil || n == 0 {
			return rawFrame(raw)
		}
		payload = dst[:n]
	case CompressionZstd:
		payload = c.zenc.EncodeAll(raw, nil)
	}
	if len(payload) >= len(raw) {
		return rawFrame(raw)
	}
	frame := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	frame[0] = byte(c.algo)
	frame = binary.AppendUvarint(frame, uint64(len(raw)))
	return append(frame, payload...)
}

func rawFrame(raw []byte) []byte {
	frame := make([]byte, 1+len(raw))
	frame[0] = byte(CompressionNone)
	copy(frame[1:], raw)
	return frame
}

func (c *codec) decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errCorruptFrame
	}
	tag := Compression(frame[0])
	if tag == CompressionNone {
		return frame[1:], nil
	}
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 || size > maxValueSize {
		return nil, errCorruptFrame
	}
	payload := frame[1+n:]
	switch tag {
	case CompressionLZ4:
		dst := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return dst, nil
	case CompressionZstd:
		out, err := c.zdec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: tag %d", errCorruptFrame, frame[0])
}

func (c *codec) close() {
	c.zenc.Close()
	c.zdec.Close()
}
