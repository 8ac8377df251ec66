package serializer

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/marmos91/dittocache/pkg/cache"
)

// Codec identifies a compression algorithm. The value is stored as the
// first byte of every compressed record.
type Codec uint8

const (
	// CodecStored marks a record kept uncompressed because compression
	// did not pay off.
	CodecStored Codec = 0
	CodecLZ4    Codec = 1
	CodecZstd   Codec = 2
	CodecS2     Codec = 3
)

func (c Codec) String() string {
	switch c {
	case CodecStored:
		return "stored"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	case CodecS2:
		return "s2"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec maps a configuration name to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	case "s2":
		return CodecS2, nil
	default:
		return 0, fmt.Errorf("serializer: unknown compression %q", name)
	}
}

const (
	// minCompressSize is the smallest record worth compressing.
	minCompressSize = 64

	// maxRecordSize caps the buffer allocated for a decoded record.
	maxRecordSize = 1 << 30
)

// Both are safe for concurrent EncodeAll/DecodeAll calls.
var (
	zstdEncoder = sync.OnceValue(func() *zstd.Encoder {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	})
	zstdDecoder = sync.OnceValue(func() *zstd.Decoder {
		dec, _ := zstd.NewReader(nil)
		return dec
	})
)

// Compressing wraps another serializer and compresses its output.
//
// Record layout: codec u8, uncompressed length uvarint, payload. Records
// that do not shrink by at least 10% are stored as-is with CodecStored.
type Compressing struct {
	inner Serializer
	codec Codec
}

// NewCompressing returns a serializer that compresses inner's output.
func NewCompressing(inner Serializer, codec Codec) *Compressing {
	return &Compressing{inner: inner, codec: codec}
}

func (c *Compressing) Name() string { return c.inner.Name() + "+" + c.codec.String() }

func (c *Compressing) Serialize(e *cache.Element) ([]byte, error) {
	raw, err := c.inner.Serialize(e)
	if err != nil {
		return nil, err
	}

	var packed []byte
	if len(raw) >= minCompressSize {
		packed, err = compress(c.codec, raw)
		if err != nil {
			return nil, fmt.Errorf("serializer: %s compress: %w", c.codec, err)
		}
	}

	codec := c.codec
	if packed == nil || len(packed)*10 > len(raw)*9 {
		codec, packed = CodecStored, raw
	}

	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(packed))
	out = append(out, byte(codec))
	out = binary.AppendUvarint(out, uint64(len(raw)))
	return append(out, packed...), nil
}

func (c *Compressing) Deserialize(data []byte) (*cache.Element, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	codec := Codec(data[0])
	rawLen, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad length", ErrMalformed)
	}
	payload := data[1+n:]

	raw, err := decompress(codec, payload, rawLen)
	if err != nil {
		return nil, err
	}
	return c.inner.Deserialize(raw)
}

func compress(codec Codec, src []byte) ([]byte, error) {
	switch codec {
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil // incompressible
		}
		return dst[:n], nil
	case CodecZstd:
		return zstdEncoder().EncodeAll(src, nil), nil
	case CodecS2:
		return s2.Encode(nil, src), nil
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

func decompress(codec Codec, src []byte, rawLen uint64) ([]byte, error) {
	if codec == CodecStored {
		if uint64(len(src)) != rawLen {
			return nil, fmt.Errorf("%w: stored length %d, want %d", ErrMalformed, len(src), rawLen)
		}
		return src, nil
	}

	if rawLen > maxRecordSize {
		return nil, fmt.Errorf("%w: implausible length %d", ErrMalformed, rawLen)
	}

	var (
		out []byte
		err error
	)
	switch codec {
	case CodecLZ4:
		out = make([]byte, rawLen)
		var n int
		n, err = lz4.UncompressBlock(src, out)
		out = out[:max(n, 0)]
	case CodecZstd:
		out, err = zstdDecoder().DecodeAll(src, make([]byte, 0, rawLen))
	case CodecS2:
		out, err = s2.Decode(make([]byte, rawLen), src)
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrMalformed, uint8(codec))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, codec, err)
	}
	if uint64(len(out)) != rawLen {
		return nil, fmt.Errorf("%w: %s decoded %d bytes, want %d", ErrMalformed, codec, len(out), rawLen)
	}
	return out, nil
}
