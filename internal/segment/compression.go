package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the block compression of stored fields.
type Compression uint8

const (
	// CompressionNone stores blocks raw.
	CompressionNone Compression = 0
	// CompressionLZ4 is fast block compression, the default.
	CompressionLZ4 Compression = 1
	// CompressionZstd trades speed for ratio.
	CompressionZstd Compression = 2
	// CompressionSnappy is fast with a lower ratio than LZ4.
	CompressionSnappy Compression = 3
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses the String form of a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	case "snappy":
		return CompressionSnappy, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

func (c Compression) valid() bool { return c <= CompressionSnappy }

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Block layout: [uncompressedLen uint32][compressedLen uint32][data].
// compressedLen 0 means data is stored raw.
const blockHeaderSize = 8

// appendBlock appends data as a block to dst. Data that does not shrink by
// at least 10% is stored raw.
func appendBlock(dst, data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case CompressionSnappy:
		compressed = snappy.Encode(nil, data)
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}

	var hdr [blockHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:], uint32(len(data)))
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		dst = append(dst, hdr[:]...)
		return append(dst, data...), nil
	}
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(compressed)))
	dst = append(dst, hdr[:]...)
	return append(dst, compressed...), nil
}

var errBlockSize = errors.New("decompressed size mismatch")

// readBlock decodes the block at the start of data and returns its content
// and the encoded block length.
func readBlock(data []byte, c Compression) ([]byte, int, error) {
	if len(data) < blockHeaderSize {
		return nil, 0, errors.New("block too small for header")
	}
	rawLen := binary.BigEndian.Uint32(data[0:])
	compLen := binary.BigEndian.Uint32(data[4:])
	if compLen == 0 {
		end := blockHeaderSize + int(rawLen)
		if end > len(data) {
			return nil, 0, errors.New("block extends beyond data")
		}
		return data[blockHeaderSize:end], end, nil
	}
	end := blockHeaderSize + int(compLen)
	if end > len(data) {
		return nil, 0, errors.New("compressed block extends beyond data")
	}
	src := data[blockHeaderSize:end]
	out := make([]byte, rawLen)

	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(src, out)
		if err != nil {
			return nil, 0, err
		}
		if uint32(n) != rawLen {
			return nil, 0, errBlockSize
		}
	case CompressionZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, 0, err
		}
		decoded, err := dec.DecodeAll(src, out[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, 0, err
		}
		if uint32(len(decoded)) != rawLen {
			return nil, 0, errBlockSize
		}
		out = decoded
	case CompressionSnappy:
		n, err := snappy.DecodedLen(src)
		if err != nil {
			return nil, 0, err
		}
		if uint32(n) != rawLen {
			return nil, 0, errBlockSize
		}
		if _, err := snappy.Decode(out, src); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, fmt.Errorf("compressed block with compression %s", c)
	}
	return out, end, nil
}
