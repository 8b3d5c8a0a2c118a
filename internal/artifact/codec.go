package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrCorrupt marks an artifact blob that fails framing or checksum checks.
var ErrCorrupt = errors.New("corrupt artifact")

// Compression selects how artifact payloads are compressed.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

// ParseCompression maps a config value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// Frame layout, little endian:
//
//	0  magic        uint32
//	4  version      uint32
//	8  compression  uint8 (+3 reserved)
//	12 crc32        uint32 of bytes 8-11, 16-31 and the stored payload
//	16 raw size     uint64
//	24 stored size  uint64
const (
	MagicBytes    uint32 = 0x56534146
	FormatVersion uint32 = 2
	HeaderSize    int    = 32

	// MaxRawSize bounds the decoded payload of one artifact.
	MaxRawSize uint64 = 1 << 34
	// lz4 cannot expand a block by more than this factor.
	lz4MaxRatio = 255
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxRawSize))
	return dec
}

// Codec serialises artifacts with msgpack inside a checksummed frame.
type Codec struct {
	compression Compression
}

func NewCodec(c Compression) *Codec {
	return &Codec{compression: c}
}

// Encode marshals v with sorted map keys, so equal values give equal bytes,
// and frames the (optionally compressed) payload.
func (c *Codec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding artifact: %w", err)
	}
	raw := buf.Bytes()
	comp := c.compression
	stored := raw
	switch comp {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			comp = CompressionNone
		} else {
			stored = buf[:n]
		}
	case CompressionZSTD:
		enc := getZstdEncoder()
		stored = enc.EncodeAll(raw, nil)
		zstdEncoderPool.Put(enc)
	}

	out := make([]byte, HeaderSize+len(stored))
	binary.LittleEndian.PutUint32(out[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(out[4:8], FormatVersion)
	out[8] = byte(comp)
	binary.LittleEndian.PutUint64(out[16:24], uint64(len(raw)))
	binary.LittleEndian.PutUint64(out[24:32], uint64(len(stored)))
	copy(out[HeaderSize:], stored)
	binary.LittleEndian.PutUint32(out[12:16], frameChecksum(out))
	return out, nil
}

// frameChecksum covers everything but the magic, the version and the
// checksum field itself.
func frameChecksum(frame []byte) uint32 {
	sum := crc32.ChecksumIEEE(frame[8:12])
	return crc32.Update(sum, crc32.IEEETable, frame[16:])
}

// Decode verifies the frame and unmarshals the payload into v. Any blob
// written by Encode decodes regardless of the codec's own compression.
func (c *Codec) Decode(data []byte, v any) error {
	raw, err := unframe(data)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decoding payload: %v", ErrCorrupt, err)
	}
	return nil
}

func unframe(data []byte) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, magic)
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	comp := Compression(data[8])
	sum := binary.LittleEndian.Uint32(data[12:16])
	rawSize := binary.LittleEndian.Uint64(data[16:24])
	storedSize := binary.LittleEndian.Uint64(data[24:32])
	if storedSize != uint64(len(data)-HeaderSize) {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorrupt, len(data)-HeaderSize, storedSize)
	}
	if frameChecksum(data) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if rawSize > MaxRawSize {
		return nil, fmt.Errorf("%w: raw size %d exceeds %d", ErrCorrupt, rawSize, MaxRawSize)
	}
	stored := data[HeaderSize:]

	switch comp {
	case CompressionNone:
		if rawSize != storedSize {
			return nil, fmt.Errorf("%w: raw size %d differs from stored size %d", ErrCorrupt, rawSize, storedSize)
		}
		return stored, nil
	case CompressionLZ4:
		if storedSize > uint64(lz4.CompressBlockBound(int(rawSize))) || rawSize > lz4MaxRatio*(storedSize+1) {
			return nil, fmt.Errorf("%w: lz4 sizes %d/%d are inconsistent", ErrCorrupt, storedSize, rawSize)
		}
		raw := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(stored, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if uint64(n) != rawSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return raw, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		raw, err := dec.DecodeAll(stored, make([]byte, 0, min(rawSize, 64*(storedSize+1))))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if uint64(len(raw)) != rawSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, comp)
}
