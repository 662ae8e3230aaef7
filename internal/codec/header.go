package codec

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/lexgo/internal/hash"
)

const (
	// CodecMagic opens every file.
	CodecMagic uint32 = 0x3fd76c17
	// FooterMagic opens every footer.
	FooterMagic = ^CodecMagic
	// FooterLength is the fixed size of a footer.
	FooterLength = 16
	// IDLength is the size of a segment id.
	IDLength = 16

	maxCodecNameLength = 127
)

// HeaderLength returns the encoded size of a header for codec.
func HeaderLength(codec string) int {
	return 4 + 1 + len(codec) + 4 + IDLength
}

// WriteHeader writes the codec header. A nil id writes zeros.
func WriteHeader(out *Output, codec string, version int32, id []byte) error {
	if len(codec) == 0 || len(codec) > maxCodecNameLength {
		return fmt.Errorf("codec name %q must be 1..%d bytes", codec, maxCodecNameLength)
	}
	for i := 0; i < len(codec); i++ {
		if codec[i] >= 0x80 {
			return fmt.Errorf("codec name %q must be ASCII", codec)
		}
	}
	if id != nil && len(id) != IDLength {
		return fmt.Errorf("segment id must be %d bytes, got %d", IDLength, len(id))
	}
	if err := out.WriteUint32(CodecMagic); err != nil {
		return err
	}
	if err := out.WriteString(codec); err != nil {
		return err
	}
	if err := out.WriteUint32(uint32(version)); err != nil {
		return err
	}
	var zero [IDLength]byte
	if id == nil {
		id = zero[:]
	}
	_, err := out.Write(id)
	return err
}

// CheckHeader reads and validates a header, returning the stored version.
// When id is non-nil the stored id must equal it.
func CheckHeader(in *Input, codec string, minVersion, maxVersion int32, id []byte) (int32, error) {
	magic, err := in.ReadUint32()
	if err != nil {
		return 0, err
	}
	if magic != CodecMagic {
		return 0, Corruptf(in.name, "codec header mismatch: actual magic=%#08x vs expected %#08x", magic, CodecMagic)
	}
	name, err := in.ReadString()
	if err != nil {
		return 0, err
	}
	if name != codec {
		return 0, Corruptf(in.name, "codec mismatch: actual codec=%q vs expected %q", name, codec)
	}
	raw, err := in.ReadUint32()
	if err != nil {
		return 0, err
	}
	version := int32(raw)
	if version < minVersion || version > maxVersion {
		return 0, &FormatVersionError{Resource: in.name, Codec: codec, Version: version, Min: minVersion, Max: maxVersion}
	}
	stored, err := in.ReadN(IDLength)
	if err != nil {
		return 0, err
	}
	if id != nil && !bytes.Equal(stored, id) {
		return 0, Corruptf(in.name, "file mismatch: expected id=%x, got=%x", id, stored)
	}
	return version, nil
}

// WriteFooter appends the footer and flushes out.
func WriteFooter(out *Output) error {
	if err := out.WriteUint32(FooterMagic); err != nil {
		return err
	}
	if err := out.WriteUint32(0); err != nil {
		return err
	}
	if err := out.WriteUint64(uint64(out.Checksum())); err != nil {
		return err
	}
	return out.Flush()
}

// ValidateFooter checks the footer structure of a complete file without
// computing the checksum and returns the stored checksum.
func ValidateFooter(data []byte, resource string) (uint32, error) {
	if len(data) < FooterLength {
		return 0, Corruptf(resource, "file too short for footer: %d bytes", len(data))
	}
	return parseFooter(data[len(data)-FooterLength:], resource)
}

// CheckFooter validates the footer of a complete file and verifies that the
// stored checksum matches the content.
func CheckFooter(data []byte, resource string) (uint32, error) {
	stored, err := ValidateFooter(data, resource)
	if err != nil {
		return 0, err
	}
	actual := hash.CRC32C(data[:len(data)-8])
	if actual != stored {
		return 0, Corruptf(resource, "checksum failed: actual=%#08x vs expected=%#08x", actual, stored)
	}
	return stored, nil
}

// Body returns the bytes of a file between its header and footer.
func Body(data []byte, codec string) []byte {
	start := HeaderLength(codec)
	end := len(data) - FooterLength
	if start > end {
		return nil
	}
	return data[start:end]
}

func parseFooter(footer []byte, resource string) (uint32, error) {
	magic := binary.BigEndian.Uint32(footer[0:4])
	if magic != FooterMagic {
		return 0, Corruptf(resource, "codec footer mismatch: actual footer=%#08x vs expected %#08x", magic, FooterMagic)
	}
	algorithm := binary.BigEndian.Uint32(footer[4:8])
	if algorithm != 0 {
		return 0, Corruptf(resource, "unknown checksum algorithm %d", algorithm)
	}
	checksum := binary.BigEndian.Uint64(footer[8:16])
	if checksum>>32 != 0 {
		return 0, Corruptf(resource, "illegal checksum %#x", checksum)
	}
	return uint32(checksum), nil
}

// RangeReader is the subset of a blob needed to verify it in a streaming
// fashion.
type RangeReader interface {
	Size() int64
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
}

// VerifyChecksum streams a whole blob through CRC32C and compares the result
// with its footer. Used for blobs that are not memory mapped.
func VerifyChecksum(ctx context.Context, r RangeReader, resource string) error {
	size := r.Size()
	if size < FooterLength {
		return Corruptf(resource, "file too short for footer: %d bytes", size)
	}
	rc, err := r.ReadRange(ctx, 0, size)
	if err != nil {
		return fmt.Errorf("verify %s: %w", resource, err)
	}
	defer rc.Close()

	h := hash.NewCRC32C()
	if _, err := io.CopyN(h, rc, size-8); err != nil {
		return fmt.Errorf("verify %s: %w", resource, err)
	}
	var tail [8]byte
	if _, err := io.ReadFull(rc, tail[:]); err != nil {
		return fmt.Errorf("verify %s: %w", resource, err)
	}
	stored := binary.BigEndian.Uint64(tail[:])
	if stored>>32 != 0 || uint32(stored) != h.Sum32() {
		return Corruptf(resource, "checksum failed: actual=%#08x vs expected=%#08x", h.Sum32(), stored)
	}
	return nil
}
