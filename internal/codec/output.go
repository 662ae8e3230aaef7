package codec

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/hupe1980/lexgo/internal/hash"
)

const outputBufferSize = 64 * 1024

// Output is a buffered writer that tracks the number of bytes written and a
// running CRC32C over them, so a footer can be appended without re-reading.
type Output struct {
	w       *bufio.Writer
	name    string
	crc     uint32
	offset  int64
	scratch [binary.MaxVarintLen64]byte
}

// NewOutput wraps w. name identifies the resource in errors.
func NewOutput(w io.Writer, name string) *Output {
	return &Output{w: bufio.NewWriterSize(w, outputBufferSize), name: name}
}

// Name returns the resource name.
func (o *Output) Name() string { return o.name }

// Offset returns the number of bytes written so far.
func (o *Output) Offset() int64 { return o.offset }

// Checksum returns the CRC32C of every byte written so far.
func (o *Output) Checksum() uint32 { return o.crc }

// Write implements io.Writer.
func (o *Output) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	o.crc = hash.UpdateCRC32C(o.crc, p[:n])
	o.offset += int64(n)
	return n, err
}

// WriteByte implements io.ByteWriter.
func (o *Output) WriteByte(c byte) error {
	o.scratch[0] = c
	_, err := o.Write(o.scratch[:1])
	return err
}

func (o *Output) WriteUint32(v uint32) error {
	binary.BigEndian.PutUint32(o.scratch[:4], v)
	_, err := o.Write(o.scratch[:4])
	return err
}

func (o *Output) WriteUint64(v uint64) error {
	binary.BigEndian.PutUint64(o.scratch[:8], v)
	_, err := o.Write(o.scratch[:8])
	return err
}

func (o *Output) WriteUvarint(v uint64) error {
	n := binary.PutUvarint(o.scratch[:], v)
	_, err := o.Write(o.scratch[:n])
	return err
}

func (o *Output) WriteVarint(v int64) error {
	n := binary.PutVarint(o.scratch[:], v)
	_, err := o.Write(o.scratch[:n])
	return err
}

// WriteBytes writes b prefixed with its uvarint length.
func (o *Output) WriteBytes(b []byte) error {
	if err := o.WriteUvarint(uint64(len(b))); err != nil {
		return err
	}
	_, err := o.Write(b)
	return err
}

// WriteString writes s prefixed with its uvarint length.
func (o *Output) WriteString(s string) error {
	if err := o.WriteUvarint(uint64(len(s))); err != nil {
		return err
	}
	_, err := o.w.WriteString(s)
	if err == nil {
		o.crc = hash.UpdateCRC32C(o.crc, []byte(s))
		o.offset += int64(len(s))
	}
	return err
}

// Flush writes buffered data to the underlying writer.
func (o *Output) Flush() error { return o.w.Flush() }
