package codec

import (
	"encoding/binary"
	"math"
)

// Input reads primitives from an in-memory (usually memory-mapped) file.
// Every read is bounds-checked; running off the end is reported as
// corruption.
type Input struct {
	buf  []byte
	pos  int
	name string
}

// NewInput returns an Input positioned at the start of buf.
func NewInput(buf []byte, name string) *Input {
	return &Input{buf: buf, name: name}
}

func (in *Input) Name() string { return in.name }

// Len returns the total length of the underlying buffer.
func (in *Input) Len() int { return len(in.buf) }

// Pos returns the current read position.
func (in *Input) Pos() int { return in.pos }

// Remaining returns the number of unread bytes.
func (in *Input) Remaining() int { return len(in.buf) - in.pos }

// Seek moves the read position to pos.
func (in *Input) Seek(pos int) error {
	if pos < 0 || pos > len(in.buf) {
		return Corruptf(in.name, "seek to %d beyond length %d", pos, len(in.buf))
	}
	in.pos = pos
	return nil
}

// Slice returns a new Input over buf[off:off+n], positioned at its start.
func (in *Input) Slice(off, n int64) (*Input, error) {
	if off < 0 || n < 0 || off > int64(len(in.buf)) || n > int64(len(in.buf))-off {
		return nil, Corruptf(in.name, "slice [%d,+%d) beyond length %d", off, n, len(in.buf))
	}
	return &Input{buf: in.buf[off : off+n], name: in.name}, nil
}

func (in *Input) need(n int) error {
	if n < 0 || n > len(in.buf)-in.pos {
		return Corruptf(in.name, "read past EOF: need %d bytes at %d, length %d", n, in.pos, len(in.buf))
	}
	return nil
}

// ReadByte implements io.ByteReader.
func (in *Input) ReadByte() (byte, error) {
	if err := in.need(1); err != nil {
		return 0, err
	}
	b := in.buf[in.pos]
	in.pos++
	return b, nil
}

func (in *Input) ReadUint32() (uint32, error) {
	if err := in.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(in.buf[in.pos:])
	in.pos += 4
	return v, nil
}

func (in *Input) ReadUint64() (uint64, error) {
	if err := in.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(in.buf[in.pos:])
	in.pos += 8
	return v, nil
}

func (in *Input) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(in.buf[in.pos:])
	if n <= 0 {
		return 0, Corruptf(in.name, "bad uvarint at %d", in.pos)
	}
	in.pos += n
	return v, nil
}

func (in *Input) ReadVarint() (int64, error) {
	v, n := binary.Varint(in.buf[in.pos:])
	if n <= 0 {
		return 0, Corruptf(in.name, "bad varint at %d", in.pos)
	}
	in.pos += n
	return v, nil
}

// ReadInt reads a uvarint that must fit a non-negative int32.
func (in *Input) ReadInt() (int, error) {
	v, err := in.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, Corruptf(in.name, "value %d out of range at %d", v, in.pos)
	}
	return int(v), nil
}

// ReadN returns the next n bytes without copying.
func (in *Input) ReadN(n int) ([]byte, error) {
	if err := in.need(n); err != nil {
		return nil, err
	}
	b := in.buf[in.pos : in.pos+n : in.pos+n]
	in.pos += n
	return b, nil
}

// ReadBytes reads a uvarint length followed by that many bytes, without
// copying.
func (in *Input) ReadBytes() ([]byte, error) {
	n, err := in.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(in.Remaining()) {
		return nil, Corruptf(in.name, "length %d exceeds remaining %d at %d", n, in.Remaining(), in.pos)
	}
	return in.ReadN(int(n))
}

// ReadString reads a length-prefixed string.
func (in *Input) ReadString() (string, error) {
	b, err := in.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
