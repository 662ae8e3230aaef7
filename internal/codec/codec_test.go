package codec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testID = []byte("0123456789abcdef")

func writeFile(t *testing.T, codec string, version int32, body func(out *Output)) []byte {
	t.Helper()
	var buf bytes.Buffer
	out := NewOutput(&buf, "test")
	require.NoError(t, WriteHeader(out, codec, version, testID))
	if body != nil {
		body(out)
	}
	require.NoError(t, WriteFooter(out))
	return buf.Bytes()
}

func TestHeaderFooterRoundTrip(t *testing.T) {
	data := writeFile(t, "TestCodec", 3, func(out *Output) {
		require.NoError(t, out.WriteUvarint(300))
		require.NoError(t, out.WriteVarint(-7))
		require.NoError(t, out.WriteString("hello"))
		require.NoError(t, out.WriteUint64(1<<40))
	})

	_, err := CheckFooter(data, "test")
	require.NoError(t, err)

	in := NewInput(data, "test")
	version, err := CheckHeader(in, "TestCodec", 1, 5, testID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), version)
	assert.Equal(t, HeaderLength("TestCodec"), in.Pos())

	u, err := in.ReadUvarint()
	require.NoError(t, err)
	assert.Equal(t, uint64(300), u)
	v, err := in.ReadVarint()
	require.NoError(t, err)
	assert.Equal(t, int64(-7), v)
	s, err := in.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	w, err := in.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), w)
	assert.Equal(t, FooterLength, in.Remaining())
}

func TestCheckHeader(t *testing.T) {
	data := writeFile(t, "TestCodec", 3, nil)

	t.Run("WrongCodec", func(t *testing.T) {
		_, err := CheckHeader(NewInput(data, "f"), "Other", 1, 5, nil)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("TooNew", func(t *testing.T) {
		_, err := CheckHeader(NewInput(data, "f"), "TestCodec", 1, 2, nil)
		require.ErrorIs(t, err, ErrFormatVersion)
		var fe *FormatVersionError
		require.True(t, errors.As(err, &fe))
		assert.True(t, fe.TooNew())
		assert.Equal(t, int32(3), fe.Version)
	})

	t.Run("TooOld", func(t *testing.T) {
		_, err := CheckHeader(NewInput(data, "f"), "TestCodec", 4, 6, nil)
		var fe *FormatVersionError
		require.True(t, errors.As(err, &fe))
		assert.False(t, fe.TooNew())
	})

	t.Run("WrongID", func(t *testing.T) {
		_, err := CheckHeader(NewInput(data, "f"), "TestCodec", 1, 5, []byte("fedcba9876543210"))
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("BadMagic", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] ^= 0xff
		_, err := CheckHeader(NewInput(bad, "f"), "TestCodec", 1, 5, nil)
		require.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestCheckFooterDetectsCorruption(t *testing.T) {
	data := writeFile(t, "TestCodec", 1, func(out *Output) {
		_, err := out.Write(bytes.Repeat([]byte{0xab}, 100))
		require.NoError(t, err)
	})

	for _, pos := range []int{0, 10, 60, len(data) - 12, len(data) - 1} {
		bad := bytes.Clone(data)
		bad[pos] ^= 0x01
		_, err := CheckFooter(bad, "f")
		require.ErrorIs(t, err, ErrCorrupt, "flip at %d", pos)
	}

	_, err := CheckFooter(data[:8], "f")
	require.ErrorIs(t, err, ErrCorrupt)
}

type bytesRange []byte

func (b bytesRange) Size() int64 { return int64(len(b)) }

func (b bytesRange) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b[off : off+length])), nil
}

func TestVerifyChecksum(t *testing.T) {
	data := writeFile(t, "TestCodec", 1, func(out *Output) {
		_, err := out.Write(bytes.Repeat([]byte("lexgo"), 50000))
		require.NoError(t, err)
	})
	require.NoError(t, VerifyChecksum(context.Background(), bytesRange(data), "f"))

	bad := bytes.Clone(data)
	bad[len(bad)/2] ^= 0x80
	require.ErrorIs(t, VerifyChecksum(context.Background(), bytesRange(bad), "f"), ErrCorrupt)
}

func TestInputBounds(t *testing.T) {
	in := NewInput([]byte{0x05, 'a', 'b'}, "short")
	_, err := in.ReadString()
	require.ErrorIs(t, err, ErrCorrupt)

	in = NewInput([]byte{0x01}, "short")
	_, err = in.ReadUint32()
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = in.Slice(0, 2)
	require.ErrorIs(t, err, ErrCorrupt)
	require.Error(t, in.Seek(5))
}

func TestWriteHeaderRejectsBadInput(t *testing.T) {
	out := NewOutput(io.Discard, "x")
	require.Error(t, WriteHeader(out, "", 1, nil))
	require.Error(t, WriteHeader(out, "Cödec", 1, nil))
	require.Error(t, WriteHeader(out, "Codec", 1, []byte{1, 2}))
}
