package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	t.Run("StreamingMatchesOneShot", func(t *testing.T) {
		h := NewCRC32C()
		_, _ = h.Write(data[:10])
		_, _ = h.Write(data[10:])
		assert.Equal(t, CRC32C(data), h.Sum32())
	})

	t.Run("UpdateMatchesOneShot", func(t *testing.T) {
		crc := UpdateCRC32C(0, data[:7])
		crc = UpdateCRC32C(crc, data[7:])
		assert.Equal(t, CRC32C(data), crc)
	})

	t.Run("KnownVector", func(t *testing.T) {
		// RFC 3720 B.4: 32 bytes of zeros.
		assert.Equal(t, uint32(0x8a9136aa), CRC32C(make([]byte, 32)))
	})
}
