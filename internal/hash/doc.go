// Package hash provides the CRC32-Castagnoli checksum used by every lexgo file
// footer and by remote uploads.
//
// One-shot:
//
//	sum := hash.CRC32C(data)
//
// Streaming, e.g. while a segment file is being written:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	sum := h.Sum32()
//
// Go's hash/crc32 uses SSE4.2 or the ARM CRC extension when available.
package hash
