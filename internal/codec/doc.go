// Package codec holds the low-level building blocks shared by every lexgo file
// format: the codec header that names and versions a file, the checksummed
// footer that closes it, and bounds-checked primitive readers and writers.
//
// Every file starts with
//
//	Magic(uint32=0x3fd76c17) | CodecName(uvarint len + ASCII) | Version(int32) | ID(16 bytes)
//
// and ends with
//
//	FooterMagic(uint32=^Magic) | AlgorithmID(uint32=0) | Checksum(uint64)
//
// where Checksum is the CRC32C of every byte before it, footer magic and
// algorithm id included. All fixed-width integers are big-endian.
package codec
