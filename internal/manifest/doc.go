// Package manifest persists commit points of an index.
//
// # Overview
//
// A commit point (SegmentInfos) lists the segments that make up the index at
// a given generation together with their deletion state. Segments are
// immutable; deletions live in versioned .liv files referenced through
// SegmentCommitInfo.DelGen.
//
// # Binary Format
//
// Each generation is stored in MANIFEST-NNNNNN.bin:
//
//	Header  - codec header "LexgoSegmentInfos" (see internal/codec)
//	Generation (uvarint)
//	Version (uvarint)  - change counter, bumped on every in-memory change
//	Counter (uvarint)  - next segment name counter
//	CreatedAt (varint) - Unix nanoseconds
//	UserData           - uvarint count + string pairs
//	NumSegments (uvarint)
//	Segments[]:
//	  Name, ID (16 bytes), Format
//	  DocCount, DelCount (uvarint)
//	  DelGen (varint), SizeBytes (uvarint)
//	  Files (uvarint count + strings)
//	Footer  - CRC32C checksum
//
// # Atomic Protocol
//
// Save follows a two-step commit:
//
//  1. Write the manifest blob MANIFEST-NNNNNN.bin (N is the generation)
//  2. Replace the CURRENT pointer blob with the new manifest name
//
// On local filesystems step 2 is an atomic rename. On S3 a single PUT is
// immediately visible; a DynamoDB commit store turns it into a conditional
// write.
//
// Load reads CURRENT to find the active manifest, then loads that file.
//
// # Thread Safety
//
// All Store methods are protected by a mutex and safe for concurrent use.
// SegmentInfos values are not; callers clone before sharing.
package manifest
