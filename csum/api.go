// Package csum implements the checksum and header-verification primitives:
// the data/tree-block/super-block checksum flavors, streamed through a
// checksum function and compared against the on-disk value carried in the
// extent's metadata.
//
// Checksumming uses stdlib hash/crc32 with the Castagnoli (crc32c)
// polynomial, streaming bytes through a stdlib hash package rather than a
// third-party checksum library. Header (de)serialization instead uses
// github.com/NVIDIA/cstruct, the same struct-packing convention used
// elsewhere in this repository for on-disk metadata layouts.
package csum

import (
	"hash/crc32"

	"github.com/NVIDIA/cstruct"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the crc32c checksum of buf.
func Checksum(buf []byte) uint32 {
	return crc32.Checksum(buf, castagnoliTable)
}

// TreeBlockHeader is the fixed-size header at the start of every metadata
// node/leaf: its own checksum covers everything past CsumBytes.
type TreeBlockHeader struct {
	Csum uint32
	FSID [16]byte
	Bytenr uint64 // must equal the block's logical address
	Flags uint64
	ChunkTreeUUID [16]byte
	Generation uint64
	Owner uint64
	NumItems uint32
	Level uint8
}

// CsumBytes is the size, in bytes, of the leading checksum field common to
// both header flavors: checksummed data starts immediately after it.
const CsumBytes = 4

// PackTreeBlockHeader serializes hdr with cstruct, little-endian, the same
// on-disk convention used for every other struct in this repository.
func PackTreeBlockHeader(hdr TreeBlockHeader) ([]byte, error) {
	return cstruct.Pack(hdr, cstruct.LittleEndian)
}

// UnpackTreeBlockHeader parses a TreeBlockHeader from the front of buf.
func UnpackTreeBlockHeader(buf []byte) (hdr TreeBlockHeader, err error) {
	_, err = cstruct.Unpack(buf, &hdr, cstruct.LittleEndian)
	return
}

// SuperBlockHeader mirrors TreeBlockHeader's shape; kept as a distinct type
// since super-block errors are reported-only, never repaired here.
type SuperBlockHeader struct {
	Csum uint32
	FSID [16]byte
	Bytenr uint64
	Generation uint64
	Magic [8]byte
}

func PackSuperBlockHeader(hdr SuperBlockHeader) ([]byte, error) {
	return cstruct.Pack(hdr, cstruct.LittleEndian)
}

func UnpackSuperBlockHeader(buf []byte) (hdr SuperBlockHeader, err error) {
	_, err = cstruct.Unpack(buf, &hdr, cstruct.LittleEndian)
	return
}
