package datapool

import "encoding/binary"

// Header layout, exactly per spec.md §6:
//
//	16 bytes  ASCII signature
//	 4 bytes  little-endian version
//	 8 bytes  little-endian total size in bytes
//	 8 bytes  little-endian flags (bit 0: dirty)
//	128 bytes user signature, null-padded
//	256 bytes opaque user data
const (
	signatureSize     = 16
	versionSize       = 4
	totalSizeSize     = 8
	flagsSize         = 8
	userSignatureSize = 128
	userDataSize      = 256

	HeaderSize = signatureSize + versionSize + totalSizeSize + flagsSize + userSignatureSize + userDataSize

	offSignature     = 0
	offVersion       = offSignature + signatureSize
	offTotalSize     = offVersion + versionSize
	offFlags         = offTotalSize + totalSizeSize
	offUserSignature = offFlags + flagsSize
	offUserData      = offUserSignature + userSignatureSize
)

// signature identifies a segcache datapool region; engineVersion is bumped
// whenever the header layout changes incompatibly.
var signature = [signatureSize]byte{'S', 'E', 'G', 'C', 'A', 'C', 'H', 'E', 'D', 'A', 'T', 'A', 'P', 'O', 'O', 'L'}

const engineVersion uint32 = 1

// FlagDirty is set while a pool is open and cleared on clean teardown
// (spec.md §6 "On clean teardown, the dirty bit is cleared").
const FlagDirty uint64 = 1 << 0

type header struct {
	totalSize     uint64
	flags         uint64
	userSignature [userSignatureSize]byte
	userData      [userDataSize]byte
}

func readHeader(b []byte) (header, bool) {
	var h header

	if len(b) < HeaderSize {
		return h, false
	}

	if string(b[offSignature:offSignature+signatureSize]) != string(signature[:]) {
		return h, false
	}

	if binary.LittleEndian.Uint32(b[offVersion:]) != engineVersion {
		return h, false
	}

	h.totalSize = binary.LittleEndian.Uint64(b[offTotalSize:])
	h.flags = binary.LittleEndian.Uint64(b[offFlags:])
	copy(h.userSignature[:], b[offUserSignature:offUserSignature+userSignatureSize])
	copy(h.userData[:], b[offUserData:offUserData+userDataSize])

	return h, true
}

func writeHeader(b []byte, h header) {
	copy(b[offSignature:], signature[:])
	binary.LittleEndian.PutUint32(b[offVersion:], engineVersion)
	binary.LittleEndian.PutUint64(b[offTotalSize:], h.totalSize)
	binary.LittleEndian.PutUint64(b[offFlags:], h.flags)
	copy(b[offUserSignature:offUserSignature+userSignatureSize], h.userSignature[:])
	copy(b[offUserData:offUserData+userDataSize], h.userData[:])
}
