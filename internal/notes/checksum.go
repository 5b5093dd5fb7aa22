package notes

import "encoding/binary"

// Checksum fingerprints b for optimistic-concurrency checks. The bytes are
// read as consecutive big-endian uint32 words, the last one zero-padded on
// the right, and folded as acc = acc*31 + word with uint32 wraparound.
//
// It is not a cryptographic hash: collisions are possible and tolerated.
func Checksum(b []byte) uint32 {
	var acc uint32
	for len(b) >= 4 {
		acc = acc*31 + binary.BigEndian.Uint32(b)
		b = b[4:]
	}
	if len(b) > 0 {
		var word [4]byte
		copy(word[:], b)
		acc = acc*31 + binary.BigEndian.Uint32(word[:])
	}
	return acc
}

// ChecksumString is Checksum over the UTF-8 encoding of s.
func ChecksumString(s string) uint32 {
	return Checksum([]byte(s))
}
