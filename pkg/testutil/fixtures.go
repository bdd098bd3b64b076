package testutil

import (
	"crypto/sha256"
	"encoding/binary"
)

// ObjectIDBytes derives a stable, non-zero 32-byte id for member n.
func ObjectIDBytes(n uint32) [32]byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], n)
	return sha256.Sum256(append([]byte("objectmap-fixture:"), buf[:]...))
}
