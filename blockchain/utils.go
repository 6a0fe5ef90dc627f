package blockchain

import (
	"encoding/binary"
)

// IntToHex returns the big endian bytes of n.
func IntToHex(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}
