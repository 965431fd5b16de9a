// Package merkle commits the machine's addressable RAM state to a single
// 32-byte Keccak-256 root over a complete binary tree spanning the full
// 2^64-byte address space (spec.md §3, §4.5). Empty subtrees use
// precomputed "pristine" hashes so that the sparse, mostly-unbacked
// address space never needs to be materialized.
package merkle

import "golang.org/x/crypto/sha3"

// Hash is a 32-byte Keccak-256 digest.
type Hash [32]byte

const (
	// WordLog2 is the leaf granularity: 2^3 = 8 bytes.
	WordLog2 = 3
	// RootLog2 is the size of the whole committed address space.
	RootLog2 = 64
	// PageLog2 is the dirty-tracking granularity (4 KiB).
	PageLog2 = 12
)

// HashLeafBytes hashes an 8-byte little-endian word given as raw bytes,
// the same way the tree hashes a leaf internally. Used by internal/verify
// to recompute a target hash from an access log's read/written data
// without re-deriving the tree's leaf encoding.
func HashLeafBytes(data []byte) Hash {
	var buf [8]byte
	copy(buf[:], data)
	var word uint64
	for i := 7; i >= 0; i-- {
		word = word<<8 | uint64(buf[i])
	}
	return hashLeaf(word)
}

func hashLeaf(word uint64) Hash {
	var buf [8]byte
	buf[0] = byte(word)
	buf[1] = byte(word >> 8)
	buf[2] = byte(word >> 16)
	buf[3] = byte(word >> 24)
	buf[4] = byte(word >> 32)
	buf[5] = byte(word >> 40)
	buf[6] = byte(word >> 48)
	buf[7] = byte(word >> 56)
	return keccak(buf[:])
}

func hashNode(left, right Hash) Hash {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return keccak(buf[:])
}

func keccak(data []byte) Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// buildPristineTable computes pristine[level] = the hash of an entirely
// zero-filled subtree spanning 2^level bytes, for level in [WordLog2,
// RootLog2].
func buildPristineTable() [RootLog2 + 1]Hash {
	var table [RootLog2 + 1]Hash
	table[WordLog2] = hashLeaf(0)
	for level := WordLog2 + 1; level <= RootLog2; level++ {
		table[level] = hashNode(table[level-1], table[level-1])
	}
	return table
}
