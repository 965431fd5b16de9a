package merkle

// Proof is a sibling-hash membership proof for one target node, matching
// the wire shape of spec.md §6 (field names follow
// original_source/src/clua-machine-util.cpp's cm_merkle_tree_proof).
type Proof struct {
	TargetAddress  uint64
	Log2TargetSize uint
	Log2RootSize   uint
	TargetHash     Hash
	RootHash       Hash
	SiblingHashes  []Hash
}

// GetProof returns a proof for the node spanning
// [addr, addr+2^log2Size), with the tree brought up to date first.
// Sibling ordering: the sibling at depth d (log2TargetSize <= d <
// log2RootSize) is stored at index log2RootSize-1-d (spec.md §4.5).
func (t *Tree) GetProof(addr uint64, log2Size uint) (Proof, error) {
	if log2Size < WordLog2 || log2Size > RootLog2 {
		return Proof{}, InvalidTarget{Addr: addr, Log2Size: log2Size}
	}
	if log2Size == RootLog2 {
		if addr != 0 {
			return Proof{}, InvalidTarget{Addr: addr, Log2Size: log2Size}
		}
	} else if addr&((uint64(1)<<log2Size)-1) != 0 {
		return Proof{}, InvalidTarget{Addr: addr, Log2Size: log2Size}
	}

	t.Update()

	siblingCount := RootLog2 - log2Size
	siblings := make([]Hash, siblingCount)

	cur := addr
	for d := log2Size; d < RootLog2; d++ {
		size := uint64(1) << d
		siblingAddr := cur ^ size
		idx := RootLog2 - 1 - d
		siblings[idx] = t.hash(d, siblingAddr)
		cur &^= size
	}

	return Proof{
		TargetAddress:  addr,
		Log2TargetSize: log2Size,
		Log2RootSize:   RootLog2,
		TargetHash:     t.hash(log2Size, addr),
		RootHash:       t.hash(RootLog2, 0),
		SiblingHashes:  siblings,
	}, nil
}

// VerifyProof recomputes the root from a target hash and sibling list and
// reports whether it matches p.RootHash. Used both by Tree.SelfCheck-style
// consumers and by the access-log Verifier.
func VerifyProof(p Proof) bool {
	return recomputeRoot(p.TargetAddress, p.Log2TargetSize, p.Log2RootSize, p.TargetHash, p.SiblingHashes) == p.RootHash
}

// RecomputeRoot walks a target hash up to the root using the supplied
// sibling hashes, returning the recomputed root. Exported for
// internal/verify, which substitutes a write's post-image into an
// otherwise-unchanged proof to derive the tree's new root without
// holding a live *Tree.
func RecomputeRoot(addr uint64, log2Target, log2Root uint, target Hash, siblings []Hash) Hash {
	return recomputeRoot(addr, log2Target, log2Root, target, siblings)
}

// recomputeRoot walks a target hash up to the root using the supplied
// sibling hashes, returning the recomputed root.
func recomputeRoot(addr uint64, log2Target, log2Root uint, target Hash, siblings []Hash) Hash {
	cur := target
	a := addr
	for d := log2Target; d < log2Root; d++ {
		idx := log2Root - 1 - d
		sibling := siblings[idx]
		size := uint64(1) << d
		if a&size == 0 {
			cur = hashNode(cur, sibling)
		} else {
			cur = hashNode(sibling, cur)
		}
		a &^= size
	}
	return cur
}
