package merkle

import (
	"fmt"
	"log/slog"

	"github.com/rvattest/machine/internal/physmem"
)

type cacheKey struct {
	level uint
	addr  uint64
}

// Tree is a Merkle commitment over a physmem.Map. Only RAM-backed ranges
// participate in the committed state: device ranges are external,
// non-deterministic I/O surfaces and are excluded (see DESIGN.md).
type Tree struct {
	pm       *physmem.Map
	pristine [RootLog2 + 1]Hash
	cache    map[cacheKey]Hash
	log      *slog.Logger
}

// New creates a Merkle tree committing to pm's RAM ranges.
func New(pm *physmem.Map, log *slog.Logger) *Tree {
	if log == nil {
		log = slog.Default()
	}
	return &Tree{
		pm:       pm,
		pristine: buildPristineTable(),
		cache:    make(map[cacheKey]Hash),
		log:      log,
	}
}

// Update rehashes the paths from every dirty page up to the root,
// clearing dirty bits as it goes (spec.md §4.5). It always succeeds
// (there is nothing for this model to fail on, since physmem already
// guarantees any write went to an actual backing buffer); the bool return
// matches the reference server RPC's `bool` result convention.
func (t *Tree) Update() bool {
	for _, r := range t.pm.Ranges() {
		if r.Kind != physmem.KindRAM {
			continue
		}
		for i := 0; i < r.PageCount(); i++ {
			if !r.Dirty(i) {
				continue
			}
			pageAddr := r.Base + uint64(i)<<PageLog2
			t.invalidatePath(pageAddr)
			r.ClearDirty(i)
		}
	}
	return true
}

// invalidatePath evicts every cached node inside the page containing addr
// and every cached node on the path from that page up to the root.
func (t *Tree) invalidatePath(addr uint64) {
	page := (addr >> PageLog2) << PageLog2
	for level := uint(WordLog2); level < PageLog2; level++ {
		for i := uint64(0); i < uint64(1)<<(PageLog2-level); i++ {
			delete(t.cache, cacheKey{level: level, addr: page + i<<level})
		}
	}
	for level := uint(PageLog2); level <= RootLog2; level++ {
		prefix := (addr >> level) << level
		delete(t.cache, cacheKey{level: level, addr: prefix})
	}
}

// GetRootHash returns the hash of the root, ensuring the tree reflects
// all RAM writes since the last Update (spec.md §4.5).
func (t *Tree) GetRootHash() Hash {
	t.Update()
	return t.hash(RootLog2, 0)
}

// hash computes (and memoizes) the hash of the node spanning
// [addr, addr+2^level).
func (t *Tree) hash(level uint, addr uint64) Hash {
	size := uint64(1) << level
	if level < RootLog2 {
		if !t.overlapsRAM(addr, size) {
			return t.pristine[level]
		}
	}

	key := cacheKey{level: level, addr: addr}
	if h, ok := t.cache[key]; ok {
		return h
	}

	var h Hash
	if level == WordLog2 {
		h = t.hashWord(addr)
	} else {
		left := t.hash(level-1, addr)
		right := t.hash(level-1, addr+size/2)
		h = hashNode(left, right)
	}
	t.cache[key] = h
	return h
}

func (t *Tree) hashWord(addr uint64) Hash {
	r := t.pm.Find(addr)
	if r == nil || r.Kind != physmem.KindRAM {
		return t.pristine[WordLog2]
	}
	word, err := r.ReadWord(addr-r.Base, 8)
	if err != nil {
		return t.pristine[WordLog2]
	}
	return hashLeaf(word)
}

// overlapsRAM reports whether any RAM range intersects [addr, addr+size).
func (t *Tree) overlapsRAM(addr, size uint64) bool {
	end := addr + size // size is a power of two <= 2^64; wraps only when addr=0,size=2^64 which is excluded by the level<RootLog2 guard above
	for _, r := range t.pm.Ranges() {
		if r.Kind != physmem.KindRAM {
			continue
		}
		if addr < r.Base+r.Len && r.Base < end {
			return true
		}
	}
	return false
}

// SelfCheck recomputes every cached node from scratch and compares
// against the currently cached root, catching any cache-invalidation
// defect (supplemented operation, spec.md §11: the original exposes this
// as the VerifyMerkleTree RPC; here it is a local self-check used by
// tests; cmd/rvmachine does not call it).
func (t *Tree) SelfCheck() bool {
	want := t.GetRootHash()
	fresh := New(t.pm, t.log)
	got := fresh.GetRootHash()
	return want == got
}

// InvalidTarget is returned by GetProof when the requested target is not
// aligned to its own size, or log2Size is out of [WordLog2, RootLog2].
type InvalidTarget struct {
	Addr     uint64
	Log2Size uint
}

func (e InvalidTarget) Error() string {
	return fmt.Sprintf("merkle: invalid proof target addr=0x%x log2size=%d", e.Addr, e.Log2Size)
}
