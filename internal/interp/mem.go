package interp

import (
	"encoding/binary"

	"github.com/rvattest/machine/internal/cpu"
	"github.com/rvattest/machine/internal/mmu"
	"github.com/rvattest/machine/internal/physmem"
)

const (
	wordSize  = 8
	wordLog2  = 3 // matches merkle.WordLog2; duplicated to avoid a package cycle
)

func sizeMask(size uint) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (size * 8)) - 1
}

func encodeLE(value uint64, size uint) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	return append([]byte(nil), buf[:size]...)
}

// translate resolves vaddr through the MMU at the effective privilege for
// the given access type; on failure the fault is already staged into
// it.CPU by mmu.Translate/the page-table walker.
func (it *Interp) translate(vaddr uint64, size uint, at mmu.AccessType) (uint64, bool) {
	priv := it.CPU.EffectivePrivilege(at == mmu.AccessFetch)
	return it.MMU.Translate(it.CPU, it.Mem, vaddr, size, at, priv)
}

func (it *Interp) faultCauseFor(at mmu.AccessType) uint64 {
	switch at {
	case mmu.AccessWrite:
		return cpu.CauseStoreAccessFault
	case mmu.AccessFetch:
		return cpu.CauseInsnAccessFault
	default:
		return cpu.CauseLoadAccessFault
	}
}

// loadAligned performs one hardware-aligned load of size bytes (size a
// power of two, vaddr a multiple of size). RAM reads are always widened
// to the containing 8-byte word before being logged, since the Merkle
// tree's leaf granularity is the word (spec.md §3): the CPU only ever
// observes the requested sub-field, but the access log records the full
// word read, matching what the tree can prove. Device reads are not
// RAM-backed and are not logged (device state is outside the Merkle
// commitment, see internal/merkle.Tree's doc comment).
func (it *Interp) loadAligned(vaddr uint64, size uint, at mmu.AccessType) (uint64, bool) {
	paddr, ok := it.translate(vaddr, size, at)
	if !ok {
		return 0, false
	}
	r := it.Mem.Find(paddr)
	if r == nil {
		it.CPU.StageFault(it.faultCauseFor(at), vaddr)
		return 0, false
	}
	if r.Kind != physmem.KindRAM {
		val, err := r.ReadWord(paddr-r.Base, size)
		if err != nil {
			it.CPU.StageFault(it.faultCauseFor(at), vaddr)
			return 0, false
		}
		return val, true
	}

	wordBase := paddr &^ uint64(wordSize-1)
	full, err := r.ReadWord(wordBase-r.Base, wordSize)
	if err != nil {
		it.CPU.StageFault(it.faultCauseFor(at), vaddr)
		return 0, false
	}
	if it.Log != nil {
		it.Log.RecordRead(wordBase, wordLog2, encodeLE(full, wordSize))
	}
	shift := (paddr - wordBase) * 8
	return (full >> shift) & sizeMask(size), true
}

// storeAligned performs one hardware-aligned store, read-modify-writing
// the containing RAM word so the logged write record and Merkle proof
// cover the same 8-byte granularity loadAligned reads at (spec.md §4.5).
func (it *Interp) storeAligned(vaddr uint64, size uint, value uint64) bool {
	paddr, ok := it.translate(vaddr, size, mmu.AccessWrite)
	if !ok {
		return false
	}
	r := it.Mem.Find(paddr)
	if r == nil {
		it.CPU.StageFault(cpu.CauseStoreAccessFault, vaddr)
		return false
	}
	if r.Kind != physmem.KindRAM {
		if err := r.WriteWord(paddr-r.Base, size, value); err != nil {
			it.CPU.StageFault(cpu.CauseStoreAccessFault, vaddr)
			return false
		}
		return true
	}

	wordBase := paddr &^ uint64(wordSize-1)
	wordOff := wordBase - r.Base
	before, err := r.ReadWord(wordOff, wordSize)
	if err != nil {
		it.CPU.StageFault(cpu.CauseStoreAccessFault, vaddr)
		return false
	}
	shift := (paddr - wordBase) * 8
	mask := sizeMask(size) << shift
	after := (before &^ mask) | ((value << shift) & mask)
	if it.Log != nil {
		it.Log.RecordWrite(wordBase, wordLog2, encodeLE(before, wordSize), encodeLE(after, wordSize))
	}
	if err := r.WriteWord(wordOff, wordSize, after); err != nil {
		it.CPU.StageFault(cpu.CauseStoreAccessFault, vaddr)
		return false
	}
	// Conservative per spec.md §4.2: any RAM write overlapping a live
	// write-TLB entry invalidates it (covers self-modifying page tables).
	it.MMU.FlushWritesOverlapping(wordBase, wordSize)
	return true
}

// loadBytes decomposes a misaligned access into the minimum aligned
// sub-accesses at the next smaller power of two (spec.md §4.2). If the
// first sub-access faults, nothing has been mutated (read-only here, but
// the same recursion is shared conceptually with store's decomposition).
func (it *Interp) loadBytes(vaddr uint64, size uint, at mmu.AccessType) (uint64, bool) {
	if size == 1 || vaddr%uint64(size) == 0 {
		return it.loadAligned(vaddr, size, at)
	}
	half := size / 2
	lo, ok := it.loadBytes(vaddr, half, at)
	if !ok {
		return 0, false
	}
	hi, ok := it.loadBytes(vaddr+uint64(half), half, at)
	if !ok {
		return 0, false
	}
	return lo | (hi << (half * 8)), true
}

func (it *Interp) storeBytes(vaddr uint64, size uint, value uint64) bool {
	if size == 1 || vaddr%uint64(size) == 0 {
		return it.storeAligned(vaddr, size, value)
	}
	half := size / 2
	mask := sizeMask(half)
	if !it.storeAligned(vaddr, half, value&mask) {
		return false
	}
	return it.storeAligned(vaddr+uint64(half), half, (value>>(half*8))&mask)
}

// load performs a (possibly unaligned) load of size bytes from vaddr,
// sign-extending the result to 64 bits when signed is set.
func (it *Interp) load(vaddr uint64, size uint, signed bool) (uint64, bool) {
	val, ok := it.loadBytes(vaddr, size, mmu.AccessRead)
	if !ok {
		return 0, false
	}
	if signed {
		return uint64(signExtend(val, size*8)), true
	}
	return val, true
}

// store performs a (possibly unaligned) store of size bytes to vaddr.
func (it *Interp) store(vaddr uint64, size uint, value uint64) bool {
	return it.storeBytes(vaddr, size, value)
}

// fetchHalf reads one 16-bit parcel at a 2-byte-aligned PC, the unit of
// both a compressed instruction and half of an uncompressed one.
func (it *Interp) fetchHalf(vaddr uint64) (uint16, bool) {
	val, ok := it.loadAligned(vaddr, 2, mmu.AccessFetch)
	if !ok {
		return 0, false
	}
	return uint16(val), true
}
