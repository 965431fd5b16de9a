// Package mmu implements the Sv39/Sv48 page-table walker and the three
// directly indexed software TLBs (read, write, fetch) described in
// spec.md §4.2.
package mmu

import (
	"log/slog"

	"github.com/rvattest/machine/internal/cpu"
	"github.com/rvattest/machine/internal/physmem"
)

// AccessType distinguishes the three kinds of memory access the MMU
// translates differently (execute permission, write permission + dirty
// bit, MXR for reads).
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
	AccessFetch
)

const tlbSize = 256
const pageShift = 12
const pageMask = (1 << pageShift) - 1

// invalidTag is the sentinel meaning "this TLB slot is unused" — spec.md
// §3: "tag = virtual page number with a sentinel of all-ones meaning
// invalid".
const invalidTag = ^uint64(0)

type tlbEntry struct {
	tag    uint64 // virtual page number, or invalidTag
	addend uint64 // paddr - vaddr for the mapped page
}

// MMU owns the three software TLBs for one hart and translates virtual
// addresses against a physical memory map.
type MMU struct {
	log *slog.Logger

	read  [tlbSize]tlbEntry
	write [tlbSize]tlbEntry
	fetch [tlbSize]tlbEntry
}

// New creates an MMU with all TLB entries invalid.
func New(log *slog.Logger) *MMU {
	if log == nil {
		log = slog.Default()
	}
	m := &MMU{log: log}
	m.FlushAll()
	return m
}

// FlushAll invalidates every entry in all three TLBs. Called on satp
// write, sfence.vma, privilege change, and any mstatus change affecting
// MPRV/SUM/MXR/MPP (spec.md §4.2).
func (m *MMU) FlushAll() {
	for i := 0; i < tlbSize; i++ {
		m.read[i].tag = invalidTag
		m.write[i].tag = invalidTag
		m.fetch[i].tag = invalidTag
	}
	m.log.Debug("mmu: tlb flush all")
}

// FlushWritesOverlapping invalidates every write-TLB entry whose mapped
// page falls inside [base, base+length) — spec.md §4.2: "any RAM write
// range that overlaps live write-TLB entries" invalidates them.
func (m *MMU) FlushWritesOverlapping(base, length uint64) {
	lastPage := (base + length - 1) >> pageShift
	firstPage := base >> pageShift
	for i := range m.write {
		e := &m.write[i]
		if e.tag == invalidTag {
			continue
		}
		physPage := ((e.tag << pageShift) + e.addend) >> pageShift
		if physPage >= firstPage && physPage <= lastPage {
			e.tag = invalidTag
		}
	}
}

func index(vpn uint64) uint64 { return vpn & (tlbSize - 1) }

func tlbSlot(tlb *[tlbSize]tlbEntry, vaddr uint64) (uint64, *tlbEntry) {
	vpn := vaddr >> pageShift
	e := &tlb[index(vpn)]
	return vpn, e
}

// Translate resolves vaddr for the given access type at the given
// effective privilege. On success it returns the physical address; on
// failure it stages a page fault into s and returns ok=false. size is the
// byte width of the access and is not consulted: by this point the caller
// (the interpreter) has already decomposed any access that is not
// naturally aligned, so a successful translation always covers the whole
// access.
func (m *MMU) Translate(s *cpu.State, pm *physmem.Map, vaddr uint64, size uint, at AccessType, priv cpu.Privilege) (uint64, bool) {
	mode := (s.Satp >> 60) & 0xf

	if priv == cpu.Machine || mode == cpu.SatpBare {
		return vaddr, true
	}

	tlb := m.tlbFor(at)
	vpn, entry := tlbSlot(tlb, vaddr)
	if entry.tag == vpn {
		return entry.addend + vaddr, true
	}

	paddr, flags, wroteBack, ok := m.walk(s, pm, vaddr, at, priv, mode)
	if !ok {
		return 0, false
	}

	// The read/write/fetch TLB selected by tlbFor(at) is populated here;
	// a write TLB entry is only ever installed on a write access, so it
	// is only ever present once the D bit has been set by walk() (spec.md
	// §4.2).
	*entry = tlbEntry{tag: vpn, addend: paddr - vaddr}

	_ = flags
	_ = wroteBack
	return paddr, true
}

func (m *MMU) tlbFor(at AccessType) *[tlbSize]tlbEntry {
	switch at {
	case AccessRead:
		return &m.read
	case AccessWrite:
		return &m.write
	default:
		return &m.fetch
	}
}
