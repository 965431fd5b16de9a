package mmu

import (
	"github.com/rvattest/machine/internal/cpu"
	"github.com/rvattest/machine/internal/physmem"
)

// PTE flag bits.
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteG = 1 << 5
	pteA = 1 << 6
	pteD = 1 << 7

	ppnShift = 10
	ppnBits  = 44
	vpnBits  = 9
)

func readPhys64(pm *physmem.Map, paddr uint64) (uint64, bool) {
	r := pm.Find(paddr)
	if r == nil {
		return 0, false
	}
	v, err := r.ReadWord(paddr-r.Base, 8)
	if err != nil {
		return 0, false
	}
	return v, true
}

func writePhys64(pm *physmem.Map, paddr, val uint64) bool {
	r := pm.Find(paddr)
	if r == nil {
		return false
	}
	if err := r.WriteWord(paddr-r.Base, 8, val); err != nil {
		return false
	}
	return true
}

func faultCause(at AccessType) uint64 {
	switch at {
	case AccessRead:
		return cpu.CauseLoadPageFault
	case AccessWrite:
		return cpu.CauseStorePageFault
	default:
		return cpu.CauseInsnPageFault
	}
}

// walk performs the multi-level Sv39/Sv48 page-table walk of spec.md
// §4.2. It returns the translated physical address, the final leaf PTE's
// flags, whether A/D had to be written back, and ok.
func (m *MMU) walk(s *cpu.State, pm *physmem.Map, vaddr uint64, at AccessType, priv cpu.Privilege, mode uint64) (uint64, uint64, bool, bool) {
	levels := 3
	if mode == cpu.SatpSv48 {
		levels = 4
	}

	signBit := uint(38)
	if levels == 4 {
		signBit = 47
	}
	if !canonical(vaddr, signBit) {
		s.StageFault(faultCause(at), vaddr)
		return 0, 0, false, false
	}

	ppn := s.Satp & ((1 << ppnBits) - 1)
	pteAddr := ppn << pageShift

	var pte uint64
	pageBits := uint(pageShift)

	for level := levels - 1; level >= 0; level-- {
		shift := pageShift + level*vpnBits
		vpn := (vaddr >> shift) & 0x1ff
		addr := pteAddr + vpn*8

		v, ok := readPhys64(pm, addr)
		if !ok {
			s.StageFault(faultCause(at), vaddr)
			return 0, 0, false, false
		}
		pte = v

		if pte&pteV == 0 {
			s.StageFault(faultCause(at), vaddr)
			return 0, 0, false, false
		}
		if pte&pteW != 0 && pte&pteR == 0 {
			s.StageFault(faultCause(at), vaddr)
			return 0, 0, false, false
		}

		isLeaf := pte&(pteR|pteX) != 0
		if !isLeaf {
			ppn := (pte >> ppnShift) & ((1 << ppnBits) - 1)
			pteAddr = ppn << pageShift
			continue
		}

		if level > 0 {
			mask := uint64(1)<<(uint(level)*vpnBits) - 1
			if ((pte >> ppnShift) & mask) != 0 {
				s.StageFault(faultCause(at), vaddr)
				return 0, 0, false, false
			}
			pageBits = uint(pageShift + level*vpnBits)
		}

		if !checkPermissions(s, pte, at, priv) {
			s.StageFault(faultCause(at), vaddr)
			return 0, 0, false, false
		}

		needA := pte&pteA == 0
		needD := at == AccessWrite && pte&pteD == 0
		wroteBack := false
		if needA || needD {
			newPte := pte | pteA
			if at == AccessWrite {
				newPte |= pteD
			}
			if !writePhys64(pm, addr, newPte) {
				s.StageFault(faultCause(at), vaddr)
				return 0, 0, false, false
			}
			pte = newPte
			wroteBack = true
		}

		ppnField := (pte >> ppnShift) & ((1 << ppnBits) - 1)
		pageOffsetMask := uint64(1)<<pageBits - 1
		if level > 0 {
			// Superpage: low VPN bits come from the virtual address.
			vpnLowMask := uint64(1)<<(uint(level)*vpnBits) - 1
			ppnField = (ppnField &^ vpnLowMask) | ((vaddr >> pageShift) & vpnLowMask)
		}
		paddr := (ppnField << pageShift) | (vaddr & pageOffsetMask)
		return paddr, pte, wroteBack, true
	}

	s.StageFault(faultCause(at), vaddr)
	return 0, 0, false, false
}

// canonical checks that the bits above signBit are a sign extension of
// bit signBit (spec.md §4.2).
func canonical(vaddr uint64, signBit uint) bool {
	top := vaddr >> signBit
	return top == 0 || top == (^uint64(0))>>signBit
}

func checkPermissions(s *cpu.State, pte uint64, at AccessType, priv cpu.Privilege) bool {
	if priv == cpu.User {
		if pte&pteU == 0 {
			return false
		}
	} else if priv == cpu.Supervisor && pte&pteU != 0 {
		if s.Mstatus&cpu.MstatusSUM == 0 {
			return false
		}
	}

	switch at {
	case AccessRead:
		if pte&pteR != 0 {
			return true
		}
		return s.Mstatus&cpu.MstatusMXR != 0 && pte&pteX != 0
	case AccessWrite:
		return pte&pteW != 0
	default: // AccessFetch
		return pte&pteX != 0
	}
}
