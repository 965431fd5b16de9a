package mmu

import (
	"testing"

	"github.com/rvattest/machine/internal/cpu"
	"github.com/rvattest/machine/internal/physmem"
)

func newIdentitySv39(t *testing.T) (*cpu.State, *physmem.Map, *MMU) {
	t.Helper()
	pm := physmem.New()
	ram := make([]byte, 64*1024)
	if _, err := pm.RegisterRAM(0, uint64(len(ram)), ram); err != nil {
		t.Fatal(err)
	}

	// One-level identity map of page 0 at a root table living at physical
	// page 1: PTE for VPN[2]=0 points to a leaf at physical page 0 with
	// RWXUVAD set, placed directly in the root table's slot 0 so a single
	// level resolves (level-2 leaf = 1 GiB superpage at VPN2 index 0).
	// mstatus.SUM is set so the supervisor-mode reads below may touch this
	// U page.
	root := uint64(0x1000)
	leafPTE := (uint64(0) << ppnShift) | pteV | pteR | pteW | pteX | pteU | pteA | pteD
	r := pm.Find(root)
	if err := r.WriteWord(root-r.Base, 8, leafPTE); err != nil {
		t.Fatal(err)
	}

	s := cpu.New(0)
	s.Priv = cpu.Supervisor
	s.Mstatus |= cpu.MstatusSUM
	s.Satp = (uint64(cpu.SatpSv39) << 60) | (root >> 12)

	return s, pm, New(nil)
}

func TestTranslateBareMode(t *testing.T) {
	s := cpu.New(0)
	s.Priv = cpu.Supervisor
	pm := physmem.New()
	m := New(nil)
	paddr, ok := m.Translate(s, pm, 0x1234, 4, AccessRead, cpu.Supervisor)
	if !ok || paddr != 0x1234 {
		t.Fatalf("bare mode should pass through: paddr=0x%x ok=%v", paddr, ok)
	}
}

func TestTranslateMachinePassesThrough(t *testing.T) {
	s := cpu.New(0)
	pm := physmem.New()
	m := New(nil)
	paddr, ok := m.Translate(s, pm, 0xdeadbeef, 4, AccessRead, cpu.Machine)
	if !ok || paddr != 0xdeadbeef {
		t.Fatalf("machine mode should not translate: paddr=0x%x ok=%v", paddr, ok)
	}
}

func TestSv39IdentityMapRead(t *testing.T) {
	s, pm, m := newIdentitySv39(t)
	paddr, ok := m.Translate(s, pm, 0x1000, 8, AccessRead, cpu.Supervisor)
	if !ok {
		t.Fatal("translation failed")
	}
	if paddr != 0x1000 {
		t.Fatalf("paddr = 0x%x, want 0x1000", paddr)
	}
}

func TestSv39UnmappedUserPageFaultsWithMPRV(t *testing.T) {
	s, pm, m := newIdentitySv39(t)

	// Clear the U bit so a user-mode access of this page faults.
	root := uint64(0x1000)
	r := pm.Find(root)
	pte, _ := r.ReadWord(root-r.Base, 8)
	pte &^= uint64(pteU)
	if err := r.WriteWord(root-r.Base, 8, pte); err != nil {
		t.Fatal(err)
	}

	s.Priv = cpu.Machine
	s.Mstatus |= cpu.MstatusMPRV
	s.Mstatus |= uint64(cpu.User) << 11 // MPP = User

	eff := s.EffectivePrivilege(false)
	if eff != cpu.User {
		t.Fatalf("effective privilege = %d, want User", eff)
	}

	_, ok := m.Translate(s, pm, 0x1000, 8, AccessRead, eff)
	if ok {
		t.Fatal("expected a load page fault")
	}
	cause, tval, staged := s.TakePendingFault()
	if !staged || cause != cpu.CauseLoadPageFault || tval != 0x1000 {
		t.Fatalf("cause=%d tval=0x%x staged=%v", cause, tval, staged)
	}
}

func TestTLBHitAfterWalk(t *testing.T) {
	s, pm, m := newIdentitySv39(t)
	if _, ok := m.Translate(s, pm, 0x2000, 8, AccessRead, cpu.Supervisor); !ok {
		t.Fatal("first translation failed")
	}
	// Second access to the same page should hit the TLB; verify it still
	// returns the correct physical address.
	paddr, ok := m.Translate(s, pm, 0x2008, 8, AccessRead, cpu.Supervisor)
	if !ok || paddr != 0x2008 {
		t.Fatalf("paddr=0x%x ok=%v", paddr, ok)
	}
}

func TestFlushAllInvalidatesTLB(t *testing.T) {
	m := New(nil)
	m.read[5] = tlbEntry{tag: 5, addend: 0x1000}
	m.FlushAll()
	if m.read[5].tag != invalidTag {
		t.Fatal("flush did not invalidate entry")
	}
}
