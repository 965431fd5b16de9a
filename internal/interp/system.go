package interp

import (
	"github.com/rvattest/machine/internal/cpu"
)

const (
	funct12Ecall  = 0x000
	funct12Ebreak = 0x001
	funct12Sret   = 0x102
	funct12Wfi    = 0x105
	funct12Mret   = 0x302

	funct7Sfence = 0b0001001
)

// execSystem decodes the SYSTEM major opcode: the Zicsr instructions and
// the privileged ECALL/EBREAK/MRET/SRET/WFI/SFENCE.VMA group, grounded on
// spec.md §4.3/§4.4.
func (it *Interp) execSystem(insn uint32) {
	f3 := funct3(insn)
	if f3 != 0 {
		it.execCSR(insn, f3)
		return
	}

	if funct7(insn) == funct7Sfence {
		it.execSfenceVMA()
		return
	}

	switch (insn >> 20) & 0xfff {
	case funct12Ecall:
		var cause uint64
		switch it.CPU.Priv {
		case cpu.Machine:
			cause = cpu.CauseEcallFromM
		case cpu.Supervisor:
			cause = cpu.CauseEcallFromS
		default:
			cause = cpu.CauseEcallFromU
		}
		it.CPU.StageFault(cause, 0)
	case funct12Ebreak:
		it.CPU.StageFault(cpu.CauseBreakpoint, it.CPU.PC)
	case funct12Mret:
		if it.CPU.Priv != cpu.Machine {
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
		before := it.CPU.Priv
		it.CPU.Mret()
		it.afterPrivChange(before)
	case funct12Sret:
		if it.CPU.Priv == cpu.User || (it.CPU.Priv == cpu.Supervisor && it.CPU.Mstatus&cpu.MstatusTSR != 0) {
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
		before := it.CPU.Priv
		it.CPU.Sret()
		it.afterPrivChange(before)
	case funct12Wfi:
		// TW (Timeout Wait): WFI in S/U mode traps to M-mode when set.
		if it.CPU.Priv != cpu.Machine && it.CPU.Mstatus&cpu.MstatusTW != 0 {
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
		it.CPU.PowerDown = true
		it.CPU.PC += it.insnWidth
	default:
		it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
	}
}

// afterPrivChange flushes the TLB if privilege actually changed and clears
// any LR reservation, matching the same discipline raiseTrap applies
// (spec.md §4.2). It does not touch PC: MRET/SRET have already set it to
// xEPC.
func (it *Interp) afterPrivChange(before cpu.Privilege) {
	if it.CPU.Priv != before {
		it.MMU.FlushAll()
	}
	it.CPU.LoadRes = cpu.NoReservation
}

func (it *Interp) execSfenceVMA() {
	it.MMU.FlushAll()
	it.CPU.PC += it.insnWidth
}

// execCSR implements CSRRW/CSRRS/CSRRC and their immediate forms.
func (it *Interp) execCSR(insn uint32, f3 uint32) {
	id := uint16(insn >> 20)
	rdReg := rd(insn)
	rs1Field := rs1(insn)

	var writeVal uint64
	switch f3 {
	case 0b001, 0b010, 0b011:
		writeVal = it.CPU.ReadReg(rs1Field)
	case 0b101, 0b110, 0b111:
		writeVal = uint64(rs1Field)
	default:
		it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
		return
	}

	// CSRRS/CSRRC (and immediate forms) with rs1/uimm==0 are pure reads
	// and must not perform a write-permission check.
	willWrite := true
	if (f3 == 0b010 || f3 == 0b011 || f3 == 0b110 || f3 == 0b111) && writeVal == 0 {
		willWrite = false
	}

	old, ok := it.CPU.ReadCSR(id, willWrite)
	if !ok {
		it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
		return
	}

	if willWrite {
		var newVal uint64
		switch f3 {
		case 0b001, 0b101: // CSRRW / CSRRWI
			newVal = writeVal
		case 0b010, 0b110: // CSRRS / CSRRSI
			newVal = old | writeVal
		case 0b011, 0b111: // CSRRC / CSRRCI
			newVal = old &^ writeVal
		}
		if res := it.CPU.WriteCSR(id, newVal); res == cpu.WriteInvalid {
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		} else if res == cpu.WriteTLBFlush {
			it.MMU.FlushAll()
		}
	}

	it.CPU.WriteReg(rdReg, old)
	it.CPU.PC += it.insnWidth
}
