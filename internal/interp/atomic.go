package interp

import (
	"github.com/rvattest/machine/internal/cpu"
	"github.com/rvattest/machine/internal/mmu"
)

// execAMO executes the A-extension LR/SC/AMO instructions (spec.md §4.4
// "Atomics"), grounded on the teacher's rv64/atomic.go structure but
// routed through loadAligned/storeAligned so reservations interact
// correctly with the word-granularity access log.
func (it *Interp) execAMO(insn uint32) bool {
	f3 := funct3(insn)
	f5 := funct7(insn) >> 2

	var size uint
	switch f3 {
	case 0b010:
		size = 4
	case 0b011:
		size = 8
	default:
		it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
		return false
	}

	addr := it.CPU.ReadReg(rs1(insn))
	if addr%uint64(size) != 0 {
		it.CPU.StageFault(cpu.CauseStoreAddrMisaligned, addr)
		return false
	}
	rs2val := it.CPU.ReadReg(rs2(insn))
	rdReg := rd(insn)

	switch f5 {
	case 0b00010: // LR.W / LR.D
		val, ok := it.loadAligned(addr, size, mmu.AccessRead)
		if !ok {
			return false
		}
		if size == 4 {
			val = uint64(int32(val))
		}
		it.CPU.WriteReg(rdReg, val)
		it.CPU.LoadRes = addr
		it.CPU.PC += it.insnWidth
		return true

	case 0b00011: // SC.W / SC.D
		if it.CPU.LoadRes != addr {
			it.CPU.WriteReg(rdReg, 1)
			it.CPU.PC += it.insnWidth
			return true
		}
		if !it.storeAligned(addr, size, rs2val) {
			return false
		}
		it.CPU.WriteReg(rdReg, 0)
		it.CPU.LoadRes = cpu.NoReservation
		it.CPU.PC += it.insnWidth
		return true

	default:
		old, ok := it.loadAligned(addr, size, mmu.AccessRead)
		if !ok {
			return false
		}
		newVal, illegal := amoCompute(f5, size, old, rs2val)
		if illegal {
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return false
		}
		if !it.storeAligned(addr, size, newVal) {
			return false
		}
		ret := old
		if size == 4 {
			ret = uint64(int32(old))
		}
		it.CPU.WriteReg(rdReg, ret)
		it.CPU.PC += it.insnWidth
		return true
	}
}

func amoCompute(f5 uint32, size uint, old, operand uint64) (uint64, bool) {
	mask := sizeMask(size)
	old &= mask
	operand &= mask

	signedLess := func(a, b uint64) bool {
		if size == 4 {
			return int32(a) < int32(b)
		}
		return int64(a) < int64(b)
	}

	switch f5 {
	case 0b00001: // AMOSWAP
		return operand, false
	case 0b00000: // AMOADD
		return (old + operand) & mask, false
	case 0b00100: // AMOXOR
		return old ^ operand, false
	case 0b01100: // AMOAND
		return old & operand, false
	case 0b01000: // AMOOR
		return old | operand, false
	case 0b10000: // AMOMIN
		if signedLess(old, operand) {
			return old, false
		}
		return operand, false
	case 0b10100: // AMOMAX
		if signedLess(operand, old) {
			return old, false
		}
		return operand, false
	case 0b11000: // AMOMINU
		if old < operand {
			return old, false
		}
		return operand, false
	case 0b11100: // AMOMAXU
		if old > operand {
			return old, false
		}
		return operand, false
	default:
		return 0, true
	}
}
