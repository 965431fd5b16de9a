package interp

import (
	"github.com/rvattest/machine/internal/cpu"
)

// execute decodes and runs one 32-bit instruction word, advancing PC
// itself on success or staging a fault via it.CPU on failure. Grounded on
// the opcode dispatch of the teacher's rv64/execute.go, rewritten so that
// every fault path stages into cpu.State instead of returning a Go error
// (spec.md §7: "memory accesses return a success sentinel and stage the
// would-be trap").
func (it *Interp) execute(insn uint32) {
	switch opcode(insn) {
	case opLui:
		it.CPU.WriteReg(rd(insn), uint64(immU(insn)))
		it.CPU.PC += it.insnWidth
	case opAuipc:
		it.CPU.WriteReg(rd(insn), it.CPU.PC+uint64(immU(insn)))
		it.CPU.PC += it.insnWidth
	case opJal:
		link := it.CPU.PC + it.insnWidth
		it.CPU.PC += uint64(immJ(insn))
		it.CPU.WriteReg(rd(insn), link)
	case opJalr:
		link := it.CPU.PC + it.insnWidth
		target := (it.CPU.ReadReg(rs1(insn)) + uint64(immI(insn))) &^ 1
		it.CPU.PC = target
		it.CPU.WriteReg(rd(insn), link)
	case opBranch:
		it.execBranch(insn)
	case opLoad:
		it.execLoad(insn)
	case opStore:
		it.execStore(insn)
	case opOpImm:
		it.execOpImm(insn)
	case opOpImm32:
		it.execOpImm32(insn)
	case opOp:
		it.execOp(insn)
	case opOp32:
		it.execOp32(insn)
	case opMiscMem:
		// FENCE / FENCE.I: this model has no instruction cache and
		// executes memory accesses in strict program order, so both are
		// no-ops beyond advancing PC.
		it.CPU.PC += it.insnWidth
	case opAMO:
		it.execAMO(insn) // advances PC itself, or stages a fault
	case opSystem:
		it.execSystem(insn)
	default:
		it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
	}
}

func (it *Interp) execBranch(insn uint32) {
	a := it.CPU.ReadReg(rs1(insn))
	b := it.CPU.ReadReg(rs2(insn))
	var taken bool
	switch funct3(insn) {
	case 0b000: // BEQ
		taken = a == b
	case 0b001: // BNE
		taken = a != b
	case 0b100: // BLT
		taken = int64(a) < int64(b)
	case 0b101: // BGE
		taken = int64(a) >= int64(b)
	case 0b110: // BLTU
		taken = a < b
	case 0b111: // BGEU
		taken = a >= b
	default:
		it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
		return
	}
	if taken {
		it.CPU.PC += uint64(immB(insn))
	} else {
		it.CPU.PC += it.insnWidth
	}
}

func (it *Interp) execLoad(insn uint32) {
	addr := it.CPU.ReadReg(rs1(insn)) + uint64(immI(insn))
	var size uint
	var signed bool
	switch funct3(insn) {
	case 0b000:
		size, signed = 1, true // LB
	case 0b001:
		size, signed = 2, true // LH
	case 0b010:
		size, signed = 4, true // LW
	case 0b011:
		size, signed = 8, false // LD
	case 0b100:
		size, signed = 1, false // LBU
	case 0b101:
		size, signed = 2, false // LHU
	case 0b110:
		size, signed = 4, false // LWU
	default:
		it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
		return
	}
	val, ok := it.load(addr, size, signed)
	if !ok {
		return
	}
	it.CPU.WriteReg(rd(insn), val)
	it.CPU.PC += it.insnWidth
}

func (it *Interp) execStore(insn uint32) {
	addr := it.CPU.ReadReg(rs1(insn)) + uint64(immS(insn))
	val := it.CPU.ReadReg(rs2(insn))
	var size uint
	switch funct3(insn) {
	case 0b000:
		size = 1
	case 0b001:
		size = 2
	case 0b010:
		size = 4
	case 0b011:
		size = 8
	default:
		it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
		return
	}
	if !it.store(addr, size, val) {
		return
	}
	it.CPU.PC += it.insnWidth
}

func (it *Interp) execOpImm(insn uint32) {
	a := it.CPU.ReadReg(rs1(insn))
	imm := uint64(immI(insn))
	var result uint64
	switch funct3(insn) {
	case 0b000: // ADDI
		result = a + imm
	case 0b010: // SLTI
		result = boolU64(int64(a) < int64(imm))
	case 0b011: // SLTIU
		result = boolU64(a < imm)
	case 0b100: // XORI
		result = a ^ imm
	case 0b110: // ORI
		result = a | imm
	case 0b111: // ANDI
		result = a & imm
	case 0b001: // SLLI
		if funct7(insn)&^1 != 0 {
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
		result = a << shamt(insn)
	case 0b101: // SRLI / SRAI
		switch funct7(insn) >> 1 {
		case 0b000000:
			result = a >> shamt(insn)
		case 0b010000:
			result = uint64(int64(a) >> shamt(insn))
		default:
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
	}
	it.CPU.WriteReg(rd(insn), result)
	it.CPU.PC += it.insnWidth
}

func (it *Interp) execOpImm32(insn uint32) {
	a := uint32(it.CPU.ReadReg(rs1(insn)))
	imm := int32(immI(insn))
	var result int32
	switch funct3(insn) {
	case 0b000: // ADDIW
		result = int32(a) + imm
	case 0b001: // SLLIW
		if funct7(insn) != 0 {
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
		result = int32(a << shamt32(insn))
	case 0b101: // SRLIW / SRAIW
		switch funct7(insn) {
		case 0b0000000:
			result = int32(a >> shamt32(insn))
		case 0b0100000:
			result = int32(a) >> shamt32(insn)
		default:
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
	default:
		it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
		return
	}
	it.CPU.WriteReg(rd(insn), uint64(int64(result)))
	it.CPU.PC += it.insnWidth
}

func (it *Interp) execOp(insn uint32) {
	a := it.CPU.ReadReg(rs1(insn))
	b := it.CPU.ReadReg(rs2(insn))
	f7 := funct7(insn)
	var result uint64
	switch {
	case f7 == 0b0000001: // M extension
		var illegal bool
		result, illegal = mExtend64(funct3(insn), a, b)
		if illegal {
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
	default:
		switch funct3(insn) {
		case 0b000:
			if f7 == 0b0100000 {
				result = a - b
			} else {
				result = a + b
			}
		case 0b001:
			result = a << (b & 0x3f)
		case 0b010:
			result = boolU64(int64(a) < int64(b))
		case 0b011:
			result = boolU64(a < b)
		case 0b100:
			result = a ^ b
		case 0b101:
			if f7 == 0b0100000 {
				result = uint64(int64(a) >> (b & 0x3f))
			} else {
				result = a >> (b & 0x3f)
			}
		case 0b110:
			result = a | b
		case 0b111:
			result = a & b
		default:
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
	}
	it.CPU.WriteReg(rd(insn), result)
	it.CPU.PC += it.insnWidth
}

func (it *Interp) execOp32(insn uint32) {
	a := uint32(it.CPU.ReadReg(rs1(insn)))
	b := uint32(it.CPU.ReadReg(rs2(insn)))
	f7 := funct7(insn)
	var result int32
	if f7 == 0b0000001 { // M extension .W forms
		var illegal bool
		result, illegal = mExtend32(funct3(insn), a, b)
		if illegal {
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
	} else {
		switch funct3(insn) {
		case 0b000:
			if f7 == 0b0100000 {
				result = int32(a - b)
			} else {
				result = int32(a + b)
			}
		case 0b001:
			result = int32(a << (b & 0x1f))
		case 0b101:
			if f7 == 0b0100000 {
				result = int32(a) >> (b & 0x1f)
			} else {
				result = int32(a >> (b & 0x1f))
			}
		default:
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(insn))
			return
		}
	}
	it.CPU.WriteReg(rd(insn), uint64(int64(result)))
	it.CPU.PC += it.insnWidth
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
