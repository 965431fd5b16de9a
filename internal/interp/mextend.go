package interp

import "math/bits"

// mExtend64 implements the RV64M instructions encoded under the OP major
// opcode (funct7 0000001): MUL/MULH/MULHSU/MULHU/DIV/DIVU/REM/REMU. Divide
// by zero and signed-overflow follow the architecture's defined results
// rather than trapping (spec.md defers to base RISC-V semantics here).
func mExtend64(f3 uint32, a, b uint64) (uint64, bool) {
	switch f3 {
	case 0b000: // MUL
		return a * b, false
	case 0b001: // MULH
		return uint64(mulhSigned(int64(a), int64(b))), false
	case 0b010: // MULHSU
		return uint64(mulhSignedUnsigned(int64(a), b)), false
	case 0b011: // MULHU
		hi, _ := bits.Mul64(a, b)
		return hi, false
	case 0b100: // DIV
		sa, sb := int64(a), int64(b)
		switch {
		case sb == 0:
			return ^uint64(0), false
		case sa == -1<<63 && sb == -1:
			return a, false
		default:
			return uint64(sa / sb), false
		}
	case 0b101: // DIVU
		if b == 0 {
			return ^uint64(0), false
		}
		return a / b, false
	case 0b110: // REM
		sa, sb := int64(a), int64(b)
		switch {
		case sb == 0:
			return a, false
		case sa == -1<<63 && sb == -1:
			return 0, false
		default:
			return uint64(sa % sb), false
		}
	case 0b111: // REMU
		if b == 0 {
			return a, false
		}
		return a % b, false
	default:
		return 0, true
	}
}

func mulhSigned(a, b int64) int64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	hi -= uint64(a>>63) & uint64(b)
	hi -= uint64(b>>63) & uint64(a)
	return int64(hi)
}

func mulhSignedUnsigned(a int64, b uint64) int64 {
	hi, _ := bits.Mul64(uint64(a), b)
	hi -= uint64(a>>63) & b
	return int64(hi)
}

// mExtend32 implements the .W RV64M forms under OP-32 (funct7 0000001):
// MULW/DIVW/DIVUW/REMW/REMUW, operating on the low 32 bits and
// sign-extending the result.
func mExtend32(f3 uint32, a, b uint32) (int32, bool) {
	switch f3 {
	case 0b000: // MULW
		return int32(a * b), false
	case 0b100: // DIVW
		sa, sb := int32(a), int32(b)
		switch {
		case sb == 0:
			return -1, false
		case sa == -1<<31 && sb == -1:
			return sa, false
		default:
			return sa / sb, false
		}
	case 0b101: // DIVUW
		if b == 0 {
			return -1, false
		}
		return int32(a / b), false
	case 0b110: // REMW
		sa, sb := int32(a), int32(b)
		switch {
		case sb == 0:
			return sa, false
		case sa == -1<<31 && sb == -1:
			return 0, false
		default:
			return sa % sb, false
		}
	case 0b111: // REMUW
		if b == 0 {
			return int32(a), false
		}
		return int32(a % b), false
	default:
		return 0, true
	}
}
