// Package devices provides minimal reference implementations of the
// host-target interface and core-local interruptor, sufficient to
// exercise the physmem.Device callback contract end to end (spec.md §1
// treats real device implementations as out of scope; SPEC_FULL.md §11
// supplements these two as the minimal reference needed for testable
// end-to-end runs).
package devices

// HTIF is a minimal host-target interface: two 8-byte registers,
// `tohost` at offset 0 and `fromhost` at offset 8. A tohost write with
// its low bit set signals halt; any other write is treated as a console
// putchar of its low byte, matching the original machine-emulator's
// console/halt convention loosely enough to drive boot tests without
// reimplementing its full device/command encoding (a deliberate
// simplification, see DESIGN.md).
type HTIF struct {
	Fromhost uint64
	Halted   bool
	Console  []byte
}

func NewHTIF() *HTIF { return &HTIF{} }

func (h *HTIF) Read(offset uint64, log2Size uint) (uint64, error) {
	switch offset {
	case 8:
		return h.Fromhost, nil
	default:
		return 0, nil
	}
}

func (h *HTIF) Write(offset uint64, log2Size uint, value uint64) error {
	switch offset {
	case 0:
		if value&1 != 0 {
			h.Halted = true
			return nil
		}
		h.Console = append(h.Console, byte(value))
		return nil
	case 8:
		h.Fromhost = value
		return nil
	default:
		return nil
	}
}
