// Package interp implements the RV64IMA+Zicsr fetch-decode-execute loop
// of spec.md §4.4: trap and interrupt dispatch, the privileged CSR
// instruction group, and the loop's three termination conditions (cycle
// budget, power-down, host shutdown).
package interp

import (
	"log/slog"

	"github.com/rvattest/machine/internal/accesslog"
	"github.com/rvattest/machine/internal/cpu"
	"github.com/rvattest/machine/internal/mmu"
	"github.com/rvattest/machine/internal/physmem"
)

// Unlimited is the cycle-budget sentinel meaning "run until power-down or
// shutdown" (spec.md §8 scenario 2: "run(budget = ∞)").
const Unlimited = ^uint64(0)

// StopReason reports which of the loop's three termination conditions
// fired (spec.md §4.4).
type StopReason int

const (
	StopBudget StopReason = iota
	StopPowerDown
	StopShutHost
)

func (r StopReason) String() string {
	switch r {
	case StopPowerDown:
		return "power-down"
	case StopShutHost:
		return "shutdown"
	default:
		return "budget"
	}
}

// Interp drives one hart's instruction stream against a physical memory
// map through an MMU, optionally recording every word access.
type Interp struct {
	CPU *cpu.State
	MMU *mmu.MMU
	Mem *physmem.Map
	Log *accesslog.Logger // nil disables logging entirely

	log *slog.Logger

	// insnWidth is the byte width (2 or 4) of the instruction currently
	// being executed, set by step() before calling execute so that PC
	// advancement and link-register values are correct for compressed
	// parcels.
	insnWidth uint64
}

// New creates an interpreter. log may be nil (defaults to slog.Default);
// accessLog may be nil to disable access logging entirely.
func New(c *cpu.State, m *mmu.MMU, pm *physmem.Map, accessLog *accesslog.Logger, log *slog.Logger) *Interp {
	if log == nil {
		log = slog.Default()
	}
	return &Interp{CPU: c, MMU: m, Mem: pm, Log: accessLog, log: log}
}

// Run executes instructions until mcycle reaches budget, power-down is
// entered with no pending interrupt, or the host-target interface signals
// shutdown (spec.md §4.4). Pass Unlimited for budget to run until
// power-down/shutdown only.
func (it *Interp) Run(budget uint64) StopReason {
	for it.CPU.Mcycle < budget {
		if it.CPU.ShutHost {
			return StopShutHost
		}

		if cause, ok := it.CPU.PendingInterrupt(); ok {
			it.raiseTrap(cause, 0)
			it.CPU.Mcycle++
			continue
		}

		if it.CPU.PowerDown {
			if it.CPU.Mip&it.CPU.Mie == 0 {
				return StopPowerDown
			}
			it.CPU.PowerDown = false
		}

		it.step()
		it.CPU.Mcycle++
	}
	return StopBudget
}

// step fetches, decodes and executes exactly one instruction (or raises
// the trap it faulted with). It never advances Mcycle; the caller does.
func (it *Interp) step() {
	pc := it.CPU.PC
	it.Log.BeginBracket("step")
	defer it.Log.EndBracket("step")

	lo, ok := it.fetchHalf(pc)
	if !ok {
		it.takeTrapOrPanic()
		return
	}

	var insn uint32
	if lo&0x3 == 0x3 {
		hi, ok := it.fetchHalf(pc + 2)
		if !ok {
			it.takeTrapOrPanic()
			return
		}
		insn = uint32(lo) | uint32(hi)<<16
		it.insnWidth = 4
	} else {
		expanded, ok := expandCompressed(lo)
		if !ok {
			it.CPU.StageFault(cpu.CauseIllegalInsn, uint64(lo))
			it.takeTrapOrPanic()
			return
		}
		insn = expanded
		it.insnWidth = 2
	}

	it.execute(insn)
	if it.CPU.HasPendingFault() {
		if cause, ok := it.CPU.PeekPendingFaultCause(); ok && isSelfInducedTrap(cause) {
			it.CPU.Minstret++
		}
		it.takeTrapOrPanic()
		return
	}
	it.CPU.Minstret++
}

// isSelfInducedTrap reports whether cause is ECALL or EBREAK: an
// instruction that completes its own defined semantics (transferring
// control to a trap handler) rather than one that failed to execute at
// all. spec.md §8 scenario 1 counts the ebreak that ends it as the
// "third retirement".
func isSelfInducedTrap(cause uint64) bool {
	switch cause {
	case cpu.CauseBreakpoint, cpu.CauseEcallFromU, cpu.CauseEcallFromS, cpu.CauseEcallFromM:
		return true
	default:
		return false
	}
}

// takeTrapOrPanic consumes the staged fault and raises it. A staged fault
// is always present when this is called; a missing one is an invariant
// violation in this package, not a possible runtime condition from bad
// guest code.
func (it *Interp) takeTrapOrPanic() {
	cause, tval, ok := it.CPU.TakePendingFault()
	if !ok {
		panic("interp: takeTrapOrPanic called with no staged fault")
	}
	it.raiseTrap(cause, tval)
}

// raiseTrap delivers a trap and clears any LR reservation, matching
// spec.md §4.4: "[SC succeeds] ... has not been cleared by any
// intervening trap, write TLB invalidation to that page, or privilege
// change".
func (it *Interp) raiseTrap(cause, tval uint64) {
	it.log.Debug("interp: trap", "cause", cause, "tval", tval, "pc", it.CPU.PC)
	before := it.CPU.Priv
	it.CPU.RaiseTrap(cause, tval)
	it.CPU.LoadRes = cpu.NoReservation
	if it.CPU.Priv != before {
		it.MMU.FlushAll()
	}
}
