// Package cpu holds the architectural state of one RV64IMA+Zicsr hart:
// general registers, program counter, privilege, counters, CSRs, the LR/SC
// reservation, and the staged pending-trap fields the MMU and interpreter
// communicate through instead of using control-flow exceptions.
package cpu

// Privilege levels, numerically ordered as the architecture defines them.
type Privilege uint8

const (
	User       Privilege = 0
	Supervisor Privilege = 1
	Machine    Privilege = 3
)

// NoReservation is the sentinel LoadRes value meaning "no active LR
// reservation".
const NoReservation = ^uint64(0)

// State is the complete architectural state of one hart.
type State struct {
	X  [32]uint64
	PC uint64

	Priv Privilege

	Mcycle   uint64
	Minstret uint64

	Mstatus    uint64
	Mtvec      uint64
	Mepc       uint64
	Mcause     uint64
	Mtval      uint64
	Mscratch   uint64
	Mie        uint64
	Mip        uint64
	Medeleg    uint64
	Mideleg    uint64
	Misa       uint64
	Mcounteren uint64
	Mhartid    uint64
	Mvendorid  uint64
	Marchid    uint64
	Mimpid     uint64

	Stvec      uint64
	Sepc       uint64
	Scause     uint64
	Stval      uint64
	Sscratch   uint64
	Scounteren uint64
	Satp       uint64

	// LoadRes holds the physical address of the active LR reservation,
	// or NoReservation.
	LoadRes uint64

	// PowerDown is set by WFI when no interrupt is pending; cleared the
	// moment one becomes pending.
	PowerDown bool

	// ShutHost is set by a host-target-interface halt write; once set
	// the run loop returns without executing further instructions.
	ShutHost bool

	// Pending trap staging (spec.md §7): memory accesses and the MMU
	// never raise a Go error for an architectural fault. They set these
	// fields and return a sentinel failure to the caller, which the
	// outer step loop consumes via TakePendingFault.
	pendingValid bool
	pendingCause uint64
	pendingTval  uint64
}

// New returns a hart reset into the power-on state: Machine privilege,
// PC at the given reset vector, misa reporting RV64IMASU.
func New(resetPC uint64) *State {
	s := &State{
		Priv:    Machine,
		PC:      resetPC,
		LoadRes: NoReservation,
	}
	s.Misa = (uint64(2) << 62) | misaI | misaM | misaA | misaS | misaU
	return s
}

const (
	misaI = 1 << ('I' - 'A')
	misaM = 1 << ('M' - 'A')
	misaA = 1 << ('A' - 'A')
	misaS = 1 << ('S' - 'A')
	misaU = 1 << ('U' - 'A')
)

// ReadReg reads an integer register; x0 always reads as zero.
func (s *State) ReadReg(i uint32) uint64 {
	if i == 0 {
		return 0
	}
	return s.X[i]
}

// WriteReg writes an integer register; writes to x0 are discarded.
func (s *State) WriteReg(i uint32, v uint64) {
	if i != 0 {
		s.X[i] = v
	}
}

// EffectivePrivilege returns the privilege level memory accesses should be
// checked against: the current privilege, unless mstatus.MPRV is set and
// the access is not an instruction fetch, in which case it is mstatus.MPP.
func (s *State) EffectivePrivilege(isFetch bool) Privilege {
	if s.Mstatus&MstatusMPRV != 0 && !isFetch {
		return Privilege((s.Mstatus & MstatusMPP) >> mstatusMPPShift)
	}
	return s.Priv
}

// StageFault records a pending architectural fault for the outer step
// loop to raise as a trap. It does not mutate any other state.
func (s *State) StageFault(cause, tval uint64) {
	s.pendingValid = true
	s.pendingCause = cause
	s.pendingTval = tval
}

// TakePendingFault reports and clears a staged fault, if any.
func (s *State) TakePendingFault() (cause, tval uint64, ok bool) {
	if !s.pendingValid {
		return 0, 0, false
	}
	s.pendingValid = false
	return s.pendingCause, s.pendingTval, true
}

// HasPendingFault reports whether a fault is staged, without clearing it.
func (s *State) HasPendingFault() bool {
	return s.pendingValid
}

// PeekPendingFaultCause reports the staged fault's cause without
// consuming it, for callers that need to classify a fault (e.g.
// self-induced ECALL/EBREAK vs. an architectural access fault) before the
// trap is actually taken.
func (s *State) PeekPendingFaultCause() (cause uint64, ok bool) {
	return s.pendingCause, s.pendingValid
}
