package cpu

// PendingInterrupt computes the interrupt mask per spec.md §4.4: MIE
// enables M-level non-delegated interrupts, SIE enables S-level delegated
// ones, and U-level always takes delegated interrupts. It returns the
// cause of the highest-priority pending interrupt, or ok=false if none
// should be taken right now.
func (s *State) PendingInterrupt() (cause uint64, ok bool) {
	pending := s.Mip & s.Mie
	if pending == 0 {
		return 0, false
	}

	mEnabled := s.Mstatus&MstatusMIE != 0
	sEnabled := s.Mstatus&MstatusSIE != 0

	// Priority order: machine external, software, timer, then the same
	// for supervisor.
	order := []struct {
		bit   uint64
		cause uint64
	}{
		{MipMEIP, CauseMExternalInt},
		{MipMSIP, CauseMSoftwareInt},
		{MipMTIP, CauseMTimerInt},
		{MipSEIP, CauseSExternalInt},
		{MipSSIP, CauseSSoftwareInt},
		{MipSTIP, CauseSTimerInt},
	}

	for _, o := range order {
		if pending&o.bit == 0 {
			continue
		}
		delegated := s.Mideleg&o.bit != 0

		switch {
		case !delegated:
			// Non-delegated interrupts are M-level: taken if current
			// privilege is below Machine, or at Machine with MIE set.
			if s.Priv != Machine || mEnabled {
				return o.cause, true
			}
		default:
			// Delegated interrupts are S-level: taken if current
			// privilege is User, or Supervisor with SIE set.
			if s.Priv == User || (s.Priv == Supervisor && sEnabled) {
				return o.cause, true
			}
		}
	}
	return 0, false
}

// RaiseTrap implements the trap-raising path of spec.md §4.4: compute
// delegation, save xPP/xPIE, clear xIE, set new privilege, write
// xEPC/xCAUSE/xTVAL, and jump PC to xTVEC (direct mode only).
func (s *State) RaiseTrap(cause, tval uint64) {
	isInterrupt := cause&CauseInterruptBit != 0
	code := cause &^ CauseInterruptBit

	delegate := false
	if s.Priv <= Supervisor {
		if isInterrupt {
			delegate = s.Mideleg&(1<<code) != 0
		} else {
			delegate = s.Medeleg&(1<<code) != 0
		}
	}

	if delegate {
		s.Sepc = s.PC
		s.Scause = cause
		s.Stval = tval

		if s.Mstatus&MstatusSIE != 0 {
			s.Mstatus |= MstatusSPIE
		} else {
			s.Mstatus &^= MstatusSPIE
		}
		s.Mstatus &^= MstatusSIE

		if s.Priv == Supervisor {
			s.Mstatus |= MstatusSPP
		} else {
			s.Mstatus &^= MstatusSPP
		}

		s.Priv = Supervisor
		s.PC = vectorTarget(s.Stvec, code, isInterrupt)
		return
	}

	s.Mepc = s.PC
	s.Mcause = cause
	s.Mtval = tval

	if s.Mstatus&MstatusMIE != 0 {
		s.Mstatus |= MstatusMPIE
	} else {
		s.Mstatus &^= MstatusMPIE
	}
	s.Mstatus &^= MstatusMIE

	s.Mstatus &^= MstatusMPP
	s.Mstatus |= uint64(s.Priv) << mstatusMPPShift

	s.Priv = Machine
	s.PC = vectorTarget(s.Mtvec, code, isInterrupt)
}

// Mret executes MRET: restore MIE from MPIE, drop privilege to MPP, reset
// MPIE to 1 and MPP to User, jump to mepc.
func (s *State) Mret() {
	priv := Privilege((s.Mstatus & MstatusMPP) >> mstatusMPPShift)
	if s.Mstatus&MstatusMPIE != 0 {
		s.Mstatus |= MstatusMIE
	} else {
		s.Mstatus &^= MstatusMIE
	}
	s.Mstatus |= MstatusMPIE
	s.Mstatus &^= MstatusMPP
	s.Priv = priv
	s.PC = s.Mepc
}

// Sret executes SRET: restore SIE from SPIE, drop privilege to SPP, reset
// SPIE to 1 and SPP to User, jump to sepc.
func (s *State) Sret() {
	var priv Privilege
	if s.Mstatus&MstatusSPP != 0 {
		priv = Supervisor
	} else {
		priv = User
	}
	if s.Mstatus&MstatusSPIE != 0 {
		s.Mstatus |= MstatusSIE
	} else {
		s.Mstatus &^= MstatusSIE
	}
	s.Mstatus |= MstatusSPIE
	s.Mstatus &^= MstatusSPP
	s.Priv = priv
	s.PC = s.Sepc
}

func vectorTarget(tvec, code uint64, isInterrupt bool) uint64 {
	if isInterrupt && tvec&1 == 1 {
		return (tvec &^ 1) + 4*code
	}
	return tvec &^ 3
}
