// Package machine assembles the physical memory map, MMU, CPU state,
// Merkle commitment, access logger and interpreter into the single
// runnable unit spec.md calls a "machine" (spec.md §2), the way the
// teacher's ccvm.VirtualMachine ties the same pieces together in
// RunVirtualMachine.
package machine

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rvattest/machine/internal/accesslog"
	"github.com/rvattest/machine/internal/config"
	"github.com/rvattest/machine/internal/cpu"
	"github.com/rvattest/machine/internal/devices"
	"github.com/rvattest/machine/internal/interp"
	"github.com/rvattest/machine/internal/merkle"
	"github.com/rvattest/machine/internal/mmu"
	"github.com/rvattest/machine/internal/physmem"
)

// Fixed device addresses. The original machine-emulator wires these as
// independently configurable PMA ranges; clint's base matches the
// teacher's ccvm.CLINT_BASE constant, htif's is a simplification placed
// immediately above it (see DESIGN.md).
const (
	clintBase   = 0x0200_0000
	clintLength = 0x10
	htifBase    = 0x0200_1000
	htifLength  = 0x10
)

// Machine is one constructed, runnable hart plus its memory, commitment
// and logging state.
type Machine struct {
	CPU    *cpu.State
	Mem    *physmem.Map
	MMU    *mmu.MMU
	Tree   *merkle.Tree
	Log    *accesslog.Logger
	Interp *interp.Interp

	HTIF  *devices.HTIF
	CLINT *devices.CLINT

	log *slog.Logger
}

// Options controls access-log capture: whether each record carries a
// Merkle proof and whether bracket/note annotations are recorded. Every
// machine records its accesses; no option turns recording off.
type Options struct {
	LogProofs      bool
	LogAnnotations bool
	Logger         *slog.Logger
}

// New constructs a machine from a validated configuration, loading RAM,
// ROM and flash-drive images from disk as named by cfg (spec.md §6).
func New(cfg *config.Config, opts Options) (*Machine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	pm := physmem.New()

	if _, err := pm.RegisterRAM(ramBase, cfg.RAM.Length, make([]byte, cfg.RAM.Length)); err != nil {
		return nil, fmt.Errorf("machine: register ram: %w", err)
	}
	if cfg.RAM.ImageFilename != "" {
		if err := loadImageInto(pm, ramBase, cfg.RAM.ImageFilename); err != nil {
			return nil, fmt.Errorf("machine: load ram image: %w", err)
		}
	}

	if cfg.ROM.ImageFilename != "" {
		if _, err := pm.RegisterRAM(romBase, romLength, make([]byte, romLength)); err != nil {
			return nil, fmt.Errorf("machine: register rom: %w", err)
		}
		if err := loadImageInto(pm, romBase, cfg.ROM.ImageFilename); err != nil {
			return nil, fmt.Errorf("machine: load rom image: %w", err)
		}
	}

	for i, fd := range cfg.FlashDrive {
		data := make([]byte, fd.Length)
		if fd.ImageFilename != "" {
			raw, err := os.ReadFile(fd.ImageFilename)
			if err != nil {
				return nil, fmt.Errorf("machine: flash_drive[%d]: %w", i, err)
			}
			copy(data, raw)
		}
		if _, err := pm.RegisterRAM(fd.Start, fd.Length, data); err != nil {
			return nil, fmt.Errorf("machine: register flash_drive[%d]: %w", i, err)
		}
	}

	htif := devices.NewHTIF()
	if _, err := pm.RegisterDevice(htifBase, htifLength, htif, physmem.Width64); err != nil {
		return nil, fmt.Errorf("machine: register htif: %w", err)
	}
	clint := devices.NewCLINT(cfg.CLINT.Mtimecmp)
	if _, err := pm.RegisterDevice(clintBase, clintLength, clint, physmem.Width64); err != nil {
		return nil, fmt.Errorf("machine: register clint: %w", err)
	}

	s := newCPUFromConfig(cfg)
	m := mmu.New(log)
	tree := merkle.New(pm, log)
	accessLog := accesslog.New(opts.LogProofs, opts.LogAnnotations, tree, log)
	it := interp.New(s, m, pm, accessLog, log)

	return &Machine{
		CPU: s, Mem: pm, MMU: m, Tree: tree, Log: accessLog, Interp: it,
		HTIF: htif, CLINT: clint, log: log,
	}, nil
}

func newCPUFromConfig(cfg *config.Config) *cpu.State {
	s := cpu.New(cfg.Processor.PC)
	s.X = cfg.Processor.X
	if cfg.Processor.Mvendorid != 0 {
		s.Mvendorid = cfg.Processor.Mvendorid
	}
	if cfg.Processor.Marchid != 0 {
		s.Marchid = cfg.Processor.Marchid
	}
	s.Mimpid = cfg.Processor.Mimpid
	s.Mcycle = cfg.Processor.Mcycle
	s.Minstret = cfg.Processor.Minstret
	if cfg.Processor.Mstatus != 0 {
		s.Mstatus = cfg.Processor.Mstatus
	}
	s.Mtvec = cfg.Processor.Mtvec
	s.Mscratch = cfg.Processor.Mscratch
	s.Mepc = cfg.Processor.Mepc
	s.Mcause = cfg.Processor.Mcause
	s.Mtval = cfg.Processor.Mtval
	s.Mie = cfg.Processor.Mie
	s.Mip = cfg.Processor.Mip
	s.Medeleg = cfg.Processor.Medeleg
	s.Mideleg = cfg.Processor.Mideleg
	s.Mcounteren = cfg.Processor.Mcounteren
	s.Stvec = cfg.Processor.Stvec
	s.Sscratch = cfg.Processor.Sscratch
	s.Sepc = cfg.Processor.Sepc
	s.Scause = cfg.Processor.Scause
	s.Stval = cfg.Processor.Stval
	s.Satp = cfg.Processor.Satp
	s.Scounteren = cfg.Processor.Scounteren
	return s
}

func loadImageInto(pm *physmem.Map, base uint64, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	r := pm.Find(base)
	if r == nil {
		return fmt.Errorf("no range registered at 0x%x", base)
	}
	for off := 0; off < len(data); off += 8 {
		end := off + 8
		if end > len(data) {
			end = len(data)
		}
		var buf [8]byte
		copy(buf[:], data[off:end])
		val := uint64(0)
		for i := 7; i >= 0; i-- {
			val = val<<8 | uint64(buf[i])
		}
		if err := r.WriteWord(uint64(off), 8, val); err != nil {
			return err
		}
	}
	return nil
}

// romBase/ramBase mirror internal/config's fixed memory map; duplicated
// here (rather than exported from config) since they are a property of
// the reference memory layout, not of the configuration schema itself.
const (
	romBase   = 0
	romLength = 0x1000
	ramBase   = 0x1000
)

// Run advances the machine's single hart, wiring CLINT.Mtimecmp into
// mip.MTIP and HTIF.Halted into CPU.ShutHost once per call, the way the
// teacher's Step polls the RTC against clint.timecmp before stepping
// (spec.md §6 "clint.mtimecmp"). A halt write that lands mid-budget is
// observed on the following Run call, mirroring syncTimer's existing
// once-per-call granularity.
func (m *Machine) Run(budget uint64) interp.StopReason {
	m.syncTimer()
	m.syncHalt()
	return m.Interp.Run(budget)
}

func (m *Machine) syncTimer() {
	if m.CPU.Mcycle >= m.CLINT.Mtimecmp {
		m.CPU.Mip |= cpu.MipMTIP
	} else {
		m.CPU.Mip &^= cpu.MipMTIP
	}
}

// syncHalt propagates a tohost halt write into the architectural
// ShutHost flag, making interp.StopShutHost reachable (spec.md §7,
// "host shutdown").
func (m *Machine) syncHalt() {
	if m.HTIF.Halted {
		m.CPU.ShutHost = true
	}
}

// RootHash returns the Merkle commitment of the machine's current RAM
// contents (spec.md §4.6).
func (m *Machine) RootHash() merkle.Hash {
	return m.Tree.GetRootHash()
}
