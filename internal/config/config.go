// Package config loads and validates machine configuration (spec.md §6
// "Machine configuration") from a YAML document, the way tinyrange-cc
// loads its bundle manifests in internal/bundle/bundle.go.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Processor carries the reset value of every architectural register
// spec.md §6 enumerates under `processor.*`.
type Processor struct {
	X          [32]uint64 `yaml:"x,omitempty"`
	PC         uint64     `yaml:"pc"`
	Mvendorid  uint64     `yaml:"mvendorid,omitempty"`
	Marchid    uint64     `yaml:"marchid,omitempty"`
	Mimpid     uint64     `yaml:"mimpid,omitempty"`
	Mcycle     uint64     `yaml:"mcycle,omitempty"`
	Minstret   uint64     `yaml:"minstret,omitempty"`
	Mstatus    uint64     `yaml:"mstatus,omitempty"`
	Mtvec      uint64     `yaml:"mtvec,omitempty"`
	Mscratch   uint64     `yaml:"mscratch,omitempty"`
	Mepc       uint64     `yaml:"mepc,omitempty"`
	Mcause     uint64     `yaml:"mcause,omitempty"`
	Mtval      uint64     `yaml:"mtval,omitempty"`
	Misa       uint64     `yaml:"misa,omitempty"`
	Mie        uint64     `yaml:"mie,omitempty"`
	Mip        uint64     `yaml:"mip,omitempty"`
	Medeleg    uint64     `yaml:"medeleg,omitempty"`
	Mideleg    uint64     `yaml:"mideleg,omitempty"`
	Mcounteren uint64     `yaml:"mcounteren,omitempty"`
	Stvec      uint64     `yaml:"stvec,omitempty"`
	Sscratch   uint64     `yaml:"sscratch,omitempty"`
	Sepc       uint64     `yaml:"sepc,omitempty"`
	Scause     uint64     `yaml:"scause,omitempty"`
	Stval      uint64     `yaml:"stval,omitempty"`
	Satp       uint64     `yaml:"satp,omitempty"`
	Scounteren uint64     `yaml:"scounteren,omitempty"`
	Ilrsc      uint64     `yaml:"ilrsc,omitempty"`
	Iflags     uint64     `yaml:"iflags,omitempty"`
}

// RAM describes the guest's main memory range.
type RAM struct {
	Length        uint64 `yaml:"length"`
	ImageFilename string `yaml:"image_filename,omitempty"`
}

// ROM describes the boot ROM range.
type ROM struct {
	Bootargs      string `yaml:"bootargs,omitempty"`
	ImageFilename string `yaml:"image_filename,omitempty"`
}

// FlashDrive is one entry of `flash_drive[]`. Every drive, shared or not,
// is loaded once into an in-memory RAM range and never written back to
// ImageFilename; Shared is parsed and carried but nothing acts on it.
type FlashDrive struct {
	Start         uint64 `yaml:"start"`
	Length        uint64 `yaml:"length"`
	ImageFilename string `yaml:"image_filename,omitempty"`
	Shared        bool   `yaml:"shared,omitempty"`
}

// CLINT configures the core-local interruptor reference device.
type CLINT struct {
	Mtimecmp uint64 `yaml:"mtimecmp,omitempty"`
}

// HTIF configures the host-target interface reference device.
type HTIF struct {
	Tohost          uint64 `yaml:"tohost,omitempty"`
	Fromhost        uint64 `yaml:"fromhost,omitempty"`
	ConsoleGetchar  bool   `yaml:"console_getchar,omitempty"`
	YieldManual     bool   `yaml:"yield_manual,omitempty"`
	YieldAutomatic  bool   `yaml:"yield_automatic,omitempty"`
}

// DHD configures the dehashed-data device range (spec.md §3 "integration
// registers for ... a dehashed-data device").
type DHD struct {
	Tstart        uint64   `yaml:"tstart,omitempty"`
	Tlength       uint64   `yaml:"tlength,omitempty"`
	Dlength       uint64   `yaml:"dlength,omitempty"`
	Hlength       uint64   `yaml:"hlength,omitempty"`
	ImageFilename string   `yaml:"image_filename,omitempty"`
	H             []uint64 `yaml:"h,omitempty"`
}

// MemoryRange is the `{start, length}` shape shared by the four rollup
// buffers.
type MemoryRange struct {
	Start  uint64 `yaml:"start"`
	Length uint64 `yaml:"length"`
}

// Rollup configures the four rollup memory ranges.
type Rollup struct {
	RxBuffer        MemoryRange `yaml:"rx_buffer"`
	TxBuffer        MemoryRange `yaml:"tx_buffer"`
	InputMetadata   MemoryRange `yaml:"input_metadata"`
	VoucherHashes   MemoryRange `yaml:"voucher_hashes"`
	NoticeHashes    MemoryRange `yaml:"notice_hashes"`
}

// Config is the complete machine configuration of spec.md §6.
type Config struct {
	Processor  Processor    `yaml:"processor"`
	RAM        RAM          `yaml:"ram"`
	ROM        ROM          `yaml:"rom"`
	FlashDrive []FlashDrive `yaml:"flash_drive,omitempty"`
	CLINT      CLINT        `yaml:"clint,omitempty"`
	HTIF       HTIF         `yaml:"htif,omitempty"`
	DHD        DHD          `yaml:"dhd,omitempty"`
	Rollup     Rollup       `yaml:"rollup,omitempty"`
}

// Error is the Configuration error kind of spec.md §7.2: an invalid
// range, surfaced only as a failure of construction, never raised mid-run.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads and validates a machine configuration from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func isPow2(n uint64) bool { return n != 0 && n&(n-1) == 0 }

// Validate checks range disjointness and power-of-two alignment at load
// time (spec.md §7.2): a Configuration error, never raised mid-run.
func (c *Config) Validate() error {
	if c.RAM.Length == 0 {
		return &Error{Field: "ram.length", Reason: "must be non-zero"}
	}
	if c.RAM.Length%4096 != 0 {
		return &Error{Field: "ram.length", Reason: "must be a multiple of the page size"}
	}
	if !isPow2(c.RAM.Length) {
		return &Error{Field: "ram.length", Reason: "must be a power of two"}
	}

	type span struct {
		name        string
		start, length uint64
	}
	spans := []span{{"ram", ramBase, c.RAM.Length}}
	if c.ROM.ImageFilename != "" || c.ROM.Bootargs != "" {
		spans = append(spans, span{"rom", romBase, romLength})
	}
	for i, fd := range c.FlashDrive {
		if !isPow2(fd.Length) {
			return &Error{Field: fmt.Sprintf("flash_drive[%d].length", i), Reason: "must be a power of two"}
		}
		if fd.Start%fd.Length != 0 {
			return &Error{Field: fmt.Sprintf("flash_drive[%d].start", i), Reason: "must be aligned to its own length"}
		}
		spans = append(spans, span{fmt.Sprintf("flash_drive[%d]", i), fd.Start, fd.Length})
	}

	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			if a.start < b.start+b.length && b.start < a.start+a.length {
				return &Error{Field: a.name, Reason: fmt.Sprintf("overlaps %s", b.name)}
			}
		}
	}
	return nil
}

// Fixed base addresses for the reference memory map: a small boot ROM at
// address 0, RAM immediately above it. The original machine-emulator
// makes these independently configurable PMA ranges; this model fixes
// them to keep Validate's overlap checking trivial to follow, a
// deliberate simplification recorded in DESIGN.md.
const (
	romBase   = 0
	romLength = 0x1000
	ramBase   = 0x1000
)
