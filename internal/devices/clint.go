package devices

// CLINT is a minimal core-local interruptor: one 8-byte `mtimecmp`
// register at offset 0. machine.Machine.Run compares it against the hart's
// cycle counter once per Run call to drive mip.MTIP (spec.md §6
// "clint.mtimecmp"); this device only owns the register's storage.
type CLINT struct {
	Mtimecmp uint64
}

func NewCLINT(mtimecmp uint64) *CLINT { return &CLINT{Mtimecmp: mtimecmp} }

func (c *CLINT) Read(offset uint64, log2Size uint) (uint64, error) {
	if offset == 0 {
		return c.Mtimecmp, nil
	}
	return 0, nil
}

func (c *CLINT) Write(offset uint64, log2Size uint, value uint64) error {
	if offset == 0 {
		c.Mtimecmp = value
	}
	return nil
}
