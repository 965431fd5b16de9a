package devices

import "testing"

func TestHTIFHaltBit(t *testing.T) {
	h := NewHTIF()
	if err := h.Write(0, 3, 1); err != nil {
		t.Fatal(err)
	}
	if !h.Halted {
		t.Fatal("expected halt to be set")
	}
}

func TestHTIFConsoleBytes(t *testing.T) {
	h := NewHTIF()
	if err := h.Write(0, 3, uint64('A')<<1); err != nil {
		t.Fatal(err)
	}
	if len(h.Console) != 1 || h.Console[0] != byte(uint64('A')<<1) {
		t.Fatalf("unexpected console buffer %v", h.Console)
	}
}

func TestCLINTRoundTrip(t *testing.T) {
	c := NewCLINT(0)
	if err := c.Write(0, 3, 12345); err != nil {
		t.Fatal(err)
	}
	v, err := c.Read(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if v != 12345 {
		t.Fatalf("got %d", v)
	}
}
