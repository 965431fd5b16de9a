package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "machine.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, `
processor:
  pc: 4096
ram:
  length: 4096
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.RAM.Length != 4096 {
		t.Fatalf("got ram length %d", c.RAM.Length)
	}
}

func TestLoadRejectsZeroRAM(t *testing.T) {
	path := writeTemp(t, "ram:\n  length: 0\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected a configuration error")
	}
}

func TestLoadRejectsOverlappingFlashDrives(t *testing.T) {
	path := writeTemp(t, `
ram:
  length: 4096
flash_drive:
  - start: 0x100000
    length: 0x10000
  - start: 0x108000
    length: 0x8000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an overlap error")
	}
}

func TestLoadRejectsNonPow2FlashDriveLength(t *testing.T) {
	path := writeTemp(t, `
ram:
  length: 4096
flash_drive:
  - start: 0x100000
    length: 0x12345
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected a power-of-two error")
	}
}
