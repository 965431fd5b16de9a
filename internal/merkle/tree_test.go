package merkle

import (
	"testing"

	"github.com/rvattest/machine/internal/physmem"
)

func newTreeWithRAM(t *testing.T, base, length uint64) (*Tree, *physmem.Range) {
	t.Helper()
	pm := physmem.New()
	buf := make([]byte, length)
	r, err := pm.RegisterRAM(base, length, buf)
	if err != nil {
		t.Fatal(err)
	}
	return New(pm, nil), r
}

func TestPristineRootIsStable(t *testing.T) {
	tr1, _ := newTreeWithRAM(t, 0, 4096)
	tr2, _ := newTreeWithRAM(t, 0, 4096)
	if tr1.GetRootHash() != tr2.GetRootHash() {
		t.Fatal("two zero-filled trees should have the same root")
	}
}

func TestMutationChangesRoot(t *testing.T) {
	tr, r := newTreeWithRAM(t, 0, 4096)
	before := tr.GetRootHash()
	if err := r.WriteWord(0, 8, 1); err != nil {
		t.Fatal(err)
	}
	after := tr.GetRootHash()
	if before == after {
		t.Fatal("mutating a byte should change the root")
	}
}

func TestProofVerifies(t *testing.T) {
	tr, r := newTreeWithRAM(t, 0, 4096)
	if err := r.WriteWord(16, 8, 0xcafebabe); err != nil {
		t.Fatal(err)
	}
	p, err := tr.GetProof(16, WordLog2)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyProof(p) {
		t.Fatal("valid proof failed to verify")
	}
}

func TestProofRejectsMisalignedTarget(t *testing.T) {
	tr, _ := newTreeWithRAM(t, 0, 4096)
	if _, err := tr.GetProof(3, WordLog2); err == nil {
		t.Fatal("expected an error for a misaligned target")
	}
}

func TestFlippedProofFails(t *testing.T) {
	tr, r := newTreeWithRAM(t, 0, 4096)
	if err := r.WriteWord(0, 8, 42); err != nil {
		t.Fatal(err)
	}
	p, err := tr.GetProof(0, WordLog2)
	if err != nil {
		t.Fatal(err)
	}
	p.TargetHash[0] ^= 0xff
	if VerifyProof(p) {
		t.Fatal("corrupted proof should not verify")
	}
}

func TestSelfCheck(t *testing.T) {
	tr, r := newTreeWithRAM(t, 0, 8192)
	if err := r.WriteWord(4096+8, 8, 7); err != nil {
		t.Fatal(err)
	}
	if !tr.SelfCheck() {
		t.Fatal("self check should pass on a consistent tree")
	}
}
