package verify

import (
	"testing"

	"github.com/rvattest/machine/internal/accesslog"
	"github.com/rvattest/machine/internal/merkle"
	"github.com/rvattest/machine/internal/physmem"
)

func buildLog(t *testing.T) (*accesslog.Log, merkle.Hash, merkle.Hash) {
	t.Helper()
	pm := physmem.New()
	buf := make([]byte, 4096)
	r, err := pm.RegisterRAM(0, 4096, buf)
	if err != nil {
		t.Fatal(err)
	}
	tree := merkle.New(pm, nil)
	logger := accesslog.New(true, false, tree, nil)

	before := tree.GetRootHash()
	beforeBytes := make([]byte, 8)
	logger.RecordRead(0, merkle.WordLog2, beforeBytes)
	afterBytes := make([]byte, 8)
	afterBytes[0] = 7
	logger.RecordWrite(0, merkle.WordLog2, beforeBytes, afterBytes)
	if err := r.WriteWord(0, 8, 7); err != nil {
		t.Fatal(err)
	}
	after := tree.GetRootHash()

	return logger.Log(), before, after
}

func TestVerifySucceedsOnConsistentLog(t *testing.T) {
	log, before, after := buildLog(t)
	ok, fail := Verify(before, log, after, false)
	if !ok {
		t.Fatalf("expected success, got failure: %v", fail)
	}
}

func TestVerifyFailsOnTamperedWrite(t *testing.T) {
	log, before, after := buildLog(t)
	log.Accesses[1].WrittenData[0] ^= 0xff
	ok, fail := Verify(before, log, after, false)
	if ok {
		t.Fatal("expected verification to fail")
	}
	if fail.Index != len(log.Accesses) {
		t.Fatalf("expected final-root mismatch at index %d, got %d", len(log.Accesses), fail.Index)
	}
}

func TestVerifyFailsOnWrongRootBefore(t *testing.T) {
	log, _, after := buildLog(t)
	var wrong merkle.Hash
	wrong[0] = 1
	ok, fail := Verify(wrong, log, after, false)
	if ok {
		t.Fatal("expected verification to fail")
	}
	if fail.Index != 0 {
		t.Fatalf("expected mismatch at record 0, got %d", fail.Index)
	}
}

func TestVerifyOneBasedIndex(t *testing.T) {
	log, _, after := buildLog(t)
	var wrong merkle.Hash
	wrong[0] = 1
	ok, fail := Verify(wrong, log, after, true)
	if ok {
		t.Fatal("expected verification to fail")
	}
	if fail.Index != 1 {
		t.Fatalf("expected one-based mismatch at record 1, got %d", fail.Index)
	}

	log2, before2, _ := buildLog(t)
	log2.Accesses[1].WrittenData[0] ^= 0xff
	ok, fail = Verify(before2, log2, after, true)
	if ok {
		t.Fatal("expected verification to fail")
	}
	if fail.Index != len(log2.Accesses)+1 {
		t.Fatalf("expected one-based final-root mismatch at %d, got %d", len(log2.Accesses)+1, fail.Index)
	}
}
