// Package verify replays a frozen access log against a claimed
// before/after root hash, deterministically and without access to any
// live machine state (spec.md §4.6).
package verify

import (
	"fmt"

	"github.com/rvattest/machine/internal/accesslog"
	"github.com/rvattest/machine/internal/merkle"
)

// Failure reports exactly which record in the log is inconsistent with
// the claimed roots (spec.md §7 kind 4, "Verification failure"). Index
// is reported in whichever convention the caller's oneBased flag asked
// for: the sentinel meaning "final root" is len(Accesses) when 0-based,
// len(Accesses)+1 when 1-based, so it never collides with a real record
// index in either convention.
type Failure struct {
	Index  int
	Reason string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("verify: record %d: %s", f.Index, f.Reason)
}

// Verify replays log against rootBefore and reports whether the final
// working root equals rootAfter. Reads never mutate the working root;
// writes substitute the write's post-image into the logged proof and
// install the recomputed root. Every record's proof must itself verify
// against the *current* working root before it is consumed, so a log
// that was captured against a different starting state is rejected at
// the first record rather than producing a coincidentally-matching final
// root.
//
// oneBased is spec.md §4.6's "one-based index flag" input (threaded the
// same way original_source/src/server.cpp passes req->one_based() into
// verify_access_log/verify_state_transition): it selects the indexing
// convention used for every reported Failure.Index, matching the
// 1-based convention accesslog's wire format already uses for
// Bracket/Note "where" fields.
func Verify(rootBefore merkle.Hash, log *accesslog.Log, rootAfter merkle.Hash, oneBased bool) (bool, *Failure) {
	working := rootBefore

	reportIndex := func(i int) int {
		if oneBased {
			return i + 1
		}
		return i
	}

	for i, a := range log.Accesses {
		if a.Proof == nil {
			return false, &Failure{Index: reportIndex(i), Reason: "record has no proof"}
		}
		if a.Proof.RootHash != working {
			return false, &Failure{Index: reportIndex(i), Reason: "proof's root does not match the working root"}
		}
		if !merkle.VerifyProof(*a.Proof) {
			return false, &Failure{Index: reportIndex(i), Reason: "proof does not verify"}
		}
		if merkle.HashLeafBytes(a.ReadData) != a.Proof.TargetHash {
			return false, &Failure{Index: reportIndex(i), Reason: "read data does not match the proof's target hash"}
		}

		if a.Kind != accesslog.Write {
			continue
		}

		newTarget := merkle.HashLeafBytes(a.WrittenData)
		working = merkle.RecomputeRoot(a.Proof.TargetAddress, a.Proof.Log2TargetSize, a.Proof.Log2RootSize, newTarget, a.Proof.SiblingHashes)
	}

	if working != rootAfter {
		return false, &Failure{Index: reportIndex(len(log.Accesses)), Reason: "final working root does not match the claimed after-root"}
	}
	return true, nil
}
