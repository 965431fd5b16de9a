// Package accesslog records the word-granularity reads and writes the
// interpreter performs, together with Merkle proofs and bracket
// annotations, matching the access log data model of spec.md §3 and §4.5.
package accesslog

import (
	"log/slog"

	"github.com/rvattest/machine/internal/merkle"
)

// Kind distinguishes a read record from a write record.
type Kind int

const (
	Read Kind = iota
	Write
)

func (k Kind) String() string {
	if k == Write {
		return "write"
	}
	return "read"
}

// Access is one logged word-granularity memory touch.
type Access struct {
	Kind       Kind
	Address    uint64
	Log2Size   uint
	ReadData   []byte // always present: the value before the access
	WrittenData []byte // present only for Kind == Write: the value after
	Proof      *merkle.Proof // present only when proof logging is enabled
}

// BracketType distinguishes the two ends of an annotated region.
type BracketType int

const (
	Begin BracketType = iota
	End
)

// Bracket delimits the accesses produced by one logical operation (e.g.
// one retired instruction, or a page-table walk nested inside a load).
type Bracket struct {
	Type  BracketType
	Where int // index into Accesses, 0-based
	Text  string
}

// Note is a free-form annotation attached to a specific access index.
type Note struct {
	Where int
	Text  string
}

// Log is the complete, ordered record of one run (spec.md §6 "Access log
// wire format").
type Log struct {
	Proofs      bool
	Annotations bool

	Accesses []Access
	Brackets []Bracket
	Notes    []Note
}

// Logger wraps word-granularity memory access, appending a record to Log
// before every mutation (spec.md §4.5: "every architectural word
// read/write produces a record BEFORE the state mutation"). A nil *Logger
// is valid and makes every method a no-op, so interp can unconditionally
// thread a *Logger through without a feature-flag branch at every call
// site.
type Logger struct {
	log  *Log
	tree *merkle.Tree
	slog *slog.Logger
}

// New creates a Logger that records into a fresh Log, optionally
// generating a Merkle proof for every access (spec.md §4.5) and bracket
// annotations for composite operations (spec.md §3 "Brackets"). tree may
// be nil when Proofs is false.
func New(proofs, annotations bool, tree *merkle.Tree, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{
		log: &Log{
			Proofs:      proofs,
			Annotations: annotations,
		},
		tree: tree,
		slog: log,
	}
}

// Log returns the accumulated log. Safe to call mid-run; the caller must
// not mutate the returned value while the Logger is still in use.
func (l *Logger) Log() *Log {
	if l == nil {
		return nil
	}
	return l.log
}

func (l *Logger) proofFor(addr uint64, log2Size uint) *merkle.Proof {
	if l == nil || l.log == nil || !l.log.Proofs || l.tree == nil {
		return nil
	}
	p, err := l.tree.GetProof(addr, log2Size)
	if err != nil {
		l.slog.Warn("accesslog: proof request failed", "addr", addr, "log2size", log2Size, "err", err)
		return nil
	}
	return &p
}

// RecordRead appends a read record for a pre-access value read at addr.
func (l *Logger) RecordRead(addr uint64, log2Size uint, value []byte) {
	if l == nil {
		return
	}
	l.log.Accesses = append(l.log.Accesses, Access{
		Kind:     Read,
		Address:  addr,
		Log2Size: log2Size,
		ReadData: append([]byte(nil), value...),
		Proof:    l.proofFor(addr, log2Size),
	})
}

// RecordWrite appends a write record: before is the pre-image captured
// (and proved) before the mutation, after is the post-image the caller is
// about to install.
func (l *Logger) RecordWrite(addr uint64, log2Size uint, before, after []byte) {
	if l == nil {
		return
	}
	l.log.Accesses = append(l.log.Accesses, Access{
		Kind:        Write,
		Address:     addr,
		Log2Size:    log2Size,
		ReadData:    append([]byte(nil), before...),
		WrittenData: append([]byte(nil), after...),
		Proof:       l.proofFor(addr, log2Size),
	})
}

// BeginBracket opens an annotated region labelled text, anchored at the
// next access index to be appended.
func (l *Logger) BeginBracket(text string) {
	if l == nil || !l.log.Annotations {
		return
	}
	l.log.Brackets = append(l.log.Brackets, Bracket{Type: Begin, Where: len(l.log.Accesses), Text: text})
}

// EndBracket closes the most recently opened annotated region.
func (l *Logger) EndBracket(text string) {
	if l == nil || !l.log.Annotations {
		return
	}
	l.log.Brackets = append(l.log.Brackets, Bracket{Type: End, Where: len(l.log.Accesses), Text: text})
}

// Note attaches a free-form annotation to the current access index.
func (l *Logger) Note(text string) {
	if l == nil || !l.log.Annotations {
		return
	}
	l.log.Notes = append(l.log.Notes, Note{Where: len(l.log.Accesses), Text: text})
}
