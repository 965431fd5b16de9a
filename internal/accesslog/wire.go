package accesslog

import (
	"encoding/hex"
	"encoding/json"

	"github.com/rvattest/machine/internal/merkle"
)

// wireProof mirrors cm_merkle_tree_proof's fields (see
// internal/merkle/proof.go) with hex-encoded hashes, since JSON has no
// native byte-string type.
type wireProof struct {
	TargetAddress  uint64   `json:"target_address"`
	Log2TargetSize uint     `json:"log2_target_size"`
	Log2RootSize   uint     `json:"log2_root_size"`
	TargetHash     string   `json:"target_hash"`
	RootHash       string   `json:"root_hash"`
	SiblingHashes  []string `json:"sibling_hashes"`
}

type wireAccess struct {
	Type     string     `json:"type"`
	Address  uint64     `json:"address"`
	Log2Size uint       `json:"log2_size"`
	Read     string     `json:"read"`
	Written  string     `json:"written,omitempty"`
	Proof    *wireProof `json:"proof,omitempty"`
}

type wireBracket struct {
	Type  string `json:"type"`
	Where int    `json:"where"`
	Text  string `json:"text"`
}

type wireNote struct {
	Where int    `json:"where"`
	Text  string `json:"text"`
}

type wireLogType struct {
	Proofs      bool `json:"proofs"`
	Annotations bool `json:"annotations"`
}

type wireLog struct {
	LogType  wireLogType   `json:"log_type"`
	Accesses []wireAccess  `json:"accesses"`
	Brackets []wireBracket `json:"brackets,omitempty"`
	Notes    []wireNote    `json:"notes,omitempty"`
}

func toWireProof(p *merkle.Proof) *wireProof {
	if p == nil {
		return nil
	}
	siblings := make([]string, len(p.SiblingHashes))
	for i, h := range p.SiblingHashes {
		siblings[i] = hex.EncodeToString(h[:])
	}
	return &wireProof{
		TargetAddress:  p.TargetAddress,
		Log2TargetSize: p.Log2TargetSize,
		Log2RootSize:   p.Log2RootSize,
		TargetHash:     hex.EncodeToString(p.TargetHash[:]),
		RootHash:       hex.EncodeToString(p.RootHash[:]),
		SiblingHashes:  siblings,
	}
}

func fromWireProof(w *wireProof) (*merkle.Proof, error) {
	if w == nil {
		return nil, nil
	}
	target, err := decodeHash(w.TargetHash)
	if err != nil {
		return nil, err
	}
	root, err := decodeHash(w.RootHash)
	if err != nil {
		return nil, err
	}
	siblings := make([]merkle.Hash, len(w.SiblingHashes))
	for i, s := range w.SiblingHashes {
		h, err := decodeHash(s)
		if err != nil {
			return nil, err
		}
		siblings[i] = h
	}
	return &merkle.Proof{
		TargetAddress:  w.TargetAddress,
		Log2TargetSize: w.Log2TargetSize,
		Log2RootSize:   w.Log2RootSize,
		TargetHash:     target,
		RootHash:       root,
		SiblingHashes:  siblings,
	}, nil
}

func decodeHash(s string) (merkle.Hash, error) {
	var h merkle.Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// MarshalJSON renders the log in the wire shape of spec.md §6, where
// "where" is a 1-based access index. Accesses[i] is internally index i
// (0-based); convert from 0- to 1-based on the way out, matching
// original_source/src/clua-machine-util.cpp's b->where + 1.
func (l *Log) MarshalJSON() ([]byte, error) {
	w := wireLog{
		LogType: wireLogType{Proofs: l.Proofs, Annotations: l.Annotations},
	}
	for _, a := range l.Accesses {
		wa := wireAccess{
			Address:  a.Address,
			Log2Size: a.Log2Size,
			Read:     hex.EncodeToString(a.ReadData),
			Proof:    toWireProof(a.Proof),
		}
		if a.Kind == Write {
			wa.Type = "write"
			wa.Written = hex.EncodeToString(a.WrittenData)
		} else {
			wa.Type = "read"
		}
		w.Accesses = append(w.Accesses, wa)
	}
	for _, b := range l.Brackets {
		t := "begin"
		if b.Type == End {
			t = "end"
		}
		w.Brackets = append(w.Brackets, wireBracket{Type: t, Where: b.Where + 1, Text: b.Text})
	}
	for _, n := range l.Notes {
		w.Notes = append(w.Notes, wireNote{Where: n.Where + 1, Text: n.Text})
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire shape of spec.md §6, as consumed by
// internal/verify.Verifier. "where" arrives 1-based; convert back to the
// internal 0-based Accesses index.
func (l *Log) UnmarshalJSON(data []byte) error {
	var w wireLog
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	l.Proofs = w.LogType.Proofs
	l.Annotations = w.LogType.Annotations
	l.Accesses = nil
	for _, wa := range w.Accesses {
		read, err := hex.DecodeString(wa.Read)
		if err != nil {
			return err
		}
		a := Access{Address: wa.Address, Log2Size: wa.Log2Size, ReadData: read}
		if wa.Type == "write" {
			a.Kind = Write
			written, err := hex.DecodeString(wa.Written)
			if err != nil {
				return err
			}
			a.WrittenData = written
		}
		proof, err := fromWireProof(wa.Proof)
		if err != nil {
			return err
		}
		a.Proof = proof
		l.Accesses = append(l.Accesses, a)
	}
	l.Brackets = nil
	for _, wb := range w.Brackets {
		bt := Begin
		if wb.Type == "end" {
			bt = End
		}
		l.Brackets = append(l.Brackets, Bracket{Type: bt, Where: wb.Where - 1, Text: wb.Text})
	}
	l.Notes = nil
	for _, wn := range w.Notes {
		l.Notes = append(l.Notes, Note{Where: wn.Where - 1, Text: wn.Text})
	}
	return nil
}
