// Package leaves implements the three leaf kinds of spec.md §3: Note,
// Position, and OrderTab. Each exposes an immutable canonical-hash
// function (§4.B) and mutators that return a new value with the hash
// recomputed — no mutator updates hash in place, so a leaf value is
// always self-consistent the moment it exists.
package leaves

import "github.com/starkdex/engine/pkg/field"

// Note is the UTXO-like value carrier of spec.md §3.
type Note struct {
	Index    uint64
	Address  field.Point
	Token    uint32
	Amount   uint64
	Blinding field.Element
	Hash     field.Element
}

// NewNote builds a Note and stamps its canonical hash, matching
// spec.md §3: "hash = H(address.x, token, H(amount, blinding))".
func NewNote(index uint64, address field.Point, token uint32, amount uint64, blinding field.Element) Note {
	n := Note{Index: index, Address: address, Token: token, Amount: amount, Blinding: blinding}
	n.Hash = n.computeHash()
	return n
}

func (n Note) computeHash() field.Element {
	inner := field.Pedersen(field.FromUint64(n.Amount), n.Blinding)
	mid := field.Pedersen(field.FromUint64(uint64(n.Token)), inner)
	return field.Pedersen(n.Address.X, mid)
}

// VerifyHash reports whether n.Hash is canonical for its current
// fields — the round-trip check of spec.md §8 invariant 1.
func (n Note) VerifyHash() bool { return n.Hash.Equal(n.computeHash()) }

// IsZero reports whether this is the empty/removed leaf value.
func (n Note) IsZero() bool { return n.Amount == 0 && n.Hash.IsZero() }

// Zero is the canonical empty note (a removed leaf), spec.md §3:
// "Value 0 denotes removal."
var Zero = Note{Hash: field.Zero()}
