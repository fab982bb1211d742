// Package field implements the cryptographic primitives of spec.md
// §4.A: field arithmetic over the STARK-friendly prime, the pedersen-
// style hash fold, and signature verification. No component outside
// this package constructs field arithmetic manually — leaves, the
// state tree, and every executor call through here.
package field

import "math/big"

// Modulus is the ≈2^251 STARK-friendly prime spec.md §3 specifies
// ("amounts ... field elements of a prime field ≈2²⁵¹"). This is the
// modulus used by StarkWare's Cairo field (2^251 + 17*2^192 + 1).
var Modulus = func() *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), 251)
	t := new(big.Int).Lsh(big.NewInt(17), 192)
	m.Add(m, t)
	m.Add(m, big.NewInt(1))
	return m
}()

// Element is a field element: an integer in [0, Modulus).
type Element struct {
	v *big.Int
}

// Zero is the additive identity.
func Zero() Element { return Element{v: new(big.Int)} }

// FromUint64 lifts a u64 into the field.
func FromUint64(x uint64) Element {
	return Element{v: new(big.Int).SetUint64(x)}
}

// FromBigInt reduces an arbitrary big.Int into the field.
func FromBigInt(x *big.Int) Element {
	v := new(big.Int).Mod(x, Modulus)
	if v.Sign() < 0 {
		v.Add(v, Modulus)
	}
	return Element{v: v}
}

// FromBytes interprets big-endian bytes as a field element.
func FromBytes(b []byte) Element {
	return FromBigInt(new(big.Int).SetBytes(b))
}

// Bytes returns the big-endian, 32-byte fixed-width encoding.
func (e Element) Bytes() []byte {
	out := make([]byte, 32)
	b := e.v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

// BigInt returns the underlying value. Callers must not mutate it.
func (e Element) BigInt() *big.Int { return e.v }

// IsZero reports whether e is the additive identity.
func (e Element) IsZero() bool { return e.v.Sign() == 0 }

// Equal reports value equality.
func (e Element) Equal(o Element) bool { return e.v.Cmp(o.v) == 0 }

// Add returns e+o mod Modulus.
func (e Element) Add(o Element) Element {
	r := new(big.Int).Add(e.v, o.v)
	r.Mod(r, Modulus)
	return Element{v: r}
}

// Sub returns e-o mod Modulus.
func (e Element) Sub(o Element) Element {
	r := new(big.Int).Sub(e.v, o.v)
	r.Mod(r, Modulus)
	if r.Sign() < 0 {
		r.Add(r, Modulus)
	}
	return Element{v: r}
}

// Mul returns e*o mod Modulus.
func (e Element) Mul(o Element) Element {
	r := new(big.Int).Mul(e.v, o.v)
	r.Mod(r, Modulus)
	return Element{v: r}
}

// String renders the decimal representation, matching the "decimal
// string" the prover input uses for data_commitment (spec.md §6).
func (e Element) String() string { return e.v.String() }

// MarshalJSON emits a decimal string, matching the JSON-as-universal-
// record micro-batch log convention of spec.md §9.
func (e Element) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.v.String() + `"`), nil
}

// UnmarshalJSON parses a decimal string back into a field element.
func (e *Element) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		v = new(big.Int)
	}
	*e = FromBigInt(v)
	return nil
}
