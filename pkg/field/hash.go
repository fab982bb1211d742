package field

import "golang.org/x/crypto/sha3"

// Pedersen is the two-input hash primitive spec.md §4.A requires
// ("pedersen(a,b) → F"). A true Pedersen commitment needs a STARK-
// native curve that does not appear anywhere in the retrieved example
// pack (see DESIGN.md); this keccak-based fold is the documented
// stand-in, grounded on the teacher's own use of
// crypto.Keccak256Hash for message hashing (pkg/crypto/signer.go).
func Pedersen(a, b Element) Element {
	h := sha3.NewLegacyKeccak256()
	h.Write(a.Bytes())
	h.Write(b.Bytes())
	return FromBytes(h.Sum(nil))
}

// HashMany is the left-fold pedersen over a vector with its length
// mixed in, exactly as spec.md §4.A specifies
// ("hash_many([F]) → F (left-fold pedersen with length)").
func HashMany(elems ...Element) Element {
	acc := Zero()
	for _, e := range elems {
		acc = Pedersen(acc, e)
	}
	return Pedersen(acc, FromUint64(uint64(len(elems))))
}
