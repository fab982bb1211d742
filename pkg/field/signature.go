package field

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// Point is an elliptic-curve point (x, y), used for note/position/tab
// owner keys (spec.md §3: "address: (F,F)"). Grounded on
// pkg/crypto/signer.go's ecdsa.PublicKey handling, generalized from a
// single Ethereum address into the raw point pair the spec's
// sum-of-address-points authorization model needs.
type Point struct {
	X, Y Element
}

// Signature is (r, s) per spec.md §3.
type Signature struct {
	R, S Element
}

// PointFromPrivateKey derives the public point for a private scalar,
// spec.md §4.A's point_from_private_key. Grounded on
// crypto.ToECDSA + (*ecdsa.PrivateKey).Public in the teacher's
// GenerateKey/FromPrivateKeyHex.
func PointFromPrivateKey(priv Element) (Point, error) {
	curve := crypto.S256()
	d := new(big.Int).Mod(priv.BigInt(), curve.Params().N)
	if d.Sign() == 0 {
		return Point{}, fmt.Errorf("private key is zero")
	}
	x, y := curve.ScalarBaseMult(d.Bytes())
	return Point{X: FromBigInt(x), Y: FromBigInt(y)}, nil
}

// AddPoints adds two curve points, used to build the "sum of input-note
// address points" public key spec.md §4.D withdrawal/margin/split
// transactions verify against.
func AddPoints(p1, p2 Point) Point {
	curve := crypto.S256()
	x, y := curve.Add(p1.X.BigInt(), p1.Y.BigInt(), p2.X.BigInt(), p2.Y.BigInt())
	return Point{X: FromBigInt(x), Y: FromBigInt(y)}
}

// Verify checks sig against msg under pubKey. It is total: malformed
// points or signatures return false rather than panicking, per
// spec.md §4.A ("verify returns false on malformed inputs, never
// throws"). Grounded on the teacher's VerifySignature
// (pkg/crypto/signer.go), generalized from an Ethereum address
// comparison to a direct ECDSA verification against the raw point.
func Verify(pubKey Point, msg Element, sig Signature) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	curve := crypto.S256()
	if !curve.IsOnCurve(pubKey.X.BigInt(), pubKey.Y.BigInt()) {
		return false
	}
	pub := &ecdsa.PublicKey{Curve: curve, X: pubKey.X.BigInt(), Y: pubKey.Y.BigInt()}
	return ecdsa.Verify(pub, msg.Bytes(), sig.R.BigInt(), sig.S.BigInt())
}

// Sign produces a (r, s) signature over msg under priv, the inverse of
// Verify. Used by cmd/sign-order and by tests; the live engine only
// ever calls Verify, since signing happens client-side.
func Sign(priv Element, msg Element) (Signature, error) {
	curve := crypto.S256()
	d := new(big.Int).Mod(priv.BigInt(), curve.Params().N)
	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve},
		D:         d,
	}
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())

	r, s, err := ecdsa.Sign(rand.Reader, key, msg.Bytes())
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}
	return Signature{R: FromBigInt(r), S: FromBigInt(s)}, nil
}

// VerifyEthereum verifies a 65-byte recoverable Ethereum-style
// signature against an address, for authorizing via a derived
// Ethereum address rather than a raw point. No code in this module
// calls it. Grounded directly on pkg/crypto/signer.go's
// VerifySignature.
func VerifyEthereum(address [20]byte, hash []byte, signature []byte) bool {
	if len(signature) != 65 || len(hash) != 32 {
		return false
	}
	pubBytes, err := crypto.Ecrecover(hash, signature)
	if err != nil {
		return false
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pub)
	return recovered == address
}
