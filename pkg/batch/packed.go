// Package batch implements spec.md §4.H: draining the micro-batch
// log, packing the updated-set into the prover's fixed-width leaf
// output format, folding a data commitment, calling the tree
// transition, and assembling the prover-input JSON object.
package batch

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
)

// PackedNote implements spec.md §6: "[ (token<<128) |
// (hidden_amount<<64) | index, H(amount,blinding), addr.x, addr.y ]"
// where hidden_amount = amount XOR (blinding mod 2^64). uint256.Int is
// the natural carrier for the 192-bit-plus shifted word: go-ethereum's
// own transaction/state-trie code already leans on it for this exact
// shift-and-mask idiom, so pkg/batch reuses it instead of hand-rolling
// big.Int shifts.
func PackedNote(n leaves.Note) [4]*big.Int {
	blindMod64 := new(big.Int).Mod(n.Blinding.BigInt(), new(big.Int).Lsh(big.NewInt(1), 64))
	hiddenAmount := n.Amount ^ blindMod64.Uint64()

	word := new(uint256.Int).SetUint64(uint64(n.Token))
	word.Lsh(word, 128)
	hidden := new(uint256.Int).SetUint64(hiddenAmount)
	hidden.Lsh(hidden, 64)
	word.Or(word, hidden)
	word.Or(word, new(uint256.Int).SetUint64(n.Index))

	inner := field.Pedersen(field.FromUint64(n.Amount), n.Blinding)
	return [4]*big.Int{word.ToBig(), inner.BigInt(), n.Address.X.BigInt(), n.Address.Y.BigInt()}
}

// PackedPosition implements spec.md §6's two-word position pack, using
// the position's own LeverageDecimals-free integer fields directly
// (the prover side applies its own fixed-point scaling).
func PackedPosition(p leaves.Position) [3]*big.Int {
	w0 := new(uint256.Int).SetUint64(p.Index)
	w0.Lsh(w0, 192)
	t := new(uint256.Int).SetUint64(uint64(p.Header.SyntheticToken))
	t.Lsh(t, 160)
	w0.Or(w0, t)
	sz := new(uint256.Int).SetUint64(p.PositionSize)
	sz.Lsh(sz, 96)
	w0.Or(w0, sz)
	maxVlp := new(uint256.Int).SetUint64(p.Header.MaxVlpSupply)
	maxVlp.Lsh(maxVlp, 32)
	w0.Or(w0, maxVlp)
	w0.Or(w0, new(uint256.Int).SetUint64(uint64(p.Header.VlpToken)))

	w1 := new(uint256.Int).SetUint64(p.EntryPrice)
	w1.Lsh(w1, 162)
	margin := new(uint256.Int).SetUint64(p.Margin)
	margin.Lsh(margin, 98)
	w1.Or(w1, margin)
	vlpSupply := new(uint256.Int).SetUint64(p.VlpSupply)
	vlpSupply.Lsh(vlpSupply, 34)
	w1.Or(w1, vlpSupply)
	lastIdx := new(uint256.Int).SetUint64(uint64(p.LastFundingIdx))
	lastIdx.Lsh(lastIdx, 2)
	w1.Or(w1, lastIdx)
	side := new(uint256.Int).SetUint64(uint64(p.OrderSide))
	side.Lsh(side, 1)
	w1.Or(w1, side)
	if p.Header.AllowPartialLiquidations {
		w1.Or(w1, uint256.NewInt(1))
	}

	return [3]*big.Int{w0.ToBig(), w1.ToBig(), p.Header.PositionAddress.BigInt()}
}

// PackedOrderTab implements spec.md §6's four-word tab pack.
func PackedOrderTab(t leaves.OrderTab) [4]*big.Int {
	baseBlindMod64 := new(big.Int).Mod(t.Header.BaseBlinding.BigInt(), new(big.Int).Lsh(big.NewInt(1), 64))
	quoteBlindMod64 := new(big.Int).Mod(t.Header.QuoteBlinding.BigInt(), new(big.Int).Lsh(big.NewInt(1), 64))
	baseHidden := t.BaseAmount ^ baseBlindMod64.Uint64()
	quoteHidden := t.QuoteAmount ^ quoteBlindMod64.Uint64()

	w0 := new(uint256.Int).SetUint64(t.TabIdx)
	w0.Lsh(w0, 192)
	base := new(uint256.Int).SetUint64(uint64(t.Header.BaseToken))
	base.Lsh(base, 160)
	w0.Or(w0, base)
	quote := new(uint256.Int).SetUint64(uint64(t.Header.QuoteToken))
	quote.Lsh(quote, 128)
	w0.Or(w0, quote)
	bh := new(uint256.Int).SetUint64(baseHidden)
	bh.Lsh(bh, 64)
	w0.Or(w0, bh)
	w0.Or(w0, new(uint256.Int).SetUint64(quoteHidden))

	baseH := field.Pedersen(field.FromUint64(t.BaseAmount), t.Header.BaseBlinding)
	quoteH := field.Pedersen(field.FromUint64(t.QuoteAmount), t.Header.QuoteBlinding)
	return [4]*big.Int{w0.ToBig(), baseH.BigInt(), quoteH.BigInt(), t.Header.PubKey.X.BigInt()}
}

// PackZeroIndexes implements spec.md §6: "packed three per field
// element (i1<<128)|(i2<<64)|i3".
func PackZeroIndexes(indexes []uint64) []*big.Int {
	out := make([]*big.Int, 0, (len(indexes)+2)/3)
	for i := 0; i < len(indexes); i += 3 {
		w := new(uint256.Int).SetUint64(indexes[i])
		w.Lsh(w, 128)
		if i+1 < len(indexes) {
			mid := new(uint256.Int).SetUint64(indexes[i+1])
			mid.Lsh(mid, 64)
			w.Or(w, mid)
		}
		if i+2 < len(indexes) {
			w.Or(w, new(uint256.Int).SetUint64(indexes[i+2]))
		}
		out = append(out, w.ToBig())
	}
	return out
}
