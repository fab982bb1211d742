package leaves

import "github.com/starkdex/engine/pkg/field"

// OrderTabHeader is the immutable half of an OrderTab, spec.md §3.
type OrderTabHeader struct {
	BaseToken     uint32
	QuoteToken    uint32
	BaseBlinding  field.Element
	QuoteBlinding field.Element
	PubKey        field.Point
}

func (h OrderTabHeader) hash() field.Element {
	return field.HashMany(
		field.FromUint64(uint64(h.BaseToken)),
		field.FromUint64(uint64(h.QuoteToken)),
		h.BaseBlinding,
		h.QuoteBlinding,
		h.PubKey.X,
		h.PubKey.Y,
	)
}

// OrderTab is the two-sided passive liquidity leaf of spec.md §3.
type OrderTab struct {
	Header OrderTabHeader

	BaseAmount  uint64
	QuoteAmount uint64
	TabIdx      uint64
	Hash        field.Element
}

// computeHash implements spec.md §3: "hash = H(header_hash,
// H(base_amount, base_blinding), H(quote_amount, quote_blinding))".
func (t OrderTab) computeHash() field.Element {
	baseH := field.Pedersen(field.FromUint64(t.BaseAmount), t.Header.BaseBlinding)
	quoteH := field.Pedersen(field.FromUint64(t.QuoteAmount), t.Header.QuoteBlinding)
	return field.HashMany(t.Header.hash(), baseH, quoteH)
}

func (t OrderTab) restamp() OrderTab {
	t.Hash = t.computeHash()
	return t
}

// VerifyHash checks the round-trip invariant of spec.md §8.1.
func (t OrderTab) VerifyHash() bool { return t.Hash.Equal(t.computeHash()) }

// NewOrderTab opens a tab leaf at the given index.
func NewOrderTab(header OrderTabHeader, baseAmount, quoteAmount uint64, tabIdx uint64) OrderTab {
	t := OrderTab{Header: header, BaseAmount: baseAmount, QuoteAmount: quoteAmount, TabIdx: tabIdx}
	return t.restamp()
}

// AdjustAmounts applies signed base/quote deltas after a swap fill or
// liquidity change, recomputing the hash (spec.md §4.B "order-tab
// amount adjustment").
func (t OrderTab) AdjustAmounts(baseDelta, quoteDelta int64) OrderTab {
	t.BaseAmount = applyDelta(t.BaseAmount, baseDelta)
	t.QuoteAmount = applyDelta(t.QuoteAmount, quoteDelta)
	return t.restamp()
}

func applyDelta(v uint64, delta int64) uint64 {
	if delta >= 0 {
		return v + uint64(delta)
	}
	dec := uint64(-delta)
	if dec > v {
		return 0
	}
	return v - dec
}
