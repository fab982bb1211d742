package leaves

import (
	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/field"
)

// Side is a perpetual position's direction, spec.md §3.
type Side uint8

const (
	Long Side = iota
	Short
)

// PositionHeader is the immutable half of a Position, spec.md §3.
type PositionHeader struct {
	SyntheticToken            uint32
	PositionAddress           field.Element
	AllowPartialLiquidations  bool
	VlpToken                  uint32
	MaxVlpSupply              uint64
}

func (h PositionHeader) hash() field.Element {
	flag := uint64(0)
	if h.AllowPartialLiquidations {
		flag = 1
	}
	return field.HashMany(
		field.FromUint64(uint64(h.SyntheticToken)),
		h.PositionAddress,
		field.FromUint64(flag),
		field.FromUint64(uint64(h.VlpToken)),
		field.FromUint64(h.MaxVlpSupply),
	)
}

// Position is the perpetual futures leaf of spec.md §3.
type Position struct {
	Header PositionHeader

	OrderSide        Side
	PositionSize     uint64
	Margin           uint64
	EntryPrice       uint64
	LiquidationPrice uint64
	BankruptcyPrice  uint64
	LastFundingIdx   uint32
	VlpSupply        uint64
	Index            uint64
	Hash             field.Element
}

// computeHash implements spec.md §3: "hash = H(header_hash, side,
// size, entry_price, liq_price, last_funding_idx, vlp_supply)".
func (p Position) computeHash() field.Element {
	return field.HashMany(
		p.Header.hash(),
		field.FromUint64(uint64(p.OrderSide)),
		field.FromUint64(p.PositionSize),
		field.FromUint64(p.EntryPrice),
		field.FromUint64(p.LiquidationPrice),
		field.FromUint64(uint64(p.LastFundingIdx)),
		field.FromUint64(p.VlpSupply),
	)
}

func (p Position) restamp() Position {
	p.Hash = p.computeHash()
	return p
}

// VerifyHash checks the round-trip invariant of spec.md §8.1.
func (p Position) VerifyHash() bool { return p.Hash.Equal(p.computeHash()) }

// NewPosition opens a fresh position at the given index.
func NewPosition(header PositionHeader, side Side, size, margin, entryPrice uint64, lastFundingIdx uint32, index uint64, assets map[uint32]config.AssetConfig) Position {
	p := Position{
		Header:         header,
		OrderSide:      side,
		PositionSize:   size,
		Margin:         margin,
		EntryPrice:     entryPrice,
		LastFundingIdx: lastFundingIdx,
		Index:          index,
	}
	p.LiquidationPrice = p.computeLiquidationPrice(assets)
	p.BankruptcyPrice = p.computeBankruptcyPrice()
	return p.restamp()
}

// computeLiquidationPrice implements spec.md §3's invariant that
// liquidation_price is "deterministic in (entry, margin, size, side,
// token, partial-flag)". For an isolated-margin perpetual the
// liquidation price is the entry price adjusted by the margin ratio in
// the direction that erodes the position:
//
//	long:  liq = entry * (1 - margin/(size*entry))
//	short: liq = entry * (1 + margin/(size*entry))
func (p Position) computeLiquidationPrice(assets map[uint32]config.AssetConfig) uint64 {
	if p.PositionSize == 0 {
		return 0
	}
	notional := p.PositionSize * p.EntryPrice
	if notional == 0 {
		return 0
	}
	// marginRatio is expressed as parts-per-notional scaled by EntryPrice
	// to stay in integer arithmetic: delta = entry * margin / notional.
	delta := (p.Margin * p.EntryPrice) / notional
	switch p.OrderSide {
	case Long:
		if delta >= p.EntryPrice {
			return 0
		}
		return p.EntryPrice - delta
	default: // Short
		return p.EntryPrice + delta
	}
}

// computeBankruptcyPrice is the price at which margin hits exactly
// zero: entry ∓ margin/size. No maintenance margin is applied anywhere,
// so this equals computeLiquidationPrice's value up to integer
// rounding (spec.md §4.D Liquidation).
func (p Position) computeBankruptcyPrice() uint64 {
	if p.PositionSize == 0 {
		return 0
	}
	delta := p.Margin / p.PositionSize
	switch p.OrderSide {
	case Long:
		if delta >= p.EntryPrice {
			return 0
		}
		return p.EntryPrice - delta
	default:
		return p.EntryPrice + delta
	}
}

// IncreaseSize augments an open position with additional size at a new
// fill price, updating the VWAP entry price (spec.md §4.B mutators).
func (p Position) IncreaseSize(sizeDelta, priceDelta, marginDelta uint64, assets map[uint32]config.AssetConfig) Position {
	newSize := p.PositionSize + sizeDelta
	if newSize > 0 {
		p.EntryPrice = (p.EntryPrice*p.PositionSize + priceDelta*sizeDelta) / newSize
	}
	p.PositionSize = newSize
	p.Margin += marginDelta
	p.LiquidationPrice = p.computeLiquidationPrice(assets)
	p.BankruptcyPrice = p.computeBankruptcyPrice()
	return p.restamp()
}

// ReduceSize shrinks a position by sizeDelta, releasing a proportional
// share of margin (used by the perp Close path and by Liquidate,
// spec.md §4.D).
func (p Position) ReduceSize(sizeDelta uint64, assets map[uint32]config.AssetConfig) (Position, uint64) {
	if sizeDelta > p.PositionSize {
		sizeDelta = p.PositionSize
	}
	releasedMargin := uint64(0)
	if p.PositionSize > 0 {
		releasedMargin = p.Margin * sizeDelta / p.PositionSize
	}
	p.PositionSize -= sizeDelta
	p.Margin -= releasedMargin
	if p.PositionSize == 0 {
		p.EntryPrice = 0
		p.LiquidationPrice = 0
		p.BankruptcyPrice = 0
	} else {
		p.LiquidationPrice = p.computeLiquidationPrice(assets)
		p.BankruptcyPrice = p.computeBankruptcyPrice()
	}
	return p.restamp(), releasedMargin
}

// FlipSide reverses direction when a counter-order's size exceeds the
// position's remaining size (spec.md §4.D PerpSwap Modify "side-flip").
func (p Position) FlipSide(remainingSize, newEntryPrice, newMargin uint64, assets map[uint32]config.AssetConfig) Position {
	if p.OrderSide == Long {
		p.OrderSide = Short
	} else {
		p.OrderSide = Long
	}
	p.PositionSize = remainingSize
	p.EntryPrice = newEntryPrice
	p.Margin = newMargin
	p.LiquidationPrice = p.computeLiquidationPrice(assets)
	p.BankruptcyPrice = p.computeBankruptcyPrice()
	return p.restamp()
}

// ClosePosition zeroes out a position entirely (spec.md §4.D Close).
func (p Position) ClosePosition() Position {
	p.PositionSize = 0
	p.Margin = 0
	p.EntryPrice = 0
	p.LiquidationPrice = 0
	p.BankruptcyPrice = 0
	return p.restamp()
}

// Liquidate reduces a position by the liquidated size and returns the
// margin consumed, matching the Close shape (spec.md §4.D Liquidation).
func (p Position) Liquidate(size uint64, assets map[uint32]config.AssetConfig) (Position, uint64) {
	return p.ReduceSize(size, assets)
}

// CanPartiallyLiquidate implements spec.md §4.B: "Partial liquidation
// is permitted only if allow_partial_liquidations AND remaining size ≥
// token-specific MIN_PARTIAL_LIQUIDATION_SIZE."
func (p Position) CanPartiallyLiquidate(liquidatedSize uint64, assets map[uint32]config.AssetConfig) bool {
	if !p.Header.AllowPartialLiquidations {
		return false
	}
	remaining := p.PositionSize - liquidatedSize
	asset, ok := assets[p.Header.SyntheticToken]
	if !ok {
		return false
	}
	return remaining >= asset.MinPartialLiquidationSize
}

// ModifyMargin applies a signed margin delta (spec.md §4.D MarginChange).
func (p Position) ModifyMargin(delta int64, assets map[uint32]config.AssetConfig) Position {
	if delta >= 0 {
		p.Margin += uint64(delta)
	} else {
		dec := uint64(-delta)
		if dec > p.Margin {
			dec = p.Margin
		}
		p.Margin -= dec
	}
	p.LiquidationPrice = p.computeLiquidationPrice(assets)
	p.BankruptcyPrice = p.computeBankruptcyPrice()
	return p.restamp()
}

// AccrueFunding applies the funding engine's per-position charge
// (spec.md §4.F) and advances last_funding_idx, preserving invariant
// §8.5 (monotonicity).
func (p Position) AccrueFunding(delta int64, newFundingIdx uint32) Position {
	if delta >= 0 {
		p.Margin += uint64(delta)
	} else {
		dec := uint64(-delta)
		if dec > p.Margin {
			dec = p.Margin
		}
		p.Margin -= dec
	}
	if newFundingIdx > p.LastFundingIdx {
		p.LastFundingIdx = newFundingIdx
	}
	return p.restamp()
}

// SetVlpSupply updates the vLP supply tracked inside the position
// (spec.md §4.D MM liquidity operations).
func (p Position) SetVlpSupply(supply uint64) Position {
	p.VlpSupply = supply
	return p.restamp()
}
