package leaves

import (
	"testing"

	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/field"
)

func testAddress(t *testing.T, seed uint64) field.Point {
	t.Helper()
	p, err := field.PointFromPrivateKey(field.FromUint64(seed))
	if err != nil {
		t.Fatalf("derive point: %v", err)
	}
	return p
}

func TestNoteHashRoundTrips(t *testing.T) {
	addr := testAddress(t, 1)
	n := NewNote(3, addr, 54321, 1000, field.FromUint64(7))

	if !n.VerifyHash() {
		t.Fatalf("expected fresh note to verify its own hash")
	}
	if n.IsZero() {
		t.Fatalf("note with nonzero amount should not be zero")
	}

	tampered := n
	tampered.Amount = 2000
	if tampered.VerifyHash() {
		t.Fatalf("mutating amount without restamping must invalidate the hash")
	}
}

func TestNoteZeroIsCanonical(t *testing.T) {
	if !Zero.IsZero() {
		t.Fatalf("Zero must report IsZero")
	}
	if !Zero.Hash.IsZero() {
		t.Fatalf("Zero's hash must be the zero element")
	}
}

func TestNoteHashDependsOnEveryField(t *testing.T) {
	addr := testAddress(t, 1)
	base := NewNote(0, addr, 1, 100, field.FromUint64(1))

	variants := []Note{
		NewNote(0, testAddress(t, 2), 1, 100, field.FromUint64(1)),
		NewNote(0, addr, 2, 100, field.FromUint64(1)),
		NewNote(0, addr, 1, 101, field.FromUint64(1)),
		NewNote(0, addr, 1, 100, field.FromUint64(2)),
	}
	for i, v := range variants {
		if v.Hash.Equal(base.Hash) {
			t.Fatalf("variant %d unexpectedly collided with the base hash", i)
		}
	}
}

func testAssets() map[uint32]config.AssetConfig {
	return config.Default().Assets
}

func TestPositionLiquidationPriceDirection(t *testing.T) {
	header := PositionHeader{SyntheticToken: 12345, AllowPartialLiquidations: true}
	assets := testAssets()

	long := NewPosition(header, Long, 10, 500, 1000, 0, 0, assets)
	if long.LiquidationPrice >= long.EntryPrice {
		t.Fatalf("long liquidation price must sit below entry, got %d vs entry %d", long.LiquidationPrice, long.EntryPrice)
	}

	short := NewPosition(header, Short, 10, 500, 1000, 0, 0, assets)
	if short.LiquidationPrice <= short.EntryPrice {
		t.Fatalf("short liquidation price must sit above entry, got %d vs entry %d", short.LiquidationPrice, short.EntryPrice)
	}

	if !long.VerifyHash() || !short.VerifyHash() {
		t.Fatalf("freshly opened positions must verify their own hash")
	}
}

func TestPositionIncreaseSizeUpdatesVWAPAndHash(t *testing.T) {
	header := PositionHeader{SyntheticToken: 12345}
	assets := testAssets()
	p := NewPosition(header, Long, 10, 500, 1000, 0, 0, assets)

	before := p.Hash
	p = p.IncreaseSize(10, 2000, 500, assets)

	wantEntry := (1000*10 + 2000*10) / 20
	if p.EntryPrice != uint64(wantEntry) {
		t.Fatalf("expected VWAP entry price %d, got %d", wantEntry, p.EntryPrice)
	}
	if p.Margin != 1000 {
		t.Fatalf("expected margin 1000, got %d", p.Margin)
	}
	if p.Hash.Equal(before) {
		t.Fatalf("hash must change after IncreaseSize")
	}
	if !p.VerifyHash() {
		t.Fatalf("position must verify its own hash after IncreaseSize")
	}
}

func TestPositionReduceSizeToZeroClearsPrices(t *testing.T) {
	header := PositionHeader{SyntheticToken: 12345}
	assets := testAssets()
	p := NewPosition(header, Long, 10, 500, 1000, 0, 0, assets)

	p, released := p.ReduceSize(10, assets)
	if p.PositionSize != 0 {
		t.Fatalf("expected position size 0, got %d", p.PositionSize)
	}
	if released != 500 {
		t.Fatalf("expected all margin released, got %d", released)
	}
	if p.EntryPrice != 0 || p.LiquidationPrice != 0 || p.BankruptcyPrice != 0 {
		t.Fatalf("fully closed position must clear entry/liq/bankruptcy prices")
	}
	if !p.VerifyHash() {
		t.Fatalf("closed position must still verify its own hash")
	}
}

func TestPositionCanPartiallyLiquidate(t *testing.T) {
	header := PositionHeader{SyntheticToken: 12345, AllowPartialLiquidations: false}
	assets := testAssets()
	p := NewPosition(header, Long, 1_000_000, 500, 1000, 0, 0, assets)

	if p.CanPartiallyLiquidate(1, assets) {
		t.Fatalf("partial liquidation must be refused when the header disallows it")
	}

	header.AllowPartialLiquidations = true
	p = NewPosition(header, Long, 1_000_000, 500, 1000, 0, 0, assets)
	if !p.CanPartiallyLiquidate(1, assets) {
		t.Fatalf("expected partial liquidation to be permitted above the configured floor")
	}
	if p.CanPartiallyLiquidate(999_999, assets) {
		t.Fatalf("partial liquidation must be refused once remaining size drops below the configured floor")
	}
}

func TestOrderTabHashAndAdjustAmounts(t *testing.T) {
	pub := testAddress(t, 9)
	header := OrderTabHeader{BaseToken: 1, QuoteToken: 2, BaseBlinding: field.FromUint64(3), QuoteBlinding: field.FromUint64(4), PubKey: pub}
	tab := NewOrderTab(header, 100, 200, 7)

	if !tab.VerifyHash() {
		t.Fatalf("fresh order tab must verify its own hash")
	}

	adjusted := tab.AdjustAmounts(50, -50)
	if adjusted.BaseAmount != 150 || adjusted.QuoteAmount != 150 {
		t.Fatalf("expected base=150 quote=150, got base=%d quote=%d", adjusted.BaseAmount, adjusted.QuoteAmount)
	}
	if adjusted.Hash.Equal(tab.Hash) {
		t.Fatalf("hash must change after AdjustAmounts")
	}
	if !adjusted.VerifyHash() {
		t.Fatalf("adjusted tab must verify its own hash")
	}
}

func TestOrderTabAdjustAmountsFloorsAtZero(t *testing.T) {
	header := OrderTabHeader{BaseToken: 1, QuoteToken: 2}
	tab := NewOrderTab(header, 10, 10, 1)

	adjusted := tab.AdjustAmounts(-100, -5)
	if adjusted.BaseAmount != 0 {
		t.Fatalf("base amount must floor at zero, got %d", adjusted.BaseAmount)
	}
	if adjusted.QuoteAmount != 5 {
		t.Fatalf("expected quote amount 5, got %d", adjusted.QuoteAmount)
	}
}
