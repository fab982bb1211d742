package funding

import (
	"testing"

	"github.com/starkdex/engine/pkg/config"
)

const token = uint32(12345)

func TestTickAccumulatesUntilEpochBoundary(t *testing.T) {
	e := New()

	for i := 0; i < config.FundingEpochLength-1; i++ {
		e.Tick(token, 1010, 990, 1000)
	}
	if idx := e.CurrentFundingIdx(token); idx != 0 {
		t.Fatalf("expected no epoch to close before %d ticks, got idx=%d", config.FundingEpochLength, idx)
	}

	e.Tick(token, 1010, 990, 1000)
	if idx := e.CurrentFundingIdx(token); idx != 1 {
		t.Fatalf("expected exactly one closed epoch after %d ticks, got idx=%d", config.FundingEpochLength, idx)
	}

	rates, prices := e.RatesAndPrices(token)
	if len(rates) != 1 || len(prices) != 1 {
		t.Fatalf("expected one rate and one price recorded, got %d/%d", len(rates), len(prices))
	}
	if prices[0] != 1000 {
		t.Fatalf("expected recorded price 1000, got %d", prices[0])
	}
}

func TestTickIgnoresZeroIndexPrice(t *testing.T) {
	e := New()
	for i := 0; i < config.FundingEpochLength; i++ {
		e.Tick(token, 1010, 990, 0)
	}
	if idx := e.CurrentFundingIdx(token); idx != 0 {
		t.Fatalf("expected zero index price ticks to be ignored entirely, got idx=%d", idx)
	}
}

func TestTickDeviationSignMatchesImpactSkew(t *testing.T) {
	positive := New()
	for i := 0; i < config.FundingEpochLength; i++ {
		positive.Tick(token, 1100, 1000, 1000) // impact bid above index: positive deviation
	}
	rates, _ := positive.RatesAndPrices(token)
	if rates[0] <= 0 {
		t.Fatalf("expected a positive funding rate when impact bid exceeds index, got %d", rates[0])
	}

	negative := New()
	for i := 0; i < config.FundingEpochLength; i++ {
		negative.Tick(token, 1000, 900, 1000) // impact ask below index: negative deviation
	}
	rates, _ = negative.RatesAndPrices(token)
	if rates[0] >= 0 {
		t.Fatalf("expected a negative funding rate when impact ask is below index, got %d", rates[0])
	}
}

func TestSnapshotClampsMinIdxToCurrent(t *testing.T) {
	e := New()
	snap := e.Snapshot(token, 5)
	if snap.MinIdx != 0 || snap.CurrentIdx != 0 {
		t.Fatalf("expected a fresh token to clamp min_idx/current_idx to 0, got %+v", snap)
	}
}

func TestNoteAndMinFundingIdxTracksFloor(t *testing.T) {
	e := New()
	e.NoteMinFundingIdx(token, 10)
	e.NoteMinFundingIdx(token, 3)
	e.NoteMinFundingIdx(token, 7)

	idx, ok := e.MinFundingIdx(token)
	if !ok || idx != 3 {
		t.Fatalf("expected tracked floor 3, got %d (ok=%v)", idx, ok)
	}

	e.ResetBatch()
	if _, ok := e.MinFundingIdx(token); ok {
		t.Fatalf("expected ResetBatch to clear the tracked floor")
	}
}

func TestAccrueDeltaOutOfRangeIsZero(t *testing.T) {
	info := SwapFundingInfo{CurrentIdx: 2, MinIdx: 0, Rates: []int64{100, 200}, Prices: []uint64{1000, 1000}}
	if d := AccrueDelta(info, 2, 10, 6); d != 0 {
		t.Fatalf("expected zero delta when lastIdx >= CurrentIdx, got %d", d)
	}
}

func TestAccrueDeltaSignFollowsPositionSide(t *testing.T) {
	info := SwapFundingInfo{CurrentIdx: 1, MinIdx: 0, Rates: []int64{1000}, Prices: []uint64{1_000_000}}

	long := AccrueDelta(info, 0, 10, 6)
	short := AccrueDelta(info, 0, -10, 6)
	if long == 0 {
		t.Fatalf("expected a nonzero funding delta for a long position")
	}
	if long != -short {
		t.Fatalf("expected long and short deltas to be mirror images, got %d and %d", long, short)
	}
}
