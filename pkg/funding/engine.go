// Package funding implements spec.md §4.F: per-minute TWAP
// accumulation, hourly rate derivation, and per-position funding
// accrual for perpetual swaps.
package funding

import (
	"sync"

	"github.com/starkdex/engine/pkg/config"
)

// perTokenState holds the rate/price history and per-minute running
// sum for one synthetic token (spec.md §3 "Funding state").
type perTokenState struct {
	rates  []int64  // funding_rates[token], one per hourly epoch
	prices []uint64 // funding_prices[token]

	minuteSum   int64
	minuteTicks int
}

// Engine is the process-wide funding state of spec.md §3/§4.F.
type Engine struct {
	mu sync.Mutex

	tokens map[uint32]*perTokenState

	// minFundingIdxs is the smallest epoch touched by a position this
	// batch, per token (spec.md §3).
	minFundingIdxs map[uint32]uint32
}

func New() *Engine {
	return &Engine{
		tokens:         make(map[uint32]*perTokenState),
		minFundingIdxs: make(map[uint32]uint32),
	}
}

func (e *Engine) state(token uint32) *perTokenState {
	s, ok := e.tokens[token]
	if !ok {
		s = &perTokenState{}
		e.tokens[token] = s
	}
	return s
}

// Tick is the external per-minute trigger of spec.md §4.F: for each
// synthetic token, accumulate
//
//	deviation = max(0, impact_bid - index) - max(0, index - impact_ask)
//	sum += deviation * 100_000 / index
//
// and every 60 ticks derive an hourly rate:
//
//	rate = (sum/60)/8   (an 8-hour realization)
//
// appended to funding_rates[token], with funding_prices[token]
// appending the latest index price.
func (e *Engine) Tick(token uint32, impactBid, impactAsk, indexPrice uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if indexPrice == 0 {
		return
	}
	s := e.state(token)

	deviation := int64(0)
	if impactBid > indexPrice {
		deviation += int64(impactBid - indexPrice)
	}
	if indexPrice > impactAsk {
		deviation -= int64(indexPrice - impactAsk)
	}
	s.minuteSum += deviation * 100_000 / int64(indexPrice)
	s.minuteTicks++

	if s.minuteTicks >= config.FundingEpochLength {
		rate := (s.minuteSum / config.FundingEpochLength) / 8
		s.rates = append(s.rates, rate)
		s.prices = append(s.prices, indexPrice)
		s.minuteSum = 0
		s.minuteTicks = 0
	}
}

// CurrentFundingIdx is funding_rates[token].len() (spec.md §4.F).
func (e *Engine) CurrentFundingIdx(token uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint32(len(e.state(token).rates))
}

// SwapFundingInfo is the snapshot of spec.md §4.F, captured once before
// executing a swap's two halves so both observe the same rate vector.
type SwapFundingInfo struct {
	CurrentIdx uint32
	Rates      []int64
	Prices     []uint64
	MinIdx     uint32
}

// Snapshot captures the funding state for token from minIdx through the
// current index, for use by both halves of a single perp swap.
func (e *Engine) Snapshot(token uint32, minIdx uint32) SwapFundingInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state(token)
	cur := uint32(len(s.rates))
	if minIdx > cur {
		minIdx = cur
	}
	rates := append([]int64(nil), s.rates[minIdx:]...)
	prices := append([]uint64(nil), s.prices[minIdx:]...)
	return SwapFundingInfo{CurrentIdx: cur, Rates: rates, Prices: prices, MinIdx: minIdx}
}

// AccrueDelta computes the funding charge for a position of signed
// size (negative = short) held from lastIdx to the snapshot's
// CurrentIdx, per spec.md §4.F:
//
//	Σ over [last_idx, current_idx) of size · rate_i · price_i / (8·10^5·2^63)
//
// scaled down to a plain int64 delta in collateral units. Each term is
// divided by 100_000 (the deviation scaling of Tick; the 8-hour
// division is already in the stored rates) times 10^priceDecimals,
// which takes the place of the 2^63 divisor so the result fits in an
// int64 margin delta.
func AccrueDelta(info SwapFundingInfo, lastIdx uint32, signedSize int64, priceDecimals uint8) int64 {
	if lastIdx >= info.CurrentIdx || lastIdx < info.MinIdx {
		return 0
	}
	start := lastIdx - info.MinIdx
	end := info.CurrentIdx - info.MinIdx
	if int(end) > len(info.Rates) {
		end = uint32(len(info.Rates))
	}

	scale := int64(1)
	for i := uint8(0); i < priceDecimals; i++ {
		scale *= 10
	}

	var total int64
	for i := start; i < end; i++ {
		rate := info.Rates[i]
		price := int64(info.Prices[i])
		total += signedSize * rate * price / (100_000 * scale)
	}
	return total
}

// NoteMinFundingIdx records the smallest last_funding_idx touched by a
// position mutation this batch (spec.md §3/§8.5 invariant).
func (e *Engine) NoteMinFundingIdx(token uint32, lastFundingIdxBefore uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.minFundingIdxs[token]
	if !ok || lastFundingIdxBefore < cur {
		e.minFundingIdxs[token] = lastFundingIdxBefore
	}
}

// MinFundingIdx returns the tracked floor for token.
func (e *Engine) MinFundingIdx(token uint32) (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.minFundingIdxs[token]
	return v, ok
}

// ResetBatch clears min_funding_idxs, done at batch finalization
// (spec.md §4.H step 7).
func (e *Engine) ResetBatch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minFundingIdxs = make(map[uint32]uint32)
}

// RatesAndPrices exposes the raw history for the prover-input
// funding_info field (spec.md §6).
func (e *Engine) RatesAndPrices(token uint32) ([]int64, []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state(token)
	return append([]int64(nil), s.rates...), append([]uint64(nil), s.prices...)
}
