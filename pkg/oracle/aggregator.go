// Package oracle implements spec.md §4.G: the price oracle aggregator
// that turns a set of observer-signed price updates into a verified
// per-token index price, retaining the batch's min/max witnessed
// updates for the prover input. Grounded on
// invisible_backend/src/transaction_batch/tx_batch_structs.rs's
// per-batch min/max price bookkeeping and on pkg/field.Verify for
// signature checking.
package oracle

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
)

// twoTo64 is the shift constant of spec.md §4.G's signed-message
// encoding: msg = ((price·2⁶⁴)+token)·2⁶⁴ + timestamp.
var twoTo64 = field.FromBigInt(new(big.Int).Lsh(big.NewInt(1), 64))

// ObserverSignature is one observer's attestation over an OracleUpdate.
type ObserverSignature struct {
	ObserverID uint64
	Signature  field.Signature
}

// Update is the wire shape of spec.md §4.G's OracleUpdate.
type Update struct {
	Token       uint32
	Timestamp   uint64
	ObserverIDs []uint64
	Prices      []uint64
	Signatures  []ObserverSignature
}

// perTokenState tracks the latest accepted price plus the batch's
// min/max witnessed updates, reset at batch finalization.
type perTokenState struct {
	latest   uint64
	min, max *Update
}

// Aggregator is the process-wide oracle state of spec.md §3.
type Aggregator struct {
	mu        sync.Mutex
	observers map[uint64]field.Point
	threshold int
	synthetic map[uint32]bool
	tokens    map[uint32]*perTokenState
}

func New(cfg config.Config, observerKeys map[uint64]field.Point) *Aggregator {
	return &Aggregator{
		observers: observerKeys,
		threshold: cfg.OracleThreshold,
		synthetic: cfg.SyntheticAssets,
		tokens:    make(map[uint32]*perTokenState),
	}
}

// Submit processes one OracleUpdate per spec.md §4.G: rejects it
// outright if the token isn't synthetic or observer_ids repeat, counts
// the signatures that verify against the configured observer keys, and
// on reaching threshold sets the token's index price to the median of
// this update's verified prices (replacing the previous value) and
// updates the batch's min/max trackers.
func (a *Aggregator) Submit(u Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.synthetic[u.Token] {
		return &engineerr.OracleUpdateError{Token: u.Token, Reason: "token is not a configured synthetic asset"}
	}
	if len(u.ObserverIDs) != len(u.Prices) || len(u.Prices) != len(u.Signatures) {
		return &engineerr.OracleUpdateError{Token: u.Token, Reason: "observer_ids/prices/signatures length mismatch"}
	}
	seen := make(map[uint64]struct{}, len(u.ObserverIDs))
	for _, id := range u.ObserverIDs {
		if _, dup := seen[id]; dup {
			return &engineerr.OracleUpdateError{Token: u.Token, Reason: "duplicate observer_id"}
		}
		seen[id] = struct{}{}
	}

	verified := 0
	var survivingPrices []uint64
	for i, sig := range u.Signatures {
		pub, ok := a.observers[sig.ObserverID]
		if !ok {
			continue
		}
		msg := computeMsg(u.Prices[i], u.Token, u.Timestamp)
		if field.Verify(pub, msg, sig.Signature) {
			verified++
			survivingPrices = append(survivingPrices, u.Prices[i])
		}
	}
	if verified < a.threshold {
		return &engineerr.OracleUpdateError{
			Token:  u.Token,
			Reason: fmt.Sprintf("only %d/%d signatures verified, threshold %d", verified, a.threshold, a.threshold),
		}
	}

	st, ok := a.tokens[u.Token]
	if !ok {
		st = &perTokenState{}
		a.tokens[u.Token] = st
	}
	st.latest = median(survivingPrices)
	if st.min == nil || u.Timestamp < st.min.Timestamp {
		uu := u
		st.min = &uu
	}
	if st.max == nil || u.Timestamp > st.max.Timestamp {
		uu := u
		st.max = &uu
	}
	return nil
}

// computeMsg builds msg = ((price·2⁶⁴)+token)·2⁶⁴ + timestamp, the
// exact encoding spec.md §4.G specifies for the per-observer signature
// check.
func computeMsg(price uint64, token uint32, timestamp uint64) field.Element {
	p := field.FromUint64(price)
	withToken := p.Mul(twoTo64).Add(field.FromUint64(uint64(token)))
	return withToken.Mul(twoTo64).Add(field.FromUint64(timestamp))
}

// IndexPrice returns the most recently accepted median price for
// token, and whether one has ever been set.
func (a *Aggregator) IndexPrice(token uint32) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.tokens[token]
	if !ok {
		return 0, false
	}
	return st.latest, true
}

// BatchExtremes returns the min/max witnessed updates this batch for
// token, for inclusion in the prover input (spec.md §4.G).
func (a *Aggregator) BatchExtremes(token uint32) (min, max *Update) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.tokens[token]
	if !ok {
		return nil, nil
	}
	return st.min, st.max
}

// ResetBatch clears the per-token min/max trackers, done at batch
// finalization (spec.md §4.H).
func (a *Aggregator) ResetBatch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, st := range a.tokens {
		st.min, st.max = nil, nil
	}
}

func median(prices []uint64) uint64 {
	if len(prices) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), prices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
