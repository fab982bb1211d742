package batch

import (
	"encoding/json"
	"math/big"
	"sort"
	"sync"

	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/executor"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/funding"
	"github.com/starkdex/engine/pkg/oracle"
	"github.com/starkdex/engine/pkg/statetree"
	"github.com/starkdex/engine/pkg/storage"
)

// Coordinator implements spec.md §4.H's finalize_batch under an
// exclusive lock on the tree, serializing the seven-step sequence
// against concurrently admitted executors via the same pause-latch
// idiom the teacher's consensus round used for view changes.
type Coordinator struct {
	mu sync.Mutex

	Config  config.Config
	Tree    *statetree.StateTree
	Funding *funding.Engine
	Oracle  *oracle.Aggregator
	Store   *storage.Store
	Ctx     *executor.Context

	batchID uint64
}

func New(cfg config.Config, tree *statetree.StateTree, fe *funding.Engine, oc *oracle.Aggregator, st *storage.Store, ctx *executor.Context, batchID uint64) *Coordinator {
	return &Coordinator{
		Config: cfg, Tree: tree, Funding: fe, Oracle: oc, Store: st, Ctx: ctx, batchID: batchID,
	}
}

// Counts is the step-2 tally of spec.md §4.H, taken over the
// updated-set: notes, positions and tabs written, and leaves zeroed.
// Deposits, withdrawals, escapes and MM actions are not counted.
type Counts struct {
	NotesUpdated     int `json:"notes_updated"`
	PositionsUpdated int `json:"positions_updated"`
	TabsUpdated      int `json:"tabs_updated"`
	Zeros            int `json:"zeros"`
}

// ProverInput is the root object of spec.md §6: "JSON with these keys
// and no others".
type ProverInput struct {
	GlobalDexState json.RawMessage `json:"global_dex_state"`
	GlobalConfig   json.RawMessage `json:"global_config"`
	DataCommitment string          `json:"data_commitment"`
	FundingInfo    json.RawMessage `json:"funding_info"`
	PriceInfo      json.RawMessage `json:"price_info"`
	Transactions   [][]byte        `json:"transactions"`
	Preimage       statetree.PreimageLog `json:"preimage"`
}

type dexState struct {
	BatchID  uint64 `json:"batch_id"`
	PrevRoot string `json:"prev_root"`
	NewRoot  string `json:"new_root"`
	Counts   Counts `json:"counts"`
}

type fundingInfoEntry struct {
	Token  uint32  `json:"token"`
	Rates  []int64 `json:"rates"`
	Prices []uint64 `json:"prices"`
	MinIdx uint32  `json:"min_idx"`
}

type priceInfoEntry struct {
	Token   uint32         `json:"token"`
	Latest  uint64         `json:"latest"`
	Min     *oracle.Update `json:"min,omitempty"`
	Max     *oracle.Update `json:"max,omitempty"`
}

// Finalize runs the seven ordered steps of spec.md §4.H under a single
// exclusive lock. tokens is the set of synthetic tokens whose
// funding/price snapshots should be embedded this batch — the matching
// edge/RPC layer tracks which tokens actually traded.
func (co *Coordinator) Finalize(tokens []uint32) (ProverInput, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	// Step 1: drain the remaining in-memory micro-batch to disk.
	if err := co.Ctx.MicroBatch.Drain(); err != nil {
		return ProverInput{}, &engineerr.BatchFinalizationError{Reason: "micro-batch drain failed", Cause: err}
	}

	// Step 2: snapshot the updated-set and compute counts.
	snapshot := co.Tree.Updated.Snapshot()
	counts := Counts{}
	for _, upd := range snapshot {
		switch upd.Kind {
		case statetree.KindNote:
			counts.NotesUpdated++
		case statetree.KindPosition:
			counts.PositionsUpdated++
		case statetree.KindOrderTab:
			counts.TabsUpdated++
		}
		if upd.Value.IsZero() {
			counts.Zeros++
		}
	}

	// Step 3+4: pack every live leaf update into its §6 fixed-width
	// record (PackedNote/PackedPosition/PackedOrderTab) using the
	// opened fields the updated-set carries alongside each leaf's
	// canonical hash, batch every removed leaf's index three-per-word
	// via PackZeroIndexes, and fold the complete packed-outputs vector
	// into the data commitment.
	indexes := make([]uint64, 0, len(snapshot))
	for index := range snapshot {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	var packedWords []*big.Int
	var zeroIndexes []uint64
	for _, index := range indexes {
		upd := snapshot[index]
		if upd.Value.IsZero() {
			zeroIndexes = append(zeroIndexes, index)
			continue
		}
		switch upd.Kind {
		case statetree.KindNote:
			if upd.Note == nil {
				return ProverInput{}, &engineerr.BatchFinalizationError{Reason: "updated-set note leaf missing opened fields"}
			}
			words := PackedNote(*upd.Note)
			packedWords = append(packedWords, words[:]...)
		case statetree.KindPosition:
			if upd.Position == nil {
				return ProverInput{}, &engineerr.BatchFinalizationError{Reason: "updated-set position leaf missing opened fields"}
			}
			words := PackedPosition(*upd.Position)
			packedWords = append(packedWords, words[:]...)
		case statetree.KindOrderTab:
			if upd.Tab == nil {
				return ProverInput{}, &engineerr.BatchFinalizationError{Reason: "updated-set order-tab leaf missing opened fields"}
			}
			words := PackedOrderTab(*upd.Tab)
			packedWords = append(packedWords, words[:]...)
		}
	}
	packedWords = append(packedWords, PackZeroIndexes(zeroIndexes)...)

	packedElems := make([]field.Element, len(packedWords))
	for i, w := range packedWords {
		packedElems[i] = field.FromBigInt(w)
	}
	dataCommitment := field.HashMany(packedElems...)

	// Step 5: transition the tree.
	result, err := co.Tree.Transition(snapshot)
	if err != nil {
		return ProverInput{}, &engineerr.BatchFinalizationError{Reason: "tree transition failed", Cause: err}
	}

	// Step 6: assemble the prover input.
	txRecords, err := co.Store.ReadTxLog(co.batchID)
	if err != nil {
		return ProverInput{}, &engineerr.BatchFinalizationError{Reason: "tx log read failed", Cause: err}
	}

	fundingEntries := make([]fundingInfoEntry, 0, len(tokens))
	priceEntries := make([]priceInfoEntry, 0, len(tokens))
	for _, tok := range tokens {
		rates, prices := co.Funding.RatesAndPrices(tok)
		minIdx, _ := co.Funding.MinFundingIdx(tok)
		fundingEntries = append(fundingEntries, fundingInfoEntry{Token: tok, Rates: rates, Prices: prices, MinIdx: minIdx})

		latest, _ := co.Oracle.IndexPrice(tok)
		min, max := co.Oracle.BatchExtremes(tok)
		priceEntries = append(priceEntries, priceInfoEntry{Token: tok, Latest: latest, Min: min, Max: max})
	}

	state := dexState{BatchID: co.batchID, PrevRoot: result.PrevRoot.BigInt().String(), NewRoot: result.NewRoot.BigInt().String(), Counts: counts}
	stateJSON, _ := json.Marshal(state)
	cfgJSON, _ := json.Marshal(co.Config)
	fundingJSON, _ := json.Marshal(fundingEntries)
	priceJSON, _ := json.Marshal(priceEntries)

	input := ProverInput{
		GlobalDexState: stateJSON,
		GlobalConfig:   cfgJSON,
		DataCommitment: dataCommitment.BigInt().String(),
		FundingInfo:    fundingJSON,
		PriceInfo:      priceJSON,
		Transactions:   txRecords,
		Preimage:       result.Preimages,
	}

	// Step 7: reset per-batch counters and rotate.
	co.Tree.Updated.Clear()
	co.Funding.ResetBatch()
	co.Oracle.ResetBatch()
	co.batchID++

	return input, nil
}

// BatchID reports the coordinator's current (not-yet-finalized) batch id.
func (co *Coordinator) BatchID() uint64 {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.batchID
}
