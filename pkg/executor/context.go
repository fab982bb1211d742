// Package executor implements spec.md §4.D: one file per transaction
// type, all sharing the atomicity contract — on precondition failure
// no leaf mutation is staged, a typed engineerr is returned instead.
// Grounded on the teacher's pkg/app/core/account/manager.go method
// set (Deposit/Withdraw/ApplyOrder), generalized from single-asset
// spot balances to notes/positions/order-tabs.
package executor

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/funding"
	"github.com/starkdex/engine/pkg/leaves"
	"github.com/starkdex/engine/pkg/oracle"
	"github.com/starkdex/engine/pkg/partialfill"
	"github.com/starkdex/engine/pkg/statetree"
	"github.com/starkdex/engine/pkg/storage"
)

// MatchRetryLimit resolves spec.md §9's "pick a small constant" open
// question for the external matching edge's invalid_order_id retry
// loop (see SPEC_FULL.md). Executors don't consume this themselves;
// it is exported for the RPC/matching layer.
const MatchRetryLimit = 5

// Context bundles every shared resource an executor needs, matching
// spec.md §4.D's "input is a decoded request plus references to (C),
// the updated-set, partial-fill maps, the micro-batch log, and the
// durable sinks". One Context is constructed at boot and shared by
// every concurrent executor goroutine — its fields are themselves
// independently synchronized (tree, coordinator, funding, oracle), so
// Context itself holds no lock.
type Context struct {
	Config  config.Config
	Tree    *statetree.StateTree
	PF      *partialfill.Coordinator
	Funding *funding.Engine
	Oracle  *oracle.Aggregator
	Store   *storage.Store
	Log     *zap.Logger

	MicroBatch *MicroBatchLog

	insuranceFund int64 // process-wide counter, spec.md §4.D Liquidation
}

func New(cfg config.Config, tree *statetree.StateTree, pf *partialfill.Coordinator,
	fe *funding.Engine, oc *oracle.Aggregator, st *storage.Store, log *zap.Logger, mb *MicroBatchLog) *Context {
	return &Context{
		Config: cfg, Tree: tree, PF: pf, Funding: fe, Oracle: oc, Store: st, Log: log, MicroBatch: mb,
	}
}

// AddInsuranceShortfall accrues (or repays, if negative) the
// process-wide insurance fund counter — spec.md §4.D Liquidation:
// "any residual insurance shortfall is tracked in the process-wide
// insurance_fund counter."
func (c *Context) AddInsuranceShortfall(delta int64) {
	atomic.AddInt64(&c.insuranceFund, delta)
}

func (c *Context) InsuranceFund() int64 {
	return atomic.LoadInt64(&c.insuranceFund)
}

// MicroBatchLog is the append-log of spec.md §4.H: every executor
// emits exactly one JSON record per completed transaction; every
// MicroBatchFlushSize records the buffer is drained to disk and
// cleared. A single mutex serializes appends, preserving "global
// arrival order of completed transactions" (spec.md §5).
type MicroBatchLog struct {
	mu       sync.Mutex
	store    *storage.Store
	batchID  uint64
	seq      uint64
	buffer   [][]byte
	flushAt  int
}

func NewMicroBatchLog(store *storage.Store, batchID uint64, flushAt int) *MicroBatchLog {
	return &MicroBatchLog{store: store, batchID: batchID, flushAt: flushAt}
}

// Append records one completed transaction's JSON payload, flushing
// to disk every flushAt records (spec.md §4.H "Append log").
func (l *MicroBatchLog) Append(record []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = append(l.buffer, record)
	l.seq++
	if len(l.buffer) >= l.flushAt {
		return l.drainLocked()
	}
	return nil
}

// Drain force-flushes any buffered records, done at batch finalization
// step 1 ("Drain the remaining in-memory micro-batch to disk").
func (l *MicroBatchLog) Drain() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drainLocked()
}

func (l *MicroBatchLog) drainLocked() error {
	for i, rec := range l.buffer {
		if err := l.store.AppendTxLog(l.batchID, l.seq-uint64(len(l.buffer))+uint64(i), rec); err != nil {
			return err
		}
	}
	l.buffer = l.buffer[:0]
	return nil
}

// reserveNote is the shared helper nearly every executor uses: n's
// hash doesn't depend on its index (spec.md §3: "hash = H(address.x,
// token, H(amount, blinding))"), so the caller builds n with
// leaves.NewNote first, then reserveNote assigns the real index and
// stages the leaf.
func reserveNote(tree *statetree.StateTree, n leaves.Note) leaves.Note {
	n.Index = tree.FirstZeroIndex()
	tree.UpdateNote(n)
	return n
}

// zeroNote clears a consumed note's leaf (spec.md §3: "Value 0
// denotes removal").
func zeroNote(tree *statetree.StateTree, index uint64) {
	tree.UpdateLeaf(index, statetree.KindNote, leaves.Zero.Hash)
}
