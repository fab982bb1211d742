// Package statetree implements spec.md §4.C: the partitioned sparse
// Merkle tree over the three leaf kinds, split into 4096 sub-trees of
// depth 20 plus a depth-12 top tree over their roots (spec.md §3).
package statetree

import (
	"fmt"
	"sync"

	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
)

const (
	// TotalDepth is D=32 from spec.md §3.
	TotalDepth = 32
	// SubtreeDepth is depth 20 of each of the 4096 sub-trees.
	SubtreeDepth = 20
	// TopDepth is the depth-12 tree over sub-tree roots (2^12 = 4096).
	TopDepth = TotalDepth - SubtreeDepth
	// SubtreeCount is 2^12 = 4096.
	SubtreeCount = 1 << TopDepth
	// SubtreeMask extracts the offset within a sub-tree (spec.md §3:
	// "offset i & 0xFFFFF").
	SubtreeMask = (uint64(1) << SubtreeDepth) - 1
)

// LeafKind distinguishes the three leaf families that coexist in the
// same tree (spec.md glossary: "distinguished only by their side-table
// entry").
type LeafKind uint8

const (
	KindNote LeafKind = iota
	KindPosition
	KindOrderTab
)

// LeafUpdate is one entry of the updated-leaf set of spec.md §3: a
// mapping u64 → (LeafKind, F). A zero Value denotes removal, in which
// case Note/Position/Tab are nil — the §6 packed-leaf output format
// only needs the index for a removed leaf (the "Zero-indexes" word),
// not its prior opened fields. For a live leaf, whichever of
// Note/Position/Tab matches Kind carries the full opened fields the
// batch coordinator needs to build the real §6 PackedNote/
// PackedPosition/PackedOrderTab record instead of just its hash.
type LeafUpdate struct {
	Kind     LeafKind
	Value    field.Element
	Note     *leaves.Note
	Position *leaves.Position
	Tab      *leaves.OrderTab
}

// UpdatedSet is the complete description of a batch's state delta
// (spec.md §3). Safe for concurrent use: callers mutate it only
// through StateTree so writes are serialized with the superficial
// view.
type UpdatedSet struct {
	mu sync.Mutex
	m  map[uint64]LeafUpdate
}

func NewUpdatedSet() *UpdatedSet { return &UpdatedSet{m: make(map[uint64]LeafUpdate)} }

func (u *UpdatedSet) put(index uint64, upd LeafUpdate) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.m[index] = upd
}

// attachLeaf fills in the opened-fields pointer of an entry UpdateLeaf
// already staged, so UpdateNote/UpdatePosition/UpdateTab can reuse
// UpdateLeaf's superficial-view bookkeeping instead of duplicating it.
func (u *UpdatedSet) attachLeaf(index uint64, note *leaves.Note, pos *leaves.Position, tab *leaves.OrderTab) {
	u.mu.Lock()
	defer u.mu.Unlock()
	upd, ok := u.m[index]
	if !ok {
		return
	}
	upd.Note, upd.Position, upd.Tab = note, pos, tab
	u.m[index] = upd
}

// Snapshot returns a stable copy for batch finalization (step 2 of
// spec.md §4.H: "Snapshot the updated-set").
func (u *UpdatedSet) Snapshot() map[uint64]LeafUpdate {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[uint64]LeafUpdate, len(u.m))
	for k, v := range u.m {
		out[k] = v
	}
	return out
}

// Clear empties the set, done at the end of finalization (§4.H step 7).
func (u *UpdatedSet) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.m = make(map[uint64]LeafUpdate)
}

func (u *UpdatedSet) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.m)
}

// StateTree is the public contract of spec.md §4.C.
type StateTree struct {
	kv KV

	mu         sync.RWMutex
	superficial map[uint64]field.Element // authoritative between batches
	nextFree    uint64
	reserved    map[uint64]struct{} // indices handed out this batch, not yet committed

	Updated *UpdatedSet
}

// New constructs a StateTree backed by kv, with the superficial view
// starting empty (a fresh chain) or caller-populated via LoadLeaf for
// restart from a snapshot (spec.md §4.C: "the durable tree is only
// re-read at startup or on batch transition").
func New(kv KV) *StateTree {
	return &StateTree{
		kv:          kv,
		superficial: make(map[uint64]field.Element),
		reserved:    make(map[uint64]struct{}),
		Updated:     NewUpdatedSet(),
	}
}

// LoadLeaf seeds the superficial view at startup from a durable
// snapshot, without going through UpdateLeaf's updated-set bookkeeping.
func (t *StateTree) LoadLeaf(index uint64, value field.Element) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.superficial[index] = value
	if index >= t.nextFree {
		t.nextFree = index + 1
	}
}

// GetLeaf is O(1): spec.md §4.C "get_leaf(index) → F — O(1) lookup of
// the current leaf value (zero if absent)".
func (t *StateTree) GetLeaf(index uint64) field.Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.superficial[index]
	if !ok {
		return field.Zero()
	}
	return v
}

// FirstZeroIndex reserves and returns the lowest unused leaf index.
// Per spec.md §4.C it "never returns an index already returned in the
// same batch even if the caller has not yet committed the leaf" and
// "must be strictly monotone under concurrent callers within one
// batch" — the mutex plus the `reserved` set give both properties.
func (t *StateTree) FirstZeroIndex() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.nextFree
	for {
		_, inSuperficial := t.superficial[idx]
		_, inReserved := t.reserved[idx]
		if !inSuperficial && !inReserved {
			break
		}
		idx++
	}
	t.reserved[idx] = struct{}{}
	t.nextFree = idx + 1
	return idx
}

// UpdateLeaf overwrites a leaf in the superficial view and stages it
// in the updated-set for the next Transition (spec.md §4.C).
func (t *StateTree) UpdateLeaf(index uint64, kind LeafKind, newValue field.Element) {
	t.mu.Lock()
	t.superficial[index] = newValue
	delete(t.reserved, index)
	t.mu.Unlock()

	t.Updated.put(index, LeafUpdate{Kind: kind, Value: newValue})
}

// UpdateNote overwrites a note leaf and stages its full opened fields
// in the updated-set, so batch finalization can build the real §6
// PackedNote record instead of folding the bare hash.
func (t *StateTree) UpdateNote(n leaves.Note) {
	t.UpdateLeaf(n.Index, KindNote, n.Hash)
	nCopy := n
	t.Updated.attachLeaf(n.Index, &nCopy, nil, nil)
}

// UpdatePosition overwrites a position leaf, staging its opened fields
// for the §6 PackedPosition record.
func (t *StateTree) UpdatePosition(p leaves.Position) {
	t.UpdateLeaf(p.Index, KindPosition, p.Hash)
	pCopy := p
	t.Updated.attachLeaf(p.Index, nil, &pCopy, nil)
}

// UpdateTab overwrites an order-tab leaf, staging its opened fields
// for the §6 PackedOrderTab record.
func (t *StateTree) UpdateTab(tab leaves.OrderTab) {
	t.UpdateLeaf(tab.TabIdx, KindOrderTab, tab.Hash)
	tCopy := tab
	t.Updated.attachLeaf(tab.TabIdx, nil, nil, &tCopy)
}

// partitionOf routes a leaf index to its sub-tree id and offset,
// spec.md §3: "Leaf index i routes to sub-tree i >> 20 at offset
// i & 0xFFFFF".
func partitionOf(index uint64) (subtree uint64, offset uint64) {
	return index >> SubtreeDepth, index & SubtreeMask
}

func subtreePrefix(subtree uint64) []byte {
	return []byte(fmt.Sprintf("st:%d:", subtree))
}

var topPrefix = []byte("top:")

// TransitionResult is the output of Transition, spec.md §4.C.
type TransitionResult struct {
	PrevRoot  field.Element
	NewRoot   field.Element
	Preimages PreimageLog
}

// Transition applies updatedSet at batch finalization: it routes each
// (index, value) to its partition, rewrites that sub-tree on disk,
// recomputes the partition root, then recomputes the top tree — spec.md
// §4.C. Distinct partitions could be processed concurrently (spec.md
// §5: "the tree partitioner processes distinct partitions concurrently
// but individual partitions serially"); here sub-trees are processed
// one goroutine each, joined before the top-tree pass, which must see
// every updated sub-tree root.
func (t *StateTree) Transition(updatedSet map[uint64]LeafUpdate) (TransitionResult, error) {
	prevRoot, err := readRoot(t.kv, topPrefix, TopDepth)
	if err != nil {
		return TransitionResult{}, &engineerr.TreeIOError{Op: "read_prev_root", Cause: err}
	}

	byPartition := make(map[uint64]map[uint64]field.Element)
	for index, upd := range updatedSet {
		sub, offset := partitionOf(index)
		if byPartition[sub] == nil {
			byPartition[sub] = make(map[uint64]field.Element)
		}
		byPartition[sub][offset] = upd.Value
	}

	preimages := make(PreimageLog)
	var preimagesMu sync.Mutex

	type partResult struct {
		sub  uint64
		root field.Element
		err  error
	}
	results := make(chan partResult, len(byPartition))

	var wg sync.WaitGroup
	for sub, leafVals := range byPartition {
		wg.Add(1)
		go func(sub uint64, leafVals map[uint64]field.Element) {
			defer wg.Done()
			prefix := subtreePrefix(sub)
			localLog := make(PreimageLog)
			var root field.Element
			var err error
			for offset, val := range leafVals {
				root, err = updateLeafPath(t.kv, prefix, SubtreeDepth, offset, val, localLog)
				if err != nil {
					results <- partResult{sub: sub, err: fmt.Errorf("partition %d: %w", sub, err)}
					return
				}
			}
			preimagesMu.Lock()
			for k, v := range localLog {
				preimages[k] = v
			}
			preimagesMu.Unlock()
			results <- partResult{sub: sub, root: root}
		}(sub, leafVals)
	}
	wg.Wait()
	close(results)

	topLeaves := make(map[uint64]field.Element, len(byPartition))
	for r := range results {
		if r.err != nil {
			return TransitionResult{}, &engineerr.TreeIOError{Op: "partition_transition", Cause: r.err}
		}
		topLeaves[r.sub] = r.root
	}

	var newRoot field.Element
	for sub, root := range topLeaves {
		var err error
		newRoot, err = updateLeafPath(t.kv, topPrefix, TopDepth, sub, root, preimages)
		if err != nil {
			return TransitionResult{}, &engineerr.TreeIOError{Op: "top_tree", Cause: err}
		}
	}
	if len(topLeaves) == 0 {
		newRoot = prevRoot
	}

	return TransitionResult{PrevRoot: prevRoot, NewRoot: newRoot, Preimages: preimages}, nil
}
