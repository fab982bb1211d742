package statetree

import (
	"testing"

	"github.com/starkdex/engine/pkg/field"
)

func TestFirstZeroIndexIsMonotoneAndNonRepeating(t *testing.T) {
	tree := New(NewMemKV())

	seen := make(map[uint64]bool)
	var last uint64
	for i := 0; i < 50; i++ {
		idx := tree.FirstZeroIndex()
		if seen[idx] {
			t.Fatalf("FirstZeroIndex returned %d twice", idx)
		}
		if i > 0 && idx <= last {
			t.Fatalf("expected strictly increasing indices, got %d after %d", idx, last)
		}
		seen[idx] = true
		last = idx
	}
}

func TestFirstZeroIndexSkipsLoadedLeaves(t *testing.T) {
	tree := New(NewMemKV())
	tree.LoadLeaf(0, field.FromUint64(1))
	tree.LoadLeaf(1, field.FromUint64(1))

	idx := tree.FirstZeroIndex()
	if idx != 2 {
		t.Fatalf("expected first free index 2, got %d", idx)
	}
}

func TestUpdateLeafClearsReservation(t *testing.T) {
	tree := New(NewMemKV())
	idx := tree.FirstZeroIndex()

	tree.UpdateLeaf(idx, KindNote, field.FromUint64(7))

	if _, stillReserved := tree.reserved[idx]; stillReserved {
		t.Fatalf("expected UpdateLeaf to clear the reservation of index %d", idx)
	}
	if got := tree.GetLeaf(idx); !got.Equal(field.FromUint64(7)) {
		t.Fatalf("expected leaf value 7, got %s", got.String())
	}
	if tree.Updated.Len() != 1 {
		t.Fatalf("expected one pending update, got %d", tree.Updated.Len())
	}
}

func TestGetLeafDefaultsToZero(t *testing.T) {
	tree := New(NewMemKV())
	if v := tree.GetLeaf(12345); !v.IsZero() {
		t.Fatalf("expected zero for an untouched leaf, got %s", v.String())
	}
}

func TestUpdatedSetSnapshotIsIndependentCopy(t *testing.T) {
	tree := New(NewMemKV())
	tree.UpdateLeaf(0, KindNote, field.FromUint64(1))

	snap := tree.Updated.Snapshot()
	tree.UpdateLeaf(1, KindNote, field.FromUint64(2))

	if len(snap) != 1 {
		t.Fatalf("snapshot must not see updates staged after it was taken, got %d entries", len(snap))
	}
	if tree.Updated.Len() != 2 {
		t.Fatalf("expected 2 entries in the live set, got %d", tree.Updated.Len())
	}
}

func TestUpdatedSetClear(t *testing.T) {
	tree := New(NewMemKV())
	tree.UpdateLeaf(0, KindNote, field.FromUint64(1))
	tree.Updated.Clear()
	if tree.Updated.Len() != 0 {
		t.Fatalf("expected updated-set to be empty after Clear, got %d", tree.Updated.Len())
	}
}

func TestTransitionChangesRootAndIsDeterministic(t *testing.T) {
	kv := NewMemKV()
	tree := New(kv)

	idx0 := tree.FirstZeroIndex()
	idx1 := tree.FirstZeroIndex()
	tree.UpdateLeaf(idx0, KindNote, field.FromUint64(11))
	tree.UpdateLeaf(idx1, KindPosition, field.FromUint64(22))

	snapshot := tree.Updated.Snapshot()
	result, err := tree.Transition(snapshot)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if result.NewRoot.Equal(result.PrevRoot) {
		t.Fatalf("expected the root to change after updating leaves")
	}

	// Replaying the exact same delta against a fresh tree over the
	// same KV must reach the identical root — batch finalization is
	// pure given (prevRoot, updatedSet).
	tree2 := New(kv)
	result2, err := tree2.Transition(snapshot)
	if err != nil {
		t.Fatalf("second transition failed: %v", err)
	}
	if !result2.NewRoot.Equal(result.NewRoot) {
		t.Fatalf("expected deterministic root, got %s vs %s", result2.NewRoot.String(), result.NewRoot.String())
	}
}

func TestTransitionWithEmptyUpdateIsNoop(t *testing.T) {
	tree := New(NewMemKV())
	result, err := tree.Transition(map[uint64]LeafUpdate{})
	if err != nil {
		t.Fatalf("empty transition failed: %v", err)
	}
	if !result.NewRoot.Equal(result.PrevRoot) {
		t.Fatalf("expected root unchanged for an empty update set")
	}
}

func TestPartitionOfRoutesByTopBits(t *testing.T) {
	sub, offset := partitionOf(uint64(1)<<SubtreeDepth | 5)
	if sub != 1 || offset != 5 {
		t.Fatalf("expected subtree=1 offset=5, got subtree=%d offset=%d", sub, offset)
	}
}
