package statetree

import (
	"encoding/hex"
	"fmt"

	"github.com/starkdex/engine/pkg/field"
)

// emptyHashes[i] is the root of an all-zero sparse Merkle (sub)tree of
// depth i: emptyHashes[0] is the zero leaf, emptyHashes[i] =
// Pedersen(emptyHashes[i-1], emptyHashes[i-1]).
var emptyHashes = buildEmptyHashes(32)

func buildEmptyHashes(maxDepth int) []field.Element {
	h := make([]field.Element, maxDepth+1)
	h[0] = field.Zero()
	for i := 1; i <= maxDepth; i++ {
		h[i] = field.Pedersen(h[i-1], h[i-1])
	}
	return h
}

// PreimageLog records every internal node touched by a transition, as
// spec.md §4.C requires: "{parent_hash: [left, right]}". Keyed by the
// parent's decimal field representation so the JSON output is
// deterministic and prover-ingestible.
type PreimageLog map[string][2]string

func (p PreimageLog) record(parent, left, right field.Element) {
	p[parent.String()] = [2]string{left.String(), right.String()}
}

// nodeKey derives the durable-storage key for a node at (prefix,
// level, index within that level).
func nodeKey(prefix []byte, level int, index uint64) []byte {
	k := make([]byte, 0, len(prefix)+9)
	k = append(k, prefix...)
	k = append(k, byte(level))
	k = append(k, hex.EncodeToString([]byte{
		byte(index >> 56), byte(index >> 48), byte(index >> 40), byte(index >> 32),
		byte(index >> 24), byte(index >> 16), byte(index >> 8), byte(index),
	})...)
	return k
}

func readNode(kv KV, prefix []byte, level int, index uint64) (field.Element, error) {
	raw, ok, err := kv.Get(nodeKey(prefix, level, index))
	if err != nil {
		return field.Element{}, err
	}
	if !ok {
		return emptyHashes[level], nil
	}
	return field.FromBytes(raw), nil
}

func writeNode(kv KV, prefix []byte, level int, index uint64, v field.Element) error {
	return kv.Set(nodeKey(prefix, level, index), v.Bytes())
}

// updateLeafPath recomputes a single root-to-leaf path of a depth-`depth`
// sparse Merkle tree rooted under `prefix`, writing every touched
// internal node back to kv and recording its preimage, then returns the
// new subtree root. This is the on-disk "rewrites that sub-tree"
// operation spec.md §4.C describes for `transition`.
func updateLeafPath(kv KV, prefix []byte, depth int, index uint64, leaf field.Element, log PreimageLog) (field.Element, error) {
	if err := writeNode(kv, prefix, 0, index, leaf); err != nil {
		return field.Element{}, fmt.Errorf("write leaf: %w", err)
	}

	cur := leaf
	curIdx := index
	for level := 0; level < depth; level++ {
		siblingIdx := curIdx ^ 1
		sibling, err := readNode(kv, prefix, level, siblingIdx)
		if err != nil {
			return field.Element{}, fmt.Errorf("read sibling level %d: %w", level, err)
		}

		var left, right field.Element
		if curIdx%2 == 0 {
			left, right = cur, sibling
		} else {
			left, right = sibling, cur
		}
		parent := field.Pedersen(left, right)
		log.record(parent, left, right)

		parentIdx := curIdx >> 1
		if err := writeNode(kv, prefix, level+1, parentIdx, parent); err != nil {
			return field.Element{}, fmt.Errorf("write parent level %d: %w", level+1, err)
		}
		cur = parent
		curIdx = parentIdx
	}
	return cur, nil
}

func readRoot(kv KV, prefix []byte, depth int) (field.Element, error) {
	return readNode(kv, prefix, depth, 0)
}
