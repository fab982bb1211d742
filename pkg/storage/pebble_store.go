// Package storage is the durable persistence layer of spec.md §4.H/§4.I:
// the Merkle tree's backing KV, the micro-batch transaction log,
// processed-deposit de-duplication, and funding-state snapshots — all
// on a single cockroachdb/pebble instance, adapted from the teacher's
// pebble_store.go key-prefix idiom.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store is the engine's single on-disk database handle.
type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get/Set implement pkg/statetree.KV directly against pebble, so the
// tree's node pages are synced with the same durability guarantee as
// the rest of engine state.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(nodeStoreKey(key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := append([]byte(nil), val...)
	return out, true, nil
}

func (s *Store) Set(key []byte, value []byte) error {
	return s.db.Set(nodeStoreKey(key), value, pebble.Sync)
}

// AppendTxLog appends one transaction record to the current batch's
// micro-batch log (spec.md §4.H step 1: "append the transaction record
// to the micro-batch log"). NoSync: the log is replayed from the
// in-memory batch state on crash recovery before a batch is
// finalized, so per-write fsync isn't load-bearing — see DESIGN.md.
func (s *Store) AppendTxLog(batchID, seq uint64, record []byte) error {
	return s.db.Set(txLogKey(batchID, seq), record, pebble.NoSync)
}

// ReadTxLog returns every record appended to batchID's log, in
// sequence order — used by restore.Replay.
func (s *Store) ReadTxLog(batchID uint64) ([][]byte, error) {
	prefix := txLogPrefix(batchID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	return out, iter.Error()
}

// MarkDepositProcessed records a deposit_id in the processed-deposit
// de-dup set (spec.md §4.A deposit executor / scenario S1: "a second
// submission with the same deposit_id is rejected").
func (s *Store) MarkDepositProcessed(depositID uint64) error {
	return s.db.Set(depositKey(depositID), []byte{1}, pebble.Sync)
}

func (s *Store) IsDepositProcessed(depositID uint64) (bool, error) {
	_, closer, err := s.db.Get(depositKey(depositID))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// SaveFundingSnapshot/LoadFundingSnapshot persist pkg/funding's
// rate/price history across restarts, keyed by synthetic token.
func (s *Store) SaveFundingSnapshot(token uint32, data []byte) error {
	return s.db.Set(fundingKey(token), data, pebble.Sync)
}

func (s *Store) LoadFundingSnapshot(token uint32) ([]byte, bool, error) {
	val, closer, err := s.db.Get(fundingKey(token))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

// NextBatchID returns and advances the persisted batch counter
// (spec.md §4.H: batches are strictly sequential). The read and the
// synced write are separate steps; calls are not serialized against
// each other.
func (s *Store) NextBatchID() (uint64, error) {
	key := batchMetaKey("next_batch_id")
	val, closer, err := s.db.Get(key)
	var cur uint64
	if err == nil {
		defer closer.Close()
		cur = decodeUint64(val)
	} else if err != pebble.ErrNotFound {
		return 0, err
	}
	if err := s.db.Set(key, encodeUint64(cur+1), pebble.Sync); err != nil {
		return 0, err
	}
	return cur, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
