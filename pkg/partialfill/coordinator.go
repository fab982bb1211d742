// Package partialfill implements spec.md §4.E: per-order serialization
// and partial-fill refund bookkeeping. At most one executor per
// order_id may hold the block token at a time; the next caller
// receives the fill state the previous holder left behind.
package partialfill

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/starkdex/engine/pkg/field"
)

// shardCount partitions the per-order locks, per DESIGN NOTES §9
// ("partial-fill maps can shard by order_id mod K").
const shardCount = 64

// SpotFillState is the spot partial-fill entry of spec.md §3.
type SpotFillState struct {
	RefundNoteIndex *uint64
	RefundNoteHash  field.Element
	RefundAmount    uint64
	FilledAmount    uint64
}

// PerpFillState is the perp partial-fill entry of spec.md §3.
type PerpFillState struct {
	RefundNoteIndex *uint64
	RefundNoteHash  field.Element
	RefundAmount    uint64
	FilledAmount    uint64
	SpentMargin     uint64
}

type shard struct {
	mu      sync.Mutex
	blocked map[uint64]chan struct{}
	spot    map[uint64]SpotFillState
	perp    map[uint64]PerpFillState
}

// Coordinator is the contract of spec.md §4.E:
// block_until_prev_fill_finished / finalize_updates / unblock.
type Coordinator struct {
	shards [shardCount]*shard
}

func New() *Coordinator {
	c := &Coordinator{}
	for i := range c.shards {
		c.shards[i] = &shard{
			blocked: make(map[uint64]chan struct{}),
			spot:    make(map[uint64]SpotFillState),
			perp:    make(map[uint64]PerpFillState),
		}
	}
	return c
}

func (c *Coordinator) shardFor(orderID uint64) *shard {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], orderID)
	return c.shards[xxhash.Sum64(b[:])%shardCount]
}

// BlockUntilPrevFillFinished implements spec.md §4.E: acquires the
// per-order-id flag, waiting if a previous call holds it, and returns
// the fill snapshot the previous holder left behind. Callers MUST call
// either FinalizeUpdates or Unblock exactly once to release the token.
func (c *Coordinator) BlockUntilPrevFillFinished(orderID uint64) SpotFillState {
	s := c.shardFor(orderID)
	for {
		s.mu.Lock()
		ch, busy := s.blocked[orderID]
		if !busy {
			s.blocked[orderID] = make(chan struct{})
			prev := s.spot[orderID]
			s.mu.Unlock()
			return prev
		}
		s.mu.Unlock()
		<-ch // wait for the holder to release
	}
}

// BlockUntilPrevPerpFillFinished mirrors BlockUntilPrevFillFinished for
// perpetual orders, whose fill state additionally tracks spent margin.
func (c *Coordinator) BlockUntilPrevPerpFillFinished(orderID uint64) PerpFillState {
	s := c.shardFor(orderID)
	for {
		s.mu.Lock()
		ch, busy := s.blocked[orderID]
		if !busy {
			s.blocked[orderID] = make(chan struct{})
			prev := s.perp[orderID]
			s.mu.Unlock()
			return prev
		}
		s.mu.Unlock()
		<-ch
	}
}

// FinalizeUpdates atomically writes the updated spot partial-fill entry
// and releases the flag. If fullyFilled, the entry is removed and the
// order becomes non-cancellable, per spec.md §4.E.
func (c *Coordinator) FinalizeUpdates(orderID uint64, state SpotFillState, fullyFilled bool) {
	s := c.shardFor(orderID)
	s.mu.Lock()
	if fullyFilled {
		delete(s.spot, orderID)
	} else {
		s.spot[orderID] = state
	}
	c.release(s, orderID)
	s.mu.Unlock()
}

// FinalizePerpUpdates mirrors FinalizeUpdates for perpetual orders.
func (c *Coordinator) FinalizePerpUpdates(orderID uint64, state PerpFillState, fullyFilled bool) {
	s := c.shardFor(orderID)
	s.mu.Lock()
	if fullyFilled {
		delete(s.perp, orderID)
	} else {
		s.perp[orderID] = state
	}
	c.release(s, orderID)
	s.mu.Unlock()
}

// Unblock releases the flag without writing any fill state — called on
// every failure path (spec.md §4.E / §5 "Cancellation") so the order
// never wedges. Safe to call for either order id of a failed pair.
func (c *Coordinator) Unblock(orderID uint64) {
	s := c.shardFor(orderID)
	s.mu.Lock()
	c.release(s, orderID)
	s.mu.Unlock()
}

func (c *Coordinator) release(s *shard, orderID uint64) {
	if ch, ok := s.blocked[orderID]; ok {
		close(ch)
		delete(s.blocked, orderID)
	}
}

// IsCancellable reports whether the order still has an open
// partial-fill entry (spec.md §4.E: a fully filled order is
// "cancellable no more").
func (c *Coordinator) IsCancellable(orderID uint64) bool {
	s := c.shardFor(orderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, spotOk := s.spot[orderID]
	_, perpOk := s.perp[orderID]
	return spotOk || perpOk
}
