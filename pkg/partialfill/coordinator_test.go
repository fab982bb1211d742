package partialfill

import (
	"testing"
	"time"
)

func TestBlockUntilPrevFillFinishedReturnsPriorState(t *testing.T) {
	c := New()
	const orderID = uint64(42)

	prev := c.BlockUntilPrevFillFinished(orderID)
	if prev.FilledAmount != 0 {
		t.Fatalf("expected zero-value fill state for a fresh order, got %+v", prev)
	}
	c.FinalizeUpdates(orderID, SpotFillState{FilledAmount: 100}, false)

	if !c.IsCancellable(orderID) {
		t.Fatalf("expected a partially filled order to remain cancellable")
	}

	prev = c.BlockUntilPrevFillFinished(orderID)
	if prev.FilledAmount != 100 {
		t.Fatalf("expected the next caller to see the previous fill state, got %+v", prev)
	}
	c.FinalizeUpdates(orderID, SpotFillState{}, true)

	if c.IsCancellable(orderID) {
		t.Fatalf("expected a fully filled order to no longer be cancellable")
	}
}

func TestBlockUntilPrevFillFinishedSerializesConcurrentCallers(t *testing.T) {
	c := New()
	const orderID = uint64(7)

	c.BlockUntilPrevFillFinished(orderID) // first holder acquires the token

	done := make(chan struct{})
	go func() {
		c.BlockUntilPrevFillFinished(orderID) // must block until Unblock below
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("second caller acquired the token while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	c.Unblock(orderID)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("second caller never unblocked after Unblock")
	}
}

func TestUnblockDoesNotWriteFillState(t *testing.T) {
	c := New()
	const orderID = uint64(9)

	c.BlockUntilPrevFillFinished(orderID)
	c.Unblock(orderID)

	prev := c.BlockUntilPrevFillFinished(orderID)
	if prev.FilledAmount != 0 {
		t.Fatalf("expected Unblock to leave no fill state behind, got %+v", prev)
	}
}

func TestPerpFillStateIndependentFromSpot(t *testing.T) {
	c := New()
	const orderID = uint64(55)

	c.BlockUntilPrevFillFinished(orderID)
	c.FinalizeUpdates(orderID, SpotFillState{FilledAmount: 10}, false)

	perpPrev := c.BlockUntilPrevPerpFillFinished(orderID)
	if perpPrev.FilledAmount != 0 {
		t.Fatalf("expected perp fill state to be tracked independently of spot, got %+v", perpPrev)
	}
	c.FinalizePerpUpdates(orderID, PerpFillState{FilledAmount: 20, SpentMargin: 5}, false)

	if !c.IsCancellable(orderID) {
		t.Fatalf("expected the order to be cancellable while either spot or perp fill state is open")
	}
}
