package executor

import (
	"golang.org/x/sync/errgroup"

	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
	"github.com/starkdex/engine/pkg/partialfill"
)

// SwapHalfKind distinguishes the two half-shapes spec.md §4.D allows
// for a spot swap side.
type SwapHalfKind uint8

const (
	HalfNoteInput SwapHalfKind = iota
	HalfOrderTab
)

// SwapHalf is one side of a spot swap (spec.md §4.D "Spot swap").
type SwapHalf struct {
	Kind   SwapHalfKind
	Order  SwapOrder
	NotesIn []leaves.Note // HalfNoteInput only
	Tab     leaves.OrderTab // HalfOrderTab only
}

// SwapOrder is the signed order both halves' preconditions reference.
type SwapOrder struct {
	OrderID               uint64
	TokenSpent            uint32
	TokenReceived         uint32
	AmountSpent           uint64
	AmountReceived         uint64
	FeeLimit              uint64
	DestReceivedAddress   field.Point
	DestReceivedBlinding  field.Element
	Signature             field.Signature
}

// SpotSwapRequest pairs the two counter-directional halves plus the
// actual fill amounts the matching edge computed for this attempt.
type SpotSwapRequest struct {
	A, B           SwapHalf
	SpentA, SpentB uint64 // amounts actually exchanged this fill, in each order's spent token
	FeeTakenA, FeeTakenB uint64
}

type SwapHalfResult struct {
	OutputNote         *leaves.Note    `json:"output_note,omitempty"`
	PartialRefundNote  *leaves.Note    `json:"partial_refund_note,omitempty"`
	ZeroedIndices      []uint64        `json:"zeroed_indices,omitempty"`
	FilledAmount       uint64          `json:"filled_amount"`
	Tab                *leaves.OrderTab `json:"tab,omitempty"`
}

type SpotSwapResponse struct {
	A SwapHalfResult `json:"a"`
	B SwapHalfResult `json:"b"`
}

// HalfOutcome is one half's computed-but-not-yet-staged mutations: the
// half only reserves leaf indices and computes values while it runs;
// nothing is written to the tree or to the partial-fill coordinator's
// fill state until both halves of a swap have succeeded.
type HalfOutcome struct {
	Result       SwapHalfResult
	ZeroIndices  []uint64
	NoteWrites   []leaves.Note
	TabWrite     *leaves.OrderTab
	OrderID      uint64
	HasFillState bool
	FillState    partialfill.SpotFillState
	FullyFilled  bool
}

// SpotSwap implements spec.md §4.D: the two halves run concurrently
// (via errgroup, joined at the end, matching §5 "the two halves run
// on parallel worker threads and join"), each serialized against its
// own order_id by the partial-fill coordinator. Each half only computes
// its HalfOutcome while running; mutations are staged into the tree and
// the partial-fill coordinator only after the join reports both halves
// succeeded, so a failed half never leaves the other half's writes
// committed — any failure unblocks both ids without staging anything,
// preserving the no-wedge guarantee of §5 "Cancellation".
func (c *Context) SpotSwap(req SpotSwapRequest) (SpotSwapResponse, error) {
	if err := crossCheckFees(req.A.Order, req.SpentA, req.FeeTakenA, req.B.Order, req.SpentB, req.FeeTakenB); err != nil {
		return SpotSwapResponse{}, err
	}

	var outA, outB HalfOutcome
	var errA, errB error

	var g errgroup.Group
	g.Go(func() error {
		outA, errA = c.executeSwapHalf(req.A, req.B.Order, req.SpentA, req.SpentB, req.FeeTakenA)
		return errA
	})
	g.Go(func() error {
		outB, errB = c.executeSwapHalf(req.B, req.A.Order, req.SpentB, req.SpentA, req.FeeTakenB)
		return errB
	})
	_ = g.Wait()

	if errA != nil || errB != nil {
		c.PF.Unblock(req.A.Order.OrderID)
		c.PF.Unblock(req.B.Order.OrderID)
		if errA != nil {
			return SpotSwapResponse{}, wrapSwapErr(errA, req.A.Order.OrderID)
		}
		return SpotSwapResponse{}, wrapSwapErr(errB, req.B.Order.OrderID)
	}

	c.stageHalfOutcome(outA)
	c.stageHalfOutcome(outB)

	resp := SpotSwapResponse{A: outA.Result, B: outB.Result}
	c.appendLog("spot_swap", resp)
	return resp, nil
}

// stageHalfOutcome applies one half's computed mutations to the tree
// and, if the half took part in partial-fill tracking, commits its fill
// state. Called only after both halves of a swap report success.
func (c *Context) stageHalfOutcome(out HalfOutcome) {
	for _, idx := range out.ZeroIndices {
		zeroNote(c.Tree, idx)
	}
	for _, n := range out.NoteWrites {
		c.Tree.UpdateNote(n)
	}
	if out.TabWrite != nil {
		c.Tree.UpdateTab(*out.TabWrite)
	}
	if out.HasFillState {
		c.PF.FinalizeUpdates(out.OrderID, out.FillState, out.FullyFilled)
	}
}

func wrapSwapErr(err error, orderID uint64) error {
	if _, ok := err.(*engineerr.SwapExecutionError); ok {
		return err
	}
	id := orderID
	return &engineerr.SwapExecutionError{Reason: err.Error(), InvalidOrderID: &id, Cause: err}
}

// crossCheckFees implements the pre-call consistency rules of spec.md
// §4.D: "at most one of (fee_taken_a, fee_taken_b) is zero".
func crossCheckFees(a SwapOrder, spentA, feeA uint64, b SwapOrder, spentB, feeB uint64) error {
	if feeA > 0 && feeB > 0 {
		return &engineerr.SwapExecutionError{Reason: "both sides of a swap took a non-zero fee — exactly one side must be the maker"}
	}
	if spentA > a.AmountSpent || spentB > b.AmountSpent {
		return &engineerr.SwapExecutionError{Reason: "fill amount exceeds order's declared spent amount"}
	}
	return nil
}

// executeSwapHalf runs one side of the swap against the per-order
// partial-fill coordinator, matching the note-input or order-tab shape
// of spec.md §4.D. It only computes a HalfOutcome — no tree mutation or
// partial-fill finalization happens here; the caller stages both halves
// together once the join confirms both succeeded.
func (c *Context) executeSwapHalf(half SwapHalf, counter SwapOrder, spent, received, feeTaken uint64) (HalfOutcome, error) {
	switch half.Kind {
	case HalfNoteInput:
		return c.executeNoteInputHalf(half, counter, spent, received, feeTaken)
	default:
		return c.executeOrderTabHalf(half, spent, received, feeTaken)
	}
}

func (c *Context) executeNoteInputHalf(half SwapHalf, counter SwapOrder, spent, received, feeTaken uint64) (HalfOutcome, error) {
	orderID := half.Order.OrderID
	prev := c.PF.BlockUntilPrevFillFinished(orderID)

	var sumPoint field.Point
	for i, n := range half.NotesIn {
		if !n.VerifyHash() {
			return HalfOutcome{}, &engineerr.SwapExecutionError{Reason: "notes_in hash invalid"}
		}
		if i == 0 {
			sumPoint = n.Address
		} else {
			sumPoint = field.AddPoints(sumPoint, n.Address)
		}
	}
	msg := field.HashMany(field.FromUint64(half.Order.OrderID), field.FromUint64(half.Order.AmountSpent), field.FromUint64(half.Order.AmountReceived))
	if !field.Verify(sumPoint, msg, half.Order.Signature) {
		return HalfOutcome{}, &engineerr.SwapExecutionError{Reason: "signature does not verify against sum of notes_in addresses"}
	}

	var sumIn uint64
	for _, n := range half.NotesIn {
		sumIn += n.Amount
	}
	prevRefund := prev.RefundAmount
	if sumIn < prevRefund+spent {
		return HalfOutcome{}, &engineerr.SwapExecutionError{Reason: "notes_in insufficient to cover prior fill refund plus spend"}
	}

	outAmount := received - feeTaken
	outNote := leaves.NewNote(0, half.Order.DestReceivedAddress, half.Order.TokenReceived, outAmount, half.Order.DestReceivedBlinding)

	out := HalfOutcome{OrderID: orderID, HasFillState: true}
	var result SwapHalfResult
	firstFill := prev.RefundNoteIndex == nil
	if firstFill {
		outNote.Index = c.Tree.FirstZeroIndex()
		result.OutputNote = &outNote
		out.NoteWrites = append(out.NoteWrites, outNote)
		for _, n := range half.NotesIn {
			out.ZeroIndices = append(out.ZeroIndices, n.Index)
			result.ZeroedIndices = append(result.ZeroedIndices, n.Index)
		}
	} else {
		// Subsequent fill: the output note takes the previous partial-fill
		// refund note's index, consuming that refund note.
		outNote.Index = *prev.RefundNoteIndex
		out.NoteWrites = append(out.NoteWrites, outNote)
		result.OutputNote = &outNote
	}

	residual := sumIn - prevRefund - spent
	newFillState := partialfill.SpotFillState{FilledAmount: prev.FilledAmount + spent}
	fullyFilled := residual == 0 && spent >= half.Order.AmountSpent-prev.FilledAmount
	if residual > 0 {
		refund := leaves.NewNote(0, half.NotesIn[0].Address, half.NotesIn[0].Token, residual, half.NotesIn[0].Blinding)
		refund.Index = c.Tree.FirstZeroIndex()
		out.NoteWrites = append(out.NoteWrites, refund)
		result.PartialRefundNote = &refund
		idx := refund.Index
		newFillState.RefundNoteIndex = &idx
		newFillState.RefundNoteHash = refund.Hash
		newFillState.RefundAmount = residual
	}
	result.FilledAmount = newFillState.FilledAmount

	out.Result = result
	out.FillState = newFillState
	out.FullyFilled = fullyFilled
	return out, nil
}

func (c *Context) executeOrderTabHalf(half SwapHalf, spent, received, feeTaken uint64) (HalfOutcome, error) {
	tab := half.Tab
	if !tab.VerifyHash() {
		return HalfOutcome{}, &engineerr.SwapExecutionError{Reason: "order tab hash invalid"}
	}
	msg := field.HashMany(field.FromUint64(half.Order.OrderID), field.FromUint64(spent), field.FromUint64(received))
	if !field.Verify(tab.Header.PubKey, msg, half.Order.Signature) {
		return HalfOutcome{}, &engineerr.SwapExecutionError{Reason: "signature does not verify against tab pub_key"}
	}

	receivedNet := int64(received) - int64(feeTaken)
	var updated leaves.OrderTab
	if half.Order.TokenSpent == tab.Header.BaseToken {
		updated = tab.AdjustAmounts(-int64(spent), receivedNet)
	} else {
		updated = tab.AdjustAmounts(receivedNet, -int64(spent))
	}

	return HalfOutcome{TabWrite: &updated, Result: SwapHalfResult{Tab: &updated}}, nil
}
