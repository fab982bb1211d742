package executor

import (
	"errors"

	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
	"github.com/starkdex/engine/pkg/statetree"
)

var (
	errTokenMismatch = errors.New("note token does not match tab token")
	errHashInvalid   = errors.New("note hash invalid")
)

// OpenOrderTabRequest is spec.md §4.D "Open OrderTab": consume
// base/quote notes plus optional refund notes, emit a fresh tab leaf
// at a zero-index, or (AddOnly) top up an existing tab.
type OpenOrderTabRequest struct {
	Header       leaves.OrderTabHeader
	BaseNotesIn  []leaves.Note
	QuoteNotesIn []leaves.Note
	BaseRefund   *NoteInput
	QuoteRefund  *NoteInput
	AddOnly      *leaves.OrderTab // non-nil for a top-up of an existing tab
	Signature    field.Signature
}

type OrderTabResponse struct {
	Tab             leaves.OrderTab `json:"tab"`
	TabClosed       bool            `json:"tab_closed,omitempty"`
	ZeroedIndices   []uint64        `json:"zeroed_indices,omitempty"`
	BaseRefundNote  *leaves.Note    `json:"base_refund_note,omitempty"`
	QuoteRefundNote *leaves.Note    `json:"quote_refund_note,omitempty"`
}

// OpenOrderTab implements spec.md §4.D: grounded on
// invisible_backend/src/order_tab/mod.rs's open_tab/add_liquidity
// split.
func (c *Context) OpenOrderTab(req OpenOrderTabRequest) (OrderTabResponse, error) {
	baseSum, basePoint, err := sumNotes(req.BaseNotesIn, req.Header.BaseToken)
	if err != nil {
		return OrderTabResponse{}, &engineerr.WithdrawalExecutionError{Reason: err.Error()}
	}
	quoteSum, quotePoint, err := sumNotes(req.QuoteNotesIn, req.Header.QuoteToken)
	if err != nil {
		return OrderTabResponse{}, &engineerr.WithdrawalExecutionError{Reason: err.Error()}
	}

	baseRefund, quoteRefund := uint64(0), uint64(0)
	if req.BaseRefund != nil {
		baseRefund = req.BaseRefund.Amount
	}
	if req.QuoteRefund != nil {
		quoteRefund = req.QuoteRefund.Amount
	}

	sumPoint := basePoint
	if len(req.BaseNotesIn) > 0 && len(req.QuoteNotesIn) > 0 {
		sumPoint = field.AddPoints(basePoint, quotePoint)
	} else if len(req.QuoteNotesIn) > 0 {
		sumPoint = quotePoint
	}
	msg := field.HashMany(field.FromUint64(baseSum), field.FromUint64(quoteSum))
	if !field.Verify(sumPoint, msg, req.Signature) {
		return OrderTabResponse{}, &engineerr.WithdrawalExecutionError{Reason: "signature does not verify for order tab open"}
	}

	resp := OrderTabResponse{}
	for _, n := range req.BaseNotesIn {
		zeroNote(c.Tree, n.Index)
		resp.ZeroedIndices = append(resp.ZeroedIndices, n.Index)
	}
	for _, n := range req.QuoteNotesIn {
		zeroNote(c.Tree, n.Index)
		resp.ZeroedIndices = append(resp.ZeroedIndices, n.Index)
	}

	var tab leaves.OrderTab
	if req.AddOnly != nil {
		tab = req.AddOnly.AdjustAmounts(int64(baseSum-baseRefund), int64(quoteSum-quoteRefund))
	} else {
		idx := c.Tree.FirstZeroIndex()
		tab = leaves.NewOrderTab(req.Header, baseSum-baseRefund, quoteSum-quoteRefund, idx)
	}
	c.Tree.UpdateTab(tab)
	resp.Tab = tab

	if req.BaseRefund != nil {
		n := leaves.NewNote(0, req.BaseRefund.Address, req.Header.BaseToken, req.BaseRefund.Amount, req.BaseRefund.Blinding)
		staged := reserveNote(c.Tree, n)
		resp.BaseRefundNote = &staged
	}
	if req.QuoteRefund != nil {
		n := leaves.NewNote(0, req.QuoteRefund.Address, req.Header.QuoteToken, req.QuoteRefund.Amount, req.QuoteRefund.Blinding)
		staged := reserveNote(c.Tree, n)
		resp.QuoteRefundNote = &staged
	}

	c.appendLog("open_order_tab", resp)
	return resp, nil
}

// CloseOrderTabRequest is spec.md §4.D "Close OrderTab": the reverse
// of Open — emit base/quote return notes; if residual amounts remain
// above dust, keep a diminished tab instead of zeroing it.
type CloseOrderTabRequest struct {
	Tab           leaves.OrderTab
	BaseReturn    NoteInput
	QuoteReturn   NoteInput
	BaseDustAmt   uint64
	QuoteDustAmt  uint64
	Signature     field.Signature
}

func (c *Context) CloseOrderTab(req CloseOrderTabRequest) (OrderTabResponse, error) {
	tab := req.Tab
	if !tab.VerifyHash() {
		return OrderTabResponse{}, &engineerr.WithdrawalExecutionError{Reason: "order tab hash invalid"}
	}
	if req.BaseReturn.Amount > tab.BaseAmount || req.QuoteReturn.Amount > tab.QuoteAmount {
		return OrderTabResponse{}, &engineerr.WithdrawalExecutionError{Reason: "close amounts exceed tab balances"}
	}
	msg := field.HashMany(field.FromUint64(req.BaseReturn.Amount), field.FromUint64(req.QuoteReturn.Amount))
	if !field.Verify(tab.Header.PubKey, msg, req.Signature) {
		return OrderTabResponse{}, &engineerr.WithdrawalExecutionError{Reason: "signature does not verify for order tab close"}
	}

	remainingBase := tab.BaseAmount - req.BaseReturn.Amount
	remainingQuote := tab.QuoteAmount - req.QuoteReturn.Amount

	resp := OrderTabResponse{}
	if remainingBase <= req.BaseDustAmt && remainingQuote <= req.QuoteDustAmt {
		c.Tree.UpdateLeaf(tab.TabIdx, statetree.KindOrderTab, leaves.Zero.Hash)
		resp.Tab = leaves.OrderTab{Header: tab.Header, TabIdx: tab.TabIdx, Hash: leaves.Zero.Hash}
		resp.TabClosed = true
	} else {
		diminished := tab.AdjustAmounts(-int64(req.BaseReturn.Amount), -int64(req.QuoteReturn.Amount))
		c.Tree.UpdateTab(diminished)
		resp.Tab = diminished
	}

	baseNote := leaves.NewNote(0, req.BaseReturn.Address, tab.Header.BaseToken, req.BaseReturn.Amount, req.BaseReturn.Blinding)
	stagedBase := reserveNote(c.Tree, baseNote)
	resp.BaseRefundNote = &stagedBase

	quoteNote := leaves.NewNote(0, req.QuoteReturn.Address, tab.Header.QuoteToken, req.QuoteReturn.Amount, req.QuoteReturn.Blinding)
	stagedQuote := reserveNote(c.Tree, quoteNote)
	resp.QuoteRefundNote = &stagedQuote

	c.appendLog("close_order_tab", resp)
	return resp, nil
}

func sumNotes(notes []leaves.Note, token uint32) (uint64, field.Point, error) {
	var sum uint64
	var sumPoint field.Point
	for i, n := range notes {
		if n.Token != token {
			return 0, field.Point{}, errTokenMismatch
		}
		if !n.VerifyHash() {
			return 0, field.Point{}, errHashInvalid
		}
		sum += n.Amount
		if i == 0 {
			sumPoint = n.Address
		} else {
			sumPoint = field.AddPoints(sumPoint, n.Address)
		}
	}
	return sum, sumPoint, nil
}
