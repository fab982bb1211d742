package executor

import (
	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
)

// SplitNotesRequest is spec.md §4.D "Split notes": consumes notes_in
// and emits new_note (+ optional refund_note) of the same token with
// equal total amount.
type SplitNotesRequest struct {
	NotesIn    []leaves.Note
	NewNote    NoteInput
	RefundNote *NoteInput
	Signature  field.Signature
}

type SplitNotesResponse struct {
	ZeroedIndices []uint64     `json:"zeroed_indices"`
	NewNote       leaves.Note  `json:"new_note"`
	RefundNote    *leaves.Note `json:"refund_note,omitempty"`
}

// SplitNotes implements spec.md §4.D: the classic UTXO re-blinding
// split, grounded on invisible_backend/src/transactions/transaction_helpers/split_notes.rs.
func (c *Context) SplitNotes(req SplitNotesRequest) (SplitNotesResponse, error) {
	if len(req.NotesIn) == 0 {
		return SplitNotesResponse{}, &engineerr.WithdrawalExecutionError{Reason: "split requires at least one input note"}
	}
	token := req.NotesIn[0].Token

	var sumIn uint64
	var sumPoint field.Point
	for i, n := range req.NotesIn {
		if n.Token != token {
			return SplitNotesResponse{}, &engineerr.WithdrawalExecutionError{Reason: "notes_in token mismatch in split"}
		}
		if !n.VerifyHash() {
			return SplitNotesResponse{}, &engineerr.WithdrawalExecutionError{Reason: "notes_in hash invalid"}
		}
		sumIn += n.Amount
		if i == 0 {
			sumPoint = n.Address
		} else {
			sumPoint = field.AddPoints(sumPoint, n.Address)
		}
	}

	refundAmount := uint64(0)
	if req.RefundNote != nil {
		refundAmount = req.RefundNote.Amount
	}
	if sumIn != req.NewNote.Amount+refundAmount {
		return SplitNotesResponse{}, &engineerr.WithdrawalExecutionError{Reason: "split output amounts do not equal input amount"}
	}

	msg := field.HashMany(field.FromUint64(token), field.FromUint64(req.NewNote.Amount), field.FromUint64(refundAmount))
	if !field.Verify(sumPoint, msg, req.Signature) {
		return SplitNotesResponse{}, &engineerr.WithdrawalExecutionError{Reason: "signature does not verify against sum of notes_in addresses"}
	}

	resp := SplitNotesResponse{}
	for _, n := range req.NotesIn {
		zeroNote(c.Tree, n.Index)
		resp.ZeroedIndices = append(resp.ZeroedIndices, n.Index)
	}

	newNote := leaves.NewNote(0, req.NewNote.Address, token, req.NewNote.Amount, req.NewNote.Blinding)
	staged := reserveNote(c.Tree, newNote)
	resp.NewNote = staged

	if req.RefundNote != nil {
		refund := leaves.NewNote(0, req.RefundNote.Address, token, req.RefundNote.Amount, req.RefundNote.Blinding)
		stagedRefund := reserveNote(c.Tree, refund)
		resp.RefundNote = &stagedRefund
	}

	c.appendLog("split_notes", resp)
	return resp, nil
}
