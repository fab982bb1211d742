package executor

import (
	"fmt"

	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
)

// WithdrawalRequest is the wire shape of spec.md §4.D Withdrawal.
type WithdrawalRequest struct {
	ChainID     uint32
	Token       uint32
	Amount      uint64
	Recipient   [20]byte
	MaxGasFee   uint64
	GasFeeTaken uint64
	NotesIn     []leaves.Note
	RefundNote  *NoteInput // optional
	Signature   field.Signature
}

type WithdrawalResponse struct {
	ChainID        uint32       `json:"chain_id"`
	Token          uint32       `json:"token"`
	Amount         uint64       `json:"amount"`
	Recipient      [20]byte     `json:"recipient"`
	ZeroedIndices  []uint64     `json:"zeroed_indices"`
	RefundNote     *leaves.Note `json:"refund_note,omitempty"`
}

// Withdrawal implements spec.md §4.D: checks token match, the
// notes-in/refund amount balance, the gas-fee ceiling, and a
// multi-signature verify against the sum of notes-in address points;
// every notes_in leaf is zeroed and an optional refund note is written
// back at notes_in[0]'s index. Grounded on
// invisible_backend/src/transactions/withdrawal.rs and the teacher's
// AccountManager.Withdraw balance-then-mutate split.
func (c *Context) Withdrawal(req WithdrawalRequest) (WithdrawalResponse, error) {
	if !c.Config.IsSupportedChain(req.ChainID) {
		return WithdrawalResponse{}, &engineerr.WithdrawalExecutionError{Reason: fmt.Sprintf("chain_id %d not configured", req.ChainID)}
	}
	if len(req.NotesIn) == 0 {
		return WithdrawalResponse{}, &engineerr.WithdrawalExecutionError{Reason: "withdrawal requires at least one input note"}
	}
	if req.MaxGasFee != 0 && req.GasFeeTaken > req.MaxGasFee {
		return WithdrawalResponse{}, &engineerr.WithdrawalExecutionError{Reason: "execution gas fee exceeds max_gas_fee"}
	}

	var sumIn uint64
	sumPoint := req.NotesIn[0].Address
	for i, n := range req.NotesIn {
		if n.Token != req.Token {
			return WithdrawalResponse{}, &engineerr.WithdrawalExecutionError{Reason: "notes_in token mismatch"}
		}
		if !n.VerifyHash() {
			return WithdrawalResponse{}, &engineerr.WithdrawalExecutionError{Reason: "notes_in hash does not verify"}
		}
		sumIn += n.Amount
		if i > 0 {
			sumPoint = field.AddPoints(sumPoint, n.Address)
		}
	}

	refundAmount := uint64(0)
	if req.RefundNote != nil {
		refundAmount = req.RefundNote.Amount
	}
	if sumIn != req.Amount+refundAmount {
		return WithdrawalResponse{}, &engineerr.WithdrawalExecutionError{Reason: "sum of notes_in does not equal amount plus refund"}
	}

	msg := field.HashMany(field.FromUint64(req.Amount), field.FromUint64(uint64(req.Token)), field.FromUint64(uint64(req.ChainID)))
	if !field.Verify(sumPoint, msg, req.Signature) {
		return WithdrawalResponse{}, &engineerr.WithdrawalExecutionError{Reason: "signature does not verify against sum of notes_in addresses"}
	}

	resp := WithdrawalResponse{ChainID: req.ChainID, Token: req.Token, Amount: req.Amount, Recipient: req.Recipient}
	if req.RefundNote != nil {
		refund := leaves.NewNote(req.NotesIn[0].Index, req.RefundNote.Address, req.Token, req.RefundNote.Amount, req.RefundNote.Blinding)
		c.Tree.UpdateNote(refund)
		resp.RefundNote = &refund
		for _, n := range req.NotesIn[1:] {
			zeroNote(c.Tree, n.Index)
			resp.ZeroedIndices = append(resp.ZeroedIndices, n.Index)
		}
	} else {
		for _, n := range req.NotesIn {
			zeroNote(c.Tree, n.Index)
			resp.ZeroedIndices = append(resp.ZeroedIndices, n.Index)
		}
	}

	c.appendLog("withdrawal", resp)
	return resp, nil
}
