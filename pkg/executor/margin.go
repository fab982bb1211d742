package executor

import (
	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
)

// MarginChangeRequest is spec.md §4.D "Margin change": a positive
// change consumes notes-in as additional collateral, a negative change
// emits a return-collateral note.
type MarginChangeRequest struct {
	Position    leaves.Position
	Delta       int64 // positive = add margin, negative = withdraw
	NotesIn     []leaves.Note // required when Delta > 0
	ReturnAddr  field.Point   // used when Delta < 0
	ReturnBlind field.Element
	Signature   field.Signature
}

type MarginChangeResponse struct {
	Position      leaves.Position `json:"position"`
	ZeroedIndices []uint64        `json:"zeroed_indices,omitempty"`
	ReturnNote    *leaves.Note    `json:"return_note,omitempty"`
}

// ChangeMargin implements spec.md §4.D Margin change: signature check
// as in spot (sum of notes-in address points for a deposit, or the
// request's ReturnAddr for a withdrawal), then mutates
// position.margin/liq_price via leaves.Position.ModifyMargin.
func (c *Context) ChangeMargin(req MarginChangeRequest) (MarginChangeResponse, error) {
	pos := req.Position

	if req.Delta > 0 {
		var sum uint64
		var sumPoint field.Point
		for i, n := range req.NotesIn {
			if !n.VerifyHash() {
				return MarginChangeResponse{}, &engineerr.PerpSwapExecutionError{Reason: "margin notes_in hash invalid"}
			}
			sum += n.Amount
			if i == 0 {
				sumPoint = n.Address
			} else {
				sumPoint = field.AddPoints(sumPoint, n.Address)
			}
		}
		if sum != uint64(req.Delta) {
			return MarginChangeResponse{}, &engineerr.PerpSwapExecutionError{Reason: "sum of notes_in does not equal margin delta"}
		}
		msg := field.HashMany(pos.Header.PositionAddress, field.FromUint64(uint64(req.Delta)))
		if !field.Verify(sumPoint, msg, req.Signature) {
			return MarginChangeResponse{}, &engineerr.PerpSwapExecutionError{Reason: "signature does not verify for margin deposit"}
		}
		for _, n := range req.NotesIn {
			zeroNote(c.Tree, n.Index)
		}
	} else if req.Delta < 0 {
		msg := field.HashMany(pos.Header.PositionAddress, field.FromUint64(uint64(-req.Delta)))
		if !field.Verify(req.ReturnAddr, msg, req.Signature) {
			return MarginChangeResponse{}, &engineerr.PerpSwapExecutionError{Reason: "signature does not verify for margin withdrawal"}
		}
	}

	updated := pos.ModifyMargin(req.Delta, c.Config.Assets)
	c.Tree.UpdatePosition(updated)

	resp := MarginChangeResponse{Position: updated}
	if req.Delta > 0 {
		for _, n := range req.NotesIn {
			resp.ZeroedIndices = append(resp.ZeroedIndices, n.Index)
		}
	}
	if req.Delta < 0 {
		amount := uint64(-req.Delta)
		n := leaves.NewNote(0, req.ReturnAddr, config.CollateralToken, amount, req.ReturnBlind)
		staged := reserveNote(c.Tree, n)
		resp.ReturnNote = &staged
	}

	c.appendLog("margin_change", resp)
	return resp, nil
}
