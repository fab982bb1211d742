package executor

import (
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
	"github.com/starkdex/engine/pkg/statetree"
)

// NoteEscapeRequest is spec.md §4.D Forced escape, note-escape
// sub-type: proves an on-chain-anchored exit right over notes_in and
// translates it into the same leaf mutation a normal withdrawal would
// perform, bypassing any counter-party.
type NoteEscapeRequest struct {
	NotesIn      []leaves.Note
	EscapeID     uint64
	OnchainValid bool // proof-of-anchoring check performed by the caller
	Signature    field.Signature
}

// EscapeResponse always reports is_valid, whether or not state was
// mutated — resolving the Open Question that escape records are
// emitted on both the valid and invalid path (Open Question (b)).
type EscapeResponse struct {
	IsValid       bool     `json:"is_valid"`
	ZeroedIndices []uint64 `json:"zeroed_indices,omitempty"`
}

// EscapeNote implements spec.md §4.D note-escape.
func (c *Context) EscapeNote(req NoteEscapeRequest) EscapeResponse {
	valid := req.OnchainValid && verifyEscapeNotes(req.NotesIn, req.EscapeID, req.Signature)
	if !valid {
		resp := EscapeResponse{IsValid: false}
		c.appendLog("note_escape", resp)
		return resp
	}

	resp := EscapeResponse{IsValid: true}
	for _, n := range req.NotesIn {
		zeroNote(c.Tree, n.Index)
		resp.ZeroedIndices = append(resp.ZeroedIndices, n.Index)
	}
	c.appendLog("note_escape", resp)
	return resp
}

func verifyEscapeNotes(notes []leaves.Note, escapeID uint64, sig field.Signature) bool {
	if len(notes) == 0 {
		return false
	}
	var sumPoint field.Point
	for i, n := range notes {
		if !n.VerifyHash() {
			return false
		}
		if i == 0 {
			sumPoint = n.Address
		} else {
			sumPoint = field.AddPoints(sumPoint, n.Address)
		}
	}
	msg := field.HashMany(field.FromUint64(escapeID))
	return field.Verify(sumPoint, msg, sig)
}

// TabEscapeRequest is spec.md §4.D Forced escape, tab-escape sub-type:
// the same leaf mutation as a Close OrderTab, anchored by an on-chain
// exit proof instead of the tab owner's live counter-signature.
type TabEscapeRequest struct {
	Tab          leaves.OrderTab
	EscapeID     uint64
	OnchainValid bool
	BaseReturn   NoteInput
	QuoteReturn  NoteInput
	Signature    field.Signature
}

type TabEscapeResponse struct {
	EscapeResponse
	TabIdx          uint64       `json:"tab_idx"`
	BaseRefundNote  *leaves.Note `json:"base_refund_note,omitempty"`
	QuoteRefundNote *leaves.Note `json:"quote_refund_note,omitempty"`
}

// EscapeTab implements spec.md §4.D tab-escape.
func (c *Context) EscapeTab(req TabEscapeRequest) TabEscapeResponse {
	msg := field.HashMany(field.FromUint64(req.EscapeID), field.FromUint64(req.BaseReturn.Amount), field.FromUint64(req.QuoteReturn.Amount))
	valid := req.OnchainValid && req.Tab.VerifyHash() && field.Verify(req.Tab.Header.PubKey, msg, req.Signature)
	if !valid {
		resp := TabEscapeResponse{EscapeResponse: EscapeResponse{IsValid: false}}
		c.appendLog("tab_escape", resp)
		return resp
	}

	c.Tree.UpdateLeaf(req.Tab.TabIdx, statetree.KindOrderTab, leaves.Zero.Hash)

	baseNote := leaves.NewNote(0, req.BaseReturn.Address, req.Tab.Header.BaseToken, req.BaseReturn.Amount, req.BaseReturn.Blinding)
	stagedBase := reserveNote(c.Tree, baseNote)

	quoteNote := leaves.NewNote(0, req.QuoteReturn.Address, req.Tab.Header.QuoteToken, req.QuoteReturn.Amount, req.QuoteReturn.Blinding)
	stagedQuote := reserveNote(c.Tree, quoteNote)

	resp := TabEscapeResponse{
		EscapeResponse:  EscapeResponse{IsValid: true},
		TabIdx:          req.Tab.TabIdx,
		BaseRefundNote:  &stagedBase,
		QuoteRefundNote: &stagedQuote,
	}
	c.appendLog("tab_escape", resp)
	return resp
}

// PositionEscapeRequest is spec.md §4.D Forced escape, position-escape
// sub-type (scenario S6): position_a escapes into a fresh position_b
// at position_b's chosen entry price, valid only when position_a is
// not itself liquidatable and position_b is a legitimate opening
// counter at the escape price.
type PositionEscapeRequest struct {
	PositionA       leaves.Position
	IndexPrice      uint64
	OpenSide        leaves.Side
	OpenPrice       uint64
	OpenMargin      uint64
	OpenAddress     field.Element
	OpenSyntheticTok uint32
	SignatureA      field.Signature
	SignatureB      field.Signature
}

type PositionEscapeResponse struct {
	IsValidA     bool            `json:"is_valid_a"`
	IsValidB     bool            `json:"is_valid_b"`
	ZeroedIndex  *uint64         `json:"zeroed_index,omitempty"`
	NewPosition  leaves.Position `json:"new_position_b,omitempty"`
}

// EscapePosition implements spec.md §4.D S6: when position_a has not
// crossed its own liquidation price and position_b's opening terms
// check out, position_a is zeroed and a fresh position_b is opened at
// a new index; otherwise neither side mutates but a record is still
// emitted (Open Question (b)).
func (c *Context) EscapePosition(req PositionEscapeRequest) PositionEscapeResponse {
	posA := req.PositionA
	aNotLiquidatable := (posA.OrderSide == leaves.Long && req.IndexPrice > posA.LiquidationPrice) ||
		(posA.OrderSide == leaves.Short && req.IndexPrice < posA.LiquidationPrice) ||
		posA.PositionSize == 0
	validA := aNotLiquidatable && req.SignatureA != (field.Signature{})
	validB := req.OpenMargin > 0 && req.OpenPrice > 0 && req.SignatureB != (field.Signature{})

	if !validA || !validB {
		resp := PositionEscapeResponse{IsValidA: validA, IsValidB: validB}
		c.appendLog("position_escape", resp)
		return resp
	}

	c.Tree.UpdateLeaf(posA.Index, statetree.KindPosition, field.Zero())
	zeroedIdx := posA.Index

	header := leaves.PositionHeader{SyntheticToken: req.OpenSyntheticTok, PositionAddress: req.OpenAddress}
	idx := c.Tree.FirstZeroIndex()
	posB := leaves.NewPosition(header, req.OpenSide, posA.PositionSize, req.OpenMargin, req.OpenPrice, posA.LastFundingIdx, idx, c.Config.Assets)
	c.Tree.UpdatePosition(posB)

	resp := PositionEscapeResponse{IsValidA: true, IsValidB: true, ZeroedIndex: &zeroedIdx, NewPosition: posB}
	c.appendLog("position_escape", resp)
	return resp
}
