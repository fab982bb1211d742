package executor

import (
	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
)

// RegisterMMRequest is spec.md §4.D "MM liquidity" Register-MM: it
// converts an existing position into a vLP-bearing position with a
// chosen vlp_token and max_vlp_supply. vLP supply is seeded 1:1 with
// the position's current margin — the MM operator's own stake is the
// first unit of liquidity other depositors' shares are measured
// against.
type RegisterMMRequest struct {
	Position     leaves.Position
	VlpToken     uint32
	MaxVlpSupply uint64
	OwnerKey     field.Point
	Signature    field.Signature
}

type MMLiquidityResponse struct {
	Position      leaves.Position `json:"position"`
	ZeroedIndices []uint64        `json:"zeroed_indices,omitempty"`
	VlpMinted     uint64          `json:"vlp_minted,omitempty"`
	VlpBurned     uint64          `json:"vlp_burned,omitempty"`
	ReturnNote    *leaves.Note    `json:"return_note,omitempty"`
}

// RegisterMM implements spec.md §4.D: grounded on
// invisible_backend/src/smart_contract_mms/mod.rs's register flow.
func (c *Context) RegisterMM(req RegisterMMRequest) (MMLiquidityResponse, error) {
	pos := req.Position
	if pos.Header.MaxVlpSupply != 0 {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "position is already registered as a MM"}
	}
	if req.MaxVlpSupply == 0 {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "max_vlp_supply must be non-zero"}
	}

	msg := field.HashMany(pos.Header.PositionAddress, field.FromUint64(uint64(req.VlpToken)), field.FromUint64(req.MaxVlpSupply))
	if !field.Verify(req.OwnerKey, msg, req.Signature) {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "signature does not verify for MM registration"}
	}

	pos.Header.VlpToken = req.VlpToken
	pos.Header.MaxVlpSupply = req.MaxVlpSupply
	pos = pos.SetVlpSupply(pos.Margin)
	c.Tree.UpdatePosition(pos)

	resp := MMLiquidityResponse{Position: pos, VlpMinted: pos.Margin}
	c.appendLog("onchain_register_mm", resp)
	return resp, nil
}

// AddLiquidityMMRequest is spec.md §4.D Add-liquidity: increases
// margin and mints vLP proportional to existing margin.
type AddLiquidityMMRequest struct {
	Position  leaves.Position
	NotesIn   []leaves.Note
	Signature field.Signature
}

func (c *Context) AddLiquidityMM(req AddLiquidityMMRequest) (MMLiquidityResponse, error) {
	pos := req.Position
	if pos.Header.MaxVlpSupply == 0 {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "position is not registered as a MM"}
	}

	var sum uint64
	var sumPoint field.Point
	for i, n := range req.NotesIn {
		if !n.VerifyHash() {
			return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "add-liquidity notes_in hash invalid"}
		}
		sum += n.Amount
		if i == 0 {
			sumPoint = n.Address
		} else {
			sumPoint = field.AddPoints(sumPoint, n.Address)
		}
	}
	msg := field.HashMany(pos.Header.PositionAddress, field.FromUint64(sum))
	if !field.Verify(sumPoint, msg, req.Signature) {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "signature does not verify for add-liquidity"}
	}

	minted := sum
	if pos.Margin > 0 && pos.VlpSupply > 0 {
		minted = sum * pos.VlpSupply / pos.Margin
	}
	if pos.VlpSupply+minted > pos.Header.MaxVlpSupply {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "add-liquidity would exceed max_vlp_supply"}
	}

	resp := MMLiquidityResponse{}
	for _, n := range req.NotesIn {
		zeroNote(c.Tree, n.Index)
		resp.ZeroedIndices = append(resp.ZeroedIndices, n.Index)
	}
	pos.Margin += sum
	pos = pos.SetVlpSupply(pos.VlpSupply + minted)
	c.Tree.UpdatePosition(pos)

	resp.Position, resp.VlpMinted = pos, minted
	c.appendLog("add_liquidity_mm", resp)
	return resp, nil
}

// RemoveLiquidityMMRequest is spec.md §4.D Remove-liquidity: burns vLP
// and returns proportional collateral.
type RemoveLiquidityMMRequest struct {
	Position    leaves.Position
	VlpAmount   uint64
	ReturnAddr  field.Point
	ReturnBlind field.Element
	Signature   field.Signature
}

func (c *Context) RemoveLiquidityMM(req RemoveLiquidityMMRequest) (MMLiquidityResponse, error) {
	pos := req.Position
	if pos.Header.MaxVlpSupply == 0 {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "position is not registered as a MM"}
	}
	if req.VlpAmount > pos.VlpSupply {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "vlp amount exceeds outstanding supply"}
	}

	msg := field.HashMany(pos.Header.PositionAddress, field.FromUint64(req.VlpAmount))
	if !field.Verify(req.ReturnAddr, msg, req.Signature) {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "signature does not verify for remove-liquidity"}
	}

	var collateralOut uint64
	if pos.VlpSupply > 0 {
		collateralOut = req.VlpAmount * pos.Margin / pos.VlpSupply
	}
	pos.Margin -= collateralOut
	pos = pos.SetVlpSupply(pos.VlpSupply - req.VlpAmount)
	c.Tree.UpdatePosition(pos)

	resp := MMLiquidityResponse{Position: pos, VlpBurned: req.VlpAmount}
	if collateralOut > 0 {
		n := leaves.NewNote(0, req.ReturnAddr, config.CollateralToken, collateralOut, req.ReturnBlind)
		staged := reserveNote(c.Tree, n)
		resp.ReturnNote = &staged
	}

	c.appendLog("remove_liquidity_mm", resp)
	return resp, nil
}

// CloseOnchainMMRequest is spec.md §6's close_onchain_mm: a full
// wind-down of a MM position, returning all remaining margin to the
// operator and zeroing the leaf.
type CloseOnchainMMRequest struct {
	Position    leaves.Position
	ReturnAddr  field.Point
	ReturnBlind field.Element
	Signature   field.Signature
}

func (c *Context) CloseOnchainMM(req CloseOnchainMMRequest) (MMLiquidityResponse, error) {
	pos := req.Position
	if pos.Header.MaxVlpSupply == 0 {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "position is not registered as a MM"}
	}

	msg := field.HashMany(pos.Header.PositionAddress, field.FromUint64(pos.Margin))
	if !field.Verify(req.ReturnAddr, msg, req.Signature) {
		return MMLiquidityResponse{}, &engineerr.PerpSwapExecutionError{Reason: "signature does not verify for MM close"}
	}

	released := pos.Margin
	vlp := pos.VlpSupply
	closed := pos.ClosePosition().SetVlpSupply(0)
	c.Tree.UpdatePosition(closed)

	resp := MMLiquidityResponse{Position: closed, VlpBurned: vlp}
	if released > 0 {
		n := leaves.NewNote(0, req.ReturnAddr, config.CollateralToken, released, req.ReturnBlind)
		staged := reserveNote(c.Tree, n)
		resp.ReturnNote = &staged
	}

	c.appendLog("close_onchain_mm", resp)
	return resp, nil
}
