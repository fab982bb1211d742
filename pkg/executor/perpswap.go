package executor

import (
	"golang.org/x/sync/errgroup"

	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/funding"
	"github.com/starkdex/engine/pkg/leaves"
	"github.com/starkdex/engine/pkg/partialfill"
)

// PositionEffect is spec.md §4.D Perp swap's position_effect_type.
type PositionEffect uint8

const (
	EffectOpen PositionEffect = iota
	EffectModify
	EffectClose
)

// PerpOrder mirrors SwapOrder with the additional fields a perpetual
// order carries (spec.md §4.D Perp swap).
type PerpOrder struct {
	OrderID        uint64
	SyntheticToken uint32
	Side           leaves.Side
	Effect         PositionEffect
	AmountSynthetic uint64 // order's declared position-size delta
	Signature      field.Signature
}

// PerpSwapHalf is one counter-party to a perpetual fill.
type PerpSwapHalf struct {
	Order           PerpOrder
	Position        leaves.Position // zero value when opening fresh
	CollateralNotes []leaves.Note   // spent as margin on Open; unused on Close
	SumPoint        field.Point     // Σ of collateral note addresses, for Open
}

type PerpSwapRequest struct {
	A, B         PerpSwapHalf
	FillSize     uint64 // synthetic amount actually matched this fill
	FillPrice    uint64
	SpentCollateralA, SpentCollateralB uint64
	FeeTakenA, FeeTakenB uint64
}

type PerpSwapHalfResult struct {
	Position       leaves.Position
	CollateralNote *leaves.Note
	Leverage       uint64
}

type PerpSwapResponse struct {
	A PerpSwapHalfResult `json:"a"`
	B PerpSwapHalfResult `json:"b"`
}

// PerpHalfOutcome is one perp half's computed-but-not-yet-staged
// mutations, mirroring executor.HalfOutcome for spot swaps: the half
// only reserves indices and computes values while it runs, staging
// nothing until both halves of the swap have succeeded.
type PerpHalfOutcome struct {
	Result          PerpSwapHalfResult
	PositionWrite   leaves.Position
	NoteWrites      []leaves.Note
	OrderID         uint64
	FillState       partialfill.PerpFillState
	FullyFilled     bool
}

// PerpSwap implements spec.md §4.D "Perp swap": the two halves run
// concurrently, each serialized by the per-order perp partial-fill
// coordinator, sharing one funding.SwapFundingInfo snapshot so both
// sides accrue against the same rate vector. Each half only computes
// its PerpHalfOutcome while running; mutations are staged into the
// tree and the partial-fill coordinator only once the join confirms
// both halves succeeded.
func (c *Context) PerpSwap(req PerpSwapRequest) (PerpSwapResponse, error) {
	if req.FeeTakenA > 0 && req.FeeTakenB > 0 {
		return PerpSwapResponse{}, &engineerr.PerpSwapExecutionError{Reason: "both sides of a perp swap took a non-zero fee"}
	}

	minIdx := req.A.Position.LastFundingIdx
	if req.B.Position.LastFundingIdx < minIdx {
		minIdx = req.B.Position.LastFundingIdx
	}
	token := req.A.Order.SyntheticToken
	snapshot := c.Funding.Snapshot(token, minIdx)

	var outA, outB PerpHalfOutcome
	var errA, errB error
	var g errgroup.Group
	g.Go(func() error {
		outA, errA = c.executePerpHalf(req.A, req.SpentCollateralA, req.FillSize, req.FillPrice, req.FeeTakenA, snapshot)
		return errA
	})
	g.Go(func() error {
		outB, errB = c.executePerpHalf(req.B, req.SpentCollateralB, req.FillSize, req.FillPrice, req.FeeTakenB, snapshot)
		return errB
	})
	_ = g.Wait()

	if errA != nil || errB != nil {
		c.PF.Unblock(req.A.Order.OrderID)
		c.PF.Unblock(req.B.Order.OrderID)
		if errA != nil {
			return PerpSwapResponse{}, wrapPerpErr(errA, req.A.Order.OrderID)
		}
		return PerpSwapResponse{}, wrapPerpErr(errB, req.B.Order.OrderID)
	}

	c.stagePerpHalfOutcome(outA)
	c.stagePerpHalfOutcome(outB)

	c.Funding.NoteMinFundingIdx(token, minIdx)
	resp := PerpSwapResponse{A: outA.Result, B: outB.Result}
	c.appendLog("perp_swap", resp)
	return resp, nil
}

// stagePerpHalfOutcome applies one half's computed mutations to the
// tree and commits its partial-fill state. Called only after both
// halves of a perp swap report success.
func (c *Context) stagePerpHalfOutcome(out PerpHalfOutcome) {
	c.Tree.UpdatePosition(out.PositionWrite)
	for _, n := range out.NoteWrites {
		c.Tree.UpdateNote(n)
	}
	c.PF.FinalizePerpUpdates(out.OrderID, out.FillState, out.FullyFilled)
}

func wrapPerpErr(err error, orderID uint64) error {
	if _, ok := err.(*engineerr.PerpSwapExecutionError); ok {
		return err
	}
	id := orderID
	return &engineerr.PerpSwapExecutionError{Reason: err.Error(), InvalidOrderID: &id, Cause: err}
}

// executePerpHalf dispatches by position_effect_type: Open builds or
// augments a position and checks the leverage ceiling; Modify accrues
// funding over [last_funding_idx, current_funding_idx) before applying
// the size delta, including a side-flip when the counter-order's size
// exceeds the position; Close returns collateral to a fresh note, a
// full close being residual size ≤ the token's dust amount (spec.md
// §4.D Perp swap).
func (c *Context) executePerpHalf(half PerpSwapHalf, spentCollateral, fillSize, fillPrice, feeTaken uint64, snapshot funding.SwapFundingInfo) (PerpHalfOutcome, error) {
	orderID := half.Order.OrderID
	c.PF.BlockUntilPrevPerpFillFinished(orderID)

	asset, ok := c.assetFor(half.Order.SyntheticToken)
	if !ok {
		c.PF.Unblock(orderID)
		return PerpHalfOutcome{}, &engineerr.PerpSwapExecutionError{Reason: "synthetic token not configured"}
	}

	outcome := PerpHalfOutcome{OrderID: orderID}
	var result PerpSwapHalfResult
	switch half.Order.Effect {
	case EffectOpen:
		initMargin := spentCollateral - feeTaken
		var leverage uint64
		if initMargin > 0 {
			leverage = fillSize * fillPrice * (1 << config.LeverageDecimals) / initMargin
		}
		if leverage > asset.MaxLeverage {
			return PerpHalfOutcome{}, &engineerr.PerpSwapExecutionError{Reason: "leverage exceeds configured maximum"}
		}

		var pos leaves.Position
		if half.Position.PositionSize == 0 {
			header := leaves.PositionHeader{SyntheticToken: half.Order.SyntheticToken}
			pos = leaves.NewPosition(header, half.Order.Side, fillSize, initMargin, fillPrice, snapshot.CurrentIdx, 0, c.Config.Assets)
		} else {
			pos = half.Position.IncreaseSize(fillSize, fillPrice, initMargin, c.Config.Assets)
		}
		idx := c.Tree.FirstZeroIndex()
		if half.Position.PositionSize != 0 {
			idx = half.Position.Index
		}
		pos.Index = idx
		outcome.PositionWrite = pos
		result = PerpSwapHalfResult{Position: pos, Leverage: leverage}

	case EffectModify:
		delta := funding.AccrueDelta(snapshot, half.Position.LastFundingIdx, signedSize(half.Position), asset.PriceDecimals)
		accrued := half.Position.AccrueFunding(delta, snapshot.CurrentIdx)

		var pos leaves.Position
		if fillSize >= accrued.PositionSize {
			remaining := fillSize - accrued.PositionSize
			pos = accrued.FlipSide(remaining, fillPrice, spentCollateral, c.Config.Assets)
		} else {
			pos = accrued.IncreaseSize(fillSize, fillPrice, spentCollateral, c.Config.Assets)
		}
		outcome.PositionWrite = pos
		result = PerpSwapHalfResult{Position: pos}

	default: // EffectClose
		delta := funding.AccrueDelta(snapshot, half.Position.LastFundingIdx, signedSize(half.Position), asset.PriceDecimals)
		accrued := half.Position.AccrueFunding(delta, snapshot.CurrentIdx)

		pos, released := accrued.ReduceSize(fillSize, c.Config.Assets)
		fullClose := pos.PositionSize <= asset.DustAmount
		if fullClose {
			pos = pos.ClosePosition()
		}
		outcome.PositionWrite = pos

		spendable := released - feeTaken
		if spendable > 0 {
			n := leaves.NewNote(0, half.SumPoint, config.CollateralToken, spendable, field.Zero())
			n.Index = c.Tree.FirstZeroIndex()
			outcome.NoteWrites = append(outcome.NoteWrites, n)
			result.CollateralNote = &n
		}
		result.Position = pos
	}

	outcome.Result = result
	outcome.FillState = partialfill.PerpFillState{FilledAmount: fillSize, SpentMargin: spentCollateral}
	outcome.FullyFilled = half.Order.Effect == EffectClose && result.Position.PositionSize == 0
	return outcome, nil
}

func signedSize(p leaves.Position) int64 {
	if p.OrderSide == leaves.Short {
		return -int64(p.PositionSize)
	}
	return int64(p.PositionSize)
}

func (c *Context) assetFor(token uint32) (config.AssetConfig, bool) {
	return c.Config.Asset(token)
}
