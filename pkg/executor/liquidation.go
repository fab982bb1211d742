package executor

import (
	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
)

// LiquidationRequest is spec.md §4.D Liquidation: a perpetual Close
// triggered by an index price that has crossed the position's
// liquidation price, executed by a liquidator who receives a fee and
// opens a position of the liquidated size.
type LiquidationRequest struct {
	Position        leaves.Position
	IndexPrice      uint64
	LiquidatedSize  uint64
	LiquidatorFee   uint64
	LiquidatorAddr  field.Point
}

type LiquidationResponse struct {
	RemainingPosition leaves.Position `json:"remaining_position"`
	LiquidatorPosition leaves.Position `json:"liquidator_position"`
	InsuranceShortfall int64          `json:"insurance_shortfall"`
}

// Liquidate implements spec.md §4.D Liquidation, grounded on
// invisible_backend/src/transactions/transaction_helpers/transaction_helpers.rs's
// liquidation-order handling: it checks the position has actually
// crossed its liquidation price, reduces it (or closes it fully, per
// CanPartiallyLiquidate), opens a liquidator position of the same
// size/price, and tracks any shortfall between the position's
// remaining margin and its bankruptcy exposure in the process-wide
// insurance fund counter.
func (c *Context) Liquidate(req LiquidationRequest) (LiquidationResponse, error) {
	pos := req.Position
	crossed := (pos.OrderSide == leaves.Long && req.IndexPrice <= pos.LiquidationPrice) ||
		(pos.OrderSide == leaves.Short && req.IndexPrice >= pos.LiquidationPrice)
	if !crossed {
		return LiquidationResponse{}, &engineerr.PerpSwapExecutionError{Reason: "position has not crossed its liquidation price"}
	}

	size := req.LiquidatedSize
	if size > pos.PositionSize {
		size = pos.PositionSize
	}
	if size < pos.PositionSize && !pos.CanPartiallyLiquidate(size, c.Config.Assets) {
		size = pos.PositionSize
	}

	remaining, releasedMargin := pos.Liquidate(size, c.Config.Assets)
	c.Tree.UpdatePosition(remaining)

	var shortfall int64
	bankruptcyCrossed := (pos.OrderSide == leaves.Long && req.IndexPrice < pos.BankruptcyPrice) ||
		(pos.OrderSide == leaves.Short && req.IndexPrice > pos.BankruptcyPrice)
	if bankruptcyCrossed {
		shortfall = int64(releasedMargin) - int64(size*req.IndexPrice/priceScale(c.Config, pos.Header.SyntheticToken))
		if shortfall > 0 {
			c.AddInsuranceShortfall(shortfall)
		}
	}

	header := leaves.PositionHeader{SyntheticToken: pos.Header.SyntheticToken}
	liquidatorMargin := releasedMargin - req.LiquidatorFee
	liquidatorIdx := c.Tree.FirstZeroIndex()
	liquidatorPos := leaves.NewPosition(header, pos.OrderSide, size, liquidatorMargin, req.IndexPrice, pos.LastFundingIdx, liquidatorIdx, c.Config.Assets)
	c.Tree.UpdatePosition(liquidatorPos)

	resp := LiquidationResponse{RemainingPosition: remaining, LiquidatorPosition: liquidatorPos, InsuranceShortfall: shortfall}
	c.appendLog("liquidation", resp)
	return resp, nil
}

func priceScale(cfg config.Config, token uint32) uint64 {
	asset, ok := cfg.Asset(token)
	if !ok || asset.PriceDecimals == 0 {
		return 1
	}
	scale := uint64(1)
	for i := uint8(0); i < asset.PriceDecimals; i++ {
		scale *= 10
	}
	return scale
}
