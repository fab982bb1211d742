// Package restore implements spec.md §4.I: deriving the exact leaf
// mutations a batch's executors produced from its micro-batch log
// alone, without re-running any precondition check. The log (pkg
// executor's MicroBatchLog, drained to storage.Store.AppendTxLog) is
// the authoritative record of transactions that already passed
// validation once; replay's only job is to reproduce the same tree
// mutations and the same per-chain DA fold, byte-for-byte, so a
// restarted process converges on the identical root the live batch
// would have produced (spec.md §8.7 "Restore fixpoint").
//
// Grounded on the teacher's pkg/app/core/account/manager.go load path
// (LoadLeaf replays persisted state on boot) generalized from a single
// reload step to a per-record dispatch over every transaction_type
// spec.md §4.D defines.
package restore

import (
	"encoding/json"
	"fmt"

	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/executor"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
	"github.com/starkdex/engine/pkg/statetree"
)

// envelope mirrors the micro-batch record shape every executor emits
// via Context.appendLog: {"transaction_type": ..., "payload": ...}.
type envelope struct {
	TransactionType string          `json:"transaction_type"`
	Payload         json.RawMessage `json:"payload"`
}

// Result summarizes one Replay call.
type Result struct {
	TxCount  int
	DAOutput DAOutput
}

// Replay dispatches each raw micro-batch record in records, in the
// order they were logged, applying the leaf mutations it contains to
// tree (via UpdateLeaf, which also stages them into tree.Updated) and
// folding every deposit/withdrawal into the returned DAOutput. Callers
// typically source records from storage.Store.ReadTxLog for the batch
// being restored, then call tree.Transition(tree.Updated.Snapshot())
// afterward to obtain the root that should match the batch's last
// known-good root (spec.md §8.7).
func Replay(tree *statetree.StateTree, records [][]byte) (Result, error) {
	da := NewDAOutput()
	for i, raw := range records {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return Result{}, &engineerr.RestoreError{Reason: fmt.Sprintf("record %d: malformed envelope", i), Cause: err}
		}
		if err := applyRecord(tree, da, env); err != nil {
			return Result{}, &engineerr.RestoreError{TxType: env.TransactionType, Reason: fmt.Sprintf("record %d", i), Cause: err}
		}
	}
	return Result{TxCount: len(records), DAOutput: *da}, nil
}

func applyRecord(tree *statetree.StateTree, da *DAOutput, env envelope) error {
	switch env.TransactionType {
	case "deposit":
		return applyDeposit(tree, da, env.Payload)
	case "withdrawal":
		return applyWithdrawal(tree, da, env.Payload)
	case "spot_swap":
		return applySpotSwap(tree, env.Payload)
	case "perp_swap":
		return applyPerpSwap(tree, env.Payload)
	case "liquidation":
		return applyLiquidation(tree, env.Payload)
	case "margin_change":
		return applyMarginChange(tree, env.Payload)
	case "split_notes":
		return applySplitNotes(tree, env.Payload)
	case "open_order_tab", "close_order_tab":
		return applyOrderTab(tree, env.Payload)
	case "onchain_register_mm", "add_liquidity_mm", "remove_liquidity_mm", "close_onchain_mm":
		return applyMMLiquidity(tree, env.Payload)
	case "note_escape":
		return applyNoteEscape(tree, env.Payload)
	case "tab_escape":
		return applyTabEscape(tree, env.Payload)
	case "position_escape":
		return applyPositionEscape(tree, env.Payload)
	default:
		return fmt.Errorf("unrecognized transaction_type %q", env.TransactionType)
	}
}

func zeroIndices(tree *statetree.StateTree, indices []uint64) {
	for _, idx := range indices {
		tree.UpdateLeaf(idx, statetree.KindNote, leaves.Zero.Hash)
	}
}

func writeNote(tree *statetree.StateTree, n *leaves.Note) {
	if n == nil {
		return
	}
	tree.UpdateLeaf(n.Index, statetree.KindNote, n.Hash)
}

func applyDeposit(tree *statetree.StateTree, da *DAOutput, payload json.RawMessage) error {
	var resp executor.DepositResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	for _, n := range resp.Notes {
		tree.UpdateLeaf(n.Index, statetree.KindNote, n.Hash)
	}
	da.AccumulateDeposit(resp.ChainID, resp.DepositID, resp.Token, resp.Amount, resp.L1Address)
	return nil
}

func applyWithdrawal(tree *statetree.StateTree, da *DAOutput, payload json.RawMessage) error {
	var resp executor.WithdrawalResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	zeroIndices(tree, resp.ZeroedIndices)
	writeNote(tree, resp.RefundNote)
	da.AccumulateWithdrawal(resp.ChainID, resp.Token, resp.Amount, resp.Recipient)
	return nil
}

func applySwapHalf(tree *statetree.StateTree, h executor.SwapHalfResult) {
	zeroIndices(tree, h.ZeroedIndices)
	writeNote(tree, h.OutputNote)
	writeNote(tree, h.PartialRefundNote)
	if h.Tab != nil {
		tree.UpdateLeaf(h.Tab.TabIdx, statetree.KindOrderTab, h.Tab.Hash)
	}
}

func applySpotSwap(tree *statetree.StateTree, payload json.RawMessage) error {
	var resp executor.SpotSwapResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	applySwapHalf(tree, resp.A)
	applySwapHalf(tree, resp.B)
	return nil
}

func applyPerpHalf(tree *statetree.StateTree, h executor.PerpSwapHalfResult) {
	tree.UpdateLeaf(h.Position.Index, statetree.KindPosition, h.Position.Hash)
	writeNote(tree, h.CollateralNote)
}

func applyPerpSwap(tree *statetree.StateTree, payload json.RawMessage) error {
	var resp executor.PerpSwapResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	applyPerpHalf(tree, resp.A)
	applyPerpHalf(tree, resp.B)
	return nil
}

func applyLiquidation(tree *statetree.StateTree, payload json.RawMessage) error {
	var resp executor.LiquidationResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	tree.UpdateLeaf(resp.RemainingPosition.Index, statetree.KindPosition, resp.RemainingPosition.Hash)
	tree.UpdateLeaf(resp.LiquidatorPosition.Index, statetree.KindPosition, resp.LiquidatorPosition.Hash)
	return nil
}

func applyMarginChange(tree *statetree.StateTree, payload json.RawMessage) error {
	var resp executor.MarginChangeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	zeroIndices(tree, resp.ZeroedIndices)
	tree.UpdateLeaf(resp.Position.Index, statetree.KindPosition, resp.Position.Hash)
	writeNote(tree, resp.ReturnNote)
	return nil
}

func applySplitNotes(tree *statetree.StateTree, payload json.RawMessage) error {
	var resp executor.SplitNotesResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	zeroIndices(tree, resp.ZeroedIndices)
	tree.UpdateLeaf(resp.NewNote.Index, statetree.KindNote, resp.NewNote.Hash)
	writeNote(tree, resp.RefundNote)
	return nil
}

func applyOrderTab(tree *statetree.StateTree, payload json.RawMessage) error {
	var resp executor.OrderTabResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	zeroIndices(tree, resp.ZeroedIndices)
	tree.UpdateLeaf(resp.Tab.TabIdx, statetree.KindOrderTab, resp.Tab.Hash)
	writeNote(tree, resp.BaseRefundNote)
	writeNote(tree, resp.QuoteRefundNote)
	return nil
}

func applyMMLiquidity(tree *statetree.StateTree, payload json.RawMessage) error {
	var resp executor.MMLiquidityResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	zeroIndices(tree, resp.ZeroedIndices)
	tree.UpdateLeaf(resp.Position.Index, statetree.KindPosition, resp.Position.Hash)
	writeNote(tree, resp.ReturnNote)
	return nil
}

func applyNoteEscape(tree *statetree.StateTree, payload json.RawMessage) error {
	var resp executor.EscapeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	if !resp.IsValid {
		return nil
	}
	zeroIndices(tree, resp.ZeroedIndices)
	return nil
}

func applyTabEscape(tree *statetree.StateTree, payload json.RawMessage) error {
	var resp executor.TabEscapeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	if !resp.IsValid {
		return nil
	}
	tree.UpdateLeaf(resp.TabIdx, statetree.KindOrderTab, leaves.Zero.Hash)
	writeNote(tree, resp.BaseRefundNote)
	writeNote(tree, resp.QuoteRefundNote)
	return nil
}

func applyPositionEscape(tree *statetree.StateTree, payload json.RawMessage) error {
	var resp executor.PositionEscapeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	if !resp.IsValidA || !resp.IsValidB {
		return nil
	}
	if resp.ZeroedIndex != nil {
		tree.UpdateLeaf(*resp.ZeroedIndex, statetree.KindPosition, field.Zero())
	}
	tree.UpdateLeaf(resp.NewPosition.Index, statetree.KindPosition, resp.NewPosition.Hash)
	return nil
}
