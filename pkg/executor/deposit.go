package executor

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
)

// DepositRequest is the wire shape of spec.md §4.D Deposit.
type DepositRequest struct {
	DepositID uint64 // high 32 bits = chain_id, low 32 = local id
	Token     uint32
	Amount    uint64
	StarkKey  field.Point
	Notes     []NoteInput
	Signature field.Signature
	// L1Address is the on-chain depositor address from the L1 deposit
	// event; carried through to the micro-batch record purely for the
	// restore engine's per-chain accumulated-hash fold (spec.md §4.I).
	L1Address [20]byte
}

// NoteInput is the client-supplied (address, amount, blinding) tuple
// a deposit or swap output note is built from.
type NoteInput struct {
	Address  field.Point
	Amount   uint64
	Blinding field.Element
}

type DepositResponse struct {
	ChainID         uint32       `json:"chain_id"`
	Token           uint32       `json:"token"`
	Amount          uint64       `json:"amount"`
	DepositID       uint64       `json:"deposit_id"`
	L1Address       [20]byte     `json:"l1_address"`
	Notes           []leaves.Note `json:"notes"`
	AssignedIndices []uint64     `json:"assigned_indices"`
}

func depositChainID(depositID uint64) uint32 { return uint32(depositID >> 32) }

// Deposit implements spec.md §4.D: validates chain id, per-note token
// and amount sums, the stark-key signature over the note hashes, and
// (if enabled) on-chain registration, then reserves one zero-index per
// note and stages every hash into the updated-set. Grounded on
// invisible_backend/src/transactions/deposit.rs and the teacher's
// AccountManager.Deposit two-phase validate/apply split.
func (c *Context) Deposit(req DepositRequest, depositTxHash string, onchainRegistered bool) (DepositResponse, error) {
	chainID := depositChainID(req.DepositID)
	if !c.Config.IsSupportedChain(chainID) {
		return DepositResponse{}, &engineerr.DepositExecutionError{Reason: fmt.Sprintf("chain_id %d not configured", chainID)}
	}

	var sum uint64
	notes := make([]leaves.Note, len(req.Notes))
	hashes := make([]field.Element, len(req.Notes))
	for i, ni := range req.Notes {
		if ni.Amount == 0 {
			return DepositResponse{}, &engineerr.DepositExecutionError{Reason: "zero-amount note in deposit"}
		}
		sum += ni.Amount
		n := leaves.NewNote(0, ni.Address, req.Token, ni.Amount, ni.Blinding)
		notes[i] = n
		hashes[i] = n.Hash
	}
	if sum != req.Amount {
		return DepositResponse{}, &engineerr.DepositExecutionError{Reason: "sum of note amounts does not match deposit amount"}
	}

	msg := field.HashMany(append(hashes, field.FromUint64(req.DepositID))...)
	if !field.Verify(req.StarkKey, msg, req.Signature) {
		return DepositResponse{}, &engineerr.DepositExecutionError{Reason: "signature does not verify against stark_key"}
	}

	if c.Config.RequireOnchainDepositRegistration && !onchainRegistered {
		return DepositResponse{}, &engineerr.DepositExecutionError{Reason: "deposit commitment not found in pending on-chain registration set"}
	}

	if c.Store != nil {
		seen, err := c.Store.IsDepositProcessed(req.DepositID)
		if err != nil {
			return DepositResponse{}, &engineerr.DepositExecutionError{Reason: "processed-deposit lookup failed", Cause: err}
		}
		if seen {
			return DepositResponse{}, &engineerr.DepositExecutionError{Reason: "deposit_id already processed"}
		}
	}

	indices := make([]uint64, len(notes))
	for i, n := range notes {
		staged := reserveNote(c.Tree, n)
		indices[i] = staged.Index
		notes[i] = staged
	}

	if c.Store != nil {
		if err := c.Store.MarkDepositProcessed(req.DepositID); err != nil {
			c.Log.Error("failed to mark deposit processed", zap.Error(err))
		}
	}

	resp := DepositResponse{
		ChainID:         chainID,
		Token:           req.Token,
		Amount:          req.Amount,
		DepositID:       req.DepositID,
		L1Address:       req.L1Address,
		Notes:           notes,
		AssignedIndices: indices,
	}
	c.appendLog("deposit", resp)
	return resp, nil
}

func (c *Context) appendLog(txType string, payload any) {
	rec := struct {
		TransactionType string `json:"transaction_type"`
		Payload         any    `json:"payload"`
	}{txType, payload}
	body, err := json.Marshal(rec)
	if err != nil {
		c.Log.Error("failed to marshal micro-batch record", zap.Error(err))
		return
	}
	if c.MicroBatch == nil {
		return
	}
	if err := c.MicroBatch.Append(body); err != nil {
		c.Log.Error("failed to append micro-batch record", zap.Error(err))
	}
}
