package executor

import (
	"testing"

	"go.uber.org/zap"

	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
	"github.com/starkdex/engine/pkg/statetree"
	"github.com/starkdex/engine/pkg/storage"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	return New(config.Default(), statetree.New(statetree.NewMemKV()), nil, nil, nil, nil, zap.NewNop(), nil)
}

func signedDeposit(t *testing.T, chainID uint32, token uint32, amount uint64, addrSeed, privSeed uint64) (DepositRequest, field.Point) {
	t.Helper()
	priv := field.FromUint64(privSeed)
	pub, err := field.PointFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("derive pubkey: %v", err)
	}
	addr, err := field.PointFromPrivateKey(field.FromUint64(addrSeed))
	if err != nil {
		t.Fatalf("derive note address: %v", err)
	}

	depositID := (uint64(chainID) << 32) | 1
	n := leaves.NewNote(0, addr, token, amount, field.FromUint64(1))
	msg := field.HashMany(n.Hash, field.FromUint64(depositID))
	sig, err := field.Sign(priv, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := DepositRequest{
		DepositID: depositID,
		Token:     token,
		Amount:    amount,
		StarkKey:  pub,
		Notes:     []NoteInput{{Address: addr, Amount: amount, Blinding: field.FromUint64(1)}},
		Signature: sig,
	}
	return req, pub
}

func TestDepositHappyPath(t *testing.T) {
	ctx := newTestContext(t)
	req, _ := signedDeposit(t, 1, 54321, 1000, 1, 2)

	resp, err := ctx.Deposit(req, "", false)
	if err != nil {
		t.Fatalf("expected deposit to succeed, got %v", err)
	}
	if len(resp.Notes) != 1 || resp.Notes[0].Amount != 1000 {
		t.Fatalf("expected one note with amount 1000, got %+v", resp.Notes)
	}
	if !resp.Notes[0].VerifyHash() {
		t.Fatalf("expected assigned note to verify its own hash")
	}
	if got := ctx.Tree.GetLeaf(resp.AssignedIndices[0]); !got.Equal(resp.Notes[0].Hash) {
		t.Fatalf("expected the tree leaf to match the note's hash after deposit")
	}
}

func TestDepositRejectsUnsupportedChain(t *testing.T) {
	ctx := newTestContext(t)
	req, _ := signedDeposit(t, 999, 54321, 1000, 1, 2)

	if _, err := ctx.Deposit(req, "", false); err == nil {
		t.Fatalf("expected deposit on an unconfigured chain to fail")
	}
}

func TestDepositRejectsAmountMismatch(t *testing.T) {
	ctx := newTestContext(t)
	req, _ := signedDeposit(t, 1, 54321, 1000, 1, 2)
	req.Amount = 2000 // no longer matches the sum of Notes

	if _, err := ctx.Deposit(req, "", false); err == nil {
		t.Fatalf("expected deposit with mismatched amount sum to fail")
	}
}

func TestDepositRejectsForgedSignature(t *testing.T) {
	ctx := newTestContext(t)
	req, _ := signedDeposit(t, 1, 54321, 1000, 1, 2)
	req.Signature.R = req.Signature.R.Add(field.FromUint64(1)) // corrupt the signature

	if _, err := ctx.Deposit(req, "", false); err == nil {
		t.Fatalf("expected deposit with a forged signature to fail")
	}
}

func TestDepositRejectsDuplicateDepositID(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := New(config.Default(), statetree.New(statetree.NewMemKV()), nil, nil, nil, store, zap.NewNop(), nil)
	req, _ := signedDeposit(t, 1, 54321, 1000, 1, 2)

	if _, err := ctx.Deposit(req, "0xdead", false); err != nil {
		t.Fatalf("first deposit with a fresh deposit id should succeed: %v", err)
	}

	req2, _ := signedDeposit(t, 1, 54321, 1000, 3, 4)
	if _, err := ctx.Deposit(req2, "0xdead", false); err == nil {
		t.Fatalf("expected a repeated deposit id to be rejected")
	}
}

func withdrawalFixture(t *testing.T, ctx *Context, amount, refundAmount uint64) WithdrawalRequest {
	t.Helper()
	priv := field.FromUint64(10)
	addr, err := field.PointFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}

	n := leaves.NewNote(ctx.Tree.FirstZeroIndex(), addr, 54321, amount+refundAmount, field.FromUint64(5))
	ctx.Tree.UpdateLeaf(n.Index, statetree.KindNote, n.Hash)

	msg := field.HashMany(field.FromUint64(amount), field.FromUint64(54321), field.FromUint64(1))
	sig, err := field.Sign(priv, msg)
	if err != nil {
		t.Fatalf("sign withdrawal: %v", err)
	}

	req := WithdrawalRequest{
		ChainID:   1,
		Token:     54321,
		Amount:    amount,
		NotesIn:   []leaves.Note{n},
		Signature: sig,
	}
	if refundAmount > 0 {
		req.RefundNote = &NoteInput{Address: addr, Amount: refundAmount, Blinding: field.FromUint64(6)}
	}
	return req
}

func TestWithdrawalZeroesNotesWithoutRefund(t *testing.T) {
	ctx := newTestContext(t)
	req := withdrawalFixture(t, ctx, 500, 0)

	resp, err := ctx.Withdrawal(req)
	if err != nil {
		t.Fatalf("expected withdrawal to succeed, got %v", err)
	}
	if len(resp.ZeroedIndices) != 1 {
		t.Fatalf("expected exactly one zeroed index, got %d", len(resp.ZeroedIndices))
	}
	if got := ctx.Tree.GetLeaf(resp.ZeroedIndices[0]); !got.IsZero() {
		t.Fatalf("expected the input note's leaf to be zeroed")
	}
}

func TestWithdrawalWritesRefundNote(t *testing.T) {
	ctx := newTestContext(t)
	req := withdrawalFixture(t, ctx, 500, 100)

	resp, err := ctx.Withdrawal(req)
	if err != nil {
		t.Fatalf("expected withdrawal with refund to succeed, got %v", err)
	}
	if resp.RefundNote == nil {
		t.Fatalf("expected a refund note in the response")
	}
	if resp.RefundNote.Amount != 100 {
		t.Fatalf("expected refund amount 100, got %d", resp.RefundNote.Amount)
	}
	if got := ctx.Tree.GetLeaf(resp.RefundNote.Index); !got.Equal(resp.RefundNote.Hash) {
		t.Fatalf("expected the refund note's leaf to carry its hash")
	}
}

func TestWithdrawalRejectsAmountMismatch(t *testing.T) {
	ctx := newTestContext(t)
	req := withdrawalFixture(t, ctx, 500, 0)
	req.Amount = 400 // no longer matches notes_in sum

	if _, err := ctx.Withdrawal(req); err == nil {
		t.Fatalf("expected withdrawal with mismatched amount to fail")
	}
}

func TestWithdrawalRejectsGasFeeAboveMax(t *testing.T) {
	ctx := newTestContext(t)
	req := withdrawalFixture(t, ctx, 500, 0)
	req.MaxGasFee = 10
	req.GasFeeTaken = 20

	if _, err := ctx.Withdrawal(req); err == nil {
		t.Fatalf("expected withdrawal with gas fee above max_gas_fee to fail")
	}
}
