package restore

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/executor"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/leaves"
	"github.com/starkdex/engine/pkg/statetree"
)

// record wraps a payload the way Context.appendLog does, so tests can
// build a micro-batch log by hand without going through storage.Store.
func record(t *testing.T, txType string, payload any) []byte {
	t.Helper()
	body, err := json.Marshal(struct {
		TransactionType string `json:"transaction_type"`
		Payload         any    `json:"payload"`
	}{txType, payload})
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	return body
}

func newTestContext() *executor.Context {
	return executor.New(config.Default(), statetree.New(statetree.NewMemKV()), nil, nil, nil, nil, zap.NewNop(), nil)
}

func TestReplayDepositFixpoint(t *testing.T) {
	priv := field.FromUint64(12345)
	pub, err := field.PointFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("derive pubkey: %v", err)
	}

	noteAddr, err := field.PointFromPrivateKey(field.FromUint64(999))
	if err != nil {
		t.Fatalf("derive note address: %v", err)
	}

	const depositID = (uint64(1) << 32) | 7 // chain_id=1 (configured), local id 7
	const token = uint32(54321)
	const amount = uint64(1000)

	n := leaves.NewNote(0, noteAddr, token, amount, field.FromUint64(42))
	msg := field.HashMany(n.Hash, field.FromUint64(depositID))
	sig, err := field.Sign(priv, msg)
	if err != nil {
		t.Fatalf("sign deposit: %v", err)
	}

	req := executor.DepositRequest{
		DepositID: depositID,
		Token:     token,
		Amount:    amount,
		StarkKey:  pub,
		Notes:     []executor.NoteInput{{Address: noteAddr, Amount: amount, Blinding: field.FromUint64(42)}},
		Signature: sig,
		L1Address: [20]byte{1, 2, 3},
	}

	live := newTestContext()
	resp, err := live.Deposit(req, "", false)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if len(resp.Notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(resp.Notes))
	}
	wantHash := resp.Notes[0].Hash
	wantIndex := resp.Notes[0].Index

	// Replay against a fresh tree using only the logged record.
	records := [][]byte{record(t, "deposit", resp)}
	restored := statetree.New(statetree.NewMemKV())
	result, err := Replay(restored, records)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if result.TxCount != 1 {
		t.Errorf("TxCount = %d, want 1", result.TxCount)
	}

	got := restored.GetLeaf(wantIndex)
	if !got.Equal(wantHash) {
		t.Errorf("replayed leaf %d = %s, want %s", wantIndex, got.String(), wantHash.String())
	}

	acc, ok := result.DAOutput.PerChain[resp.ChainID]
	if !ok {
		t.Fatalf("no DA accumulation recorded for chain %d", resp.ChainID)
	}
	if acc == ([32]byte{}) {
		t.Error("DA accumulator left at zero value")
	}
}

func TestReplayWithdrawalZeroesNotes(t *testing.T) {
	priv := field.FromUint64(555)
	noteAddr, err := field.PointFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("derive note address: %v", err)
	}

	const token = uint32(54321)
	const amount = uint64(500)

	live := newTestContext()
	depositNote := leaves.NewNote(0, noteAddr, token, amount, field.FromUint64(1))
	staged := depositNote
	staged.Index = live.Tree.FirstZeroIndex()
	live.Tree.UpdateLeaf(staged.Index, statetree.KindNote, staged.Hash)

	msg := field.HashMany(field.FromUint64(amount), field.FromUint64(uint64(token)), field.FromUint64(1))
	sig, err := field.Sign(priv, msg)
	if err != nil {
		t.Fatalf("sign withdrawal: %v", err)
	}

	resp, err := live.Withdrawal(executor.WithdrawalRequest{
		ChainID:   1,
		Token:     token,
		Amount:    amount,
		Recipient: [20]byte{9, 9, 9},
		NotesIn:   []leaves.Note{staged},
		Signature: sig,
	})
	if err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}
	if len(resp.ZeroedIndices) != 1 {
		t.Fatalf("expected 1 zeroed index, got %d", len(resp.ZeroedIndices))
	}

	restored := statetree.New(statetree.NewMemKV())
	restored.UpdateLeaf(staged.Index, statetree.KindNote, staged.Hash) // seed pre-withdrawal state

	result, err := Replay(restored, [][]byte{record(t, "withdrawal", resp)})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !restored.GetLeaf(staged.Index).IsZero() {
		t.Errorf("leaf %d should be zeroed after replaying withdrawal", staged.Index)
	}
	if result.DAOutput.PerChain[1] == ([32]byte{}) {
		t.Error("withdrawal DA accumulator left at zero value")
	}
}

func TestReplayRejectsUnknownTransactionType(t *testing.T) {
	tree := statetree.New(statetree.NewMemKV())
	_, err := Replay(tree, [][]byte{record(t, "not_a_real_transaction", map[string]int{"x": 1})})
	if err == nil {
		t.Fatal("expected an error for an unrecognized transaction_type")
	}
}

func TestReplayRejectsMalformedEnvelope(t *testing.T) {
	tree := statetree.New(statetree.NewMemKV())
	_, err := Replay(tree, [][]byte{[]byte("not json")})
	if err == nil {
		t.Fatal("expected an error for a malformed record")
	}
}
