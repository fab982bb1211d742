package storage

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.Get([]byte("missing")); err != nil || ok {
		t.Fatalf("expected missing key to report ok=false, got ok=%v err=%v", ok, err)
	}

	if err := s.Set([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := s.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("expected key to be found, got ok=%v err=%v", ok, err)
	}
	if string(val) != "v1" {
		t.Fatalf("expected v1, got %q", val)
	}
}

func TestAppendAndReadTxLogPreservesOrder(t *testing.T) {
	s := openTestStore(t)
	const batchID = uint64(7)

	for i, rec := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		if err := s.AppendTxLog(batchID, uint64(i), rec); err != nil {
			t.Fatalf("append record %d: %v", i, err)
		}
	}

	records, err := s.ReadTxLog(batchID)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(records[i]) != want {
			t.Fatalf("record %d: expected %q, got %q", i, want, records[i])
		}
	}
}

func TestReadTxLogDoesNotLeakAcrossBatches(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendTxLog(1, 0, []byte("batch1")); err != nil {
		t.Fatalf("append to batch 1: %v", err)
	}
	if err := s.AppendTxLog(2, 0, []byte("batch2")); err != nil {
		t.Fatalf("append to batch 2: %v", err)
	}

	records, err := s.ReadTxLog(1)
	if err != nil {
		t.Fatalf("read batch 1: %v", err)
	}
	if len(records) != 1 || string(records[0]) != "batch1" {
		t.Fatalf("expected exactly batch1's own record, got %v", records)
	}
}

func TestDepositProcessedDedup(t *testing.T) {
	s := openTestStore(t)

	const depositID = (uint64(1) << 32) | 1

	seen, err := s.IsDepositProcessed(depositID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if seen {
		t.Fatalf("expected an unmarked deposit to report unseen")
	}

	if err := s.MarkDepositProcessed(depositID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	seen, err = s.IsDepositProcessed(depositID)
	if err != nil {
		t.Fatalf("check after mark: %v", err)
	}
	if !seen {
		t.Fatalf("expected the marked deposit to report seen")
	}

	// A different deposit_id must not share the dedup key.
	seen, err = s.IsDepositProcessed(depositID + 1)
	if err != nil {
		t.Fatalf("check other deposit id: %v", err)
	}
	if seen {
		t.Fatalf("expected dedup to be scoped per deposit id")
	}
}

func TestNextBatchIDIsSequential(t *testing.T) {
	s := openTestStore(t)

	first, err := s.NextBatchID()
	if err != nil {
		t.Fatalf("first NextBatchID: %v", err)
	}
	second, err := s.NextBatchID()
	if err != nil {
		t.Fatalf("second NextBatchID: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected sequential batch ids, got %d then %d", first, second)
	}
}

func TestFundingSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.LoadFundingSnapshot(12345); err != nil || ok {
		t.Fatalf("expected no snapshot initially, got ok=%v err=%v", ok, err)
	}

	if err := s.SaveFundingSnapshot(12345, []byte("snap")); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, ok, err := s.LoadFundingSnapshot(12345)
	if err != nil || !ok {
		t.Fatalf("expected snapshot to load, got ok=%v err=%v", ok, err)
	}
	if string(data) != "snap" {
		t.Fatalf("expected snap, got %q", data)
	}
}
