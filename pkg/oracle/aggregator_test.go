package oracle

import (
	"testing"

	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/field"
)

const syntheticToken = 12345 // matches config.Default()'s synthetic asset

func observer(t *testing.T, seed uint64) (uint64, field.Element, field.Point) {
	t.Helper()
	priv := field.FromUint64(seed)
	pub, err := field.PointFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("derive observer pubkey: %v", err)
	}
	return seed, priv, pub
}

func signedUpdate(t *testing.T, token uint32, timestamp uint64, entries []struct {
	id    uint64
	priv  field.Element
	price uint64
}) Update {
	t.Helper()
	u := Update{Token: token, Timestamp: timestamp}
	for _, e := range entries {
		msg := computeMsg(e.price, token, timestamp)
		sig, err := field.Sign(e.priv, msg)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		u.ObserverIDs = append(u.ObserverIDs, e.id)
		u.Prices = append(u.Prices, e.price)
		u.Signatures = append(u.Signatures, ObserverSignature{ObserverID: e.id, Signature: sig})
	}
	return u
}

func TestSubmitAcceptsAtThreshold(t *testing.T) {
	id1, priv1, pub1 := observer(t, 1)
	id2, priv2, pub2 := observer(t, 2)

	cfg := config.Default()
	cfg.OracleThreshold = 2
	agg := New(cfg, map[uint64]field.Point{id1: pub1, id2: pub2})

	u := signedUpdate(t, syntheticToken, 100, []struct {
		id    uint64
		priv  field.Element
		price uint64
	}{
		{id1, priv1, 1000},
		{id2, priv2, 1010},
	})

	if err := agg.Submit(u); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}

	price, ok := agg.IndexPrice(syntheticToken)
	if !ok {
		t.Fatalf("expected an index price to be set")
	}
	if price != 1005 { // median of (1000,1010)
		t.Fatalf("expected median price 1005, got %d", price)
	}
}

func TestSubmitRejectsBelowThreshold(t *testing.T) {
	id1, priv1, pub1 := observer(t, 1)
	_, _, pub2 := observer(t, 2) // configured observer 2 never signs

	cfg := config.Default()
	cfg.OracleThreshold = 2
	agg := New(cfg, map[uint64]field.Point{id1: pub1, 2: pub2})

	u := signedUpdate(t, syntheticToken, 100, []struct {
		id    uint64
		priv  field.Element
		price uint64
	}{
		{id1, priv1, 1000},
	})

	if err := agg.Submit(u); err == nil {
		t.Fatalf("expected submit to fail with only 1/2 signatures verified")
	}
	if _, ok := agg.IndexPrice(syntheticToken); ok {
		t.Fatalf("a rejected update must not set an index price")
	}
}

func TestSubmitRejectsNonSyntheticToken(t *testing.T) {
	id1, priv1, pub1 := observer(t, 1)
	cfg := config.Default()
	cfg.OracleThreshold = 1
	agg := New(cfg, map[uint64]field.Point{id1: pub1})

	u := signedUpdate(t, 54321 /* spot token, not synthetic */, 100, []struct {
		id    uint64
		priv  field.Element
		price uint64
	}{
		{id1, priv1, 1000},
	})

	if err := agg.Submit(u); err == nil {
		t.Fatalf("expected submit to reject a non-synthetic token")
	}
}

func TestSubmitRejectsDuplicateObserverIDs(t *testing.T) {
	id1, priv1, pub1 := observer(t, 1)
	cfg := config.Default()
	cfg.OracleThreshold = 1
	agg := New(cfg, map[uint64]field.Point{id1: pub1})

	u := signedUpdate(t, syntheticToken, 100, []struct {
		id    uint64
		priv  field.Element
		price uint64
	}{
		{id1, priv1, 1000},
		{id1, priv1, 1001},
	})

	if err := agg.Submit(u); err == nil {
		t.Fatalf("expected submit to reject duplicate observer_ids")
	}
}

func TestSubmitForgedSignatureDoesNotVerify(t *testing.T) {
	id1, _, pub1 := observer(t, 1)
	_, otherPriv, _ := observer(t, 99) // wrong key signs the message

	cfg := config.Default()
	cfg.OracleThreshold = 1
	agg := New(cfg, map[uint64]field.Point{id1: pub1})

	u := signedUpdate(t, syntheticToken, 100, []struct {
		id    uint64
		priv  field.Element
		price uint64
	}{
		{id1, otherPriv, 1000},
	})

	if err := agg.Submit(u); err == nil {
		t.Fatalf("expected submit to reject a signature made with the wrong key")
	}
}

func TestBatchExtremesAndResetBatch(t *testing.T) {
	id1, priv1, pub1 := observer(t, 1)
	cfg := config.Default()
	cfg.OracleThreshold = 1
	agg := New(cfg, map[uint64]field.Point{id1: pub1})

	low := signedUpdate(t, syntheticToken, 1, []struct {
		id    uint64
		priv  field.Element
		price uint64
	}{{id1, priv1, 900}})
	high := signedUpdate(t, syntheticToken, 2, []struct {
		id    uint64
		priv  field.Element
		price uint64
	}{{id1, priv1, 1100}})

	if err := agg.Submit(low); err != nil {
		t.Fatalf("submit low failed: %v", err)
	}
	if err := agg.Submit(high); err != nil {
		t.Fatalf("submit high failed: %v", err)
	}

	min, max := agg.BatchExtremes(syntheticToken)
	if min == nil || max == nil {
		t.Fatalf("expected both min and max to be set")
	}
	if min.Timestamp != 1 || max.Timestamp != 2 {
		t.Fatalf("expected min timestamp 1 and max timestamp 2, got %d and %d", min.Timestamp, max.Timestamp)
	}

	agg.ResetBatch()
	min, max = agg.BatchExtremes(syntheticToken)
	if min != nil || max != nil {
		t.Fatalf("expected ResetBatch to clear min/max trackers")
	}
	if price, ok := agg.IndexPrice(syntheticToken); !ok || price != 1100 {
		t.Fatalf("ResetBatch must not clear the latest index price, got %d ok=%v", price, ok)
	}
}
