package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/starkdex/engine/pkg/batch"
	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/executor"
	"github.com/starkdex/engine/pkg/field"
	"github.com/starkdex/engine/pkg/funding"
	"github.com/starkdex/engine/pkg/oracle"
	"github.com/starkdex/engine/pkg/partialfill"
	"github.com/starkdex/engine/pkg/statetree"
	"github.com/starkdex/engine/pkg/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	tree := statetree.New(statetree.NewMemKV())
	pf := partialfill.New()
	fe := funding.New()
	oc := oracle.New(cfg, cfg.ObserverKeyMap())

	mb := executor.NewMicroBatchLog(store, 1, cfg.MicroBatchFlushSize)
	execCtx := executor.New(cfg, tree, pf, fe, oc, store, zap.NewNop(), mb)
	batchCo := batch.New(cfg, tree, fe, oc, store, execCtx, 1)

	return NewServer(batchCo, oc, tree, store, zap.NewNop())
}

func TestLocalhostOnlyAllowsLoopback(t *testing.T) {
	hit := false
	h := localhostOnly(func(w http.ResponseWriter, r *http.Request) { hit = true })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/finalize_batch", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()

	h(rec, req)

	if !hit {
		t.Fatalf("expected loopback request to reach the handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLocalhostOnlyRejectsRemote(t *testing.T) {
	hit := false
	h := localhostOnly(func(w http.ResponseWriter, r *http.Request) { hit = true })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/finalize_batch", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	rec := httptest.NewRecorder()

	h(rec, req)

	if hit {
		t.Fatalf("expected non-loopback request to be rejected before the handler ran")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", body["status"])
	}
}

func TestHandleUpdateIndexPriceRejectsUnverifiedSignature(t *testing.T) {
	s := newTestServer(t)

	update := oracle.Update{
		Token:       12345,
		Timestamp:   1,
		ObserverIDs: []uint64{1},
		Prices:      []uint64{100},
		Signatures: []oracle.ObserverSignature{{
			ObserverID: 1,
			Signature:  field.Signature{},
		}},
	}
	body, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/update_index_price", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleUpdateIndexPrice(rec, req)

	if rec.Code != http.StatusInternalServerError && rec.Code != http.StatusBadRequest {
		t.Fatalf("expected an error status for a forged signature, got %d", rec.Code)
	}
}

func TestHandleUpdateIndexPriceRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/update_index_price", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.handleUpdateIndexPrice(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestHandleFinalizeBatchEmptyTokens(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/finalize_batch", bytes.NewReader([]byte(`{"tokens":[]}`)))
	rec := httptest.NewRecorder()
	s.handleFinalizeBatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an empty-token finalize, got %d: %s", rec.Code, rec.Body.String())
	}
	var out batch.ProverInput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode prover input: %v", err)
	}
}

func TestHandleRestoreOrderbookEmptyLog(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/restore_orderbook", bytes.NewReader([]byte(`{"batch_id":999}`)))
	rec := httptest.NewRecorder()
	s.handleRestoreOrderbook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a never-written batch id, got %d: %s", rec.Code, rec.Body.String())
	}
}
