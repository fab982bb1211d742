package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BlobSink mirrors finalized batch documents (prover input, DA log) to
// a remote endpoint on a best-effort basis, grounded on
// original_source/invisible_backend/src/utils/storage/firestore.rs's
// role as the off-box mirror of the same local-storage writes. A
// plain HTTP PUT stands in for the Rust original's Firestore client
// since no cloud-document SDK appears anywhere in the retrieved pack
// (see DESIGN.md); failures fall through to DocMirror's retry queue
// rather than blocking the caller.
type BlobSink struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

func NewBlobSink(endpoint string, log *zap.Logger) *BlobSink {
	return &BlobSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Put attempts to upload doc under name, returning an error the
// caller should hand to DocMirror.Enqueue on failure. A zero-value
// endpoint disables the sink entirely (local-only deployments).
func (b *BlobSink) Put(ctx context.Context, name string, doc any) error {
	if b.endpoint == "" {
		return nil
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal blob %s: %w", name, err)
	}

	url := b.endpoint + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Warn("blob sink upload failed", zap.String("name", name), zap.Error(err))
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("blob sink %s returned status %d", name, resp.StatusCode)
		b.log.Warn("blob sink rejected upload", zap.String("name", name), zap.Int("status", resp.StatusCode))
		return err
	}
	return nil
}
