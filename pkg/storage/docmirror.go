package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// DocMirror is the retry queue for documents BlobSink failed to
// upload, grounded on backup_storage.rs: the original keeps a
// separate sled tree per document family purely to hold writes that
// failed against the primary store, replayed later. Here every
// pending document lives under one prefix keyed by family+name so a
// single pebble instance serves both the primary KV and the backup
// queue (see pebble_store.go).
type DocMirror struct {
	mu   sync.Mutex
	db   *pebble.DB
	sink *BlobSink
}

const mirrorPrefix = "mirror:"

func mirrorKey(family, name string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", mirrorPrefix, family, name))
}

func NewDocMirror(store *Store, sink *BlobSink) *DocMirror {
	return &DocMirror{db: store.db, sink: sink}
}

// Enqueue persists a document that BlobSink.Put already failed to
// upload once, so Flush can retry it later without the caller holding
// it in memory.
func (m *DocMirror) Enqueue(family, name string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal mirrored doc %s/%s: %w", family, name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Set(mirrorKey(family, name), body, pebble.Sync)
}

// Flush retries every queued document in family against the sink,
// removing each on success and leaving the rest queued on failure —
// original_source's read_notes()/read_positions() pattern of draining
// a backup tree into the primary store.
func (m *DocMirror) Flush(ctx context.Context, family string) (retried, failed int, err error) {
	prefix := []byte(mirrorPrefix + family + ":")
	iter, err := m.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()

	type pending struct {
		key  []byte
		name string
		doc  json.RawMessage
	}
	var queue []pending
	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		doc := append(json.RawMessage(nil), iter.Value()...)
		queue = append(queue, pending{key: key, name: string(key), doc: doc})
	}
	if err := iter.Error(); err != nil {
		return 0, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range queue {
		retried++
		if err := m.sink.Put(ctx, p.name, p.doc); err != nil {
			failed++
			continue
		}
		if err := m.db.Delete(p.key, pebble.NoSync); err != nil {
			return retried, failed, err
		}
	}
	return retried, failed, nil
}
