package storage

import "fmt"

// Key schema for the durable Pebble store. Prefixes mirror the
// teacher's account-key scheme (distinct byte prefixes, lexicographic
// range scans via keyUpperBound) but name this engine's own families:
//
//	node:<prefix><level><index> → Merkle tree node        (pkg/statetree.KV)
//	txlog:<batch>:<seq>         → micro-batch transaction entry
//	dep:<deposit_id>            → processed deposit marker
//	fund:<token>                → funding rate/price snapshot
//	batchmeta:<field>           → batch counters (next batch id, etc.)
const (
	prefixNode      = "node:"
	prefixTxLog     = "txlog:"
	prefixDeposit   = "dep:"
	prefixFunding   = "fund:"
	prefixBatchMeta = "batchmeta:"
)

func nodeStoreKey(raw []byte) []byte {
	return append([]byte(prefixNode), raw...)
}

func txLogKey(batchID uint64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixTxLog, batchID, seq))
}

func txLogPrefix(batchID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixTxLog, batchID))
}

func depositKey(depositID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixDeposit, depositID))
}

func fundingKey(token uint32) []byte {
	return []byte(fmt.Sprintf("%s%d", prefixFunding, token))
}

func batchMetaKey(field string) []byte {
	return []byte(prefixBatchMeta + field)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan,
// the teacher's pebble_store.go idiom.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
