// Package rpc is the thin RPC surface of spec.md §6. The matching
// book, oracle frontend, CRUD document mirror, liquidation scheduler
// and websocket relays the teacher's pkg/api exposes to traders are
// explicitly out of scope (spec.md §1): this package implements only
// the operator-facing method dispatch table spec.md §6 lists
// (finalize_batch, update_index_price, restore_orderbook) plus the
// push channel fills/index-price ticks go out on — the interfaces the
// core engine actually needs of an RPC edge, not a trading frontend.
//
// Grounded on the teacher's pkg/api/server.go (gorilla/mux router +
// rs/cors wrapping, one handler per method) and pkg/api/websocket.go
// (hub/client broadcast pattern), narrowed to this spec's three
// methods and a push-only channel.
package rpc

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/starkdex/engine/pkg/batch"
	"github.com/starkdex/engine/pkg/engineerr"
	"github.com/starkdex/engine/pkg/oracle"
	"github.com/starkdex/engine/pkg/restore"
	"github.com/starkdex/engine/pkg/statetree"
	"github.com/starkdex/engine/pkg/storage"
)

// Server is the operator-only RPC edge: finalize_batch and
// restore_orderbook mutate engine-wide state and must never be
// reachable except from the operator's own host, so every /api/v1
// method route is wrapped in localhostOnly in addition to whatever
// network ACL fronts the process; /ws and /health are not.
type Server struct {
	router  *mux.Router
	hub     *Hub
	log     *zap.Logger
	batchCo *batch.Coordinator
	oracle  *oracle.Aggregator
	tree    *statetree.StateTree
	store   *storage.Store
}

// NewServer wires the dispatch table against the already-constructed
// engine components; it does not own their lifecycle.
func NewServer(batchCo *batch.Coordinator, oc *oracle.Aggregator, tree *statetree.StateTree, store *storage.Store, log *zap.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		hub:     NewHub(),
		log:     log,
		batchCo: batchCo,
		oracle:  oc,
		tree:    tree,
		store:   store,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/finalize_batch", localhostOnly(s.handleFinalizeBatch)).Methods("POST")
	api.HandleFunc("/update_index_price", localhostOnly(s.handleUpdateIndexPrice)).Methods("POST")
	api.HandleFunc("/restore_orderbook", localhostOnly(s.handleRestoreOrderbook)).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the HTTP(S) listener, mirroring the teacher's
// Server.Start CORS-wrap-then-ListenAndServe shape.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	return http.ListenAndServe(addr, c.Handler(s.router))
}

// localhostOnly enforces spec.md §6's "operator-only" guard: the
// request's remote address (after any reverse proxy has resolved it)
// must be loopback. Grounded on the teacher's implicit trust of its
// REST edge, tightened here since these three methods can finalize a
// batch or replace the in-memory tree.
func localhostOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !(ip.IsLoopback() || strings.HasPrefix(host, "127.") || host == "::1") {
			respondError(w, http.StatusForbidden, "operator-only method", "")
			return
		}
		next(w, r)
	}
}

type finalizeBatchRequest struct {
	Tokens []uint32 `json:"tokens"`
}

func (s *Server) handleFinalizeBatch(w http.ResponseWriter, r *http.Request) {
	var req finalizeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request", err.Error())
		return
	}

	input, err := s.batchCo.Finalize(req.Tokens)
	if err != nil {
		s.log.Error("finalize_batch failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "finalize_batch failed", err.Error())
		return
	}

	s.hub.BroadcastToChannel("batch", input)
	respondJSON(w, input)
}

func (s *Server) handleUpdateIndexPrice(w http.ResponseWriter, r *http.Request) {
	var update oracle.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request", err.Error())
		return
	}

	if err := s.oracle.Submit(update); err != nil {
		var oe *engineerr.OracleUpdateError
		status := http.StatusInternalServerError
		if ok := asOracleErr(err, &oe); ok {
			status = http.StatusBadRequest
		}
		respondError(w, status, "update_index_price rejected", err.Error())
		return
	}

	if price, ok := s.oracle.IndexPrice(update.Token); ok {
		s.hub.BroadcastToChannel("index_price", map[string]any{"token": update.Token, "price": price})
	}
	respondJSON(w, map[string]bool{"accepted": true})
}

func asOracleErr(err error, target **engineerr.OracleUpdateError) bool {
	oe, ok := err.(*engineerr.OracleUpdateError)
	if ok {
		*target = oe
	}
	return ok
}

type restoreOrderbookRequest struct {
	BatchID uint64 `json:"batch_id"`
}

// handleRestoreOrderbook implements spec.md §4.I's operator trigger:
// replay the named batch's micro-batch log against the current tree,
// reporting the number of records replayed and the per-chain DA fold
// so the operator can diff it against the last known-good values.
func (s *Server) handleRestoreOrderbook(w http.ResponseWriter, r *http.Request) {
	var req restoreOrderbookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request", err.Error())
		return
	}

	records, err := s.store.ReadTxLog(req.BatchID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read micro-batch log", err.Error())
		return
	}

	result, err := restore.Replay(s.tree, records)
	if err != nil {
		s.log.Error("restore_orderbook failed", zap.Uint64("batch_id", req.BatchID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "restore failed", err.Error())
		return
	}

	respondJSON(w, result)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	serveWS(s.hub, w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "detail": detail})
}
