// Package rpcapi is the thin JSON-RPC/WebSocket transport binding the
// engine's internal components (query, pipeline, blockproducer,
// messaging, journal, impersonation, timecontrol, gasoracle,
// subscription) onto the wire surface of spec §6: the starknet_* method
// subset and the devnet_* admin extensions, plus WebSocket subscriptions.
package rpcapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"starkdevnet/core/blockproducer"
	"starkdevnet/core/class"
	"starkdevnet/core/executor"
	"starkdevnet/core/felt"
	"starkdevnet/core/gasoracle"
	"starkdevnet/core/impersonation"
	"starkdevnet/core/journal"
	"starkdevnet/core/ledger"
	"starkdevnet/core/messaging"
	"starkdevnet/core/pipeline"
	"starkdevnet/core/query"
	"starkdevnet/core/rpcerr"
	"starkdevnet/core/state"
	"starkdevnet/core/subscription"
	"starkdevnet/core/timecontrol"
)

// PredeployedAccount is one devnet-seeded account, reported verbatim by
// devnet_getPredeployedAccounts.
type PredeployedAccount struct {
	Address        felt.Felt
	PublicKey      felt.Felt
	PrivateKey     felt.Felt
	InitialBalance felt.Felt
}

// Config bundles the startup parameters the transport needs beyond the
// components it is handed, per the devnet startup configuration of
// SPEC_FULL.md's ambient stack section.
type Config struct {
	ChainID         felt.Felt
	ProtocolVersion string
	SpecVersion     string

	FeeTokenWeiAddress felt.Felt
	FeeTokenFriAddress felt.Felt

	PredeployedAccounts []PredeployedAccount
}

// Server holds every component the method handlers dispatch against.
type Server struct {
	cfg Config

	query     *query.Index
	pipeline  *pipeline.Pipeline
	producer  *blockproducer.Controller
	messaging *messaging.Bridge
	journal   *journal.Journal
	impersonation *impersonation.Set
	clock     *timecontrol.Clock
	gas       *gasoracle.Oracle
	hub       *subscription.Hub
	state     *state.Store
	classes   *class.Registry
	ledger    *ledger.Ledger
	exec      executor.Executor

	methods map[string]methodFunc
}

type methodFunc func(s *Server, params json.RawMessage) (interface{}, *rpcerr.Error)

// Components is the full set of engine collaborators a Server binds to.
type Components struct {
	Query         *query.Index
	Pipeline      *pipeline.Pipeline
	Producer      *blockproducer.Controller
	Messaging     *messaging.Bridge
	Journal       *journal.Journal
	Impersonation *impersonation.Set
	Clock         *timecontrol.Clock
	Gas           *gasoracle.Oracle
	Hub           *subscription.Hub
	State         *state.Store
	Classes       *class.Registry
	Ledger        *ledger.Ledger
	Executor      executor.Executor
}

// New builds a Server over the given components and registers every
// method handler.
func New(cfg Config, c Components) *Server {
	s := &Server{
		cfg: cfg, query: c.Query, pipeline: c.Pipeline, producer: c.Producer,
		messaging: c.Messaging, journal: c.Journal, impersonation: c.Impersonation,
		clock: c.Clock, gas: c.Gas, hub: c.Hub, state: c.State, classes: c.Classes,
		ledger: c.Ledger, exec: c.Executor,
	}
	s.methods = make(map[string]methodFunc)
	s.registerStarknetMethods()
	s.registerDevnetMethods()
	return s
}

// Router builds the HTTP surface: a single JSON-RPC POST endpoint and a
// WebSocket endpoint for subscriptions, using chi's mux/middleware chain
// in place of a bare http.ServeMux.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Post("/", s.handleHTTP)
	r.Post("/rpc", s.handleHTTP)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handleHTTP(w http.ResponseWriter, req *http.Request) {
	var in rpcRequest
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(&in); err != nil {
		writeJSON(w, rpcResponse{JSONRPC: "2.0", Error: &wireError{Code: int(rpcerr.CodeInvalidRequest), Message: "invalid request body"}})
		return
	}
	writeJSON(w, s.dispatch(in))
}

// dispatch runs one JSON-RPC request through the method table, never
// panicking across the boundary: an unknown method or a handler's
// *rpcerr.Error both become a well-formed JSON-RPC error response.
func (s *Server) dispatch(in rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: in.ID}
	fn, ok := s.methods[in.Method]
	if !ok {
		resp.Error = &wireError{Code: int(rpcerr.CodeInvalidRequest), Message: "method not found: " + in.Method}
		return resp
	}
	result, rpcErr := fn(s, in.Params)
	if rpcErr != nil {
		resp.Error = &wireError{Code: int(rpcErr.Code), Message: rpcErr.Message, Data: rpcErr.Data}
		return resp
	}
	resp.Result = result
	return resp
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("rpcapi: failed to encode response")
	}
}

// Call invokes a registered method directly, bypassing the HTTP/JSON-RPC
// envelope, for in-process callers (testkit.Node.Restore, tests) that want
// a method's result/error without round-tripping through Router.
func (s *Server) Call(method string, params json.RawMessage) (interface{}, *rpcerr.Error) {
	fn, ok := s.methods[method]
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeInvalidRequest, "method not found: "+method)
	}
	return fn(s, params)
}

func decodeParams(raw json.RawMessage, v interface{}) *rpcerr.Error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return rpcerr.New(rpcerr.CodeInvalidRequest, "invalid params: "+err.Error())
	}
	return nil
}
