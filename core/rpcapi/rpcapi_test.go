package rpcapi

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"

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
	"starkdevnet/core/txn"
)

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, tx *txn.Transaction, st executor.State, classes executor.ClassLookup, blockCtx executor.BlockContext, skip executor.SkipValidation) (executor.Outcome, error) {
	return executor.Outcome{Usage: executor.ResourceUsage{L1Gas: 10}}, nil
}

func newFixture() *Server {
	s := state.New(true)
	c := class.New()
	l := ledger.New("0.13.1")
	g := gasoracle.New(gasoracle.Prices{})
	clk := timecontrol.NewWithBacking(clock.NewMock(), 1000)
	imp := impersonation.New()
	producer := blockproducer.New(blockproducer.ModeOnDemand, 0, felt.FromUint64(1), s, c, l, g, clk)
	j := journal.New(journal.ModeOff, "")
	p := pipeline.New(s, c, l, g, clk, imp, stubExecutor{}, producer, j, felt.FromUint64(1), "0.13.1", felt.FromUint64(99))

	idx := query.New(l, s, c)
	producer.SetNotifier(idx.OnBlockSealed)
	p.SetAcceptedHook(idx.RecordSubmission)

	hub := subscription.NewHub()
	bridge := messaging.New(nil, p, messaging.Config{})

	cfg := Config{
		ChainID:             felt.FromUint64(99),
		ProtocolVersion:     "0.13.1",
		SpecVersion:         "0.8.0",
		FeeTokenWeiAddress:  felt.FromUint64(1000),
		FeeTokenFriAddress:  felt.FromUint64(1001),
		PredeployedAccounts: []PredeployedAccount{{Address: felt.FromUint64(5)}},
	}

	return New(cfg, Components{
		Query: idx, Pipeline: p, Producer: producer, Messaging: bridge, Journal: j,
		Impersonation: imp, Clock: clk, Gas: g, Hub: hub, State: s, Classes: c, Ledger: l,
		Executor: stubExecutor{},
	})
}

func call(t *testing.T, s *Server, method string, params interface{}) rpcResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return s.dispatch(rpcRequest{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: method, Params: raw})
}

func TestChainIdAndSpecVersion(t *testing.T) {
	s := newFixture()
	if resp := call(t, s, "starknet_chainId", nil); resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	resp := call(t, s, "starknet_specVersion", nil)
	if resp.Result != "0.8.0" {
		t.Fatalf("expected spec version 0.8.0, got %v", resp.Result)
	}
}

func TestUnknownMethodReturnsInvalidRequest(t *testing.T) {
	s := newFixture()
	resp := call(t, s, "starknet_doesNotExist", nil)
	if resp.Error == nil || resp.Error.Code != int(rpcerr.CodeInvalidRequest) {
		t.Fatalf("expected invalid request error, got %+v", resp.Error)
	}
}

func TestCreateBlockSealsPreConfirmed(t *testing.T) {
	s := newFixture()
	resp := call(t, s, "devnet_createBlock", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	blockResp := call(t, s, "starknet_blockNumber", nil)
	if blockResp.Result != uint64(1) {
		t.Fatalf("expected block number 1 after createBlock, got %v", blockResp.Result)
	}
}

func TestMintCreditsBalanceAndEntersBlock(t *testing.T) {
	s := newFixture()
	addr := felt.FromUint64(42)
	resp := call(t, s, "devnet_mint", map[string]interface{}{"address": addr.Hex(), "amount": "0x64", "unit": "WEI"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	balResp := call(t, s, "devnet_getAccountBalance", map[string]interface{}{
		"address": addr.Hex(), "unit": "WEI", "block_id": map[string]interface{}{"block_tag": "pre_confirmed"},
	})
	if balResp.Error != nil {
		t.Fatalf("unexpected error: %+v", balResp.Error)
	}
	if balResp.Result != felt.FromUint64(0x64) {
		t.Fatalf("expected balance 0x64, got %v", balResp.Result)
	}
}

func TestGetTransactionByHashUnknownReturnsNotFound(t *testing.T) {
	s := newFixture()
	resp := call(t, s, "starknet_getTransactionByHash", map[string]interface{}{"transaction_hash": felt.FromUint64(7).Hex()})
	if resp.Error == nil || resp.Error.Code != int(rpcerr.CodeTransactionHashNotFound) {
		t.Fatalf("expected transaction-hash-not-found, got %+v", resp.Error)
	}
}

func TestEstimateFeeDispatchesThroughExecutor(t *testing.T) {
	s := newFixture()
	tx := txn.Transaction{Kind: txn.KindInvoke, SenderAddress: felt.FromUint64(1)}
	resp := call(t, s, "starknet_estimateFee", map[string]interface{}{"request": []txn.Transaction{tx}})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	estimates, ok := resp.Result.([]map[string]interface{})
	if !ok || len(estimates) != 1 {
		t.Fatalf("expected one estimate, got %v", resp.Result)
	}
}

func TestDumpAndLoadReplaysJournalIntoFreshServer(t *testing.T) {
	s1 := newFixture()

	if resp := call(t, s1, "devnet_createBlock", nil); resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	newPrice := felt.FromUint64(777)
	if resp := call(t, s1, "devnet_setGasPrice", map[string]interface{}{"gas_price_wei": newPrice.Hex(), "generate_block": true}); resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	impersonated := felt.FromUint64(123)
	if resp := call(t, s1, "devnet_impersonateAccount", map[string]interface{}{"account_address": impersonated.Hex()}); resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	path := filepath.Join(t.TempDir(), "journal.bin")
	if resp := call(t, s1, "devnet_dump", map[string]interface{}{"path": path}); resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	s2 := newFixture()
	loadResp := call(t, s2, "devnet_load", map[string]interface{}{"path": path})
	if loadResp.Error != nil {
		t.Fatalf("unexpected error: %+v", loadResp.Error)
	}
	report, ok := loadResp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a report map, got %v", loadResp.Result)
	}
	if n, _ := report["entries_replayed"].(int); n != 3 {
		t.Fatalf("expected 3 replayed entries, got %v", report["entries_replayed"])
	}

	blockResp := call(t, s2, "starknet_blockNumber", nil)
	if blockResp.Result != uint64(1) {
		t.Fatalf("expected block number 1 after replay, got %v", blockResp.Result)
	}
	if got := s2.gas.Current().L1GasWei; got != newPrice {
		t.Fatalf("expected replayed gas price %v, got %v", newPrice, got)
	}
	if !s2.impersonation.IsImpersonated(impersonated) {
		t.Fatalf("expected %v to be impersonated after replay", impersonated)
	}

	// Load replaces the entries of the server's own *Journal in place, so
	// the journal every other component holds now carries the 3 loaded
	// entries.
	if entries := s2.journal.Entries(); len(entries) != 3 {
		t.Fatalf("expected server journal to hold the 3 replayed entries, got %d", len(entries))
	}
}

func TestRestartClearsStateUnlessKeptJournal(t *testing.T) {
	s := newFixture()
	if resp := call(t, s, "devnet_createBlock", nil); resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp := call(t, s, "devnet_autoImpersonate", nil); resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	if resp := call(t, s, "devnet_restart", map[string]interface{}{"keep_journal": false}); resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	blockResp := call(t, s, "starknet_blockNumber", nil)
	if blockResp.Error == nil || blockResp.Error.Code != int(rpcerr.CodeNoBlocks) {
		t.Fatalf("expected no-blocks error after restart, got %+v", blockResp)
	}
	if s.impersonation.IsImpersonated(felt.FromUint64(1)) {
		t.Fatalf("expected auto-impersonate to be disabled after restart")
	}
	if entries := s.journal.Entries(); len(entries) != 0 {
		t.Fatalf("expected journal cleared after restart without keep_journal, got %d entries", len(entries))
	}
}

func TestRestartKeepsJournalWhenRequested(t *testing.T) {
	s := newFixture()
	if resp := call(t, s, "devnet_createBlock", nil); resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp := call(t, s, "devnet_restart", map[string]interface{}{"keep_journal": true}); resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	// createBlock's own entry plus the restart entry appended right before
	// ResetForRestart ran.
	if entries := s.journal.Entries(); len(entries) != 2 {
		t.Fatalf("expected journal to keep its 2 entries across restart, got %d", len(entries))
	}
}

func TestSetGasPriceUpdatesOracle(t *testing.T) {
	s := newFixture()
	newPrice := felt.FromUint64(500).Hex()
	resp := call(t, s, "devnet_setGasPrice", map[string]interface{}{"gas_price_wei": newPrice})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}
