// Package testkit assembles every engine component into one in-process
// node, the Go equivalent of the background-devnet helper the component
// tests drive directly instead of spawning a subprocess.
package testkit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"starkdevnet/core/blockproducer"
	"starkdevnet/core/class"
	"starkdevnet/core/executor"
	"starkdevnet/core/felt"
	"starkdevnet/core/fork"
	"starkdevnet/core/gasoracle"
	"starkdevnet/core/impersonation"
	"starkdevnet/core/journal"
	"starkdevnet/core/ledger"
	"starkdevnet/core/messaging"
	"starkdevnet/core/metrics"
	"starkdevnet/core/pipeline"
	"starkdevnet/core/query"
	"starkdevnet/core/rpcapi"
	"starkdevnet/core/rpcerr"
	"starkdevnet/core/state"
	"starkdevnet/core/subscription"
	"starkdevnet/core/timecontrol"
	"starkdevnet/core/txn"
	"starkdevnet/core/vmexec"
)

// Config is the full set of startup parameters a Node needs, mirroring
// the devnet CLI's flags (pkg/config.Config) without depending on it.
type Config struct {
	ChainID             felt.Felt
	ProtocolVersion     string
	SpecVersion         string
	Sequencer           felt.Felt
	SeedTime            uint64
	StartingPrices      gasoracle.Prices
	SealingMode         blockproducer.Mode
	SealingInterval     time.Duration

	FeeTokenWeiAddress felt.Felt
	FeeTokenFriAddress felt.Felt
	PredeployedAccounts []rpcapi.PredeployedAccount

	JournalMode journal.Mode
	JournalPath string

	Archival bool
	Executor executor.Executor // nil selects vmexec.New()

	Upstream       fork.Upstream // nil disables forking
	ForkBlockNumber uint64
	ForkCacheSize   int

	MessagingContract felt.Felt
	MessagingDryRun   bool
	L1Source          messaging.L1Source
}

// Node bundles every constructed component plus the transport server
// bound over them. Tests reach into the exported fields directly;
// production startup (cmd/devnetd) only needs RPC and Stop.
type Node struct {
	State     *state.Store
	Classes   *class.Registry
	Ledger    *ledger.Ledger
	Gas       *gasoracle.Oracle
	Clock     *timecontrol.Clock
	Impersonation *impersonation.Set
	Journal   *journal.Journal
	Pipeline  *pipeline.Pipeline
	Producer  *blockproducer.Controller
	Query     *query.Index
	Hub       *subscription.Hub
	Messaging *messaging.Bridge
	Metrics   *metrics.Metrics
	Executor  executor.Executor

	RPC *rpcapi.Server

	stopTicker func()
}

// New wires every component listed above, then installs the
// cross-cutting hooks (pipeline → query/metrics/hub, blockproducer →
// query/metrics/hub) that let each component stay ignorant of the
// others' packages.
func New(cfg Config) *Node {
	s := state.New(cfg.Archival)
	if cfg.Upstream != nil {
		s.SetFork(fork.New(cfg.Upstream, cfg.ForkBlockNumber, cfg.ForkCacheSize))
	}
	c := class.New()
	l := ledger.New(cfg.ProtocolVersion)
	g := gasoracle.New(cfg.StartingPrices)
	clk := timecontrol.NewWithBacking(clock.New(), cfg.SeedTime)
	imp := impersonation.New()
	j := journal.New(cfg.JournalMode, cfg.JournalPath)

	exec := cfg.Executor
	if exec == nil {
		exec = vmexec.New()
	}

	producer := blockproducer.New(cfg.SealingMode, cfg.SealingInterval, cfg.Sequencer, s, c, l, g, clk)
	p := pipeline.New(s, c, l, g, clk, imp, exec, producer, j, cfg.Sequencer, cfg.ProtocolVersion, cfg.ChainID)

	idx := query.New(l, s, c)
	hub := subscription.NewHub()
	m := metrics.New()

	bridge := messaging.New(cfg.L1Source, p, messaging.Config{
		MessagingContract: cfg.MessagingContract,
		DryRun:            cfg.MessagingDryRun,
	})

	n := &Node{
		State: s, Classes: c, Ledger: l, Gas: g, Clock: clk, Impersonation: imp,
		Journal: j, Pipeline: p, Producer: producer, Query: idx, Hub: hub,
		Messaging: bridge, Metrics: m, Executor: exec,
	}

	producer.SetNotifier(n.onBlockSealed)
	p.SetAcceptedHook(n.onAccepted)
	p.SetRejectedHook(n.onRejected)

	n.RPC = rpcapi.New(rpcapi.Config{
		ChainID:             cfg.ChainID,
		ProtocolVersion:     cfg.ProtocolVersion,
		SpecVersion:         cfg.SpecVersion,
		FeeTokenWeiAddress:  cfg.FeeTokenWeiAddress,
		FeeTokenFriAddress:  cfg.FeeTokenFriAddress,
		PredeployedAccounts: cfg.PredeployedAccounts,
	}, rpcapi.Components{
		Query: idx, Pipeline: p, Producer: producer, Messaging: bridge, Journal: j,
		Impersonation: imp, Clock: clk, Gas: g, Hub: hub, State: s, Classes: c,
		Ledger: l, Executor: exec,
	})

	if cfg.SealingMode == blockproducer.ModeOnInterval {
		n.stopTicker = producer.StartIntervalTicker()
	}

	return n
}

// onBlockSealed fans a newly sealed block out to the query index, the
// metrics gauges and every "newHeads"-subscribed client.
func (n *Node) onBlockSealed(blk *ledger.Block) {
	n.Query.OnBlockSealed(blk)
	n.Metrics.RecordBlockSealed(blk.Header.Number)
	n.Metrics.RecordGasPrices(n.Gas.Current())
	n.Hub.Publish(subscription.Message{
		Topic:    subscription.TopicNewHeads,
		Finality: blk.Finality,
		Payload:  blk.Header,
	})
}

// onAccepted fans a resolved (succeeded or reverted) transaction out the
// same way: query bookkeeping, a metrics sample, and three subscription
// topics (the transaction itself, its receipt, and its status).
func (n *Node) onAccepted(tx *txn.Transaction, receipt *txn.Receipt) {
	n.Query.RecordSubmission(tx, receipt)
	n.Metrics.RecordAccepted(receipt.Status == txn.StatusReverted)
	// L1Handler submissions already queue their own outgoing messages at
	// their bridge call site (Flush, SendMessageToL2); every other kind
	// only reaches the bridge's outgoing queue through this hook.
	if tx.Kind != txn.KindL1Handler {
		n.Messaging.RecordOutgoing(receipt.MessagesToL1)
	}

	finality := ledger.FinalityPreConfirmed
	n.Hub.Publish(subscription.Message{Topic: subscription.TopicNewTransactions, Finality: finality, Payload: tx})
	n.Hub.Publish(subscription.Message{Topic: subscription.TopicNewTransactionReceipts, Finality: finality, Payload: receipt})
	n.Hub.Publish(subscription.Message{Topic: subscription.TopicTransactionStatus, Finality: finality, Payload: receipt.Status})
	for _, ev := range receipt.Events {
		n.Hub.Publish(subscription.Message{Topic: subscription.TopicEvents, Finality: finality, Payload: ev})
	}
}

func (n *Node) onRejected(tx *txn.Transaction, err *rpcerr.Error) {
	n.Metrics.RecordRejected()
}

// Stop releases the interval ticker goroutine, if one was started.
func (n *Node) Stop() {
	if n.stopTicker != nil {
		n.stopTicker()
	}
}

// Restore replays a dumped journal's entries against this (freshly
// constructed) Node, reproducing the dumping core's final state. It
// drives the same admin surface the journaling RPC handlers call, via
// n.RPC's devnet_load method, so CLI replay (devnetd load) and RPC replay
// (devnet_load) share one implementation instead of drifting apart.
func (n *Node) Restore(path string) (int, error) {
	params, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return 0, err
	}
	result, rerr := n.RPC.Call("devnet_load", params)
	if rerr != nil {
		return 0, fmt.Errorf("testkit: restore: %s", rerr.Message)
	}
	count, _ := result.(map[string]interface{})["entries_replayed"].(int)
	return count, nil
}
