// Package messaging implements the L1↔L2 bridge (C10): polling an external
// L1 source for MessageToL2 logs, turning each into an L1Handler
// transaction submitted through the pipeline, and collecting MessageToL1
// outputs for delivery back to L1.
package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"starkdevnet/core/felt"
	"starkdevnet/core/pipeline"
	"starkdevnet/core/txn"
)

// L1Log is one MessageToL2 event read from the L1 messaging contract,
// carrying exactly the fields spec §4.10 names: (l1_sender, l2_target,
// selector, payload, nonce, paid_fee_on_l1), plus the L1 block it was
// observed in so the fetch cursor can advance past it.
type L1Log struct {
	L1Sender      felt.Felt
	L2Target      felt.Felt
	Selector      felt.Felt
	Payload       []felt.Felt
	Nonce         felt.Felt
	PaidFeeOnL1   felt.Felt
	L1BlockNumber uint64
}

// L1Source is the external L1 RPC client the bridge polls and delivers to.
// It is out of scope per spec §1 ("The external L1 RPC client used by the
// messaging bridge... only the operations it must offer are specified");
// a production binary wires this to an ethclient-backed implementation,
// tests wire it to a fake.
type L1Source interface {
	// HeadBlock returns the current L1 block number.
	HeadBlock(ctx context.Context) (uint64, error)
	// FetchMessagesToL2 returns every MessageToL2 log in [fromBlock,
	// toBlock], ordered by L1 block number then log index.
	FetchMessagesToL2(ctx context.Context, fromBlock, toBlock uint64) ([]L1Log, error)
	// SendMessageToL1 delivers one message to the L1 messaging contract's
	// mockSendMessageFromL2 entry point.
	SendMessageToL1(ctx context.Context, msg txn.MessageToL1) error
}

// Config is the bridge's admin-settable configuration, reloaded wholesale
// by Load (postmanLoad), which also resets the cursor.
type Config struct {
	MessagingContract felt.Felt
	DryRun            bool // true: collect outgoing messages but never call SendMessageToL1
}

// FlushResult reports what one Flush call accomplished, for the devnet_*
// admin surface to echo back to the caller.
type FlushResult struct {
	MessagesToL2    []felt.Felt // hashes of L1Handler transactions submitted
	MessagesToL1    int         // count of outgoing messages sent (or collected, in dry-run)
	CursorAdvancedTo uint64
}

// Bridge is the L1↔L2 postman. It holds the last-fetched L1 block cursor
// and a queue of outgoing L2→L1 messages accumulated since the last flush.
type Bridge struct {
	mu sync.Mutex

	source   L1Source
	pipeline *pipeline.Pipeline
	cfg      Config

	lastFetched uint64
	outgoing    []txn.MessageToL1
}

// New returns a Bridge with the cursor at 0 (nothing fetched yet).
func New(source L1Source, p *pipeline.Pipeline, cfg Config) *Bridge {
	return &Bridge{source: source, pipeline: p, cfg: cfg}
}

// Load reinitializes the bridge's configuration and resets the fetch
// cursor, per spec §4.10 ("The bridge is re-initialisable (postmanLoad),
// which resets the cursor").
func (b *Bridge) Load(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	b.lastFetched = 0
	b.outgoing = nil
	logrus.WithField("contract", cfg.MessagingContract).Info("messaging: bridge reloaded, cursor reset")
}

// RecordOutgoing enqueues messages emitted by an executed transaction,
// to be drained by the next Flush. Callers invoke this once per receipt
// returned from pipeline.Submit.
func (b *Bridge) RecordOutgoing(msgs []txn.MessageToL1) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outgoing = append(b.outgoing, msgs...)
}

// Flush runs both postman operations of spec §4.10: fetch L1→L2 messages
// newer than the cursor and submit each as an L1Handler transaction, then
// drain and send every L2→L1 message queued since the last flush. The
// bridge's own mutex is held only around cursor and queue updates, never
// across an L1 RPC round trip or a pipeline submission.
func (b *Bridge) Flush(ctx context.Context) (*FlushResult, error) {
	result := &FlushResult{}

	if err := b.flushL1ToL2(ctx, result); err != nil {
		return result, err
	}
	b.flushL2ToL1(ctx, result)

	return result, nil
}

func (b *Bridge) flushL1ToL2(ctx context.Context, result *FlushResult) error {
	b.mu.Lock()
	from := b.lastFetched + 1
	source := b.source
	b.mu.Unlock()

	if source == nil {
		return nil
	}

	head, err := source.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("messaging: fetch L1 head: %w", err)
	}
	if head < from {
		return nil
	}

	logs, err := source.FetchMessagesToL2(ctx, from, head)
	if err != nil {
		return fmt.Errorf("messaging: fetch L1 logs: %w", err)
	}

	covered := b.lastFetched
	for _, l := range logs {
		hash, err := b.submitL1Handler(ctx, l)
		if err != nil {
			// Partial failure: stop here. The cursor must not advance
			// beyond messages already delivered (spec §4.10).
			logrus.WithFields(logrus.Fields{"l1_block": l.L1BlockNumber, "err": err}).
				Info("messaging: L1 message delivery halted, cursor held")
			b.mu.Lock()
			b.lastFetched = covered
			b.mu.Unlock()
			result.CursorAdvancedTo = covered
			return err
		}
		covered = l.L1BlockNumber
		result.MessagesToL2 = append(result.MessagesToL2, hash)
		logrus.WithFields(logrus.Fields{"hash": hash, "l1_block": l.L1BlockNumber}).Info("messaging: L1 message delivered")
	}

	b.mu.Lock()
	b.lastFetched = head
	b.mu.Unlock()
	result.CursorAdvancedTo = head
	return nil
}

func (b *Bridge) submitL1Handler(ctx context.Context, l L1Log) (felt.Felt, error) {
	tx := &txn.Transaction{
		Kind:              txn.KindL1Handler,
		Version:           0,
		L1ContractAddress: l.L2Target,
		Selector:          l.Selector,
		Payload:           l.Payload,
		L1Sender:          l.L1Sender,
		Nonce:             l.Nonce,
		PaidFeeOnL1:       l.PaidFeeOnL1,
	}
	receipt, err := b.pipeline.Submit(ctx, tx)
	if err != nil {
		return felt.Zero, err
	}
	b.RecordOutgoing(receipt.MessagesToL1)
	return receipt.TransactionHash, nil
}

func (b *Bridge) flushL2ToL1(ctx context.Context, result *FlushResult) {
	b.mu.Lock()
	pending := b.outgoing
	b.outgoing = nil
	cfg := b.cfg
	source := b.source
	b.mu.Unlock()

	for _, msg := range pending {
		if cfg.DryRun || source == nil {
			result.MessagesToL1++
			continue
		}
		if err := source.SendMessageToL1(ctx, msg); err != nil {
			logrus.WithError(err).Warn("messaging: L2→L1 send failed, message requeued")
			b.mu.Lock()
			b.outgoing = append(b.outgoing, msg)
			b.mu.Unlock()
			continue
		}
		result.MessagesToL1++
		logrus.WithFields(logrus.Fields{"from": msg.FromAddress, "to": msg.ToAddress}).Info("messaging: L2 message sent to L1")
	}
}

// SendMessageToL2 is the manual counterpart to Flush's fetch step
// (postmanSendMessageToL2): it constructs and submits a single L1Handler
// transaction without touching the fetch cursor.
func (b *Bridge) SendMessageToL2(ctx context.Context, l L1Log) (*txn.Receipt, error) {
	tx := &txn.Transaction{
		Kind:              txn.KindL1Handler,
		Version:           0,
		L1ContractAddress: l.L2Target,
		Selector:          l.Selector,
		Payload:           l.Payload,
		L1Sender:          l.L1Sender,
		Nonce:             l.Nonce,
		PaidFeeOnL1:       l.PaidFeeOnL1,
	}
	receipt, err := b.pipeline.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	b.RecordOutgoing(receipt.MessagesToL1)
	return receipt, nil
}

// ConsumeMessageFromL2 is the manual counterpart to Flush's collect step
// (postmanConsumeMessageFromL2): it sends one specific L2→L1 message to
// the L1 messaging contract immediately, bypassing the outgoing queue.
func (b *Bridge) ConsumeMessageFromL2(ctx context.Context, msg txn.MessageToL1) error {
	b.mu.Lock()
	cfg := b.cfg
	source := b.source
	b.mu.Unlock()

	if cfg.DryRun || source == nil {
		logrus.WithFields(logrus.Fields{"from": msg.FromAddress, "to": msg.ToAddress}).Debug("messaging: dry-run consume")
		return nil
	}
	if err := source.SendMessageToL1(ctx, msg); err != nil {
		return fmt.Errorf("messaging: consume message: %w", err)
	}
	return nil
}

// LastFetched reports the cursor's current position, for devnet_getConfig.
func (b *Bridge) LastFetched() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFetched
}

// SetLastFetched forces the fetch cursor to n without touching the rest of
// the bridge's configuration. It exists for journal replay (KindSetL1Cursor):
// a freshly restored bridge must resume exactly where the dumping bridge
// left off instead of re-fetching every L1 message from block 1.
func (b *Bridge) SetLastFetched(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFetched = n
}
