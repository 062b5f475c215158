package messaging

import (
	"context"
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
	"starkdevnet/core/pipeline"
	"starkdevnet/core/state"
	"starkdevnet/core/timecontrol"
	"starkdevnet/core/txn"
)

type stubExecutor struct {
	messages []txn.MessageToL1
	fail     bool
}

func (s *stubExecutor) Execute(ctx context.Context, tx *txn.Transaction, st executor.State, classes executor.ClassLookup, blockCtx executor.BlockContext, skip executor.SkipValidation) (executor.Outcome, error) {
	if s.fail {
		return executor.Outcome{ValidationFailure: &executor.ValidationFailure{Kind: executor.ValidationFailed, Reason: "stub failure"}}, nil
	}
	return executor.Outcome{Messages: s.messages}, nil
}

func newFixture(t *testing.T, exec executor.Executor) *pipeline.Pipeline {
	t.Helper()
	s := state.New(true)
	c := class.New()
	l := ledger.New("0.13.1")
	g := gasoracle.New(gasoracle.Prices{})
	clk := timecontrol.NewWithBacking(clock.NewMock(), 1000)
	imp := impersonation.New()
	producer := blockproducer.New(blockproducer.ModeOnDemand, 0, felt.FromUint64(1), s, c, l, g, clk)
	j := journal.New(journal.ModeOff, "")
	return pipeline.New(s, c, l, g, clk, imp, exec, producer, j, felt.FromUint64(1), "0.13.1", felt.FromUint64(1))
}

type fakeL1Source struct {
	head      uint64
	logs      []L1Log
	sent      []txn.MessageToL1
	sendFails bool
}

func (f *fakeL1Source) HeadBlock(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeL1Source) FetchMessagesToL2(ctx context.Context, fromBlock, toBlock uint64) ([]L1Log, error) {
	var out []L1Log
	for _, l := range f.logs {
		if l.L1BlockNumber >= fromBlock && l.L1BlockNumber <= toBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeL1Source) SendMessageToL1(ctx context.Context, msg txn.MessageToL1) error {
	if f.sendFails {
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestFlushDeliversL1MessagesAndAdvancesCursor(t *testing.T) {
	p := newFixture(t, &stubExecutor{})
	src := &fakeL1Source{
		head: 10,
		logs: []L1Log{
			{L1Sender: felt.FromUint64(1), L2Target: felt.FromUint64(2), Selector: felt.FromUint64(3), Nonce: felt.FromUint64(1), PaidFeeOnL1: felt.One, L1BlockNumber: 4},
			{L1Sender: felt.FromUint64(1), L2Target: felt.FromUint64(2), Selector: felt.FromUint64(3), Nonce: felt.FromUint64(2), PaidFeeOnL1: felt.One, L1BlockNumber: 8},
		},
	}
	b := New(src, p, Config{MessagingContract: felt.FromUint64(99)})

	result, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.MessagesToL2) != 2 {
		t.Fatalf("expected 2 delivered messages, got %d", len(result.MessagesToL2))
	}
	if b.LastFetched() != 10 {
		t.Fatalf("expected cursor at head 10, got %d", b.LastFetched())
	}
}

func TestFlushHaltsCursorOnPartialFailure(t *testing.T) {
	p := newFixture(t, &stubExecutor{fail: true})
	src := &fakeL1Source{
		head: 10,
		logs: []L1Log{
			{L1Sender: felt.FromUint64(1), L2Target: felt.FromUint64(2), Selector: felt.FromUint64(3), Nonce: felt.FromUint64(1), PaidFeeOnL1: felt.One, L1BlockNumber: 4},
		},
	}
	b := New(src, p, Config{})

	_, err := b.Flush(context.Background())
	if err == nil {
		t.Fatalf("expected flush to report the delivery failure")
	}
	if b.LastFetched() != 0 {
		t.Fatalf("expected cursor to stay put on failure, got %d", b.LastFetched())
	}
}

func TestFlushCollectsAndSendsOutgoingMessages(t *testing.T) {
	msg := txn.MessageToL1{FromAddress: felt.FromUint64(5), ToAddress: felt.FromUint64(6), Payload: []felt.Felt{felt.One}}
	p := newFixture(t, &stubExecutor{messages: []txn.MessageToL1{msg}})
	src := &fakeL1Source{
		head: 1,
		logs: []L1Log{{L1Sender: felt.FromUint64(1), L2Target: felt.FromUint64(2), Selector: felt.FromUint64(3), PaidFeeOnL1: felt.One, L1BlockNumber: 1}},
	}
	b := New(src, p, Config{})

	result, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MessagesToL1 != 1 {
		t.Fatalf("expected 1 outgoing message sent, got %d", result.MessagesToL1)
	}
	if len(src.sent) != 1 {
		t.Fatalf("expected the fake L1 source to record the send")
	}
}

func TestDryRunCollectsWithoutSending(t *testing.T) {
	msg := txn.MessageToL1{FromAddress: felt.FromUint64(5), ToAddress: felt.FromUint64(6)}
	p := newFixture(t, &stubExecutor{messages: []txn.MessageToL1{msg}})
	src := &fakeL1Source{
		head: 1,
		logs: []L1Log{{L1Sender: felt.FromUint64(1), L2Target: felt.FromUint64(2), Selector: felt.FromUint64(3), PaidFeeOnL1: felt.One, L1BlockNumber: 1}},
	}
	b := New(src, p, Config{DryRun: true})

	result, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MessagesToL1 != 1 {
		t.Fatalf("expected dry-run to still count the collected message, got %d", result.MessagesToL1)
	}
	if len(src.sent) != 0 {
		t.Fatalf("expected dry-run not to call SendMessageToL1")
	}
}

func TestLoadResetsCursor(t *testing.T) {
	p := newFixture(t, &stubExecutor{})
	src := &fakeL1Source{head: 5, logs: []L1Log{{L1BlockNumber: 3, PaidFeeOnL1: felt.One}}}
	b := New(src, p, Config{})

	if _, err := b.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.LastFetched() == 0 {
		t.Fatalf("expected cursor to advance before reload")
	}

	b.Load(Config{MessagingContract: felt.FromUint64(1)})
	if b.LastFetched() != 0 {
		t.Fatalf("expected Load to reset the cursor, got %d", b.LastFetched())
	}
}
