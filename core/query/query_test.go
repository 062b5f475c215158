package query

import (
	"testing"

	"starkdevnet/core/class"
	"starkdevnet/core/felt"
	"starkdevnet/core/ledger"
	"starkdevnet/core/rpcerr"
	"starkdevnet/core/state"
	"starkdevnet/core/txn"
)

func newFixture() (*Index, *ledger.Ledger) {
	l := ledger.New("0.13.1")
	s := state.New(true)
	c := class.New()
	return New(l, s, c), l
}

func sealOneTxBlock(idx *Index, l *ledger.Ledger, hash felt.Felt) *ledger.Block {
	l.AddToPreConfirmed(hash)
	blk := l.Seal(ledger.SealParams{Timestamp: 1})
	idx.OnBlockSealed(blk)
	return blk
}

func TestRecordSubmissionThenSealMovesToSealedIndex(t *testing.T) {
	idx, l := newFixture()
	tx := &txn.Transaction{Hash: felt.FromUint64(1)}
	receipt := &txn.Receipt{TransactionHash: tx.Hash, Status: txn.StatusSucceeded}
	idx.RecordSubmission(tx, receipt)

	gotTx, gotReceipt, err := idx.TransactionByHash(tx.Hash)
	if err != nil || gotTx != tx || gotReceipt.BlockNumber != 0 {
		t.Fatalf("expected pending receipt with no block yet, got %+v err=%v", gotReceipt, err)
	}

	blk := sealOneTxBlock(idx, l, tx.Hash)

	_, sealedReceipt, err := idx.TransactionByHash(tx.Hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sealedReceipt.BlockNumber != blk.Header.Number || sealedReceipt.BlockHash != blk.Header.Hash {
		t.Fatalf("expected receipt to adopt the sealed block's number/hash")
	}
}

func TestTransactionByHashUnknownReturnsNotFound(t *testing.T) {
	idx, _ := newFixture()
	_, _, err := idx.TransactionByHash(felt.FromUint64(99))
	if !rpcerr.Is(err, rpcerr.CodeTransactionHashNotFound) {
		t.Fatalf("expected transaction-hash-not-found, got %v", err)
	}
}

func TestBlockResolvesLatestAndPreConfirmed(t *testing.T) {
	idx, l := newFixture()
	tx := &txn.Transaction{Hash: felt.FromUint64(1)}
	idx.RecordSubmission(tx, &txn.Receipt{TransactionHash: tx.Hash})
	sealOneTxBlock(idx, l, tx.Hash)

	latest, err := idx.Block(BlockID{Latest: true})
	if err != nil || latest.Number != 1 {
		t.Fatalf("expected latest block 1, got %+v err=%v", latest, err)
	}

	pending := &txn.Transaction{Hash: felt.FromUint64(2)}
	idx.RecordSubmission(pending, &txn.Receipt{TransactionHash: pending.Hash})
	l.AddToPreConfirmed(pending.Hash)

	pc, err := idx.Block(BlockID{PreConfirmed: true})
	if err != nil || !pc.PreConfirmed || len(pc.TransactionHashes) != 1 {
		t.Fatalf("expected pre-confirmed block with 1 tx, got %+v err=%v", pc, err)
	}
}

func TestGetEventsFiltersByContractAndKeys(t *testing.T) {
	idx, l := newFixture()
	contractA := felt.FromUint64(10)
	contractB := felt.FromUint64(20)
	key1 := felt.FromUint64(100)

	txA := &txn.Transaction{Hash: felt.FromUint64(1)}
	receiptA := &txn.Receipt{TransactionHash: txA.Hash, Events: []txn.Event{
		{FromAddress: contractA, Keys: []felt.Felt{key1}},
	}}
	idx.RecordSubmission(txA, receiptA)

	txB := &txn.Transaction{Hash: felt.FromUint64(2)}
	receiptB := &txn.Receipt{TransactionHash: txB.Hash, Events: []txn.Event{
		{FromAddress: contractB, Keys: []felt.Felt{felt.FromUint64(999)}},
	}}
	idx.RecordSubmission(txB, receiptB)

	l.AddToPreConfirmed(txA.Hash)
	l.AddToPreConfirmed(txB.Hash)
	blk := l.Seal(ledger.SealParams{Timestamp: 1})
	idx.OnBlockSealed(blk)

	page, err := idx.GetEvents(EventFilter{ContractAddress: &contractA, ChunkSize: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].TransactionHash != txA.Hash {
		t.Fatalf("expected exactly contractA's event, got %+v", page.Events)
	}
}

func TestGetEventsPaginatesWithContinuationToken(t *testing.T) {
	idx, l := newFixture()
	for i := 0; i < 5; i++ {
		tx := &txn.Transaction{Hash: felt.FromUint64(uint64(i + 1))}
		idx.RecordSubmission(tx, &txn.Receipt{TransactionHash: tx.Hash, Events: []txn.Event{{FromAddress: felt.FromUint64(1)}}})
		l.AddToPreConfirmed(tx.Hash)
	}
	blk := l.Seal(ledger.SealParams{Timestamp: 1})
	idx.OnBlockSealed(blk)

	page1, err := idx.GetEvents(EventFilter{ChunkSize: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page1.Events) != 2 || page1.ContinuationToken == "" {
		t.Fatalf("expected a first page of 2 with a continuation token, got %+v", page1)
	}

	page2, err := idx.GetEvents(EventFilter{ChunkSize: 2, ContinuationToken: page1.ContinuationToken})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page2.Events) != 2 || page2.ContinuationToken == "" {
		t.Fatalf("expected a second page of 2 with a continuation token, got %+v", page2)
	}

	page3, err := idx.GetEvents(EventFilter{ChunkSize: 2, ContinuationToken: page2.ContinuationToken})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page3.Events) != 1 || page3.ContinuationToken != "" {
		t.Fatalf("expected a final page of 1 with no token, got %+v", page3)
	}
}

func TestGetEventsRejectsUnknownContinuationToken(t *testing.T) {
	idx, _ := newFixture()
	_, err := idx.GetEvents(EventFilter{ContinuationToken: "not-a-number"})
	if !rpcerr.Is(err, rpcerr.CodeInvalidContinuationToken) {
		t.Fatalf("expected invalid-continuation-token, got %v", err)
	}
}

func TestGetEventsRejectsTokenFromAnotherIndex(t *testing.T) {
	idx, l := newFixture()
	for i := 0; i < 3; i++ {
		tx := &txn.Transaction{Hash: felt.FromUint64(uint64(i + 1))}
		idx.RecordSubmission(tx, &txn.Receipt{TransactionHash: tx.Hash, Events: []txn.Event{{FromAddress: felt.FromUint64(1)}}})
		l.AddToPreConfirmed(tx.Hash)
	}
	blk := l.Seal(ledger.SealParams{Timestamp: 1})
	idx.OnBlockSealed(blk)

	page, err := idx.GetEvents(EventFilter{ChunkSize: 2})
	if err != nil || page.ContinuationToken == "" {
		t.Fatalf("expected a continuation token, got page=%+v err=%v", page, err)
	}

	other, _ := newFixture()
	if _, err := other.GetEvents(EventFilter{ContinuationToken: page.ContinuationToken}); !rpcerr.Is(err, rpcerr.CodeInvalidContinuationToken) {
		t.Fatalf("expected a token minted by a different index to be rejected, got %v", err)
	}
}

func TestGetEventsRejectsOversizedChunk(t *testing.T) {
	idx, _ := newFixture()
	_, err := idx.GetEvents(EventFilter{ChunkSize: maxChunkSize + 1})
	if !rpcerr.Is(err, rpcerr.CodePageSizeTooBig) {
		t.Fatalf("expected page-size-too-big, got %v", err)
	}
}
