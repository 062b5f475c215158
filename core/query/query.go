// Package query implements the read-only projections of the query surface
// (C11): block/transaction/receipt/state-update lookups that respect
// pre-confirmed semantics, plus the events filter with continuation-token
// pagination. It owns the transaction/receipt/event index that the pipeline
// has no reason to keep itself.
package query

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"sync"

	"starkdevnet/core/class"
	"starkdevnet/core/felt"
	"starkdevnet/core/ledger"
	"starkdevnet/core/rpcerr"
	"starkdevnet/core/state"
	"starkdevnet/core/statediff"
	"starkdevnet/core/txn"
)

// BlockID selects a block the way every RPC method's block_id parameter
// does: by number, by hash, the latest sealed block, or the pre-confirmed
// block. Exactly one selector should be set; Latest is the zero value's
// effective default when nothing else is.
type BlockID struct {
	Number       *uint64
	Hash         *felt.Felt
	Latest       bool
	PreConfirmed bool
}

// BlockView unifies a sealed ledger.Block and the mutable pre-confirmed
// block behind one shape, since most query methods need only a handful of
// fields from either.
type BlockView struct {
	Number            uint64
	Hash              felt.Felt
	ParentHash        felt.Felt
	Timestamp         uint64
	Sequencer         felt.Felt
	Finality          ledger.Finality
	TransactionHashes []felt.Felt
	PreConfirmed      bool
	Diff              statediff.Diff
}

// record is one delivered transaction's indexed projection: the
// transaction itself, its receipt, and (once sealed) the block it landed
// in. Transactions awaiting a seal keep the receipt they were handed at
// submission time, whose BlockNumber is 0.
type record struct {
	tx      *txn.Transaction
	receipt *txn.Receipt
}

type eventRecord struct {
	blockNumber      uint64
	blockHash        felt.Felt
	transactionHash  felt.Felt
	transactionIndex int
	eventIndex       int
	event            txn.Event
}

// Index is the read side of the query surface: it mirrors the ledger and
// state store into the shapes RPC handlers need, and separately tracks
// every transaction/receipt/event the pipeline has produced.
type Index struct {
	mu      sync.RWMutex
	ledger  *ledger.Ledger
	state   *state.Store
	classes *class.Registry

	pending map[felt.Felt]record // awaiting a seal
	sealed  map[felt.Felt]record // BlockNumber/BlockHash populated
	events  []eventRecord        // ascending by (block, tx index, event index)

	tokenKey []byte // HMAC key for continuation-token integrity tags
}

// New returns an Index reading through to the given components.
func New(l *ledger.Ledger, s *state.Store, c *class.Registry) *Index {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		// crypto/rand only fails if the OS entropy source is broken;
		// a per-process fallback still keeps tokens internally
		// consistent even though they'd no longer resist forgery.
		copy(key, []byte("starkdevnet-events-cursor-fallback"))
	}
	return &Index{
		ledger:   l,
		state:    s,
		classes:  c,
		pending:  make(map[felt.Felt]record),
		sealed:   make(map[felt.Felt]record),
		tokenKey: key,
	}
}

// RecordSubmission registers a transaction's outcome at submission time,
// called once per non-rejected pipeline.Submit result. Rejected
// transactions never acquire a receipt and so are never indexed (spec §3:
// "Rejected transactions never enter a block").
func (idx *Index) RecordSubmission(tx *txn.Transaction, r *txn.Receipt) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.pending[tx.Hash] = record{tx: tx, receipt: r}
}

// OnBlockSealed attaches every pending transaction named in blk's hash list
// to the now-final block number/hash and appends their events to the
// ascending event index. Wired as (part of) blockproducer.Notifier.
func (idx *Index) OnBlockSealed(blk *ledger.Block) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i, hash := range blk.TransactionHashes {
		rec, ok := idx.pending[hash]
		if !ok {
			continue
		}
		delete(idx.pending, hash)

		rec.receipt.BlockNumber = blk.Header.Number
		rec.receipt.BlockHash = blk.Header.Hash
		idx.sealed[hash] = rec

		for j, ev := range rec.receipt.Events {
			idx.events = append(idx.events, eventRecord{
				blockNumber:      blk.Header.Number,
				blockHash:        blk.Header.Hash,
				transactionHash:  hash,
				transactionIndex: i,
				eventIndex:       j,
				event:            ev,
			})
		}
	}
}

// Block resolves id against the ledger and pre-confirmed block.
func (idx *Index) Block(id BlockID) (*BlockView, error) {
	switch {
	case id.PreConfirmed:
		pc := idx.ledger.PreConfirmed()
		return &BlockView{
			TransactionHashes: pc.Transactions,
			PreConfirmed:      true,
			Finality:          ledger.FinalityPreConfirmed,
		}, nil
	case id.Hash != nil:
		b, err := idx.ledger.GetBlockByHash(*id.Hash)
		if err != nil {
			return nil, rpcerr.New(rpcerr.CodeBlockNotFound, "block not found")
		}
		return fromSealed(b), nil
	case id.Number != nil:
		b, err := idx.ledger.GetBlock(*id.Number)
		if err != nil {
			return nil, rpcerr.New(rpcerr.CodeBlockNotFound, "block not found")
		}
		return fromSealed(b), nil
	default:
		b := idx.ledger.LatestBlock()
		if b == nil {
			return nil, rpcerr.New(rpcerr.CodeNoBlocks, "no blocks")
		}
		return fromSealed(b), nil
	}
}

func fromSealed(b *ledger.Block) *BlockView {
	return &BlockView{
		Number:            b.Header.Number,
		Hash:              b.Header.Hash,
		ParentHash:        b.Header.ParentHash,
		Timestamp:         b.Header.Timestamp,
		Sequencer:         b.Header.Sequencer,
		Finality:          b.Finality,
		TransactionHashes: b.TransactionHashes,
		Diff:              b.Diff,
	}
}

// StateView projects a BlockID onto the state.View the state store needs.
func (v *BlockView) StateView() state.View {
	if v.PreConfirmed {
		return state.PreConfirmedView()
	}
	return state.AtBlock(v.Number)
}

// TransactionByHash looks up a transaction and its receipt regardless of
// whether it has sealed yet.
func (idx *Index) TransactionByHash(hash felt.Felt) (*txn.Transaction, *txn.Receipt, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if rec, ok := idx.sealed[hash]; ok {
		return rec.tx, rec.receipt, nil
	}
	if rec, ok := idx.pending[hash]; ok {
		return rec.tx, rec.receipt, nil
	}
	return nil, nil, rpcerr.New(rpcerr.CodeTransactionHashNotFound, "transaction hash not found")
}

// TransactionReceipt is TransactionByHash without the transaction body.
func (idx *Index) TransactionReceipt(hash felt.Felt) (*txn.Receipt, error) {
	_, r, err := idx.TransactionByHash(hash)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// TransactionByBlockIDAndIndex resolves one transaction by its position in
// the block named by id.
func (idx *Index) TransactionByBlockIDAndIndex(id BlockID, index int) (*txn.Transaction, *txn.Receipt, error) {
	view, err := idx.Block(id)
	if err != nil {
		return nil, nil, err
	}
	if index < 0 || index >= len(view.TransactionHashes) {
		return nil, nil, rpcerr.New(rpcerr.CodeInvalidTransactionIndex, "invalid transaction index")
	}
	return idx.TransactionByHash(view.TransactionHashes[index])
}

// ClassAt resolves the class artifact deployed at addr under the view
// named by id, reading the class hash from state and the artifact from
// the class registry.
func (idx *Index) ClassAt(id BlockID, addr felt.Felt) (class.Artifact, error) {
	view, err := idx.Block(id)
	if err != nil {
		return class.Artifact{}, err
	}
	hash, err := idx.state.GetClassHashAt(view.StateView(), addr)
	if err != nil || hash.IsZero() {
		return class.Artifact{}, rpcerr.New(rpcerr.CodeContractNotFound, "contract not found")
	}
	return idx.Class(id, hash)
}

// ClassHashAt resolves only the class hash deployed at addr.
func (idx *Index) ClassHashAt(id BlockID, addr felt.Felt) (felt.Felt, error) {
	view, err := idx.Block(id)
	if err != nil {
		return felt.Zero, err
	}
	hash, err := idx.state.GetClassHashAt(view.StateView(), addr)
	if err != nil {
		return felt.Zero, err
	}
	if hash.IsZero() {
		return felt.Zero, rpcerr.New(rpcerr.CodeContractNotFound, "contract not found")
	}
	return hash, nil
}

// Class resolves a declared class artifact directly by its hash.
func (idx *Index) Class(id BlockID, classHash felt.Felt) (class.Artifact, error) {
	view, err := idx.Block(id)
	if err != nil {
		return class.Artifact{}, err
	}
	cv := class.PreConfirmedView()
	if !view.PreConfirmed {
		cv = class.AtBlock(view.Number)
	}
	artifact, ok := idx.classes.Lookup(classHash, cv)
	if !ok {
		return class.Artifact{}, rpcerr.New(rpcerr.CodeClassHashNotFound, "class hash not found")
	}
	return artifact, nil
}

// StorageAt resolves one storage slot under the view named by id.
func (idx *Index) StorageAt(id BlockID, addr, key felt.Felt) (felt.Felt, error) {
	view, err := idx.Block(id)
	if err != nil {
		return felt.Zero, err
	}
	return idx.state.GetStorage(view.StateView(), addr, key)
}

// Nonce resolves an address's nonce under the view named by id.
func (idx *Index) Nonce(id BlockID, addr felt.Felt) (felt.Felt, error) {
	view, err := idx.Block(id)
	if err != nil {
		return felt.Zero, err
	}
	return idx.state.GetNonce(view.StateView(), addr)
}

const (
	maxChunkSize   = 1000
	maxKeysInFilter = 16
)

// EventFilter is the parameter set of spec §4.11's events query.
type EventFilter struct {
	FromBlock         *uint64
	ToBlock           *uint64
	ContractAddress   *felt.Felt
	KeysFilter        [][]felt.Felt
	ContinuationToken string
	ChunkSize         int
}

// EventPage is one page of a GetEvents call.
type EventPage struct {
	Events            []EventEntry
	ContinuationToken string // empty iff this was the last page
}

// EventEntry is one matched event plus its location.
type EventEntry struct {
	BlockNumber     uint64
	BlockHash       felt.Felt
	TransactionHash felt.Felt
	Event           txn.Event
}

// GetEvents filters the ascending event index and paginates it by
// chunk_size, returning an opaque continuation token when more results
// remain.
func (idx *Index) GetEvents(f EventFilter) (*EventPage, error) {
	if f.ChunkSize <= 0 {
		f.ChunkSize = maxChunkSize
	}
	if f.ChunkSize > maxChunkSize {
		return nil, rpcerr.New(rpcerr.CodePageSizeTooBig, "page size too big")
	}
	if len(f.KeysFilter) > maxKeysInFilter {
		return nil, rpcerr.New(rpcerr.CodeTooManyKeysInFilter, "too many keys in filter")
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	start := 0
	if f.ContinuationToken != "" {
		cursor, ok := idx.decodeCursor(f.ContinuationToken)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeInvalidContinuationToken, "invalid continuation token")
		}
		pos, ok := idx.findCursor(cursor)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeInvalidContinuationToken, "invalid continuation token")
		}
		start = pos
	}

	var matched []EventEntry
	i := start
	for ; i < len(idx.events); i++ {
		ev := idx.events[i]
		if f.FromBlock != nil && ev.blockNumber < *f.FromBlock {
			continue
		}
		if f.ToBlock != nil && ev.blockNumber > *f.ToBlock {
			continue
		}
		if !matchesEvent(ev.event, f.ContractAddress, f.KeysFilter) {
			continue
		}
		matched = append(matched, EventEntry{
			BlockNumber:     ev.blockNumber,
			BlockHash:       ev.blockHash,
			TransactionHash: ev.transactionHash,
			Event:           ev.event,
		})
		if len(matched) == f.ChunkSize {
			i++
			break
		}
	}

	page := &EventPage{Events: matched}
	if i < len(idx.events) {
		page.ContinuationToken = idx.encodeCursor(idx.events[i])
	}
	return page, nil
}

// eventCursor identifies the next event a continuation token should
// resume from, by its (block_number, tx_index, event_index) coordinate
// rather than a raw slice offset — so a token stays meaningful even if
// entries before it are later pruned.
type eventCursor struct {
	blockNumber      uint64
	transactionIndex int32
	eventIndex       int32
}

const cursorTagSize = 8

// encodeCursor produces an opaque, base64-encoded, tamper-evident
// continuation token for the given event: the coordinate plus an HMAC
// tag, so a forged or cross-node token is rejected rather than silently
// misinterpreted as an offset.
func (idx *Index) encodeCursor(ev eventRecord) string {
	payload := marshalCursor(eventCursor{
		blockNumber:      ev.blockNumber,
		transactionIndex: int32(ev.transactionIndex),
		eventIndex:       int32(ev.eventIndex),
	})
	tag := idx.cursorTag(payload)
	return base64.RawURLEncoding.EncodeToString(append(payload, tag...))
}

// decodeCursor reverses encodeCursor, rejecting any token whose integrity
// tag does not match.
func (idx *Index) decodeCursor(token string) (eventCursor, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != 16+cursorTagSize {
		return eventCursor{}, false
	}
	payload, tag := raw[:16], raw[16:]
	if !hmac.Equal(tag, idx.cursorTag(payload)) {
		return eventCursor{}, false
	}
	return unmarshalCursor(payload), true
}

func (idx *Index) cursorTag(payload []byte) []byte {
	mac := hmac.New(sha256.New, idx.tokenKey)
	mac.Write(payload)
	return mac.Sum(nil)[:cursorTagSize]
}

func marshalCursor(c eventCursor) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], c.blockNumber)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(c.transactionIndex))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(c.eventIndex))
	return buf
}

func unmarshalCursor(buf []byte) eventCursor {
	return eventCursor{
		blockNumber:      binary.LittleEndian.Uint64(buf[0:8]),
		transactionIndex: int32(binary.LittleEndian.Uint32(buf[8:12])),
		eventIndex:       int32(binary.LittleEndian.Uint32(buf[12:16])),
	}
}

// findCursor locates the index-slice position of the event identified by
// cursor. idx.mu must already be held by the caller.
func (idx *Index) findCursor(cursor eventCursor) (int, bool) {
	for i, ev := range idx.events {
		if ev.blockNumber == cursor.blockNumber &&
			int32(ev.transactionIndex) == cursor.transactionIndex &&
			int32(ev.eventIndex) == cursor.eventIndex {
			return i, true
		}
	}
	return 0, false
}

// matchesEvent implements spec §4.11's matching rule: contract_address
// must be equal if given; for each position i where keysFilter[i] is
// non-empty, the event's i-th key must be a member of keysFilter[i];
// positions past the event's keys or past the filter are unconstrained.
func matchesEvent(ev txn.Event, contractAddress *felt.Felt, keysFilter [][]felt.Felt) bool {
	if contractAddress != nil && ev.FromAddress != *contractAddress {
		return false
	}
	for i, allowed := range keysFilter {
		if len(allowed) == 0 {
			continue
		}
		if i >= len(ev.Keys) {
			continue
		}
		if !containsFelt(allowed, ev.Keys[i]) {
			return false
		}
	}
	return true
}

func containsFelt(set []felt.Felt, v felt.Felt) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// BlockTransactionCount reports how many transactions the block named by
// id holds.
func (idx *Index) BlockTransactionCount(id BlockID) (int, error) {
	view, err := idx.Block(id)
	if err != nil {
		return 0, err
	}
	return len(view.TransactionHashes), nil
}

// TransactionStatus reports the finality of a transaction by hash, used by
// both the starknet_getTransactionStatus method and the
// transactionStatus subscription.
func (idx *Index) TransactionStatus(hash felt.Felt) (txn.Status, ledger.Finality, error) {
	_, r, err := idx.TransactionByHash(hash)
	if err != nil {
		return 0, 0, err
	}
	idx.mu.RLock()
	_, isSealed := idx.sealed[hash]
	idx.mu.RUnlock()
	finality := ledger.FinalityPreConfirmed
	if isSealed {
		finality = ledger.FinalityAcceptedOnL2
	}
	return r.Status, finality, nil
}
