// Package ledger implements the block ledger (C3): an ordered sequence of
// sealed blocks plus one mutable pre-confirmed block, indexed by number and
// by hash.
package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"

	"starkdevnet/core/felt"
	"starkdevnet/core/statediff"
)

// Header carries everything about a sealed block except its transactions.
type Header struct {
	Number          uint64
	Hash            felt.Felt
	ParentHash      felt.Felt
	Timestamp       uint64
	Sequencer       felt.Felt
	ProtocolVersion string

	L1GasPriceWei     felt.Felt
	L1GasPriceFri     felt.Felt
	L1DataGasPriceWei felt.Felt
	L1DataGasPriceFri felt.Felt
	L2GasPriceWei     felt.Felt
	L2GasPriceFri     felt.Felt
}

// Finality is the acceptance stage of a block (and, by extension, every
// transaction inside it).
type Finality int

const (
	FinalityPreConfirmed Finality = iota
	FinalityAcceptedOnL2
	FinalityAcceptedOnL1
)

func (f Finality) String() string {
	switch f {
	case FinalityPreConfirmed:
		return "PRE_CONFIRMED"
	case FinalityAcceptedOnL2:
		return "ACCEPTED_ON_L2"
	case FinalityAcceptedOnL1:
		return "ACCEPTED_ON_L1"
	default:
		return "UNKNOWN"
	}
}

// Block is a sealed block: a finalized header plus the ordered hashes of
// the transactions it contains.
type Block struct {
	Header           Header
	TransactionHashes []felt.Felt
	Finality         Finality

	// Diff is the state diff folded into the base store when this block
	// was sealed (core/state.Store.CommitDiff), stored here so read-only
	// queries (starknet_getStateUpdate) never need to re-invoke the
	// mutator that produced it.
	Diff statediff.Diff
}

// PreConfirmedBlock is the single mutable, unsealed block accumulating
// transactions. It has no hash and no fixed number until CreateBlock seals
// it (§3: "no hash and no fixed number until sealed").
type PreConfirmedBlock struct {
	Transactions []felt.Felt
}

var (
	// ErrAcceptedOnL1 is returned when abort_from targets a block already
	// accepted on L1 — only blocks accepted on L2 (not yet on L1) may be
	// aborted.
	ErrAcceptedOnL1 = errors.New("ledger: cannot abort a block accepted on L1")
	ErrBlockNotFound = errors.New("ledger: block not found")
)

// Ledger is the C3 block ledger.
type Ledger struct {
	mu sync.RWMutex

	byNumber map[uint64]*Block
	byHash   map[felt.Felt]*Block
	latest   uint64 // 0 until the first block seals

	preConfirmed PreConfirmedBlock

	genesisParentHash felt.Felt
	protocolVersion   string
}

// New returns an empty ledger with no sealed blocks.
func New(protocolVersion string) *Ledger {
	return &Ledger{
		byNumber:        make(map[uint64]*Block),
		byHash:          make(map[felt.Felt]*Block),
		preConfirmed:    PreConfirmedBlock{},
		protocolVersion: protocolVersion,
	}
}

// AddToPreConfirmed appends a transaction hash to the pre-confirmed block.
// Called by the pipeline once a transaction succeeds or reverts (never for
// a rejected transaction, which the ledger never sees).
func (l *Ledger) AddToPreConfirmed(txHash felt.Felt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.preConfirmed.Transactions = append(l.preConfirmed.Transactions, txHash)
}

// SealParams is everything the block-production controller supplies when
// sealing the pre-confirmed block into a new sealed block.
type SealParams struct {
	Timestamp     uint64
	Sequencer     felt.Felt
	L1GasPriceWei, L1GasPriceFri         felt.Felt
	L1DataGasPriceWei, L1DataGasPriceFri felt.Felt
	L2GasPriceWei, L2GasPriceFri         felt.Felt
}

// Seal finalizes the current pre-confirmed block into a new sealed block,
// computes its hash, appends it to the ledger, and opens a fresh empty
// pre-confirmed block. Returns the sealed block.
func (l *Ledger) Seal(p SealParams) *Block {
	l.mu.Lock()
	defer l.mu.Unlock()

	number := l.latest + 1
	parentHash := l.genesisParentHash
	if prev, ok := l.byNumber[l.latest]; ok {
		parentHash = prev.Header.Hash
	}

	h := Header{
		Number:            number,
		ParentHash:        parentHash,
		Timestamp:         p.Timestamp,
		Sequencer:         p.Sequencer,
		ProtocolVersion:   l.protocolVersion,
		L1GasPriceWei:     p.L1GasPriceWei,
		L1GasPriceFri:     p.L1GasPriceFri,
		L1DataGasPriceWei: p.L1DataGasPriceWei,
		L1DataGasPriceFri: p.L1DataGasPriceFri,
		L2GasPriceWei:     p.L2GasPriceWei,
		L2GasPriceFri:     p.L2GasPriceFri,
	}
	txHashes := l.preConfirmed.Transactions

	h.Hash = computeBlockHash(h, txHashes)

	blk := &Block{Header: h, TransactionHashes: txHashes, Finality: FinalityAcceptedOnL2}
	l.byNumber[number] = blk
	l.byHash[h.Hash] = blk
	l.latest = number
	l.preConfirmed = PreConfirmedBlock{}
	return blk
}

// SetDiff attaches the state diff produced while sealing the given block
// number. It is called once, immediately after Seal, by the block
// producer — never by a query handler.
func (l *Ledger) SetDiff(number uint64, diff statediff.Diff) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if blk, ok := l.byNumber[number]; ok {
		blk.Diff = diff
	}
}

func computeBlockHash(h Header, txHashes []felt.Felt) felt.Felt {
	hasher := sha256.New()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, h.Number)
	hasher.Write(buf)
	hasher.Write(h.ParentHash[:])
	binary.LittleEndian.PutUint64(buf, h.Timestamp)
	hasher.Write(buf)
	hasher.Write(h.Sequencer[:])
	hasher.Write([]byte(h.ProtocolVersion))
	for _, price := range []felt.Felt{
		h.L1GasPriceWei, h.L1GasPriceFri,
		h.L1DataGasPriceWei, h.L1DataGasPriceFri,
		h.L2GasPriceWei, h.L2GasPriceFri,
	} {
		hasher.Write(price[:])
	}
	for _, t := range txHashes {
		hasher.Write(t[:])
	}
	sum := sha256.Sum256(hasher.Sum(nil))
	out, _ := felt.FromBytes(sum[:])
	return out
}

// AbortFrom removes every sealed block with number >= from, returning their
// hashes. It is an error if any removed block is already accepted on L1.
func (l *Ledger) AbortFrom(from uint64) ([]felt.Felt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for n := from; n <= l.latest; n++ {
		blk, ok := l.byNumber[n]
		if !ok {
			continue
		}
		if blk.Finality == FinalityAcceptedOnL1 {
			return nil, ErrAcceptedOnL1
		}
	}

	var aborted []felt.Felt
	for n := from; n <= l.latest; n++ {
		blk, ok := l.byNumber[n]
		if !ok {
			continue
		}
		aborted = append(aborted, blk.Header.Hash)
		delete(l.byNumber, n)
		delete(l.byHash, blk.Header.Hash)
	}
	if from <= l.latest {
		l.latest = from - 1
	}
	l.preConfirmed = PreConfirmedBlock{}
	return aborted, nil
}

// AcceptOnL1 promotes every sealed block with number <= upTo to
// FinalityAcceptedOnL1. Blocks already at that finality are left alone.
func (l *Ledger) AcceptOnL1(upTo uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for n := uint64(1); n <= upTo; n++ {
		if blk, ok := l.byNumber[n]; ok {
			blk.Finality = FinalityAcceptedOnL1
		}
	}
}

// GetBlock resolves only sealed blocks by number; "latest" and
// "pre_confirmed" are resolved by callers via LatestBlock() and
// PreConfirmed().
func (l *Ledger) GetBlock(number uint64) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	blk, ok := l.byNumber[number]
	if !ok {
		return nil, ErrBlockNotFound
	}
	return blk, nil
}

// GetBlockByHash resolves a sealed block by its hash.
func (l *Ledger) GetBlockByHash(hash felt.Felt) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	blk, ok := l.byHash[hash]
	if !ok {
		return nil, ErrBlockNotFound
	}
	return blk, nil
}

// GetBlocks returns sealed blocks [from, to] in ascending order.
func (l *Ledger) GetBlocks(from, to uint64) []*Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Block
	for n := from; n <= to; n++ {
		if blk, ok := l.byNumber[n]; ok {
			out = append(out, blk)
		}
	}
	return out
}

// BlockNumber returns the number of the latest sealed block (0 if none).
func (l *Ledger) BlockNumber() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// LatestBlock returns the latest sealed block, or nil if none has sealed.
func (l *Ledger) LatestBlock() *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byNumber[l.latest]
}

// PreConfirmed returns a copy of the current pre-confirmed block's
// transaction hash list.
func (l *Ledger) PreConfirmed() PreConfirmedBlock {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]felt.Felt, len(l.preConfirmed.Transactions))
	copy(cp, l.preConfirmed.Transactions)
	return PreConfirmedBlock{Transactions: cp}
}
