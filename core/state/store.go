// Package state implements the state store (C1): a committed base layered
// under a cached overlay of uncommitted writes, with historical snapshots
// keyed by block number.
package state

import (
	"fmt"
	"sync"

	"starkdevnet/core/felt"
	"starkdevnet/core/statediff"
)

// ForkReader is consulted on a read miss when the store is configured to
// fork from an upstream node (C12). It is never consulted for values the
// local committed/overlay layers already know about, and never for writes.
type ForkReader interface {
	GetStorageAt(addr, key felt.Felt) (felt.Felt, error)
	GetNonceAt(addr felt.Felt) (felt.Felt, error)
	GetClassHashAt(addr felt.Felt) (felt.Felt, error)
}

// View identifies which state projection a read targets.
type View struct {
	PreConfirmed bool
	BlockNumber  uint64
}

// PreConfirmedView is a shorthand for View{PreConfirmed: true}.
func PreConfirmedView() View { return View{PreConfirmed: true} }

// AtBlock is a shorthand for a numeric/hash-resolved block view.
func AtBlock(n uint64) View { return View{BlockNumber: n} }

// ErrTooManyBlocksBack is returned when a historical read targets a block
// older than the supported archival window.
var ErrTooManyBlocksBack = fmt.Errorf("too many blocks back")

// ErrNoStateAtBlock is returned when a historical read targets a block the
// store never materialized (non-archival mode).
var ErrNoStateAtBlock = fmt.Errorf("no state at block")

const archivalWindow = 1024
const nonArchivalWindow = 1

// Store is the C1 state store.
type Store struct {
	mu       sync.RWMutex
	archival bool
	fork     ForkReader

	// blockLayers[n] is the frozen, post-commit state as of block n.
	// blockLayers[0] is genesis (may be pre-populated before any block
	// is sealed).
	blockLayers map[uint64]*layer
	latest      uint64

	// preConfirmed is the mutable layer accumulating writes from
	// transactions already admitted into the pre-confirmed block.
	preConfirmed *layer
}

// New returns a Store whose genesis layer is empty. archival controls the
// historical-read window (1024 blocks vs. 1 block).
func New(archival bool) *Store {
	genesis := newLayer(nil)
	return &Store{
		archival:     archival,
		blockLayers:  map[uint64]*layer{0: genesis},
		preConfirmed: newLayer(genesis),
	}
}

// SetFork installs the upstream read-through backend (C12). Safe to call
// exactly once, before any transaction executes.
func (s *Store) SetFork(f ForkReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fork = f
}

// SeedGenesis writes directly into the genesis layer (block 0), before any
// transaction has executed. Used to install predeployed accounts and the
// fee-token contract at startup.
func (s *Store) SeedGenesis(addr, classHash felt.Felt, nonce felt.Felt, storage map[felt.Felt]felt.Felt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.blockLayers[0]
	g.setClassHashAt(addr, classHash)
	g.setNonce(addr, nonce)
	for k, v := range storage {
		g.setStorage(addr, k, v)
	}
}

func (s *Store) resolveView(v View) (*layer, error) {
	if v.PreConfirmed {
		return s.preConfirmed, nil
	}
	if v.BlockNumber == s.latest {
		return s.blockLayers[s.latest], nil
	}
	if v.BlockNumber > s.latest {
		return nil, fmt.Errorf("%w: block %d has no state yet", ErrNoStateAtBlock, v.BlockNumber)
	}
	back := s.latest - v.BlockNumber
	window := nonArchivalWindow
	if s.archival {
		window = archivalWindow
	}
	if back > uint64(window) {
		if s.archival {
			return nil, ErrTooManyBlocksBack
		}
		return nil, ErrNoStateAtBlock
	}
	l, ok := s.blockLayers[v.BlockNumber]
	if !ok {
		return nil, ErrNoStateAtBlock
	}
	return l, nil
}

// GetStorage reads a storage slot under the given view, falling through to
// the fork backend (if configured) on a total miss.
func (s *Store) GetStorage(v View, addr, key felt.Felt) (felt.Felt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.resolveView(v)
	if err != nil {
		return felt.Zero, err
	}
	if val, ok := l.getStorage(addr, key); ok {
		return val, nil
	}
	if s.fork != nil {
		return s.fork.GetStorageAt(addr, key)
	}
	return felt.Zero, nil
}

// GetNonce reads an address's nonce under the given view.
func (s *Store) GetNonce(v View, addr felt.Felt) (felt.Felt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.resolveView(v)
	if err != nil {
		return felt.Zero, err
	}
	if val, ok := l.getNonce(addr); ok {
		return val, nil
	}
	if s.fork != nil {
		return s.fork.GetNonceAt(addr)
	}
	return felt.Zero, nil
}

// GetClassHashAt reads the class hash deployed at addr under the given view.
// Zero means the address is not deployed.
func (s *Store) GetClassHashAt(v View, addr felt.Felt) (felt.Felt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.resolveView(v)
	if err != nil {
		return felt.Zero, err
	}
	if val, ok := l.getClassHashAt(addr); ok {
		return val, nil
	}
	if s.fork != nil {
		return s.fork.GetClassHashAt(addr)
	}
	return felt.Zero, nil
}

// IsDeployedLocally reports whether addr is deployed in local layers only,
// never consulting the fork backend. C8 uses this to decide whether an
// address is truly local (a forked-but-not-locally-known account cannot be
// impersonated via its real key, since there is none).
func (s *Store) IsDeployedLocally(v View, addr felt.Felt) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.resolveView(v)
	if err != nil {
		return false
	}
	val, ok := l.getClassHashAt(addr)
	return ok && !val.IsZero()
}

// TxScratch is a disposable per-transaction write layer on top of the
// current pre-confirmed overlay. The executor writes through this handle;
// the pipeline decides afterward whether to fold it, partially fold it, or
// discard it.
type TxScratch struct {
	store *Store
	layer *layer
}

// NewTxScratch opens a fresh scratch layer for one transaction's execution.
func (s *Store) NewTxScratch() *TxScratch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &TxScratch{store: s, layer: newLayer(s.preConfirmed)}
}

// GetStorage/GetNonce/GetClassHashAt read through the scratch layer into the
// pre-confirmed overlay, the committed chain, and finally the fork.
func (t *TxScratch) GetStorage(addr, key felt.Felt) (felt.Felt, error) {
	if v, ok := t.layer.getStorage(addr, key); ok {
		return v, nil
	}
	return t.store.GetStorage(PreConfirmedView(), addr, key)
}

func (t *TxScratch) GetNonce(addr felt.Felt) (felt.Felt, error) {
	if v, ok := t.layer.getNonce(addr); ok {
		return v, nil
	}
	return t.store.GetNonce(PreConfirmedView(), addr)
}

func (t *TxScratch) GetClassHashAt(addr felt.Felt) (felt.Felt, error) {
	if v, ok := t.layer.getClassHashAt(addr); ok {
		return v, nil
	}
	return t.store.GetClassHashAt(PreConfirmedView(), addr)
}

func (t *TxScratch) SetStorage(addr, key, val felt.Felt) { t.layer.setStorage(addr, key, val) }

// IncrementNonce reads the current nonce (through the scratch and overlay
// chain) and writes current+1, returning the new value.
func (t *TxScratch) IncrementNonce(addr felt.Felt) felt.Felt {
	cur, _ := t.GetNonce(addr)
	next := cur.Add(felt.One)
	t.layer.setNonce(addr, next)
	return next
}

func (t *TxScratch) SetClassHashAt(addr, classHash felt.Felt) {
	t.layer.setClassHashAt(addr, classHash)
}

// Commit folds every write in the scratch layer into the pre-confirmed
// overlay. Used on a succeeded transaction.
func (s *Store) Commit(t *TxScratch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preConfirmed.mergeFrom(t.layer)
}

// CommitPartial folds only the given address/key storage writes plus any
// nonce writes for preserveNonceOf into the pre-confirmed overlay, and
// discards everything else in the scratch layer. Used on a reverted
// transaction: the executor identifies which writes are the nonce
// increment and fee charge (kept) versus user-visible call effects
// (discarded per the revert contract).
func (s *Store) CommitPartial(t *TxScratch, preserveStorage []StorageKey, preserveNonceOf []felt.Felt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range preserveStorage {
		if v, ok := t.layer.getStorage(k.Addr, k.Key); ok {
			s.preConfirmed.setStorage(k.Addr, k.Key, v)
		}
	}
	for _, addr := range preserveNonceOf {
		if v, ok := t.layer.getNonce(addr); ok {
			s.preConfirmed.setNonce(addr, v)
		}
	}
}

// Discard is a no-op by construction: a scratch layer that is never passed
// to Commit/CommitPartial simply becomes garbage. Kept as a named operation
// so call sites read as intentional (rejected transactions).
func (s *Store) Discard(t *TxScratch) { _ = t }

// StorageKey names one storage slot.
type StorageKey struct {
	Addr felt.Felt
	Key  felt.Felt
}

// CommitDiff computes the diff between the pre-confirmed overlay and its
// committed parent, freezes the overlay as the new state_at(blockNumber),
// opens a fresh pre-confirmed overlay for the next block, and prunes
// history outside the configured window.
func (s *Store) CommitDiff(blockNumber uint64) statediff.Diff {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := statediff.New()
	for addr, m := range s.preConfirmed.storage {
		cp := make(map[felt.Felt]felt.Felt, len(m))
		for k, v := range m {
			cp[k] = v
		}
		d.StorageUpdates[addr] = cp
	}
	for addr, v := range s.preConfirmed.nonce {
		d.NonceUpdates[addr] = v
	}
	for addr, v := range s.preConfirmed.classHash {
		d.DeployedContracts[addr] = v
	}

	sealed := s.preConfirmed
	s.blockLayers[blockNumber] = sealed
	s.latest = blockNumber
	s.preConfirmed = newLayer(sealed)

	s.pruneLocked()
	return d
}

func (s *Store) pruneLocked() {
	window := nonArchivalWindow
	if s.archival {
		window = archivalWindow
	}
	if s.latest <= uint64(window) {
		return
	}
	cutoff := s.latest - uint64(window)
	for n := range s.blockLayers {
		if n < cutoff {
			delete(s.blockLayers, n)
		}
	}
}

// AbortFrom removes every materialized block-state snapshot with number >=
// from, and resets the pre-confirmed overlay to build on the new tip. The
// caller (core/ledger) is responsible for validating that none of the
// removed blocks were accepted on L1.
func (s *Store) AbortFrom(from uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := range s.blockLayers {
		if n >= from {
			delete(s.blockLayers, n)
		}
	}
	newTip := from - 1
	tipLayer, ok := s.blockLayers[newTip]
	if !ok {
		tipLayer = s.blockLayers[0]
		newTip = 0
	}
	s.latest = newTip
	s.preConfirmed = newLayer(tipLayer)
}

// LatestBlockNumber reports the number of the latest sealed block (0 before
// any block has sealed, matching the empty-chain convention used
// throughout the pipeline and query surface).
func (s *Store) LatestBlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}
