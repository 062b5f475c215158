// Package class implements the two-stage class registry (C2): a class is
// visible at pre-confirmed as soon as it is staged, and visible at latest
// only once the block it was staged for has committed.
package class

import (
	"sync"

	"starkdevnet/core/felt"
)

// Flavor distinguishes the two contract-class artifact shapes.
type Flavor int

const (
	// Legacy is a serialized Cairo 0 program plus entry-point tables.
	Legacy Flavor = iota
	// Modern is a typed, versioned Sierra program paired with a
	// separately computed compiled-class-hash (CASM hash).
	Modern
)

// Artifact is the declared contract class payload. Only one of the two
// byte blobs is populated, selected by Flavor.
type Artifact struct {
	Flavor         Flavor
	LegacyProgram  []byte // populated iff Flavor == Legacy
	SierraProgram  []byte // populated iff Flavor == Modern
	CompiledHash   felt.Felt // CASM hash, populated iff Flavor == Modern
}

// View selects which visibility projection a lookup uses.
type View struct {
	PreConfirmed bool
	BlockNumber  uint64 // used when PreConfirmed is false
}

// PreConfirmedView is a shorthand for View{PreConfirmed: true}.
func PreConfirmedView() View { return View{PreConfirmed: true} }

// AtBlock is a shorthand for View{BlockNumber: n}.
func AtBlock(n uint64) View { return View{BlockNumber: n} }

type entry struct {
	artifact    Artifact
	committedAt uint64
	committed   bool
}

// Registry is the staged→committed-at-block class store.
type Registry struct {
	mu      sync.RWMutex
	classes map[felt.Felt]*entry
	// commits records, per block number, the class hashes committed
	// there, so a block can be unwound (abort_from) by removing exactly
	// those commits.
	commits map[uint64][]felt.Felt
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		classes: make(map[felt.Felt]*entry),
		commits: make(map[uint64][]felt.Felt),
	}
}

// Stage records a class as known at pre-confirmed. Idempotent: staging an
// already-staged-or-committed hash with the same artifact is a no-op.
func (r *Registry) Stage(hash felt.Felt, artifact Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[hash]; ok {
		return
	}
	r.classes[hash] = &entry{artifact: artifact}
}

// IsDeclared reports whether hash is known under the given view. For the
// pre-confirmed view this includes staged-but-uncommitted classes.
func (r *Registry) IsDeclared(hash felt.Felt, v View) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.classes[hash]
	if !ok {
		return false
	}
	if v.PreConfirmed {
		return true
	}
	return e.committed && e.committedAt <= v.BlockNumber
}

// Lookup returns the artifact for hash iff it is visible under v.
func (r *Registry) Lookup(hash felt.Felt, v View) (Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.classes[hash]
	if !ok {
		return Artifact{}, false
	}
	if v.PreConfirmed {
		return e.artifact, true
	}
	if e.committed && e.committedAt <= v.BlockNumber {
		return e.artifact, true
	}
	return Artifact{}, false
}

// Commit promotes every currently-staged, not-yet-committed class to
// committed@blockNumber and returns the set of hashes it promoted.
func (r *Registry) Commit(blockNumber uint64) []felt.Felt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newly []felt.Felt
	for hash, e := range r.classes {
		if e.committed {
			continue
		}
		e.committed = true
		e.committedAt = blockNumber
		newly = append(newly, hash)
	}
	if len(newly) > 0 {
		r.commits[blockNumber] = append(r.commits[blockNumber], newly...)
	}
	return newly
}

// RemoveCommittedAt reverses Commit(blockNumber): every class that was
// committed at that exact block number reverts to absent (used by block
// abortion; a class staged again later gets a fresh entry).
func (r *Registry) RemoveCommittedAt(blockNumber uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hashes, ok := r.commits[blockNumber]
	if !ok {
		return
	}
	for _, h := range hashes {
		delete(r.classes, h)
	}
	delete(r.commits, blockNumber)
}
