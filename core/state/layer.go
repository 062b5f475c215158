package state

import "starkdevnet/core/felt"

// layer is a persistent, copy-on-write state delta: a flat set of writes
// with an optional parent to fall through to on a miss. A committed block's
// layer is never mutated again after CommitDiff freezes it; the next
// pre-confirmed block gets a fresh child layer.
type layer struct {
	parent    *layer
	storage   map[felt.Felt]map[felt.Felt]felt.Felt
	nonce     map[felt.Felt]felt.Felt
	classHash map[felt.Felt]felt.Felt
	// declaredLegacy/declaredCompiled are not stored here: class
	// visibility is owned by package class, not package state.
}

func newLayer(parent *layer) *layer {
	return &layer{
		parent:    parent,
		storage:   make(map[felt.Felt]map[felt.Felt]felt.Felt),
		nonce:     make(map[felt.Felt]felt.Felt),
		classHash: make(map[felt.Felt]felt.Felt),
	}
}

func (l *layer) getStorage(addr, key felt.Felt) (felt.Felt, bool) {
	for cur := l; cur != nil; cur = cur.parent {
		if m, ok := cur.storage[addr]; ok {
			if v, ok := m[key]; ok {
				return v, true
			}
		}
	}
	return felt.Zero, false
}

func (l *layer) getNonce(addr felt.Felt) (felt.Felt, bool) {
	for cur := l; cur != nil; cur = cur.parent {
		if v, ok := cur.nonce[addr]; ok {
			return v, true
		}
	}
	return felt.Zero, false
}

func (l *layer) getClassHashAt(addr felt.Felt) (felt.Felt, bool) {
	for cur := l; cur != nil; cur = cur.parent {
		if v, ok := cur.classHash[addr]; ok {
			return v, true
		}
	}
	return felt.Zero, false
}

func (l *layer) setStorage(addr, key, val felt.Felt) {
	m, ok := l.storage[addr]
	if !ok {
		m = make(map[felt.Felt]felt.Felt)
		l.storage[addr] = m
	}
	m[key] = val
}

func (l *layer) setNonce(addr, val felt.Felt) {
	l.nonce[addr] = val
}

func (l *layer) setClassHashAt(addr, classHash felt.Felt) {
	l.classHash[addr] = classHash
}

// mergeFrom copies every write in src into l, overwriting any existing
// value. Used to fold a successful or partially-reverted tx-scratch layer
// into its parent pre-confirmed layer.
func (l *layer) mergeFrom(src *layer) {
	for addr, m := range src.storage {
		for k, v := range m {
			l.setStorage(addr, k, v)
		}
	}
	for addr, v := range src.nonce {
		l.setNonce(addr, v)
	}
	for addr, v := range src.classHash {
		l.setClassHashAt(addr, v)
	}
}
