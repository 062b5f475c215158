// Package statediff defines the state-diff data model of spec §3: the
// set-of-writes view of the difference between a parent and child state.
package statediff

import "starkdevnet/core/felt"

// Diff captures everything that changed between two states.
type Diff struct {
	StorageUpdates    map[felt.Felt]map[felt.Felt]felt.Felt // addr -> key -> value
	NonceUpdates      map[felt.Felt]felt.Felt               // addr -> new nonce
	DeployedContracts map[felt.Felt]felt.Felt               // addr -> class hash
	DeclaredClasses   map[felt.Felt]felt.Felt               // modern class hash -> compiled class hash
	DeprecatedClasses []felt.Felt                           // legacy class hashes newly declared
}

// New returns an empty, fully-initialized Diff.
func New() Diff {
	return Diff{
		StorageUpdates:    make(map[felt.Felt]map[felt.Felt]felt.Felt),
		NonceUpdates:      make(map[felt.Felt]felt.Felt),
		DeployedContracts: make(map[felt.Felt]felt.Felt),
		DeclaredClasses:   make(map[felt.Felt]felt.Felt),
	}
}

// IsEmpty reports whether the diff carries no changes at all.
func (d Diff) IsEmpty() bool {
	return len(d.StorageUpdates) == 0 && len(d.NonceUpdates) == 0 &&
		len(d.DeployedContracts) == 0 && len(d.DeclaredClasses) == 0 &&
		len(d.DeprecatedClasses) == 0
}
