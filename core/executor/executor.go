// Package executor defines the boundary between the transaction pipeline
// (C4) and the contract VM. The core depends only on this interface; a
// Cairo-conformant VM is an external component the core never embeds
// (spec §1's stated non-goal). core/vmexec provides a pluggable local
// stand-in for development and testing.
package executor

import (
	"context"

	"starkdevnet/core/class"
	"starkdevnet/core/felt"
	"starkdevnet/core/txn"
)

// BlockContext is everything about the current block an executing
// transaction can observe.
type BlockContext struct {
	Number          uint64
	Timestamp       uint64
	Sequencer       felt.Felt
	ProtocolVersion string
	ChainID         felt.Felt

	L1GasPriceWei, L1GasPriceFri         felt.Felt
	L1DataGasPriceWei, L1DataGasPriceFri felt.Felt
	L2GasPriceWei, L2GasPriceFri         felt.Felt
}

// State is the mutable overlay an executing transaction reads and writes
// through. It is satisfied by *state.TxScratch; the interface exists so
// this package never imports core/state (keeping the VM boundary narrow).
type State interface {
	GetStorage(addr, key felt.Felt) (felt.Felt, error)
	GetNonce(addr felt.Felt) (felt.Felt, error)
	GetClassHashAt(addr felt.Felt) (felt.Felt, error)
	SetStorage(addr, key, val felt.Felt)
	IncrementNonce(addr felt.Felt) felt.Felt
	SetClassHashAt(addr, classHash felt.Felt)
}

// ClassLookup resolves a declared class's artifact for dispatch. Satisfied
// by *class.Registry.
type ClassLookup interface {
	Lookup(hash felt.Felt, v class.View) (class.Artifact, bool)
}

// ResourceUsage is the per-resource execution cost the executor reports,
// used to compute the actual fee (price · amount, summed across
// resources) for the receipt.
type ResourceUsage struct {
	L1Gas     uint64
	L1DataGas uint64
	L2Gas     uint64
}

// Outcome is the executor's report for one transaction. At most one of
// RevertReason/ValidationFailure is set; Succeeded is implied when
// neither is set.
type Outcome struct {
	RevertReason      string // non-empty iff the transaction reverted
	ValidationFailure *ValidationFailure // non-nil iff rejected at validation

	Usage   ResourceUsage
	Events  []txn.Event
	Messages []txn.MessageToL1

	// PreservedStorage/PreservedNonces name the writes the executor made
	// before a revert that must survive it (the nonce increment and fee
	// charge), per the revert contract in spec §4.4 step 5.
	PreservedStorage []ResourceKey
	PreservedNonces  []felt.Felt
}

// ResourceKey names one storage slot, mirroring state.StorageKey without
// importing core/state.
type ResourceKey struct {
	Addr felt.Felt
	Key  felt.Felt
}

// ValidationFailureKind enumerates the typed rejection reasons the pipeline
// must distinguish to pick the right wire error code (spec §7).
type ValidationFailureKind int

const (
	ValidationInsufficientBalance ValidationFailureKind = iota
	ValidationInsufficientResourcesForValidate
	ValidationFailed
	ValidationInvalidNonce
)

// ValidationFailure is a typed rejection reason.
type ValidationFailure struct {
	Kind   ValidationFailureKind
	Reason string
}

func (v *ValidationFailure) Error() string { return v.Reason }

// SkipValidation is the validation-skip predicate the pipeline derives
// from the impersonation module (spec §4.8) and passes down for each
// dispatch: true means the executor must not run __validate__ for sender.
type SkipValidation func(sender felt.Felt) bool

// Executor is the boundary the transaction pipeline dispatches through.
type Executor interface {
	// Execute runs tx against state under ctx, consulting classes for
	// declared bytecode, honoring skipValidation for the tx's sender. It
	// never panics across this boundary: the implementation is
	// responsible for recovering its own internal panics into a
	// ValidationFailure (spec §7: "the core never crashes because of
	// user-submitted bytecode").
	Execute(goCtx context.Context, tx *txn.Transaction, state State, classes ClassLookup, blockCtx BlockContext, skipValidation SkipValidation) (Outcome, error)
}
