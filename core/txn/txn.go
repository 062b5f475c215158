// Package txn defines the transaction shapes of spec §3: Declare,
// DeployAccount, Invoke and L1Handler, each versioned, plus the derived
// transaction hash and the receipt produced once a transaction resolves.
package txn

import (
	"starkdevnet/core/felt"
)

// Kind distinguishes the four transaction families.
type Kind int

const (
	KindDeclare Kind = iota
	KindDeployAccount
	KindInvoke
	KindL1Handler
)

func (k Kind) String() string {
	switch k {
	case KindDeclare:
		return "DECLARE"
	case KindDeployAccount:
		return "DEPLOY_ACCOUNT"
	case KindInvoke:
		return "INVOKE"
	case KindL1Handler:
		return "L1_HANDLER"
	default:
		return "UNKNOWN"
	}
}

// ResourceBound is a v3 per-resource fee commitment: the caller will not pay
// more than MaxAmount units at more than MaxPricePerUnit each.
type ResourceBound struct {
	MaxAmount       uint64
	MaxPricePerUnit felt.Felt
}

// DAMode selects where a v3 transaction's nonce or fee data is published.
type DAMode int

const (
	DAModeL1 DAMode = iota
	DAModeL2
)

// FeeCommitment carries either the v1 flat max_fee or the v3 triple of
// per-resource bounds, selected by the transaction's Version.
type FeeCommitment struct {
	MaxFee felt.Felt // v1 only

	L1Gas     ResourceBound // v3
	L1DataGas ResourceBound // v3
	L2Gas     ResourceBound // v3

	Tip                  uint64 // v3
	NonceDAMode          DAMode // v3
	FeeDAMode            DAMode // v3
	PaymasterData        []felt.Felt
	AccountDeploymentData []felt.Felt // DeployAccount/Invoke v3 only
}

// NonZero reports whether the commitment has any non-zero bound, per the
// admission rule that a skip-fee-charge caller is not served by this
// pipeline (§4.4 step 1): v1 requires MaxFee>0, v3 requires every resource
// bound to carry a non-zero amount and price.
func (f FeeCommitment) NonZero(v3 bool) bool {
	if !v3 {
		return !f.MaxFee.IsZero()
	}
	nz := func(b ResourceBound) bool { return b.MaxAmount != 0 && !b.MaxPricePerUnit.IsZero() }
	return nz(f.L1Gas) && nz(f.L1DataGas) && nz(f.L2Gas)
}

// Call is one entry of an Invoke transaction's call payload (a multicall:
// Starknet account contracts dispatch a list of calls from __execute__).
type Call struct {
	ContractAddress felt.Felt
	Selector        felt.Felt
	Calldata        []felt.Felt
}

// queryVersionBit marks a transaction as a query-only variant: the same
// convention Starknet's wire format uses (a large offset added to the
// version), collapsed here to a single high bit since Version only needs
// to span 1-3. Query-version transactions are valid for starknet_call
// and starknet_estimateFee's simulation-flavored signature checks but
// must never be admitted through ordinary submission.
const queryVersionBit uint8 = 0x80

// Transaction is the union of all four kinds. Fields irrelevant to Kind are
// left zero; this mirrors the wire encoding, where each kind's JSON/RPC
// shape only ever populates its own fields.
type Transaction struct {
	Kind    Kind
	Version uint8 // 1 or 3 (Declare also supports 2), optionally |queryVersionBit

	SenderAddress felt.Felt // Declare/Invoke
	Nonce         felt.Felt

	// Declare
	ClassHash        felt.Felt // legacy (v1) or Sierra (v2/v3) class hash
	CompiledClassHash felt.Felt // v2/v3 only

	// DeployAccount
	ClassHashToDeploy felt.Felt
	ContractAddressSalt felt.Felt
	ConstructorCalldata []felt.Felt
	ContractAddress     felt.Felt // derived, filled in by Derive

	// Invoke
	Calls []Call

	// L1Handler
	L1ContractAddress felt.Felt // l2_target
	Selector          felt.Felt
	Payload           []felt.Felt
	L1Sender          felt.Felt
	PaidFeeOnL1       felt.Felt

	Fee       FeeCommitment
	Signature []felt.Felt

	Hash felt.Felt // populated by Derive
}

// IsQuery reports whether Version carries the query-only marker.
func (tx Transaction) IsQuery() bool { return tx.Version&queryVersionBit != 0 }

// BaseVersion strips the query marker, returning the plain version number
// (1, 2 or 3) submission and fee-commitment checks operate on.
func (tx Transaction) BaseVersion() uint8 { return tx.Version &^ queryVersionBit }

// Status is the pipeline's classification of a dispatched transaction.
type Status int

const (
	StatusSucceeded Status = iota
	StatusReverted
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "SUCCEEDED"
	case StatusReverted:
		return "REVERTED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Receipt is the outcome record attached to a transaction once it resolves.
// Rejected transactions never enter a block and so never acquire a receipt
// with a BlockNumber; they are reported synchronously to the submitter.
type Receipt struct {
	TransactionHash felt.Felt
	Status          Status
	RevertReason    string // populated iff Status == StatusReverted
	BlockNumber     uint64
	BlockHash       felt.Felt
	ActualFeePaid   felt.Felt
	Events          []Event
	MessagesToL1    []MessageToL1
}

// Event is one emitted contract event.
type Event struct {
	FromAddress felt.Felt
	Keys        []felt.Felt
	Data        []felt.Felt
}

// MessageToL1 is one L2→L1 message emitted during execution.
type MessageToL1 struct {
	FromAddress felt.Felt
	ToAddress   felt.Felt
	Payload     []felt.Felt
}
