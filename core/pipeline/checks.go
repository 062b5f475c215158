package pipeline

import (
	"starkdevnet/core/class"
	"starkdevnet/core/rpcerr"
	"starkdevnet/core/state"
	"starkdevnet/core/txn"
)

// validateShape is step 1 of §4.4: version checks and fee-commitment
// presence, before anything about the transaction's content is trusted.
func (p *Pipeline) validateShape(tx *txn.Transaction) error {
	if tx.IsQuery() {
		return rpcerr.New(rpcerr.CodeInvalidRequest, "unsupported action: query-version transactions cannot be submitted")
	}
	if tx.Kind == txn.KindL1Handler {
		if tx.PaidFeeOnL1.IsZero() {
			return rpcerr.New(rpcerr.CodeInsufficientResourcesValidate, "paid_fee_on_l1 must be non-zero")
		}
		return nil
	}
	if tx.Version < expectedVersion {
		return rpcerr.New(rpcerr.CodeInvalidRequest, "unsupported action: transaction version too old")
	}
	if !tx.Fee.NonZero(tx.Version >= 3) {
		return rpcerr.New(rpcerr.CodeInsufficientResourcesValidate, "fee commitment must be non-zero")
	}
	return nil
}

// preStateCheck is step 3 of §4.4: pre-state checks against the
// pre-confirmed view, run before dispatch so a doomed transaction never
// reaches the executor.
func (p *Pipeline) preStateCheck(tx *txn.Transaction) error {
	v := state.PreConfirmedView()

	switch tx.Kind {
	case txn.KindDeployAccount:
		if !p.classes.IsDeclared(tx.ClassHashToDeploy, class.PreConfirmedView()) {
			return rpcerr.New(rpcerr.CodeClassHashNotFound, "class hash not found")
		}
	case txn.KindInvoke, txn.KindDeclare:
		if !p.state.IsDeployedLocally(v, tx.SenderAddress) {
			return rpcerr.New(rpcerr.CodeContractNotFound, "contract not found")
		}
	}

	if tx.Kind == txn.KindDeclare {
		if p.classes.IsDeclared(tx.ClassHash, class.PreConfirmedView()) {
			return rpcerr.New(rpcerr.CodeClassAlreadyDeclared, "class already declared")
		}
	}

	if tx.Kind != txn.KindL1Handler {
		current, err := p.state.GetNonce(v, tx.SenderAddress)
		if err != nil {
			return rpcerr.New(rpcerr.CodeContractNotFound, "contract not found")
		}
		if current != tx.Nonce {
			return rpcerr.New(rpcerr.CodeInvalidTransactionNonce, "invalid transaction nonce")
		}
	}

	return nil
}
