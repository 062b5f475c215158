// Package pipeline implements the transaction pipeline (C4): admission
// checks, dispatch to the external executor, outcome classification and
// receipt construction, per spec §4.4.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"starkdevnet/core/blockproducer"
	"starkdevnet/core/class"
	"starkdevnet/core/executor"
	"starkdevnet/core/felt"
	"starkdevnet/core/gasoracle"
	"starkdevnet/core/impersonation"
	"starkdevnet/core/journal"
	"starkdevnet/core/ledger"
	"starkdevnet/core/rpcerr"
	"starkdevnet/core/state"
	"starkdevnet/core/timecontrol"
	"starkdevnet/core/txn"
)

// Pipeline wires the state store, class registry, ledger, gas oracle,
// logical clock, impersonation set, executor and block producer into the
// single entry point every submitted transaction goes through.
type Pipeline struct {
	state         *state.Store
	classes       *class.Registry
	ledger        *ledger.Ledger
	gas           *gasoracle.Oracle
	clock         *timecontrol.Clock
	impersonation *impersonation.Set
	exec          executor.Executor
	producer      *blockproducer.Controller
	journal       *journal.Journal

	sequencer       felt.Felt
	protocolVersion string
	chainID         felt.Felt

	onAccepted AcceptedHook
	onRejected RejectedHook
}

// AcceptedHook is called once per transaction that entered the
// pre-confirmed block (succeeded or reverted), after its receipt is
// built, so core/metrics and core/query can record it without the
// pipeline importing either package.
type AcceptedHook func(tx *txn.Transaction, receipt *txn.Receipt)

// RejectedHook is called once per transaction Submit rejects outright,
// for the same reason.
type RejectedHook func(tx *txn.Transaction, err *rpcerr.Error)

// New returns a Pipeline over the given components.
func New(
	s *state.Store,
	c *class.Registry,
	l *ledger.Ledger,
	g *gasoracle.Oracle,
	clk *timecontrol.Clock,
	imp *impersonation.Set,
	exec executor.Executor,
	producer *blockproducer.Controller,
	j *journal.Journal,
	sequencer felt.Felt,
	protocolVersion string,
	chainID felt.Felt,
) *Pipeline {
	return &Pipeline{
		state: s, classes: c, ledger: l, gas: g, clock: clk,
		impersonation: imp, exec: exec, producer: producer, journal: j,
		sequencer: sequencer, protocolVersion: protocolVersion, chainID: chainID,
	}
}

// SetAcceptedHook installs the callback run after every succeeded or
// reverted transaction.
func (p *Pipeline) SetAcceptedHook(h AcceptedHook) { p.onAccepted = h }

// SetRejectedHook installs the callback run after every rejected
// transaction.
func (p *Pipeline) SetRejectedHook(h RejectedHook) { p.onRejected = h }

const expectedVersion = 1

// Submit runs tx through the full pipeline: shape validation, derivation,
// pre-state checks, dispatch, classification and receipt construction. It
// never returns a Go error for a rejected transaction — rejection is
// reported as an *rpcerr.Error, exactly as a client would see it over RPC.
func (p *Pipeline) Submit(ctx context.Context, tx *txn.Transaction) (*txn.Receipt, error) {
	if err := p.validateShape(tx); err != nil {
		p.reportRejected(tx, err)
		return nil, err
	}

	tx.Derive()
	logrus.WithFields(logrus.Fields{"kind": tx.Kind, "hash": tx.Hash}).Debug("pipeline: submitted")

	if err := p.preStateCheck(tx); err != nil {
		logrus.WithFields(logrus.Fields{"kind": tx.Kind, "hash": tx.Hash, "err": err}).Info("pipeline: transaction rejected")
		p.reportRejected(tx, err)
		return nil, err
	}

	scratch := p.state.NewTxScratch()

	skip := p.impersonation.SkipValidationPredicate()
	blockCtx := p.currentBlockContext()

	outcome, err := p.exec.Execute(ctx, tx, scratch, p.classes, blockCtx, skip)
	if err != nil {
		return nil, fmt.Errorf("pipeline: executor error: %w", err)
	}

	if outcome.ValidationFailure != nil {
		p.state.Discard(scratch)
		rpcErr := validationFailureToRPCErr(outcome.ValidationFailure)
		logrus.WithFields(logrus.Fields{"kind": tx.Kind, "hash": tx.Hash, "err": rpcErr}).Info("pipeline: transaction rejected")
		if p.onRejected != nil {
			p.onRejected(tx, rpcErr)
		}
		return nil, rpcErr
	}

	actualFee := computeFee(outcome.Usage, p.gas.Current())

	if outcome.RevertReason != "" {
		preserveStorage := make([]state.StorageKey, len(outcome.PreservedStorage))
		for i, k := range outcome.PreservedStorage {
			preserveStorage[i] = state.StorageKey{Addr: k.Addr, Key: k.Key}
		}
		p.state.CommitPartial(scratch, preserveStorage, outcome.PreservedNonces)

		p.ledger.AddToPreConfirmed(tx.Hash)
		p.appendJournalEntry(tx)
		sealed := p.producer.OnTransactionAccepted()

		logrus.WithFields(logrus.Fields{"kind": tx.Kind, "hash": tx.Hash, "reason": outcome.RevertReason}).Info("pipeline: transaction reverted")

		receipt := &txn.Receipt{
			TransactionHash: tx.Hash,
			Status:          txn.StatusReverted,
			RevertReason:    outcome.RevertReason,
			ActualFeePaid:   actualFee,
			BlockNumber:     blockNumberOf(sealed),
			BlockHash:       blockHashOf(sealed),
		}
		if p.onAccepted != nil {
			p.onAccepted(tx, receipt)
		}
		return receipt, nil
	}

	// Succeeded.
	p.state.Commit(scratch)
	if tx.Kind == txn.KindDeclare {
		p.classes.Stage(tx.ClassHash, declareArtifact(tx))
	}
	p.ledger.AddToPreConfirmed(tx.Hash)
	p.appendJournalEntry(tx)
	sealed := p.producer.OnTransactionAccepted()

	logrus.WithFields(logrus.Fields{"kind": tx.Kind, "hash": tx.Hash, "fee": actualFee}).Debug("pipeline: transaction succeeded")

	receipt := &txn.Receipt{
		TransactionHash: tx.Hash,
		Status:          txn.StatusSucceeded,
		ActualFeePaid:   actualFee,
		Events:          outcome.Events,
		MessagesToL1:    outcome.Messages,
		BlockNumber:     blockNumberOf(sealed),
		BlockHash:       blockHashOf(sealed),
	}
	if p.onAccepted != nil {
		p.onAccepted(tx, receipt)
	}
	return receipt, nil
}

// reportRejected forwards err to onRejected if it carries the protocol
// error shape; Go-level errors that never reach a client (e.g. executor
// plumbing failures) are not reported to observers.
func (p *Pipeline) reportRejected(tx *txn.Transaction, err error) {
	if p.onRejected == nil {
		return
	}
	if rpcErr, ok := err.(*rpcerr.Error); ok {
		p.onRejected(tx, rpcErr)
	}
}

func blockNumberOf(b *ledger.Block) uint64 {
	if b == nil {
		return 0
	}
	return b.Header.Number
}

func blockHashOf(b *ledger.Block) felt.Felt {
	if b == nil {
		return felt.Zero
	}
	return b.Header.Hash
}

func declareArtifact(tx *txn.Transaction) class.Artifact {
	if tx.Version >= 2 {
		return class.Artifact{Flavor: class.Modern, CompiledHash: tx.CompiledClassHash}
	}
	return class.Artifact{Flavor: class.Legacy}
}

func (p *Pipeline) currentBlockContext() executor.BlockContext {
	prices := p.gas.Current()
	return executor.BlockContext{
		Number:            p.ledger.BlockNumber() + 1,
		Timestamp:         p.clock.Now(),
		Sequencer:         p.sequencer,
		ProtocolVersion:   p.protocolVersion,
		ChainID:           p.chainID,
		L1GasPriceWei:     prices.L1GasWei,
		L1GasPriceFri:     prices.L1GasFri,
		L1DataGasPriceWei: prices.L1DataGasWei,
		L1DataGasPriceFri: prices.L1DataGasFri,
		L2GasPriceWei:     prices.L2GasWei,
		L2GasPriceFri:     prices.L2GasFri,
	}
}

func computeFee(u executor.ResourceUsage, p gasoracle.Prices) felt.Felt {
	l1 := felt.FromUint64(u.L1Gas).Mul(p.L1GasFri)
	l1d := felt.FromUint64(u.L1DataGas).Mul(p.L1DataGasFri)
	l2 := felt.FromUint64(u.L2Gas).Mul(p.L2GasFri)
	return l1.Add(l1d).Add(l2)
}

func validationFailureToRPCErr(v *executor.ValidationFailure) *rpcerr.Error {
	switch v.Kind {
	case executor.ValidationInsufficientBalance:
		return rpcerr.New(rpcerr.CodeInsufficientAccountBalance, v.Reason)
	case executor.ValidationInsufficientResourcesForValidate:
		return rpcerr.New(rpcerr.CodeInsufficientResourcesValidate, v.Reason)
	case executor.ValidationInvalidNonce:
		return rpcerr.New(rpcerr.CodeInvalidTransactionNonce, v.Reason)
	default:
		return rpcerr.New(rpcerr.CodeValidationFailure, v.Reason)
	}
}

// appendJournalEntry records the accepted transaction as a replayable
// event. The transaction is JSON-encoded (the wire shape core/rpcapi
// already decodes submissions from) rather than RLP-encoded, since
// txn.Transaction carries signed-int enum fields rlp's reflection-based
// encoder cannot handle; only the outer Entry envelope goes through RLP.
func (p *Pipeline) appendJournalEntry(tx *txn.Transaction) {
	var kind journal.Kind
	switch tx.Kind {
	case txn.KindDeclare:
		kind = journal.KindAddDeclareTx
	case txn.KindDeployAccount:
		kind = journal.KindAddDeployAccountTx
	case txn.KindInvoke:
		kind = journal.KindAddInvokeTx
	case txn.KindL1Handler:
		kind = journal.KindAddL1HandlerTx
	default:
		return
	}

	rawTx, err := json.Marshal(tx)
	if err != nil {
		logrus.WithError(err).Error("pipeline: failed to encode transaction for journal, entry dropped")
		return
	}
	payload, err := rlp.EncodeToBytes(journal.TxPayload{TxHash: tx.Hash, RawTxJSON: rawTx})
	if err != nil {
		logrus.WithError(err).Error("pipeline: failed to RLP-encode journal payload, entry dropped")
		return
	}
	p.journal.Append(journal.Entry{Kind: kind, Payload: payload}, "tx")
}
