// Package vmexec is a pluggable local stand-in for the contract executor
// boundary defined by core/executor. It runs declared class bytecode as a
// WebAssembly module via wasmer-go rather than a Cairo-conformant
// interpreter: it exists so the devnet can execute something end to end
// without embedding a real Cairo VM, which spec §1 explicitly places
// outside this engine's scope. A production deployment wires a real
// Cairo executor behind the same core/executor.Executor interface
// instead of this one.
package vmexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"starkdevnet/core/class"
	"starkdevnet/core/executor"
	"starkdevnet/core/felt"
	"starkdevnet/core/txn"
)

// VM runs class bytecode as a wasm module, metering gas via the host
// functions it exposes to the guest.
type VM struct {
	engine *wasmer.Engine
}

// New returns a VM backed by a fresh wasmer engine.
func New() *VM {
	return &VM{engine: wasmer.NewEngine()}
}

// gasMeter caps the total host-function-reported work a single
// transaction may perform, mirroring the resource bounds the pipeline
// already validated.
type gasMeter struct {
	limit uint64
	used  uint64
}

func (g *gasMeter) consume(amount uint64) error {
	if g.used+amount > g.limit {
		return errors.New("vmexec: resource bound exceeded")
	}
	g.used += amount
	return nil
}

type hostCtx struct {
	mem     *wasmer.Memory
	state   executor.State
	gas     *gasMeter
	txHash  felt.Felt
	events  []txn.Event
	msgsL1  []txn.MessageToL1
	reverted bool
	revertReason string
}

// Execute implements executor.Executor. It runs the wasm bytecode staged
// for the sender's class (tx.ClassHashToDeploy for DeployAccount): a sender
// with no class hash is a validation failure, a class with no staged
// bytecode is a trivial success, bytecode that fails to compile or
// instantiate is a validation failure, an error from its "execute" export
// is a revert, and a panic is recovered as a validation failure.
func (vm *VM) Execute(ctx context.Context, tx *txn.Transaction, state executor.State, classes executor.ClassLookup, blockCtx executor.BlockContext, skipValidation executor.SkipValidation) (out executor.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = executor.Outcome{
				ValidationFailure: &executor.ValidationFailure{
					Kind:   executor.ValidationFailed,
					Reason: fmt.Sprintf("vmexec: recovered panic: %v", r),
				},
			}
			err = nil
		}
	}()

	sender := tx.SenderAddress
	nonce := state.IncrementNonce(sender)
	_ = nonce

	classHash, lookupErr := state.GetClassHashAt(sender)
	if tx.Kind == txn.KindDeployAccount {
		classHash = tx.ClassHashToDeploy
		lookupErr = nil
	}
	if lookupErr != nil || classHash.IsZero() {
		return executor.Outcome{
			ValidationFailure: &executor.ValidationFailure{
				Kind:   executor.ValidationInvalidNonce,
				Reason: "vmexec: sender has no known class",
			},
		}, nil
	}

	if !skipValidation(sender) {
		// Stand-in validation: presence of a signature is treated as
		// sufficient. Real __validate__ semantics live in the Cairo VM
		// this package stands in for.
		if len(tx.Signature) == 0 {
			return executor.Outcome{
				ValidationFailure: &executor.ValidationFailure{
					Kind:   executor.ValidationFailed,
					Reason: "vmexec: missing signature",
				},
			}, nil
		}
	}

	artifact, found := classes.Lookup(classHash, class.PreConfirmedView())
	var code []byte
	if found {
		if artifact.Flavor == class.Modern {
			code = artifact.SierraProgram
		} else {
			code = artifact.LegacyProgram
		}
	}
	if !found || len(code) == 0 {
		// No runnable bytecode staged for this stand-in: treat the call
		// as a trivial success (nonce/fee bookkeeping only). This lets
		// DeployAccount/Declare transactions — which have no call
		// payload to run — succeed without a wasm module.
		return executor.Outcome{Usage: executor.ResourceUsage{L1Gas: 100, L2Gas: 100}}, nil
	}

	hctx := &hostCtx{state: state, gas: &gasMeter{limit: 10_000_000}, txHash: tx.Hash}

	store := wasmer.NewStore(vm.engine)
	mod, err := wasmer.NewModule(store, code)
	if err != nil {
		return executor.Outcome{
			ValidationFailure: &executor.ValidationFailure{Kind: executor.ValidationFailed, Reason: err.Error()},
		}, nil
	}

	imports := registerHost(store, hctx)
	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return executor.Outcome{
			ValidationFailure: &executor.ValidationFailure{Kind: executor.ValidationFailed, Reason: err.Error()},
		}, nil
	}

	if mem, memErr := instance.Exports.GetMemory("memory"); memErr == nil {
		hctx.mem = mem
	}

	entry, err := instance.Exports.GetFunction("execute")
	if err != nil {
		return executor.Outcome{Usage: executor.ResourceUsage{L1Gas: 100, L2Gas: 100}}, nil
	}
	if _, err := entry(); err != nil {
		hctx.reverted = true
		hctx.revertReason = err.Error()
	}

	usage := executor.ResourceUsage{L1Gas: hctx.gas.used / 3, L1DataGas: hctx.gas.used / 3, L2Gas: hctx.gas.used / 3}

	if hctx.reverted {
		return executor.Outcome{
			RevertReason: hctx.revertReason,
			Usage:        usage,
			PreservedNonces: []felt.Felt{sender},
		}, nil
	}

	return executor.Outcome{
		Usage:    usage,
		Events:   hctx.events,
		Messages: hctx.msgsL1,
	}, nil
}
