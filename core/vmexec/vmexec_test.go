package vmexec

import (
	"context"
	"testing"

	"starkdevnet/core/class"
	"starkdevnet/core/executor"
	"starkdevnet/core/felt"
	"starkdevnet/core/state"
	"starkdevnet/core/txn"
)

func noSkip(felt.Felt) bool { return false }

func TestExecuteSucceedsWithoutStagedBytecode(t *testing.T) {
	s := state.New(true)
	sender := felt.FromUint64(1)
	classHash := felt.FromUint64(2)
	s.SeedGenesis(sender, classHash, felt.Zero, nil)

	registry := class.New()
	scratch := s.NewTxScratch()

	tx := &txn.Transaction{
		Kind:          txn.KindInvoke,
		Version:       1,
		SenderAddress: sender,
		Signature:     []felt.Felt{felt.One},
		Calls:         []txn.Call{{ContractAddress: sender}},
	}
	tx.Derive()

	vm := New()
	out, err := vm.Execute(context.Background(), tx, scratch, registry, executor.BlockContext{Number: 1}, noSkip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ValidationFailure != nil {
		t.Fatalf("expected no validation failure, got %+v", out.ValidationFailure)
	}
	if out.RevertReason != "" {
		t.Fatalf("expected no revert, got %q", out.RevertReason)
	}
}

func TestExecuteRejectsMissingSignatureWhenValidationNotSkipped(t *testing.T) {
	s := state.New(true)
	sender := felt.FromUint64(1)
	s.SeedGenesis(sender, felt.FromUint64(9), felt.Zero, nil)
	registry := class.New()
	registry.Stage(felt.FromUint64(9), class.Artifact{Flavor: class.Legacy, LegacyProgram: []byte{0x00}})

	scratch := s.NewTxScratch()
	tx := &txn.Transaction{
		Kind:          txn.KindInvoke,
		Version:       1,
		SenderAddress: sender,
		Calls:         []txn.Call{{ContractAddress: sender}},
	}
	tx.Derive()

	vm := New()
	out, err := vm.Execute(context.Background(), tx, scratch, registry, executor.BlockContext{Number: 1}, noSkip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ValidationFailure == nil {
		t.Fatalf("expected a validation failure for missing signature")
	}
}

func TestExecuteSkipsValidationForImpersonatedSender(t *testing.T) {
	s := state.New(true)
	sender := felt.FromUint64(1)
	s.SeedGenesis(sender, felt.FromUint64(9), felt.Zero, nil)
	registry := class.New()

	scratch := s.NewTxScratch()
	tx := &txn.Transaction{
		Kind:          txn.KindInvoke,
		Version:       1,
		SenderAddress: sender,
		Calls:         []txn.Call{{ContractAddress: sender}},
	}
	tx.Derive()

	vm := New()
	alwaysSkip := func(felt.Felt) bool { return true }
	out, err := vm.Execute(context.Background(), tx, scratch, registry, executor.BlockContext{Number: 1}, alwaysSkip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ValidationFailure != nil {
		t.Fatalf("expected validation to be skipped, got %+v", out.ValidationFailure)
	}
}
