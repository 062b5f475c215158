package main

import (
	"testing"

	"starkdevnet/core/felt"
)

func TestFeltOrZeroFallsBackOnEmptyOrInvalidHex(t *testing.T) {
	if got := feltOrZero(""); got != felt.Zero {
		t.Fatalf("expected zero for empty string, got %v", got)
	}
	if got := feltOrZero("not-hex"); got != felt.Zero {
		t.Fatalf("expected zero for invalid hex, got %v", got)
	}
	want := felt.FromUint64(0x1234)
	if got := feltOrZero("0x1234"); got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestFeltOrDefaultUsesDefaultOnlyWhenEmpty(t *testing.T) {
	def := felt.FromUint64(7)
	if got := feltOrDefault("", def); got != def {
		t.Fatalf("expected default %v, got %v", def, got)
	}
	want := felt.FromUint64(0x99)
	if got := feltOrDefault("0x99", def); got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestStringOrDefault(t *testing.T) {
	if got := stringOrDefault("", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := stringOrDefault("set", "fallback"); got != "set" {
		t.Fatalf("expected set, got %q", got)
	}
}

func TestAddrOrDefault(t *testing.T) {
	if got := addrOrDefault(""); got != ":5050" {
		t.Fatalf("expected default listen address, got %q", got)
	}
	if got := addrOrDefault(":8080"); got != ":8080" {
		t.Fatalf("expected override to pass through, got %q", got)
	}
}

func TestDerivePredeployedAccountsIsDeterministicPerSeed(t *testing.T) {
	balance := felt.FromUint64(1_000_000)
	a1, k1 := derivePredeployedAccounts("seed-a", 3, balance)
	a2, k2 := derivePredeployedAccounts("seed-a", 3, balance)
	if len(a1) != 3 || len(k1) != 3 {
		t.Fatalf("expected 3 accounts and keys, got %d/%d", len(a1), len(k1))
	}
	for i := range a1 {
		if a1[i].Address != a2[i].Address || a1[i].PublicKey != a2[i].PublicKey || a1[i].PrivateKey != a2[i].PrivateKey {
			t.Fatalf("expected identical derivation for the same seed at index %d", i)
		}
		if a1[i].InitialBalance != balance {
			t.Fatalf("expected initial balance %v, got %v", balance, a1[i].InitialBalance)
		}
	}

	b1, _ := derivePredeployedAccounts("seed-b", 3, balance)
	if a1[0].Address == b1[0].Address {
		t.Fatal("expected different seeds to derive different addresses")
	}
}

func TestDerivePredeployedAccountsIndicesDiffer(t *testing.T) {
	accounts, _ := derivePredeployedAccounts("seed", 2, felt.Zero)
	if accounts[0].Address == accounts[1].Address {
		t.Fatal("expected distinct accounts at different indices to derive distinct addresses")
	}
}
