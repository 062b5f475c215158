package class

import (
	"testing"

	"starkdevnet/core/felt"
)

func TestStageVisibleAtPreConfirmedOnly(t *testing.T) {
	r := New()
	h := felt.FromUint64(1)
	r.Stage(h, Artifact{Flavor: Legacy, LegacyProgram: []byte("prog")})

	if !r.IsDeclared(h, PreConfirmedView()) {
		t.Fatalf("expected class visible at pre_confirmed")
	}
	if r.IsDeclared(h, AtBlock(0)) {
		t.Fatalf("expected class not visible at latest before commit")
	}
}

func TestCommitMakesVisibleAtBlock(t *testing.T) {
	r := New()
	h := felt.FromUint64(2)
	r.Stage(h, Artifact{Flavor: Modern, CompiledHash: felt.FromUint64(99)})

	newly := r.Commit(5)
	if len(newly) != 1 || newly[0] != h {
		t.Fatalf("expected commit to report the staged hash, got %v", newly)
	}
	if !r.IsDeclared(h, AtBlock(5)) {
		t.Fatalf("expected visible at block 5")
	}
	if r.IsDeclared(h, AtBlock(4)) {
		t.Fatalf("expected not visible before commit block")
	}
	if !r.IsDeclared(h, PreConfirmedView()) {
		t.Fatalf("expected still visible at pre_confirmed after commit")
	}
}

func TestRemoveCommittedAtUnwindsAbortedBlock(t *testing.T) {
	r := New()
	h := felt.FromUint64(3)
	r.Stage(h, Artifact{Flavor: Legacy})
	r.Commit(10)

	r.RemoveCommittedAt(10)

	if r.IsDeclared(h, AtBlock(10)) {
		t.Fatalf("expected class removed after unwinding block 10")
	}
	if r.IsDeclared(h, PreConfirmedView()) {
		t.Fatalf("expected class fully absent, not just uncommitted")
	}
}

func TestStageIsIdempotent(t *testing.T) {
	r := New()
	h := felt.FromUint64(4)
	r.Stage(h, Artifact{Flavor: Legacy, LegacyProgram: []byte("a")})
	r.Stage(h, Artifact{Flavor: Legacy, LegacyProgram: []byte("b")})

	art, ok := r.Lookup(h, PreConfirmedView())
	if !ok {
		t.Fatalf("expected class declared")
	}
	if string(art.LegacyProgram) != "a" {
		t.Fatalf("expected first stage to win, got %q", art.LegacyProgram)
	}
}
