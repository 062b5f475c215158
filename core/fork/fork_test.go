package fork

import (
	"context"
	"testing"

	"starkdevnet/core/felt"
)

type countingUpstream struct {
	storageCalls, nonceCalls, classCalls int
}

func (u *countingUpstream) StorageAt(ctx context.Context, block uint64, addr, key felt.Felt) (felt.Felt, error) {
	u.storageCalls++
	return felt.FromUint64(block), nil
}

func (u *countingUpstream) NonceAt(ctx context.Context, block uint64, addr felt.Felt) (felt.Felt, error) {
	u.nonceCalls++
	return felt.FromUint64(7), nil
}

func (u *countingUpstream) ClassHashAt(ctx context.Context, block uint64, addr felt.Felt) (felt.Felt, error) {
	u.classCalls++
	return felt.FromUint64(99), nil
}

func TestGetStorageAtCachesAfterFirstFetch(t *testing.T) {
	u := &countingUpstream{}
	r := New(u, 42, 0)

	addr, key := felt.FromUint64(1), felt.FromUint64(2)
	for i := 0; i < 3; i++ {
		v, err := r.GetStorageAt(addr, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != felt.FromUint64(42) {
			t.Fatalf("expected value pinned at fork block 42, got %v", v)
		}
	}
	if u.storageCalls != 1 {
		t.Fatalf("expected exactly 1 upstream call, got %d", u.storageCalls)
	}
}

func TestDistinctKeysEachFetchOnce(t *testing.T) {
	u := &countingUpstream{}
	r := New(u, 1, 0)

	r.GetNonceAt(felt.FromUint64(1))
	r.GetNonceAt(felt.FromUint64(1))
	r.GetNonceAt(felt.FromUint64(2))
	if u.nonceCalls != 2 {
		t.Fatalf("expected 2 upstream calls for 2 distinct addresses, got %d", u.nonceCalls)
	}
}

func TestGetClassHashAtUsesForkBlock(t *testing.T) {
	u := &countingUpstream{}
	r := New(u, 500, 0)
	if r.ForkBlock() != 500 {
		t.Fatalf("expected fork block 500, got %d", r.ForkBlock())
	}
	if _, err := r.GetClassHashAt(felt.FromUint64(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.classCalls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", u.classCalls)
	}
}
