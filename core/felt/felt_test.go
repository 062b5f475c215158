package felt

import "testing"

func TestFromHexRoundTrip(t *testing.T) {
	f := MustFromHex("0x1a2b3c")
	if got := f.Hex(); got != "0x1a2b3c" {
		t.Fatalf("Hex() = %s, want 0x1a2b3c", got)
	}
}

func TestFromHexEmpty(t *testing.T) {
	f, err := FromHex("0x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.IsZero() {
		t.Fatalf("expected zero felt, got %s", f.Hex())
	}
}

func TestAddSubRoundTrip(t *testing.T) {
	a := FromUint64(10)
	b := FromUint64(3)
	sum := a.Add(b)
	if sum.Sub(b) != a {
		t.Fatalf("sub of add did not round-trip: %s", sum.Sub(b).Hex())
	}
}

func TestAddWrapsModPrime(t *testing.T) {
	almostPrime, err := FromBigInt(Prime.ToBig())
	if err != nil {
		t.Fatalf("FromBigInt: %v", err)
	}
	if !almostPrime.IsZero() {
		t.Fatalf("Prime mod Prime should be zero, got %s", almostPrime.Hex())
	}
	one := FromUint64(1)
	sum := almostPrime.Sub(one) // Prime-1
	sum = sum.Add(FromUint64(2))
	if sum != one {
		t.Fatalf("expected wraparound to 1, got %s", sum.Hex())
	}
}

func TestMulIdentity(t *testing.T) {
	a := FromUint64(42)
	if got := a.Mul(One); got != a {
		t.Fatalf("a*1 = %s, want %s", got.Hex(), a.Hex())
	}
}

func TestCmp(t *testing.T) {
	a := FromUint64(5)
	b := FromUint64(9)
	if a.Cmp(b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if b.Cmp(a) <= 0 {
		t.Fatalf("expected b > a")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	a := FromUint64(0xdeadbeef)
	data, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var b Felt
	if err := b.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if a != b {
		t.Fatalf("round trip mismatch: %s vs %s", a.Hex(), b.Hex())
	}
}
