// Package felt implements the 252-bit field element that is the universal
// hash/id/value type of the engine: addresses, class hashes, selectors,
// storage keys and transaction hashes are all Felts, distinguished only by
// context.
package felt

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Felt is a big-endian 32-byte value reduced modulo Prime. The top 4 bits of
// the most significant byte are always zero since Prime is just over 2^251.
type Felt [32]byte

// Prime is the Stark field modulus 2**251 + 17*2**192 + 1.
var Prime = func() *uint256.Int {
	p, ok := uint256.FromHex("0x800000000000011000000000000000000000000000000000000000000000001")
	if !ok {
		panic("felt: invalid prime literal")
	}
	return p
}()

// Zero is the additive identity.
var Zero = Felt{}

// One is the multiplicative identity.
var One = FromUint64(1)

// FromUint64 builds a Felt from a small unsigned integer.
func FromUint64(v uint64) Felt {
	var f Felt
	u := new(uint256.Int).SetUint64(v)
	u.WriteToSlice(f[:])
	return f
}

// FromBigInt reduces b modulo Prime and returns the resulting Felt.
func FromBigInt(b *big.Int) (Felt, error) {
	if b.Sign() < 0 {
		return Felt{}, errors.New("felt: negative value")
	}
	u, _ := uint256.FromBig(b)
	u = new(uint256.Int).Mod(u, Prime)
	var f Felt
	u.WriteToSlice(f[:])
	return f, nil
}

// FromBytes copies 32 bytes (big-endian) into a Felt, reducing mod Prime.
func FromBytes(b []byte) (Felt, error) {
	if len(b) > 32 {
		return Felt{}, fmt.Errorf("felt: %d bytes exceeds 32", len(b))
	}
	var padded [32]byte
	copy(padded[32-len(b):], b)
	u := new(uint256.Int).SetBytes(padded[:])
	u.Mod(u, Prime)
	var f Felt
	u.WriteToSlice(f[:])
	return f, nil
}

// MustFromHex parses a "0x"-prefixed hex string and panics on error. Intended
// for tests and constant tables, not for parsing untrusted RPC input.
func MustFromHex(s string) Felt {
	f, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return f
}

// FromHex parses a "0x"-prefixed (or bare) hex string into a Felt.
func FromHex(s string) (Felt, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if s == "" {
		s = "0"
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Felt{}, fmt.Errorf("felt: invalid hex: %w", err)
	}
	return FromBytes(b)
}

// Hex renders the Felt as a "0x"-prefixed, minimal-length hex string.
func (f Felt) Hex() string {
	u := f.toUint256()
	return u.Hex()
}

func (f Felt) String() string { return f.Hex() }

func (f Felt) toUint256() *uint256.Int {
	return new(uint256.Int).SetBytes(f[:])
}

// Big returns the Felt as a *big.Int.
func (f Felt) Big() *big.Int {
	return f.toUint256().ToBig()
}

// IsZero reports whether f is the zero element.
func (f Felt) IsZero() bool { return f == Zero }

// Add returns (f+g) mod Prime.
func (f Felt) Add(g Felt) Felt {
	r := new(uint256.Int).AddMod(f.toUint256(), g.toUint256(), Prime)
	var out Felt
	r.WriteToSlice(out[:])
	return out
}

// Sub returns (f-g) mod Prime.
func (f Felt) Sub(g Felt) Felt {
	a, b := f.toUint256(), g.toUint256()
	diff := new(uint256.Int)
	if a.Cmp(b) >= 0 {
		diff.Sub(a, b)
	} else {
		diff.Sub(Prime, new(uint256.Int).Sub(b, a))
	}
	diff.Mod(diff, Prime)
	var out Felt
	diff.WriteToSlice(out[:])
	return out
}

// Mul returns (f*g) mod Prime.
func (f Felt) Mul(g Felt) Felt {
	r := new(uint256.Int).MulMod(f.toUint256(), g.toUint256(), Prime)
	var out Felt
	r.WriteToSlice(out[:])
	return out
}

// Cmp orders two Felts as unsigned big-endian integers.
func (f Felt) Cmp(g Felt) int {
	return f.toUint256().Cmp(g.toUint256())
}

// MarshalJSON renders the Felt the way starknet JSON-RPC does: a quoted,
// "0x"-prefixed hex string.
func (f Felt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.Hex() + `"`), nil
}

// UnmarshalJSON parses a quoted hex string into a Felt.
func (f *Felt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := FromHex(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// EncodeRLP implements rlp.Encoder so Felts nest cleanly inside journal
// entries and state diffs encoded with go-ethereum's rlp package.
func (f Felt) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, f[:])
}

// DecodeRLP implements rlp.Decoder.
func (f *Felt) DecodeRLP(s *rlp.Stream) error {
	var b []byte
	if err := s.Decode(&b); err != nil {
		return err
	}
	parsed, err := FromBytes(b)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
