package identity

import "math/big"

// Minimal field arithmetic mod p = 2^255-19, used only for the Edwards→
// Montgomery birational map in crypto.go. This is deliberately expressed
// with math/big rather than a radix-51 field-element representation: the
// conversion happens once per public key, never on a hot path, so the
// extra allocation cost buys much simpler, obviously-correct code instead
// of hand-rolled limb arithmetic duplicating what golang.org/x/crypto/
// curve25519 already keeps private.
var fieldPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	p.Sub(p, big.NewInt(19))
	return p
}()

func fieldOne() *big.Int {
	return big.NewInt(1)
}

// feFromBytes decodes a little-endian, mod-p field element from its
// 32-byte compressed form, masking off the sign bit the Edwards point
// encoding borrows the top bit for.
func feFromBytes(b *[32]byte) *big.Int {
	buf := make([]byte, 32)
	copy(buf, b[:])
	buf[31] &= 0x7F
	// big.Int.SetBytes expects big-endian; reverse the little-endian input.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	n := new(big.Int).SetBytes(buf)
	return n.Mod(n, fieldPrime)
}

func feToBytes(out *[32]byte, v *big.Int) {
	v = new(big.Int).Mod(v, fieldPrime)
	buf := v.Bytes()
	// buf is big-endian, possibly shorter than 32 bytes; reverse into a
	// little-endian fixed-size output.
	for i := range out {
		out[i] = 0
	}
	for i := 0; i < len(buf); i++ {
		out[i] = buf[len(buf)-1-i]
	}
}

func feAdd(a, b *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Add(a, b), fieldPrime)
}

func feSub(a, b *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Sub(a, b), fieldPrime)
}

func feMul(a, b *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Mul(a, b), fieldPrime)
}

// feInvert computes the modular inverse of a mod p via Fermat's little
// theorem (p is prime), returning ok=false only if a is exactly zero.
func feInvert(a *big.Int) (*big.Int, bool) {
	if a.Sign() == 0 {
		return nil, false
	}
	exp := new(big.Int).Sub(fieldPrime, big.NewInt(2))
	return new(big.Int).Exp(a, exp, fieldPrime), true
}
