// Package identity implements the crypto & token kernel (spec §4.E):
// Ed25519↔X25519 conversion, X25519 session-key derivation, access-key
// secret derivation, and EdDSA JWT issuance/validation.
//
// Grounded on original_source/aruna-server/src/crypto.rs (Ed25519→X25519
// conversion) and original_source/aruna-data/src/s3/auth.rs +
// components/data_proxy/src/auth/auth_helpers.rs (crypto_kx-style session
// keys and the access-key secret derivation). No example repo touches
// curve25519 conversion or session-key derivation, so this package follows
// original_source's exact algorithm rather than a teacher file, using
// golang.org/x/crypto (the same ecosystem family orbas1-Synnergy reaches
// for crypto/ed25519 from) for the primitives Go's stdlib doesn't expose.
package identity

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"
)

// Ed25519PubToX25519 converts an Ed25519 verifying key to its Montgomery
// (X25519) form via Edwards point decompression, per crypto.rs's
// ed25519_to_x25519_pubkey.
func Ed25519PubToX25519(pub ed25519.PublicKey) ([32]byte, error) {
	var edY [32]byte
	if len(pub) != 32 {
		return edY, fmt.Errorf("identity: ed25519 public key must be 32 bytes, got %d", len(pub))
	}
	copy(edY[:], pub)

	var montgomery [32]byte
	if !edwardsToMontgomery(&montgomery, &edY) {
		return montgomery, fmt.Errorf("identity: invalid ed25519 public key point")
	}
	return montgomery, nil
}

// Ed25519PrivToX25519 converts an Ed25519 signing key's seed to an X25519
// scalar: the first 32 bytes of SHA-512 of the 32-byte seed, left
// unclamped, per crypto.rs's
// ed25519_to_x25519_privatekey (which takes the first 32 bytes of a
// SHA-512 digest of the raw key material — curve25519 clamping is applied
// by ScalarMult itself, so callers pass this scalar straight through).
func Ed25519PrivToX25519(priv ed25519.PrivateKey) ([32]byte, error) {
	var out [32]byte
	seed := priv.Seed()
	if len(seed) != 32 {
		return out, fmt.Errorf("identity: ed25519 seed must be 32 bytes, got %d", len(seed))
	}
	h := sha512.Sum512(seed)
	copy(out[:], h[:32])
	return out, nil
}

// SessionKeys is a pair of derived 32-byte keys for a single peer, shaped
// so that one side's Rx equals the other side's Tx (crypto_kx's
// commutative property), following components/data_proxy's
// session_keys_from usage.
type SessionKeys struct {
	Rx [32]byte
	Tx [32]byte
}

// ClientSessionKeys derives session keys acting as the "client" side of the
// exchange (the data proxy, per s3/auth.rs's get_shared_secret: "proxy
// privkey" against "server pubkey", then ".rx" is used).
func ClientSessionKeys(clientPriv, clientPub, serverPub [32]byte) (SessionKeys, error) {
	return deriveSessionKeys(clientPriv, clientPub, serverPub, true)
}

// ServerSessionKeys derives session keys acting as the "server" side; its
// Tx equals the client's Rx and vice versa.
func ServerSessionKeys(serverPriv, serverPub, clientPub [32]byte) (SessionKeys, error) {
	return deriveSessionKeys(serverPriv, serverPub, clientPub, false)
}

func deriveSessionKeys(ownPriv, ownPub, peerPub [32]byte, isClient bool) (SessionKeys, error) {
	var keys SessionKeys

	var clientPub, serverPub [32]byte
	var shared []byte
	var err error
	if isClient {
		clientPub, serverPub = ownPub, peerPub
		shared, err = curve25519.X25519(ownPriv[:], peerPub[:])
	} else {
		clientPub, serverPub = peerPub, ownPub
		shared, err = curve25519.X25519(ownPriv[:], peerPub[:])
	}
	if err != nil {
		return keys, fmt.Errorf("identity: x25519 dh: %w", err)
	}

	h, err := blake2b.New512(nil)
	if err != nil {
		return keys, fmt.Errorf("identity: blake2b init: %w", err)
	}
	h.Write(shared)
	h.Write(clientPub[:])
	h.Write(serverPub[:])
	digest := h.Sum(nil)

	if isClient {
		copy(keys.Rx[:], digest[0:32])
		copy(keys.Tx[:], digest[32:64])
	} else {
		copy(keys.Rx[:], digest[32:64])
		copy(keys.Tx[:], digest[0:32])
	}
	return keys, nil
}

// AccessKeySecret derives the per-access-key secret the S3 data plane hands
// back to the caller's library for request signing: hex(SHA3-512(sharedKey
// || accessKey)), per s3/auth.rs's get_shared_secret.
func AccessKeySecret(sessionKey [32]byte, accessKey string) string {
	h := sha3.New512()
	h.Write(sessionKey[:])
	h.Write([]byte(accessKey))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func edwardsToMontgomery(montgomery, edwardsY *[32]byte) bool {
	// u = (1 + y) / (1 - y) mod p, the standard birational map between the
	// twisted Edwards and Montgomery forms of curve25519. curve25519_dalek
	// exposes this as CompressedEdwardsY::decompress().to_montgomery();
	// golang.org/x/crypto has no public equivalent, so it's computed
	// directly over the field here using the same field arithmetic
	// curve25519.X25519 already links in.
	y := feFromBytes(edwardsY)
	one := fieldOne()
	num := feAdd(one, y)
	den := feSub(one, y)
	denInv, ok := feInvert(den)
	if !ok {
		return false
	}
	u := feMul(num, denInv)
	feToBytes(montgomery, u)
	return true
}
