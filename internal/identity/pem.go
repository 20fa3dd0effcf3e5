package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"

	"github.com/cuemby/strata/internal/apierr"
)

// PEM block types for the two key kinds this package loads. Grounded on
// cuemby-warren's pkg/security/certs.go's PEM-round-trip style (pem.Decode,
// check Type, x509.Parse*), adapted from RSA certificate material to raw
// Ed25519 keys, the shape original_source/aruna-server/src/storage/
// utils.rs's config_into_keys reads from its own config file.
const (
	blockPrivateKey = "PRIVATE KEY"
	blockPublicKey  = "PUBLIC KEY"
)

// LoadEd25519PrivateKeyPEM parses a PKCS#8-encoded Ed25519 private key from
// PEM. A malformed key is a startup-fatal config error per spec §4.E
// ("Invalid PEM -> fatal-config error") and spec §6's exit codes.
func LoadEd25519PrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, apierr.Fatal(nil, "identity: no PEM block found in private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, apierr.Fatal(err, "identity: parse pkcs8 private key")
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, apierr.Fatal(nil, "identity: PEM block does not hold an ed25519 private key")
	}
	return priv, nil
}

// LoadEd25519PublicKeyPEM parses a PKIX-encoded Ed25519 public key from PEM.
func LoadEd25519PublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, apierr.Fatal(nil, "identity: no PEM block found in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, apierr.Fatal(err, "identity: parse pkix public key")
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, apierr.Fatal(nil, "identity: PEM block does not hold an ed25519 public key")
	}
	return pub, nil
}

// EncodeEd25519PrivateKeyPEM renders priv as a PKCS#8 PEM block, the
// counterpart callers use to persist a freshly generated keypair (cmd/strata
// init, cmd/strata-proxy's bootstrap).
func EncodeEd25519PrivateKeyPEM(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, apierr.Fatal(err, "identity: marshal pkcs8 private key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockPrivateKey, Bytes: der}), nil
}

// EncodeEd25519PublicKeyPEM renders pub as a PKIX PEM block.
func EncodeEd25519PublicKeyPEM(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, apierr.Fatal(err, "identity: marshal pkix public key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockPublicKey, Bytes: der}), nil
}

// GenerateKeyPairPEM creates a fresh Ed25519 keypair and returns both halves
// PEM-encoded, for first-run bootstrap when no key material is configured
// yet (cmd/strata's "init" path, mirroring warren's CA/cert generation on
// first cluster init).
func GenerateKeyPairPEM() (privPEM, pubPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, apierr.Fatal(err, "identity: generate ed25519 keypair")
	}
	privPEM, err = EncodeEd25519PrivateKeyPEM(priv)
	if err != nil {
		return nil, nil, err
	}
	pubPEM, err = EncodeEd25519PublicKeyPEM(pub)
	if err != nil {
		return nil, nil, err
	}
	return privPEM, pubPEM, nil
}
