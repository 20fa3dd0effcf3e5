// Package dataproxy is the S3 data-plane auth shim described alongside
// cmd/strata-proxy: it resolves the shared secret an S3 client's request
// signature was computed against, without any call back into the resource
// registry's store — the proxy and the node it pairs with are expected to
// run as separate processes, so the only state this package needs is a
// pair of Ed25519 keys exchanged out of band at provisioning time. Actual
// S3 byte-streaming and signature verification stay out of scope (spec
// §1); this package only answers "what secret does this access key map
// to", the question an S3 server library needs answered to do the rest.
//
// Grounded on original_source/aruna-data/src/s3/auth.rs's AuthProvider:
// get_secret_key derives the secret purely from (proxy private key, node
// public key, access key string) via an X25519 session key and a SHA3-512
// hash — the same primitives internal/identity already implements for the
// node side of this exchange (Ed25519PrivToX25519, ClientSessionKeys,
// AccessKeySecret).
package dataproxy

import (
	"crypto/ed25519"
	"strings"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/identity"
)

// SecretResolver derives the shared secret for any access key issued by the
// node this proxy pairs with, following s3/auth.rs's S3Auth::get_secret_key.
// It holds no connection to the node's store: resolving a secret never
// touches the network or disk once the session key is derived at startup.
type SecretResolver struct {
	session identity.SessionKeys
}

// NewSecretResolver derives the proxy's session key against the node's
// Ed25519 public key, once at startup — components/data_proxy's "TODO: this
// can be cached" comment on the equivalent Rust call, done up front instead
// of lazily.
func NewSecretResolver(proxyPriv ed25519.PrivateKey, nodePub ed25519.PublicKey) (*SecretResolver, error) {
	proxyPub, ok := proxyPriv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, apierr.InvalidArgument("dataproxy: proxy private key has no ed25519 public half")
	}

	proxyPrivX, err := identity.Ed25519PrivToX25519(proxyPriv)
	if err != nil {
		return nil, apierr.InvalidArgument("dataproxy: convert proxy private key: %v", err)
	}
	proxyPubX, err := identity.Ed25519PubToX25519(proxyPub)
	if err != nil {
		return nil, apierr.InvalidArgument("dataproxy: convert proxy public key: %v", err)
	}
	nodePubX, err := identity.Ed25519PubToX25519(nodePub)
	if err != nil {
		return nil, apierr.InvalidArgument("dataproxy: convert node public key: %v", err)
	}

	keys, err := identity.ClientSessionKeys(proxyPrivX, proxyPubX, nodePubX)
	if err != nil {
		return nil, apierr.Fatal(err, "dataproxy: derive session keys")
	}
	return &SecretResolver{session: keys}, nil
}

// GetSecretKey resolves accessKey's shared secret. It never fails for a
// well-shaped access key — an unknown or revoked key simply yields a secret
// no legitimate request will ever sign against, so rejection happens at
// the S3 signature check downstream, not here.
func (r *SecretResolver) GetSecretKey(accessKey string) (string, error) {
	if err := ValidateAccessKeyShape(accessKey); err != nil {
		return "", err
	}
	return identity.AccessKeySecret(r.session.Rx, accessKey), nil
}

// ValidateAccessKeyShape checks accessKey has the "<user-id>.<token-index>"
// shape spec §6 defines (the same shape internal/dispatch's handleCreateToken
// constructs), without resolving either half against the store — the proxy
// never reads the graph.
func ValidateAccessKeyShape(accessKey string) error {
	idPart, idxPart, ok := strings.Cut(accessKey, ".")
	if !ok || idPart == "" || idxPart == "" {
		return apierr.InvalidArgument("dataproxy: malformed access key %q", accessKey)
	}
	for _, r := range idxPart {
		if r < '0' || r > '9' {
			return apierr.InvalidArgument("dataproxy: malformed access key %q", accessKey)
		}
	}
	return nil
}
