package dataproxy

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/strata/internal/identity"
)

func TestSecretResolverMatchesNodeDerivedSecret(t *testing.T) {
	nodePub, nodePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	proxyPub, proxyPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver, err := NewSecretResolver(proxyPriv, nodePub)
	require.NoError(t, err)

	nodePrivX, err := identity.Ed25519PrivToX25519(nodePriv)
	require.NoError(t, err)
	nodePubX, err := identity.Ed25519PubToX25519(nodePub)
	require.NoError(t, err)
	proxyPubX, err := identity.Ed25519PubToX25519(proxyPub)
	require.NoError(t, err)

	nodeSession, err := identity.ServerSessionKeys(nodePrivX, nodePubX, proxyPubX)
	require.NoError(t, err)

	const accessKey = "01HZYABCDEF0123456789ABCD.1"
	proxySecret, err := resolver.GetSecretKey(accessKey)
	require.NoError(t, err)

	nodeSecret := identity.AccessKeySecret(nodeSession.Tx, accessKey)
	require.Equal(t, nodeSecret, proxySecret)
}

func TestSecretResolverRejectsMalformedAccessKey(t *testing.T) {
	nodePub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, proxyPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resolver, err := NewSecretResolver(proxyPriv, nodePub)
	require.NoError(t, err)

	_, err = resolver.GetSecretKey("not-a-valid-key")
	require.Error(t, err)
}

func TestValidateAccessKeyShape(t *testing.T) {
	require.NoError(t, ValidateAccessKeyShape("01HZYABCDEF0123456789ABCD.1"))
	require.Error(t, ValidateAccessKeyShape("missing-dot"))
	require.Error(t, ValidateAccessKeyShape(".1"))
	require.Error(t, ValidateAccessKeyShape("01HZYABCDEF0123456789ABCD."))
	require.Error(t, ValidateAccessKeyShape("01HZYABCDEF0123456789ABCD.abc"))
}
