package identity

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEd25519ToX25519ConversionIsDeterministic(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	xPub1, err := Ed25519PubToX25519(pub)
	require.NoError(t, err)
	xPub2, err := Ed25519PubToX25519(pub)
	require.NoError(t, err)
	require.Equal(t, xPub1, xPub2)

	xPriv, err := Ed25519PrivToX25519(priv)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, xPriv)
}

func TestSessionKeysCommutative(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	proxyPub, proxyPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	serverXPub, err := Ed25519PubToX25519(serverPub)
	require.NoError(t, err)
	serverXPriv, err := Ed25519PrivToX25519(serverPriv)
	require.NoError(t, err)
	proxyXPub, err := Ed25519PubToX25519(proxyPub)
	require.NoError(t, err)
	proxyXPriv, err := Ed25519PrivToX25519(proxyPriv)
	require.NoError(t, err)

	proxyKeys, err := ClientSessionKeys(proxyXPriv, proxyXPub, serverXPub)
	require.NoError(t, err)
	serverKeys, err := ServerSessionKeys(serverXPriv, serverXPub, proxyXPub)
	require.NoError(t, err)

	require.Equal(t, proxyKeys.Rx, serverKeys.Tx, "proxy rx must equal server tx")
	require.Equal(t, proxyKeys.Tx, serverKeys.Rx, "proxy tx must equal server rx")
}

func TestAccessKeySecretDeterministic(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	s1 := AccessKeySecret(key, "AKIAEXAMPLE")
	s2 := AccessKeySecret(key, "AKIAEXAMPLE")
	require.Equal(t, s1, s2)
	require.Len(t, s1, 128) // hex(SHA3-512) = 64 bytes * 2
}
